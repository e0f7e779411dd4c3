// Package validate holds the request-shape checks the HTTP handlers run
// before calling into the scheduler, separate from the domain invariants
// the scheduler and stores enforce themselves.
package validate

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// Date parses a YYYY-MM-DD string, returning a descriptive error instead
// of the raw time.Parse message.
func Date(field, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, fmt.Errorf("%s is required", field)
	}
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be YYYY-MM-DD", field)
	}
	return t, nil
}

// DateRange validates that start is on or before end.
func DateRange(start, end time.Time) error {
	if end.Before(start) {
		return fmt.Errorf("requested_end must be on or after requested_start")
	}
	return nil
}

// WindowDays validates an optional window override; zero means "use the
// configured default" and is allowed through.
func WindowDays(v int) error {
	if v < 0 {
		return fmt.Errorf("window_days must be >= 1")
	}
	return nil
}

// KeepDays validates the archive command's retention window against the
// server's configured floor.
func KeepDays(v, minKeepDays int) error {
	if v < minKeepDays {
		return fmt.Errorf("keep_days must be >= %d", minKeepDays)
	}
	return nil
}

// MaxSymbols validates the universe filter's optional cap.
func MaxSymbols(v int) error {
	if v < 0 {
		return fmt.Errorf("max_symbols must be >= 0")
	}
	return nil
}
