// Package ingestqueue is the durable work queue behind a resumable ingest
// job: one row per (job, symbol, window), advancing from pending through
// running to a terminal succeeded or failed state, with bounded retries.
//
// PopNext is a transactional select-then-update standing in for a
// Postgres SELECT ... FOR UPDATE SKIP LOCKED. The database handle is
// capped at one connection (internal/storage.Open), so the pool's
// goroutines popping the same job, and their MarkSucceeded/MarkFailed
// calls, serialize behind that connection; the claim's conditional
// UPDATE (AND state = ?) keeps a row from being claimed twice.
package ingestqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tp-nvrl8/ingestsched/internal/model"
)

const dateLayout = "2006-01-02"

// maxLastErrorLen truncates stored error text so one vendor failure can
// never blow out a queue row.
const maxLastErrorLen = 500

// Store is the ingest work queue.
type Store struct {
	db *sql.DB
}

// New wraps an already-open database handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

// Enqueue inserts one pending row per item. Re-enqueuing an item that
// already exists for the job is a no-op (the caller is expected to have
// computed the window set once per job, so this is a safety net against
// accidental double-submission, not a normal code path).
func (s *Store) Enqueue(ctx context.Context, jobID string, items []model.QueueItemKey) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin enqueue tx: %v", model.ErrStoreFailure, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO ingest_queue (job_id, symbol, window_start, window_end, state, attempts, created_at)
		VALUES (?, ?, ?, ?, 'pending', 0, ?)
		ON CONFLICT (job_id, symbol, window_start, window_end) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("%w: prepare enqueue: %v", model.ErrStoreFailure, err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, it := range items {
		_, err := stmt.ExecContext(ctx, jobID, strings.ToUpper(it.Symbol),
			it.WindowStart.Format(dateLayout), it.WindowEnd.Format(dateLayout), now)
		if err != nil {
			return fmt.Errorf("%w: enqueue %s: %v", model.ErrStoreFailure, it.Symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit enqueue tx: %v", model.ErrStoreFailure, err)
	}
	return nil
}

// PopNext atomically claims the next eligible item for jobID and marks it
// running, or returns (nil, nil) when the queue has nothing left to try.
// It also returns (nil, nil) if the selected row was claimed by another
// transaction between the select and the update.
// Eligible items are pending or previously-failed-but-under-the-attempt-
// cap rows, ordered pending-before-failed, then attempts ascending, then
// symbol ascending, so older and less-tried work surfaces first.
func (s *Store) PopNext(ctx context.Context, jobID string, maxAttempts int) (*model.QueueItem, error) {
	// The pool is capped at a single connection (internal/storage.Open),
	// so every transaction on this *sql.DB already serializes behind it;
	// BEGIN IMMEDIATE would only matter with a wider pool, where it takes
	// the write lock up front instead of letting a deferred BEGIN
	// discover the conflict at the first write.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin pop tx: %v", model.ErrStoreFailure, err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT symbol, window_start, window_end, state, attempts, created_at, last_attempt_at, last_error
		FROM ingest_queue
		WHERE job_id = ?
		  AND (state = 'pending' OR (state = 'failed' AND attempts < ?))
		ORDER BY
			CASE state WHEN 'pending' THEN 0 ELSE 1 END,
			attempts ASC,
			symbol ASC
		LIMIT 1`,
		jobID, maxAttempts,
	)

	var (
		item                         model.QueueItem
		windowStart, windowEnd       string
		lastAttemptAt                sql.NullTime
		lastError                    sql.NullString
	)
	if err := row.Scan(&item.Symbol, &windowStart, &windowEnd, &item.State, &item.Attempts,
		&item.CreatedAt, &lastAttemptAt, &lastError); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: select next queue item: %v", model.ErrStoreFailure, err)
	}

	item.JobID = jobID
	item.WindowStart, err = time.Parse(dateLayout, windowStart)
	if err != nil {
		return nil, fmt.Errorf("%w: parse window_start: %v", model.ErrStoreFailure, err)
	}
	item.WindowEnd, err = time.Parse(dateLayout, windowEnd)
	if err != nil {
		return nil, fmt.Errorf("%w: parse window_end: %v", model.ErrStoreFailure, err)
	}
	if lastAttemptAt.Valid {
		t := lastAttemptAt.Time
		item.LastAttemptAt = &t
	}
	if lastError.Valid {
		item.LastError = lastError.String
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE ingest_queue SET state = 'running', attempts = attempts + 1, last_attempt_at = ?
		WHERE job_id = ? AND symbol = ? AND window_start = ? AND window_end = ? AND state = ?`,
		now, jobID, item.Symbol, windowStart, windowEnd, item.State,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: claim queue item: %v", model.ErrStoreFailure, err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		// Lost a race to another popper between select and update.
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit pop tx: %v", model.ErrStoreFailure, err)
	}

	item.State = model.QueueRunning
	item.Attempts++
	item.LastAttemptAt = &now
	return &item, nil
}

// MarkSucceeded transitions a running item to succeeded.
func (s *Store) MarkSucceeded(ctx context.Context, key model.QueueItemKey) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE ingest_queue SET state = 'succeeded' WHERE job_id = ? AND symbol = ? AND window_start = ? AND window_end = ?`,
		key.JobID, strings.ToUpper(key.Symbol), key.WindowStart.Format(dateLayout), key.WindowEnd.Format(dateLayout),
	)
	if err != nil {
		return fmt.Errorf("%w: mark_succeeded: %v", model.ErrStoreFailure, err)
	}
	return nil
}

// MarkFailed records a failure. If attempts remain under maxAttempts the
// item goes back to pending for a future PopNext; otherwise it is parked
// in the terminal failed state. The error text is truncated so one huge
// vendor error body cannot bloat the row.
func (s *Store) MarkFailed(ctx context.Context, key model.QueueItemKey, attempts, maxAttempts int, lastErr string) error {
	nextState := "pending"
	if attempts >= maxAttempts {
		nextState = "failed"
	}
	if len(lastErr) > maxLastErrorLen {
		lastErr = lastErr[:maxLastErrorLen]
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE ingest_queue SET state = ?, last_error = ?
		WHERE job_id = ? AND symbol = ? AND window_start = ? AND window_end = ?`,
		nextState, lastErr, key.JobID, strings.ToUpper(key.Symbol),
		key.WindowStart.Format(dateLayout), key.WindowEnd.Format(dateLayout),
	)
	if err != nil {
		return fmt.Errorf("%w: mark_failed: %v", model.ErrStoreFailure, err)
	}
	return nil
}

// ResetStaleRunning reclaims jobID's items stuck in running for longer
// than staleAfter, putting them back to pending so a crashed worker's
// in-flight work is retried by the next scheduler run. Scoped to a
// single job id so a stale-running sweep for one job never touches rows
// a concurrently-draining job still legitimately owns.
func (s *Store) ResetStaleRunning(ctx context.Context, jobID string, staleAfter time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-staleAfter)
	res, err := s.db.ExecContext(ctx, `
		UPDATE ingest_queue SET state = 'pending'
		WHERE job_id = ? AND state = 'running' AND (last_attempt_at IS NULL OR last_attempt_at < ?)`,
		jobID, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: reset_stale_running: %v", model.ErrStoreFailure, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Counts returns the aggregate queue state for a job, used both to
// reconcile job-level progress counters and to decide when a job is
// finished draining.
func (s *Store) Counts(ctx context.Context, jobID string) (model.QueueCounts, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT state, COUNT(*) FROM ingest_queue WHERE job_id = ? GROUP BY state`, jobID)
	if err != nil {
		return model.QueueCounts{}, fmt.Errorf("%w: counts: %v", model.ErrStoreFailure, err)
	}
	defer rows.Close()

	var c model.QueueCounts
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return model.QueueCounts{}, fmt.Errorf("%w: scan counts row: %v", model.ErrStoreFailure, err)
		}
		switch model.QueueState(state) {
		case model.QueuePending:
			c.Pending = n
		case model.QueueRunning:
			c.Running = n
		case model.QueueSucceeded:
			c.Succeeded = n
		case model.QueueFailed:
			c.Failed = n
		}
		c.Total += n
	}
	return c, rows.Err()
}
