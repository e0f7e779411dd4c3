// Package barstore persists (symbol, trade_date) -> OHLCV rows with
// upsert-on-primary-key semantics, and moves aged rows into an archive
// twin table on request.
package barstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/tp-nvrl8/ingestsched/internal/model"
)

const dateLayout = "2006-01-02"

// Store is the Bar Store described in the ingest scheduler design: an
// upsert-on-PK table plus a time-bounded range read and an archival move.
type Store struct {
	db *sql.DB
}

// New wraps an already-open database handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

// ArchiveResult reports how many rows archive_before moved.
type ArchiveResult struct {
	Archived        int
	DeletedFromLive int
}

// Upsert atomically replaces any existing row sharing (symbol, trade_date)
// with the given bars. Empty input is a no-op. The whole batch commits or
// rolls back together so no partial write is ever visible.
func (s *Store) Upsert(ctx context.Context, symbol string, bars []model.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	symbol = strings.ToUpper(symbol)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin upsert tx: %v", model.ErrStoreFailure, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		return 0, fmt.Errorf("%w: prepare upsert: %v", model.ErrStoreFailure, err)
	}
	defer stmt.Close()

	written := 0
	for _, b := range bars {
		if err := validateBar(b); err != nil {
			return 0, fmt.Errorf("%w: invalid bar for %s on %s: %v", model.ErrStoreFailure, symbol, b.TradeDate.Format(dateLayout), err)
		}
		_, err := stmt.ExecContext(ctx,
			symbol, b.TradeDate.Format(dateLayout),
			b.Open, b.High, b.Low, b.Close, b.Volume,
			nullFloat(b.VWAP), nullFloat(b.Turnover), nullFloat(b.ChangePct),
			nullFloat(b.AdjOpen), nullFloat(b.AdjHigh), nullFloat(b.AdjLow), nullFloat(b.AdjClose),
		)
		if err != nil {
			return 0, fmt.Errorf("%w: upsert %s %s: %v", model.ErrStoreFailure, symbol, b.TradeDate.Format(dateLayout), err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit upsert tx: %v", model.ErrStoreFailure, err)
	}
	return written, nil
}

const upsertSQL = `
INSERT INTO daily_bars (
	symbol, trade_date, open, high, low, close, volume,
	vwap, turnover, change_pct, adj_open, adj_high, adj_low, adj_close
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (symbol, trade_date) DO UPDATE SET
	open = excluded.open,
	high = excluded.high,
	low = excluded.low,
	close = excluded.close,
	volume = excluded.volume,
	vwap = excluded.vwap,
	turnover = excluded.turnover,
	change_pct = excluded.change_pct,
	adj_open = excluded.adj_open,
	adj_high = excluded.adj_high,
	adj_low = excluded.adj_low,
	adj_close = excluded.adj_close`

func validateBar(b model.Bar) error {
	if b.Volume < 0 {
		return fmt.Errorf("volume %d < 0", b.Volume)
	}
	if b.Low < 0 {
		return fmt.Errorf("low %f < 0", b.Low)
	}
	hi, lo := maxOpenClose(b), minOpenClose(b)
	if b.High < hi {
		return fmt.Errorf("high %f < max(open,close) %f", b.High, hi)
	}
	if hi < lo {
		return fmt.Errorf("max(open,close) %f < min(open,close) %f", hi, lo)
	}
	if lo < b.Low {
		return fmt.Errorf("min(open,close) %f < low %f", lo, b.Low)
	}
	return nil
}

func maxOpenClose(b model.Bar) float64 {
	if b.Open > b.Close {
		return b.Open
	}
	return b.Close
}

func minOpenClose(b model.Bar) float64 {
	if b.Open < b.Close {
		return b.Open
	}
	return b.Close
}

// ReadRange returns bars for symbol in [start, end], inclusive, ordered
// ascending by trade date. The returned slice may be empty.
func (s *Store) ReadRange(ctx context.Context, symbol string, start, end time.Time) ([]model.Bar, error) {
	symbol = strings.ToUpper(symbol)
	rows, err := s.db.QueryContext(ctx, `
		SELECT trade_date, open, high, low, close, volume,
			vwap, turnover, change_pct, adj_open, adj_high, adj_low, adj_close
		FROM daily_bars
		WHERE symbol = ? AND trade_date >= ? AND trade_date <= ?
		ORDER BY trade_date ASC`,
		symbol, start.Format(dateLayout), end.Format(dateLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: read_range %s: %v", model.ErrStoreFailure, symbol, err)
	}
	defer rows.Close()

	var out []model.Bar
	for rows.Next() {
		var dateStr string
		var b model.Bar
		var vwap, turnover, changePct, adjOpen, adjHigh, adjLow, adjClose sql.NullFloat64
		if err := rows.Scan(&dateStr, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume,
			&vwap, &turnover, &changePct, &adjOpen, &adjHigh, &adjLow, &adjClose); err != nil {
			return nil, fmt.Errorf("%w: scan bar row: %v", model.ErrStoreFailure, err)
		}
		t, err := time.Parse(dateLayout, dateStr)
		if err != nil {
			return nil, fmt.Errorf("%w: parse trade_date %q: %v", model.ErrStoreFailure, dateStr, err)
		}
		b.Symbol = symbol
		b.TradeDate = t
		b.VWAP = nullableFloat(vwap)
		b.Turnover = nullableFloat(turnover)
		b.ChangePct = nullableFloat(changePct)
		b.AdjOpen = nullableFloat(adjOpen)
		b.AdjHigh = nullableFloat(adjHigh)
		b.AdjLow = nullableFloat(adjLow)
		b.AdjClose = nullableFloat(adjClose)
		out = append(out, b)
	}
	return out, rows.Err()
}

// ArchiveBefore copies rows with trade_date < cutoff into the archive
// table using upsert semantics, then deletes them from the live table.
// Both steps run in one transaction; re-running with the same cutoff is
// a no-op on the second call.
func (s *Store) ArchiveBefore(ctx context.Context, cutoff time.Time) (ArchiveResult, error) {
	cutoffStr := cutoff.Format(dateLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ArchiveResult{}, fmt.Errorf("%w: begin archive tx: %v", model.ErrStoreFailure, err)
	}
	defer func() { _ = tx.Rollback() }()

	copyRes, err := tx.ExecContext(ctx, `
		INSERT INTO daily_bars_archive (
			symbol, trade_date, open, high, low, close, volume,
			vwap, turnover, change_pct, adj_open, adj_high, adj_low, adj_close
		)
		SELECT symbol, trade_date, open, high, low, close, volume,
			vwap, turnover, change_pct, adj_open, adj_high, adj_low, adj_close
		FROM daily_bars
		WHERE trade_date < ?
		ON CONFLICT (symbol, trade_date) DO UPDATE SET
			open = excluded.open, high = excluded.high, low = excluded.low,
			close = excluded.close, volume = excluded.volume,
			vwap = excluded.vwap, turnover = excluded.turnover, change_pct = excluded.change_pct,
			adj_open = excluded.adj_open, adj_high = excluded.adj_high,
			adj_low = excluded.adj_low, adj_close = excluded.adj_close`,
		cutoffStr,
	)
	if err != nil {
		return ArchiveResult{}, fmt.Errorf("%w: archive copy: %v", model.ErrStoreFailure, err)
	}
	archived, _ := copyRes.RowsAffected()

	delRes, err := tx.ExecContext(ctx, `DELETE FROM daily_bars WHERE trade_date < ?`, cutoffStr)
	if err != nil {
		return ArchiveResult{}, fmt.Errorf("%w: archive delete: %v", model.ErrStoreFailure, err)
	}
	deleted, _ := delRes.RowsAffected()

	if err := tx.Commit(); err != nil {
		return ArchiveResult{}, fmt.Errorf("%w: commit archive tx: %v", model.ErrStoreFailure, err)
	}

	return ArchiveResult{Archived: int(archived), DeletedFromLive: int(deleted)}, nil
}

func nullFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

func nullableFloat(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
