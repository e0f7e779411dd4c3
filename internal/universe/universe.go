// Package universe stores the tradable symbol list and selects subsets of
// it against a filter supplied by a start-resumable request.
package universe

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/tp-nvrl8/ingestsched/internal/model"
)

// Store is the Universe Store: a refreshable snapshot of tradable symbols
// plus the metadata needed to filter them (market cap, exchange, fund
// flags).
type Store struct {
	db *sql.DB
}

// New wraps an already-open database handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

// Replace overwrites the universe snapshot with rows, in a single
// transaction, so a refresh never leaves the table half old / half new.
func (s *Store) Replace(ctx context.Context, rows []model.SymbolUniverseRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin universe replace tx: %v", model.ErrStoreFailure, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM symbol_universe`); err != nil {
		return fmt.Errorf("%w: clear universe: %v", model.ErrStoreFailure, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO symbol_universe (
			symbol, name, exchange, sector, industry, market_cap, price,
			is_etf, is_fund, is_actively_trading, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("%w: prepare universe insert: %v", model.ErrStoreFailure, err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, r := range rows {
		symbol := strings.ToUpper(r.Symbol)
		_, err := stmt.ExecContext(ctx,
			symbol, r.Name, r.Exchange, nullString(r.Sector), nullString(r.Industry),
			nullFloat(r.MarketCap), nullFloat(r.Price),
			r.IsETF, r.IsFund, r.IsActivelyTrading, now,
		)
		if err != nil {
			return fmt.Errorf("%w: insert universe row %s: %v", model.ErrStoreFailure, symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit universe replace tx: %v", model.ErrStoreFailure, err)
	}
	return nil
}

// SelectSymbols returns the symbols matching filter, ordered by market cap
// descending with symbol ascending as a tie-break, truncated to
// filter.MaxSymbols when it is positive.
func (s *Store) SelectSymbols(ctx context.Context, filter model.UniverseFilter) ([]string, error) {
	var (
		clauses []string
		args    []interface{}
	)

	clauses = append(clauses, "market_cap IS NOT NULL", "market_cap >= ?")
	args = append(args, filter.MinCap)
	if filter.MaxCap != nil {
		clauses = append(clauses, "market_cap <= ?")
		args = append(args, *filter.MaxCap)
	}
	if len(filter.Exchanges) > 0 {
		placeholders := make([]string, len(filter.Exchanges))
		for i, ex := range filter.Exchanges {
			placeholders[i] = "?"
			args = append(args, strings.ToUpper(ex))
		}
		clauses = append(clauses, fmt.Sprintf("exchange IN (%s)", strings.Join(placeholders, ", ")))
	}
	clauses = append(clauses, "is_fund = 0")
	if !filter.IncludeETFs {
		clauses = append(clauses, "is_etf = 0")
	}
	if filter.ActiveOnly {
		clauses = append(clauses, "is_actively_trading = 1")
	}

	query := "SELECT symbol FROM symbol_universe"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY market_cap DESC, symbol ASC"
	if filter.MaxSymbols > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.MaxSymbols)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: select_symbols: %v", model.ErrStoreFailure, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			return nil, fmt.Errorf("%w: scan universe symbol: %v", model.ErrStoreFailure, err)
		}
		out = append(out, symbol)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, model.ErrNoUniverseMatch
	}
	return out, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}
