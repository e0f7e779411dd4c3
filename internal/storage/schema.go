package storage

import "database/sql"

// EnsureSchema creates the five core tables if they do not exist.
func EnsureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS symbol_universe (
			symbol TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			exchange TEXT NOT NULL,
			sector TEXT,
			industry TEXT,
			market_cap REAL,
			price REAL,
			is_etf BOOLEAN NOT NULL DEFAULT 0,
			is_fund BOOLEAN NOT NULL DEFAULT 0,
			is_actively_trading BOOLEAN NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS daily_bars (
			symbol TEXT NOT NULL,
			trade_date TEXT NOT NULL,
			open REAL NOT NULL,
			high REAL NOT NULL,
			low REAL NOT NULL,
			close REAL NOT NULL,
			volume INTEGER NOT NULL,
			vwap REAL,
			turnover REAL,
			change_pct REAL,
			adj_open REAL,
			adj_high REAL,
			adj_low REAL,
			adj_close REAL,
			PRIMARY KEY (symbol, trade_date)
		);`,
		`CREATE TABLE IF NOT EXISTS daily_bars_archive (
			symbol TEXT NOT NULL,
			trade_date TEXT NOT NULL,
			open REAL NOT NULL,
			high REAL NOT NULL,
			low REAL NOT NULL,
			close REAL NOT NULL,
			volume INTEGER NOT NULL,
			vwap REAL,
			turnover REAL,
			change_pct REAL,
			adj_open REAL,
			adj_high REAL,
			adj_low REAL,
			adj_close REAL,
			PRIMARY KEY (symbol, trade_date)
		);`,
		`CREATE TABLE IF NOT EXISTS ingest_jobs (
			id TEXT PRIMARY KEY,
			created_at TIMESTAMP NOT NULL,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP,
			state TEXT NOT NULL,
			requested_start TEXT NOT NULL,
			requested_end TEXT NOT NULL,
			universe_symbols_considered INTEGER NOT NULL DEFAULT 0,
			symbols_attempted INTEGER NOT NULL DEFAULT 0,
			symbols_succeeded INTEGER NOT NULL DEFAULT 0,
			symbols_failed INTEGER NOT NULL DEFAULT 0,
			last_error TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS ingest_queue (
			job_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			window_start TEXT NOT NULL,
			window_end TEXT NOT NULL,
			state TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			last_attempt_at TIMESTAMP,
			last_error TEXT,
			PRIMARY KEY (job_id, symbol, window_start, window_end)
		);`,
		`CREATE INDEX IF NOT EXISTS ingest_queue_job_state_idx ON ingest_queue(job_id, state, attempts);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
