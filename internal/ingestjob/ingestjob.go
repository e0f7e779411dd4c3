// Package ingestjob tracks the umbrella record for one ingest request:
// its requested range, lifecycle state, and the running progress counters
// surfaced by the progress command.
package ingestjob

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

// Store is the Job Store.
type Store struct {
	db *sql.DB
}

// New wraps an already-open database handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

// Create inserts a new job row in the running state.
func (s *Store) Create(ctx context.Context, job model.Job) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingest_jobs (
			id, created_at, started_at, state, requested_start, requested_end,
			universe_symbols_considered, symbols_attempted, symbols_succeeded, symbols_failed
		) VALUES (?, ?, ?, 'running', ?, ?, ?, 0, 0, 0)`,
		job.ID, now, now, job.RequestedStart.Format(dateLayout), job.RequestedEnd.Format(dateLayout),
		job.UniverseSymbolsConsidered,
	)
	if err != nil {
		return fmt.Errorf("%w: create job %s: %v", model.ErrStoreFailure, job.ID, err)
	}
	return nil
}

// UpdateProgress overwrites the running counters on a job, plus any of
// state, universe_symbols_considered, and last_error that are given. It
// never touches finished_at: a job is only finished once Finalize says so.
func (s *Store) UpdateProgress(ctx context.Context, jobID string, p model.JobProgress) error {
	sets := []string{"symbols_attempted = ?", "symbols_succeeded = ?", "symbols_failed = ?"}
	args := []interface{}{p.Attempted, p.Succeeded, p.Failed}

	if p.State != nil {
		sets = append(sets, "state = ?")
		args = append(args, string(*p.State))
	}
	if p.UniverseSymbolsConsidered != nil {
		sets = append(sets, "universe_symbols_considered = ?")
		args = append(args, *p.UniverseSymbolsConsidered)
	}
	if p.LastError != nil {
		sets = append(sets, "last_error = ?")
		args = append(args, *p.LastError)
	}
	args = append(args, jobID)

	query := fmt.Sprintf(`UPDATE ingest_jobs SET %s WHERE id = ?`, strings.Join(sets, ", "))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: update_progress %s: %v", model.ErrStoreFailure, jobID, err)
	}
	return nil
}

// Finalize sets the job's terminal state and counters, and stamps
// finished_at. state must not be JobRunning.
func (s *Store) Finalize(ctx context.Context, jobID string, state model.JobState, p model.JobProgress, lastErr string) error {
	if state == model.JobRunning {
		return fmt.Errorf("%w: finalize called with non-terminal state %q", model.ErrBadInput, state)
	}
	now := time.Now().UTC()
	var lastErrArg interface{}
	if lastErr != "" {
		lastErrArg = lastErr
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE ingest_jobs
		SET state = ?, finished_at = ?, symbols_attempted = ?, symbols_succeeded = ?, symbols_failed = ?, last_error = ?
		WHERE id = ?`,
		string(state), now, p.Attempted, p.Succeeded, p.Failed, lastErrArg, jobID,
	)
	if err != nil {
		return fmt.Errorf("%w: finalize %s: %v", model.ErrStoreFailure, jobID, err)
	}
	return nil
}

// Get loads a single job by id.
func (s *Store) Get(ctx context.Context, jobID string) (model.Job, error) {
	row := s.db.QueryRowContext(ctx, jobSelectColumns+` FROM ingest_jobs WHERE id = ?`, jobID)
	return scanJob(row)
}

// GetLatest returns the most recently created job, used by the
// get-latest-job command when no job id is supplied.
func (s *Store) GetLatest(ctx context.Context) (model.Job, error) {
	row := s.db.QueryRowContext(ctx, jobSelectColumns+` FROM ingest_jobs ORDER BY created_at DESC LIMIT 1`)
	return scanJob(row)
}

const jobSelectColumns = `
	SELECT id, created_at, started_at, finished_at, state, requested_start, requested_end,
		universe_symbols_considered, symbols_attempted, symbols_succeeded, symbols_failed, last_error`

func scanJob(row *sql.Row) (model.Job, error) {
	var (
		job                          model.Job
		finishedAt                   sql.NullTime
		requestedStart, requestedEnd string
		lastError                    sql.NullString
		state                        string
	)
	err := row.Scan(&job.ID, &job.CreatedAt, &job.StartedAt, &finishedAt, &state,
		&requestedStart, &requestedEnd, &job.UniverseSymbolsConsidered,
		&job.SymbolsAttempted, &job.SymbolsSucceeded, &job.SymbolsFailed, &lastError)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Job{}, model.ErrNotFound
		}
		return model.Job{}, fmt.Errorf("%w: scan job: %v", model.ErrStoreFailure, err)
	}

	job.State = model.JobState(state)
	if finishedAt.Valid {
		t := finishedAt.Time
		job.FinishedAt = &t
	}
	if lastError.Valid {
		job.LastError = lastError.String
	}
	job.RequestedStart, err = time.Parse(dateLayout, requestedStart)
	if err != nil {
		return model.Job{}, fmt.Errorf("%w: parse requested_start: %v", model.ErrStoreFailure, err)
	}
	job.RequestedEnd, err = time.Parse(dateLayout, requestedEnd)
	if err != nil {
		return model.Job{}, fmt.Errorf("%w: parse requested_end: %v", model.ErrStoreFailure, err)
	}
	return job, nil
}
