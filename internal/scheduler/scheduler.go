// Package scheduler drives one ingest job end to end: it expands a
// symbol universe and a date range into a queue of (symbol, window) work
// items, drains that queue with a bounded worker pool, and reconciles the
// job's progress counters against the queue's own state until the job
// reaches a terminal outcome.
//
// The worker pool is a fixed number of goroutines pulling from a shared
// source of work rather than a per-key channel fan-out, since the shared
// source here is the durable queue table instead of an in-memory
// channel. A failed item is marked failed on the queue and retried by a
// later pop until its attempt cap; the workers do not back off and do
// not distinguish recoverable from irrecoverable vendor errors.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tp-nvrl8/ingestsched/internal/barstore"
	"github.com/tp-nvrl8/ingestsched/internal/ingestjob"
	"github.com/tp-nvrl8/ingestsched/internal/ingestqueue"
	"github.com/tp-nvrl8/ingestsched/internal/model"
	"github.com/tp-nvrl8/ingestsched/internal/universe"
	"github.com/tp-nvrl8/ingestsched/internal/vendor"
)

// Config bounds the scheduler's retry and concurrency behavior.
type Config struct {
	MaxAttempts        int
	StaleThreshold     time.Duration
	WorkerConcurrency  int
	DefaultWindowDays  int
	VendorRateLimit    float64
	MinArchiveKeepDays int
}

// ArchiveOptions carries a start-resumable request's optional archival
// step, run best-effort once the job's drain reaches a terminal state.
type ArchiveOptions struct {
	OnFinish bool
	KeepDays int
}

// Scheduler wires the four stores and the vendor client into the job
// lifecycle described by the start-resumable, resume, progress,
// get-latest-job, and archive commands.
type Scheduler struct {
	bars     *barstore.Store
	universe *universe.Store
	queue    *ingestqueue.Store
	jobs     *ingestjob.Store
	fetcher  vendor.OHLCVFetcher
	cfg      Config
	log      zerolog.Logger
	limiter  *rate.Limiter

	mu       sync.Mutex
	draining map[string]bool
	archive  map[string]ArchiveOptions
}

// New builds a Scheduler from its component stores.
func New(bars *barstore.Store, uni *universe.Store, queue *ingestqueue.Store, jobs *ingestjob.Store, fetcher vendor.OHLCVFetcher, cfg Config, log zerolog.Logger) *Scheduler {
	limit := cfg.VendorRateLimit
	if limit <= 0 {
		limit = 8
	}
	return &Scheduler{
		bars: bars, universe: uni, queue: queue, jobs: jobs, fetcher: fetcher,
		cfg: cfg, log: log,
		limiter:  rate.NewLimiter(rate.Limit(limit), 1),
		draining: make(map[string]bool),
		archive:  make(map[string]ArchiveOptions),
	}
}

// StartRequest is the parameter set for start-resumable.
type StartRequest struct {
	RequestedStart time.Time
	RequestedEnd   time.Time
	WindowDays     int
	Filter         model.UniverseFilter
	Archive        ArchiveOptions
}

// PartitionWindows splits [start, end] into contiguous, non-overlapping
// windows of at most windowDays each, covering the whole range with no
// gaps and no overlaps.
func PartitionWindows(start, end time.Time, windowDays int) []model.Window {
	if windowDays < 1 {
		windowDays = 1
	}
	var windows []model.Window
	cur := start
	for !cur.After(end) {
		winEnd := cur.AddDate(0, 0, windowDays-1)
		if winEnd.After(end) {
			winEnd = end
		}
		windows = append(windows, model.Window{Start: cur, End: winEnd})
		cur = winEnd.AddDate(0, 0, 1)
	}
	return windows
}

// StartResult is what start-resumable reports back to the caller.
type StartResult struct {
	JobID          string
	RequestedStart time.Time
	RequestedEnd   time.Time
	WindowDays     int
	QueuedItems    int
}

// StartResumable selects a symbol universe, partitions the requested
// range into windows, creates a job, and enqueues the Cartesian product
// of symbols x windows as pending work. It returns immediately; the
// background drain is kicked off by the caller (the HTTP handler spawns
// it so the request itself never blocks on completion).
func (s *Scheduler) StartResumable(ctx context.Context, req StartRequest) (StartResult, error) {
	if req.RequestedEnd.Before(req.RequestedStart) {
		return StartResult{}, model.ErrBadRange
	}
	windowDays := req.WindowDays
	if windowDays == 0 {
		windowDays = s.cfg.DefaultWindowDays
	}
	if windowDays < 1 {
		return StartResult{}, model.ErrBadWindow
	}

	symbols, err := s.universe.SelectSymbols(ctx, req.Filter)
	if err != nil {
		return StartResult{}, err
	}

	jobID := uuid.NewString()
	if err := s.jobs.Create(ctx, model.Job{
		ID:                        jobID,
		RequestedStart:            req.RequestedStart,
		RequestedEnd:              req.RequestedEnd,
		UniverseSymbolsConsidered: len(symbols),
	}); err != nil {
		return StartResult{}, err
	}

	windows := PartitionWindows(req.RequestedStart, req.RequestedEnd, windowDays)
	items := make([]model.QueueItemKey, 0, len(symbols)*len(windows))
	for _, sym := range symbols {
		for _, w := range windows {
			items = append(items, model.QueueItemKey{JobID: jobID, Symbol: sym, WindowStart: w.Start, WindowEnd: w.End})
		}
	}
	if err := s.queue.Enqueue(ctx, jobID, items); err != nil {
		return StartResult{}, err
	}

	if req.Archive.OnFinish {
		s.mu.Lock()
		s.archive[jobID] = req.Archive
		s.mu.Unlock()
	}

	s.log.Info().Str("job_id", jobID).Int("symbols", len(symbols)).Int("windows", len(windows)).Msg("ingest job created")
	return StartResult{
		JobID:          jobID,
		RequestedStart: req.RequestedStart,
		RequestedEnd:   req.RequestedEnd,
		WindowDays:     windowDays,
		QueuedItems:    len(items),
	}, nil
}

// Resume validates that jobID exists and reclaims any items a crashed
// prior attempt left running, then returns without blocking on
// completion. Callers re-invoke the worker loop by calling Drain
// themselves, the same way StartResumable's caller does, so both
// handlers return immediately.
func (s *Scheduler) Resume(ctx context.Context, jobID string) error {
	if _, err := s.jobs.Get(ctx, jobID); err != nil {
		return err
	}
	_, err := s.queue.ResetStaleRunning(ctx, jobID, s.cfg.StaleThreshold)
	return err
}

// Drain runs the bounded worker pool against jobID's queue until no
// eligible item remains, then reconciles and finalizes the job. At most
// one Drain runs per job id at a time; a call that arrives while another
// is already draining the same job is a no-op, since start-resumable and
// resume both spawn a drain and may race on the same job.
func (s *Scheduler) Drain(ctx context.Context, jobID string) error {
	s.mu.Lock()
	if s.draining[jobID] {
		s.mu.Unlock()
		return nil
	}
	s.draining[jobID] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.draining, jobID)
		s.mu.Unlock()
	}()

	if _, err := s.queue.ResetStaleRunning(ctx, jobID, s.cfg.StaleThreshold); err != nil {
		return err
	}
	if err := s.reconcileProgress(ctx, jobID); err != nil {
		return err
	}

	concurrency := s.cfg.WorkerConcurrency
	if concurrency < 1 {
		concurrency = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runWorker(ctx, jobID)
		}()
	}
	wg.Wait()

	finalized, err := s.reconcileAndFinalize(ctx, jobID)
	if err != nil {
		return err
	}
	if finalized {
		s.runArchiveOnFinish(ctx, jobID)
	}
	return nil
}

// runArchiveOnFinish looks up the archive options recorded by
// StartResumable for jobID (if any) and, as the optional final step of
// a drain, moves bars older than the requested cutoff into the archive
// table on a best-effort basis: errors here never affect the job's
// terminal state, which has already been written.
func (s *Scheduler) runArchiveOnFinish(ctx context.Context, jobID string) {
	s.mu.Lock()
	opts, ok := s.archive[jobID]
	delete(s.archive, jobID)
	s.mu.Unlock()
	if !ok || !opts.OnFinish {
		return
	}
	minKeepDays := s.cfg.MinArchiveKeepDays
	if minKeepDays <= 0 {
		minKeepDays = 30
	}
	if opts.KeepDays < minKeepDays {
		s.log.Warn().Str("job_id", jobID).Int("archive_keep_days", opts.KeepDays).Msg("archive_on_finish skipped: keep_days below minimum")
		return
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -opts.KeepDays)
	if _, err := s.bars.ArchiveBefore(ctx, cutoff); err != nil {
		s.log.Warn().Err(err).Str("job_id", jobID).Msg("archive_on_finish failed")
	}
}

// runWorker repeatedly pops and processes items until the queue yields
// nothing more for this job.
func (s *Scheduler) runWorker(ctx context.Context, jobID string) {
	for {
		if ctx.Err() != nil {
			return
		}
		item, err := s.queue.PopNext(ctx, jobID, s.cfg.MaxAttempts)
		if err != nil {
			s.log.Error().Err(err).Str("job_id", jobID).Msg("pop_next failed")
			return
		}
		if item == nil {
			return
		}
		s.process(ctx, jobID, *item)
		if err := s.reconcileProgress(ctx, jobID); err != nil {
			s.log.Error().Err(err).Str("job_id", jobID).Msg("update_progress failed")
		}
	}
}

func (s *Scheduler) process(ctx context.Context, jobID string, item model.QueueItem) {
	key := item.QueueItemKey

	if err := s.limiter.Wait(ctx); err != nil {
		return
	}

	bars, err := s.fetcher.FetchDaily(ctx, item.Symbol, model.Window{Start: item.WindowStart, End: item.WindowEnd})
	if err != nil {
		s.log.Warn().Err(err).Str("job_id", jobID).Str("symbol", item.Symbol).Msg("vendor fetch failed")
		if markErr := s.queue.MarkFailed(ctx, key, item.Attempts, s.cfg.MaxAttempts, err.Error()); markErr != nil {
			s.log.Error().Err(markErr).Msg("mark_failed failed")
		}
		return
	}

	if _, err := s.bars.Upsert(ctx, item.Symbol, bars); err != nil {
		s.log.Warn().Err(err).Str("job_id", jobID).Str("symbol", item.Symbol).Msg("bar upsert failed")
		if markErr := s.queue.MarkFailed(ctx, key, item.Attempts, s.cfg.MaxAttempts, err.Error()); markErr != nil {
			s.log.Error().Err(markErr).Msg("mark_failed failed")
		}
		return
	}

	if err := s.queue.MarkSucceeded(ctx, key); err != nil {
		s.log.Error().Err(err).Msg("mark_succeeded failed")
	}
}

// reconcileProgress projects the queue's own counts onto the job's running
// counters without touching its terminal state, so progress stays a
// faithful view of queue truth even if an earlier write was lost to a
// crash between items.
func (s *Scheduler) reconcileProgress(ctx context.Context, jobID string) error {
	counts, err := s.queue.Counts(ctx, jobID)
	if err != nil {
		return err
	}
	return s.jobs.UpdateProgress(ctx, jobID, model.JobProgress{
		Attempted: counts.Succeeded + counts.Failed,
		Succeeded: counts.Succeeded,
		Failed:    counts.Failed,
	})
}

// reconcileAndFinalize recomputes the job's progress counters from the
// queue's own state (the source of truth) and, once nothing is left
// pending or running, finalizes the job as succeeded or failed. It
// reports whether the job reached a terminal state, so the caller knows
// whether the optional archive step is due.
func (s *Scheduler) reconcileAndFinalize(ctx context.Context, jobID string) (bool, error) {
	counts, err := s.queue.Counts(ctx, jobID)
	if err != nil {
		return false, err
	}

	progress := model.JobProgress{
		Attempted: counts.Succeeded + counts.Failed,
		Succeeded: counts.Succeeded,
		Failed:    counts.Failed,
	}

	if counts.Pending > 0 || counts.Running > 0 {
		paused := "paused with remaining items"
		progress.LastError = &paused
		return false, s.jobs.UpdateProgress(ctx, jobID, progress)
	}

	state := model.JobSucceeded
	var lastErr string
	if counts.Failed > 0 {
		state = model.JobFailed
		lastErr = fmt.Sprintf("%d of %d items failed permanently", counts.Failed, counts.Total)
	}
	return true, s.jobs.Finalize(ctx, jobID, state, progress, lastErr)
}

// Progress returns the job record and its live queue counts, for the
// progress command.
func (s *Scheduler) Progress(ctx context.Context, jobID string) (model.Job, model.QueueCounts, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return model.Job{}, model.QueueCounts{}, err
	}
	counts, err := s.queue.Counts(ctx, jobID)
	if err != nil {
		return model.Job{}, model.QueueCounts{}, err
	}
	return job, counts, nil
}

// GetLatestJob returns the most recently created job.
func (s *Scheduler) GetLatestJob(ctx context.Context) (model.Job, error) {
	return s.jobs.GetLatest(ctx)
}

// ArchiveBefore moves bars older than cutoff into the archive table.
// cutoff must leave at least minKeepDays of live history; the caller
// (the API handler) enforces that against the configured minimum.
func (s *Scheduler) ArchiveBefore(ctx context.Context, cutoff time.Time) (barstore.ArchiveResult, error) {
	return s.bars.ArchiveBefore(ctx, cutoff)
}
