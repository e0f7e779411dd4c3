// Package http implements the ingest scheduler's HTTP surface: thin
// gorilla/mux handlers that decode a request, call the scheduler, and
// write back JSON, leaving all domain logic to the scheduler itself.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/tp-nvrl8/ingestsched/internal/api/respond"
	"github.com/tp-nvrl8/ingestsched/internal/api/validate"
	"github.com/tp-nvrl8/ingestsched/internal/model"
	"github.com/tp-nvrl8/ingestsched/internal/scheduler"
)

// Handler holds the scheduler every route delegates to.
type Handler struct {
	sched              *scheduler.Scheduler
	minArchiveKeepDays int
}

// New builds a Handler.
func New(sched *scheduler.Scheduler, minArchiveKeepDays int) *Handler {
	return &Handler{sched: sched, minArchiveKeepDays: minArchiveKeepDays}
}

// Register wires the five ingest commands onto r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/jobs", h.startResumable).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{job_id}/resume", h.resume).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{job_id}/progress", h.progress).Methods(http.MethodGet)
	r.HandleFunc("/jobs/latest", h.getLatestJob).Methods(http.MethodGet)
	r.HandleFunc("/archive", h.archive).Methods(http.MethodPost)
}

type startResumableRequest struct {
	RequestedStart  string   `json:"requested_start"`
	RequestedEnd    string   `json:"requested_end"`
	WindowDays      int      `json:"window_days,omitempty"`
	MinCap          float64  `json:"min_cap,omitempty"`
	MaxCap          *float64 `json:"max_cap,omitempty"`
	Exchanges       []string `json:"exchanges,omitempty"`
	IncludeETFs     bool     `json:"include_etfs,omitempty"`
	ActiveOnly      bool     `json:"active_only,omitempty"`
	MaxSymbols      int      `json:"max_symbols,omitempty"`
	ArchiveOnFinish bool     `json:"archive_on_finish,omitempty"`
	ArchiveKeepDays int      `json:"archive_keep_days,omitempty"`
}

const dateLayout = "2006-01-02"

type startResumableResponse struct {
	JobID          string `json:"job_id"`
	RequestedStart string `json:"requested_start"`
	RequestedEnd   string `json:"requested_end"`
	WindowDays     int    `json:"window_days"`
	QueuedItems    int    `json:"queued_items"`
}

type resumeResponse struct {
	OK    bool   `json:"ok"`
	JobID string `json:"job_id"`
}

func (h *Handler) startResumable(w http.ResponseWriter, r *http.Request) {
	var req startResumableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.BadRequest(w, "invalid request body")
		return
	}

	start, err := validate.Date("requested_start", req.RequestedStart)
	if err != nil {
		respond.BadRequest(w, err.Error())
		return
	}
	end, err := validate.Date("requested_end", req.RequestedEnd)
	if err != nil {
		respond.BadRequest(w, err.Error())
		return
	}
	if err := validate.DateRange(start, end); err != nil {
		respond.BadRequest(w, err.Error())
		return
	}
	if err := validate.WindowDays(req.WindowDays); err != nil {
		respond.BadRequest(w, err.Error())
		return
	}
	if err := validate.MaxSymbols(req.MaxSymbols); err != nil {
		respond.BadRequest(w, err.Error())
		return
	}
	if req.ArchiveOnFinish {
		if err := validate.KeepDays(req.ArchiveKeepDays, h.minArchiveKeepDays); err != nil {
			respond.BadRequest(w, err.Error())
			return
		}
	}

	result, err := h.sched.StartResumable(r.Context(), scheduler.StartRequest{
		RequestedStart: start,
		RequestedEnd:   end,
		WindowDays:     req.WindowDays,
		Filter: model.UniverseFilter{
			MinCap:      req.MinCap,
			MaxCap:      req.MaxCap,
			Exchanges:   req.Exchanges,
			IncludeETFs: req.IncludeETFs,
			ActiveOnly:  req.ActiveOnly,
			MaxSymbols:  req.MaxSymbols,
		},
		Archive: scheduler.ArchiveOptions{
			OnFinish: req.ArchiveOnFinish,
			KeepDays: req.ArchiveKeepDays,
		},
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// Draining runs in the background; progress is polled via GET .../progress.
	go func() {
		_ = h.sched.Drain(context.Background(), result.JobID)
	}()

	respond.JSON(w, http.StatusAccepted, startResumableResponse{
		JobID:          result.JobID,
		RequestedStart: result.RequestedStart.Format(dateLayout),
		RequestedEnd:   result.RequestedEnd.Format(dateLayout),
		WindowDays:     result.WindowDays,
		QueuedItems:    result.QueuedItems,
	})
}

func (h *Handler) resume(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["job_id"]
	if err := h.sched.Resume(r.Context(), jobID); err != nil {
		writeDomainError(w, err)
		return
	}
	// Resume hands the drain back to the background the same way
	// start-resumable does; the caller polls progress for completion.
	go func() {
		_ = h.sched.Drain(context.Background(), jobID)
	}()
	respond.JSON(w, http.StatusAccepted, resumeResponse{OK: true, JobID: jobID})
}

type progressResponse struct {
	Job         model.Job         `json:"job"`
	Queue       model.QueueCounts `json:"queue"`
	PctComplete float64           `json:"pct_complete"`
}

func (h *Handler) progress(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["job_id"]
	job, counts, err := h.sched.Progress(r.Context(), jobID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	total := counts.Total
	if total == 0 {
		total = 1
	}
	pct := float64(counts.Succeeded+counts.Failed) / float64(total) * 100
	respond.JSON(w, http.StatusOK, progressResponse{Job: job, Queue: counts, PctComplete: pct})
}

func (h *Handler) getLatestJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.sched.GetLatestJob(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, job)
}

type archiveRequest struct {
	KeepDays int `json:"keep_days"`
}

type archiveResponse struct {
	CutoffDate      string `json:"cutoff_date"`
	Archived        int    `json:"archived"`
	DeletedFromLive int    `json:"deleted_from_live"`
}

func (h *Handler) archive(w http.ResponseWriter, r *http.Request) {
	var req archiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.BadRequest(w, "invalid request body")
		return
	}
	if err := validate.KeepDays(req.KeepDays, h.minArchiveKeepDays); err != nil {
		respond.BadRequest(w, err.Error())
		return
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -req.KeepDays)
	res, err := h.sched.ArchiveBefore(r.Context(), cutoff)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, archiveResponse{
		CutoffDate:      cutoff.Format(dateLayout),
		Archived:        res.Archived,
		DeletedFromLive: res.DeletedFromLive,
	})
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		respond.NotFound(w, err.Error())
	case errors.Is(err, model.ErrBadRange), errors.Is(err, model.ErrBadWindow),
		errors.Is(err, model.ErrBadInput), errors.Is(err, model.ErrNoUniverseMatch):
		respond.BadRequest(w, err.Error())
	default:
		respond.InternalError(w, err)
	}
}
