// Command ingest-service runs the resumable bar ingest scheduler as an
// HTTP service: it owns the embedded SQLite database and serves the
// start/resume/progress/archive API until told to shut down. A job
// left running by a prior crash is recovered the next time its job id
// is resumed, not automatically at startup.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	apihttp "github.com/tp-nvrl8/ingestsched/internal/api/http"
	"github.com/tp-nvrl8/ingestsched/internal/barstore"
	"github.com/tp-nvrl8/ingestsched/internal/config"
	"github.com/tp-nvrl8/ingestsched/internal/ingestjob"
	"github.com/tp-nvrl8/ingestsched/internal/ingestqueue"
	"github.com/tp-nvrl8/ingestsched/internal/logger"
	"github.com/tp-nvrl8/ingestsched/internal/scheduler"
	"github.com/tp-nvrl8/ingestsched/internal/storage"
	"github.com/tp-nvrl8/ingestsched/internal/universe"
	"github.com/tp-nvrl8/ingestsched/internal/vendor"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg.ServiceName)

	db, err := storage.Open(cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open embedded database")
	}
	defer db.Close()

	vendorClient := vendor.New(vendor.Config{
		BaseURL: cfg.VendorBaseURL,
		APIKey:  cfg.VendorAPIKey,
		Timeout: cfg.VendorTimeout,
	})

	sched := scheduler.New(
		barstore.New(db),
		universe.New(db),
		ingestqueue.New(db),
		ingestjob.New(db),
		vendorClient,
		scheduler.Config{
			MaxAttempts:        cfg.MaxAttempts,
			StaleThreshold:     cfg.StaleThreshold,
			WorkerConcurrency:  cfg.WorkerConcurrency,
			DefaultWindowDays:  cfg.DefaultWindowDays,
			VendorRateLimit:    cfg.VendorRateLimitPerSec,
			MinArchiveKeepDays: cfg.MinArchiveKeepDays,
		},
		log,
	)

	router := mux.NewRouter()
	apihttp.New(sched, cfg.MinArchiveKeepDays).Register(router)

	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("ingest-service listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server stopped unexpectedly")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
