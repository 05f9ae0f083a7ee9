// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/curator/internal/api"
	"github.com/tomtom215/curator/internal/background"
	"github.com/tomtom215/curator/internal/config"
	"github.com/tomtom215/curator/internal/database"
	"github.com/tomtom215/curator/internal/enrich"
	"github.com/tomtom215/curator/internal/library"
	"github.com/tomtom215/curator/internal/logging"
	"github.com/tomtom215/curator/internal/progress"
	"github.com/tomtom215/curator/internal/provider"
	"github.com/tomtom215/curator/internal/queue"
	"github.com/tomtom215/curator/internal/reconcile"
	"github.com/tomtom215/curator/internal/refresh"
	"github.com/tomtom215/curator/internal/retry"
	"github.com/tomtom215/curator/internal/schedule"
	"github.com/tomtom215/curator/internal/service"
	"github.com/tomtom215/curator/internal/store"
	"github.com/tomtom215/curator/internal/supervisor"
	"github.com/tomtom215/curator/internal/supervisor/services"
	ws "github.com/tomtom215/curator/internal/websocket"
)

const (
	storeGCInterval = 10 * time.Minute
	shutdownTimeout = 10 * time.Second
)

//nolint:gocyclo // sequential wiring of every component
func main() {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
		Output:    os.Stderr,
	})
	logger := logging.Logger()

	logging.Info().
		Str("environment", cfg.Server.Environment).
		Str("store_path", cfg.Store.Path).
		Str("db_path", cfg.Database.Path).
		Int("servers", len(cfg.Servers)).
		Msg("Starting Curator")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(store.Config{Path: cfg.Store.Path, InMemory: cfg.Store.InMemory}, logger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open collection store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing collection store")
		}
	}()

	db, err := database.New(database.Config{
		Path:      cfg.Database.Path,
		MaxMemory: cfg.Database.MaxMemory,
		Threads:   cfg.Database.Threads,
	}, logger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open run log database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing run log database")
		}
	}()

	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		logging.Fatal().Err(err).Str("timezone", cfg.Scheduler.Timezone).Msg("Invalid scheduler timezone")
	}

	policy := retry.Policy{
		BaseDelay:      cfg.Retry.BaseDelay,
		MaxDelay:       cfg.Retry.MaxDelay,
		Multiplier:     cfg.Retry.Multiplier,
		JitterFraction: cfg.Retry.Jitter,
	}

	q := queue.New(queue.Config{
		Concurrency:        cfg.Queue.Concurrency,
		PollInterval:       cfg.Queue.PollInterval,
		DefaultMaxAttempts: cfg.Queue.DefaultMaxAttempts,
		EventBuffer:        cfg.Queue.EventBuffer,
		Retention:          cfg.Queue.Retention,
		Backoff:            policy,
	}, logger)

	trakt := provider.NewTrakt(cfg.Trakt, policy, cfg.Retry.ProviderAttempts, logger)
	tmdb := provider.NewTMDB(cfg.TMDB, policy, cfg.Retry.ProviderAttempts, logger)
	if cfg.TMDB.APIKey == "" {
		logging.Warn().Msg("TMDB_API_KEY not set, enrichment jobs will fail until it is configured")
	}

	servers, err := buildServers(cfg, policy, logger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build library clients")
	}
	serverIDs := make([]string, 0, len(servers))
	for _, s := range servers {
		serverIDs = append(serverIDs, s.Target.ID)
	}

	wsHub := ws.NewHub()
	tracker := progress.New(st, q, wsHub, progress.DefaultFlushInterval, logger)

	pipeline := refresh.New(refresh.Config{
		EnrichMaxAttempts: cfg.Queue.DefaultMaxAttempts,
		AutoSync:          cfg.Sync.AutoSyncAfterRefresh,
		ServerIDs:         serverIDs,
	}, st, trakt, q, db, tracker, logger)

	engine := reconcile.New(reconcile.Config{
		MatchedLimit: cfg.Sync.MatchedLimit,
		ErrorLimit:   cfg.Sync.ErrorLimit,
		ImagesDir:    cfg.Sync.ImagesDir,
	}, st, db, logger)

	scheduler := schedule.NewManager(st, schedule.Config{
		DueTolerance:  cfg.Scheduler.DueTolerance,
		MinRefreshGap: cfg.Scheduler.MinRefreshGap,
		Location:      loc,
	}, logger)

	runner := background.New(logger)

	svc := service.New(service.Config{
		ReconcileConcurrency: cfg.Sync.ReconcileConcurrency,
		EnrichMaxAttempts:    cfg.Queue.DefaultMaxAttempts,
		Jobs:                 cfg.Jobs,
		SweepInterval:        cfg.Scheduler.SweepInterval,
	}, service.Deps{
		Store:       st,
		History:     db,
		Queue:       q,
		Scheduler:   scheduler,
		Refresher:   pipeline,
		Reconciler:  engine,
		Enricher:    enrich.New(st, tmdb, logger).QueueHandler(),
		Progress:    tracker,
		Jobs:        runner,
		Broadcaster: wsHub,
		Servers:     servers,
	}, logger)

	svc.RegisterJobHandlers()
	if err := svc.RegisterBackgroundJobs(); err != nil {
		logging.Fatal().Err(err).Msg("Failed to register background jobs")
	}

	// Counters must exist before the queue starts emitting events.
	if err := tracker.Seed(ctx); err != nil {
		logging.Warn().Err(err).Msg("Failed to seed enrichment progress")
	}

	handler := api.NewHandler(svc, wsHub, map[string]api.HealthCheck{
		"store":    st.Ping,
		"database": db.Ping,
	}, cfg.Security.CORSOrigins)

	mwConfig := api.DefaultChiMiddlewareConfig()
	mwConfig.CORSAllowedOrigins = cfg.Security.CORSOrigins
	mwConfig.RateLimitRequests = cfg.Security.RateLimitReqs
	mwConfig.RateLimitWindow = cfg.Security.RateLimitWindow
	mwConfig.RateLimitDisabled = cfg.Security.RateLimitDisabled
	router := api.NewRouter(handler, api.NewChiMiddleware(mwConfig))

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.Setup(),
		ReadTimeout:       cfg.Server.Timeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.Timeout,
		IdleTimeout:       60 * time.Second,
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: shutdownTimeout,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	tree.AddDataService(services.NewStoreGCService(st, storeGCInterval))

	tree.AddWorkerService(services.NewRunService("job-queue", q))
	tree.AddWorkerService(services.NewRunService("progress-tracker", tracker))
	tree.AddWorkerService(services.NewRunService("schedule-manager", scheduler))
	tree.AddWorkerService(services.NewStartStopService("background-jobs", runner))

	tree.AddAPIService(services.NewRunService("websocket-hub", services.RunnerFunc(wsHub.RunWithContext)))
	tree.AddAPIService(services.NewHTTPServerService(server, shutdownTimeout))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	// In-flight handlers run on a detached context; give them a bounded
	// window before the store closes underneath them.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	if err := q.Drain(drainCtx); err != nil {
		logging.Warn().Err(err).Msg("Jobs still running at shutdown")
	}
	drainCancel()

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, s := range unstopped {
		logging.Warn().Str("service", s.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Curator stopped")
}

// buildServers creates one resilient client per configured library server.
//
//nolint:gocritic // hugeParam: zerolog.Logger is designed to be passed by value
func buildServers(cfg *config.Config, policy retry.Policy, logger zerolog.Logger) ([]service.Server, error) {
	out := make([]service.Server, 0, len(cfg.Servers))
	for _, target := range cfg.Servers {
		client, err := library.NewClient(target)
		if err != nil {
			return nil, fmt.Errorf("server %s: %w", target.ID, err)
		}
		out = append(out, service.Server{
			Target: target,
			Client: library.NewResilientClient(client, policy, cfg.Retry.LibraryAttempts, logger),
		})
		logging.Info().Str("server", target.ID).Str("type", target.Type).Msg("Library server configured")
	}
	return out, nil
}
