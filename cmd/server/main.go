// Stylefeed Experiments - Experimentation and Bandit Optimization Engine
// Copyright 2026 Stylefeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylefeed/experiments

// Package main is the entry point for the experimentation engine server.
//
// Startup order:
//
//  1. Configuration: defaults, optional config.yaml, environment (Koanf v2)
//  2. Logging: global zerolog logger from the logging section
//  3. Storage: DuckDB with schema creation, Badger reward WAL
//  4. Services: registry, assignment, bandit engine, recorder, analytics
//  5. Pipeline: in-process reward pub/sub, forwarder, retry + compaction
//  6. Supervision: suture tree (data / pipeline / api layers)
//
// Shutdown is graceful on SIGINT/SIGTERM: the supervisor tree drains its
// services, then the WAL, pipeline, and database close in reverse order.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/stylefeed/experiments/internal/analytics"
	"github.com/stylefeed/experiments/internal/api"
	"github.com/stylefeed/experiments/internal/bandit"
	"github.com/stylefeed/experiments/internal/config"
	"github.com/stylefeed/experiments/internal/database"
	"github.com/stylefeed/experiments/internal/experiment"
	"github.com/stylefeed/experiments/internal/logging"
	"github.com/stylefeed/experiments/internal/supervisor"
	"github.com/stylefeed/experiments/internal/tracking"
)

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("server exited with error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})

	logging.Info().
		Str("environment", cfg.Server.Environment).
		Str("database", cfg.Database.Path).
		Msg("starting experimentation engine")

	// Storage.
	db, err := database.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	wal, err := tracking.OpenWAL(cfg.Tracking.WALPath)
	if err != nil {
		return fmt.Errorf("failed to open reward WAL: %w", err)
	}
	defer wal.Close()

	// Core services.
	registry := experiment.NewRegistry(db)
	engine := bandit.NewEngine(db, cfg.Bandit)
	aggregator := analytics.NewAggregator(db)

	// Reward pipeline: recorder -> WAL + pub/sub -> forwarder -> arm store.
	pipeline := tracking.NewPipeline(wal, cfg.Tracking.BufferSize)
	defer pipeline.Close()

	recorder := tracking.NewEventRecorder(db, pipeline, cfg.Bandit)
	forwarder := tracking.NewForwarder(wal, tracking.NewStoreSink(db), cfg.Tracking)
	retryLoop := tracking.NewRetryLoop(wal, forwarder, cfg.Tracking)
	compaction := tracking.NewCompactionLoop(wal, cfg.Tracking)

	var exposure experiment.ExposureSink
	if cfg.Experiments.ExposureImpressions {
		exposure = recorder
	}
	assigner := experiment.NewAssignmentService(db, registry, cfg.Experiments.DefaultVariant, exposure)

	// HTTP surface.
	handler := api.NewHandler(assigner, recorder, registry, aggregator, engine, db)
	middleware := api.NewMiddleware(&api.MiddlewareConfig{
		CORSAllowedOrigins: cfg.API.CORSOrigins,
		RateLimitRequests:  cfg.API.RateLimitReqs,
		RateLimitWindow:    cfg.API.RateLimitWindow,
	})
	router := api.NewRouter(handler, middleware)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	// Supervision tree.
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddDataService(supervisor.NewRetryService(retryLoop))
	tree.AddDataService(supervisor.NewCompactionService(compaction))
	tree.AddPipelineService(supervisor.NewForwarderService(pipeline, forwarder))
	tree.AddAPIService(supervisor.NewHTTPService(server, cfg.Server.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().
		Str("addr", server.Addr).
		Msg("supervisor tree starting")

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor tree failed: %w", err)
	}

	if unstopped, reportErr := tree.UnstoppedServiceReport(); reportErr == nil && len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("services did not stop within timeout")
	}

	logging.Info().Msg("shutdown complete")
	return nil
}
