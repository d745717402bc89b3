// Stylefeed Experiments - Experimentation and Bandit Optimization Engine
// Copyright 2026 Stylefeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylefeed/experiments

package supervisor

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/stylefeed/experiments/internal/logging"
	"github.com/stylefeed/experiments/internal/tracking"
)

// HTTPService wraps an http.Server as a suture.Service with graceful
// shutdown on context cancellation.
type HTTPService struct {
	server          *http.Server
	shutdownTimeout time.Duration
}

// NewHTTPService creates the HTTP server service. shutdownTimeout defaults
// to 10s when zero.
func NewHTTPService(server *http.Server, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{
		server:          server,
		shutdownTimeout: shutdownTimeout,
	}
}

// Serve implements suture.Service. ListenAndServe runs until the context
// is canceled, then in-flight requests get the shutdown timeout to drain.
func (s *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.server.Addr).Msg("HTTP server listening")
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logging.Warn().Err(err).Msg("HTTP server shutdown incomplete")
		}
		<-errCh
		return ctx.Err()
	}
}

// ForwarderService subscribes to the reward pipeline and runs the
// forwarder consume loop. The subscription is established inside Serve so
// a restart re-subscribes cleanly.
type ForwarderService struct {
	pipeline  *tracking.Pipeline
	forwarder *tracking.Forwarder
}

// NewForwarderService creates the forwarder service.
func NewForwarderService(pipeline *tracking.Pipeline, forwarder *tracking.Forwarder) *ForwarderService {
	return &ForwarderService{
		pipeline:  pipeline,
		forwarder: forwarder,
	}
}

// Serve implements suture.Service.
func (s *ForwarderService) Serve(ctx context.Context) error {
	messages, err := s.pipeline.Subscribe(ctx)
	if err != nil {
		return err
	}
	return s.forwarder.Run(ctx, messages)
}

// RetryService runs the WAL retry loop under supervision.
type RetryService struct {
	loop *tracking.RetryLoop
}

// NewRetryService creates the retry service.
func NewRetryService(loop *tracking.RetryLoop) *RetryService {
	return &RetryService{loop: loop}
}

// Serve implements suture.Service.
func (s *RetryService) Serve(ctx context.Context) error {
	return s.loop.Run(ctx)
}

// CompactionService runs the WAL compaction loop under supervision.
type CompactionService struct {
	loop *tracking.CompactionLoop
}

// NewCompactionService creates the compaction service.
func NewCompactionService(loop *tracking.CompactionLoop) *CompactionService {
	return &CompactionService{loop: loop}
}

// Serve implements suture.Service.
func (s *CompactionService) Serve(ctx context.Context) error {
	return s.loop.Run(ctx)
}
