// Stylefeed Experiments - Experimentation and Bandit Optimization Engine
// Copyright 2026 Stylefeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylefeed/experiments

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router assembles the HTTP surface from the handler set and middleware
// factories.
type Router struct {
	handler    *Handler
	middleware *Middleware
}

// NewRouter creates a router. middleware may be nil for defaults.
func NewRouter(handler *Handler, middleware *Middleware) *Router {
	if middleware == nil {
		middleware = NewMiddleware(nil)
	}
	return &Router{
		handler:    handler,
		middleware: middleware,
	}
}

// Setup configures all routes and returns the root handler.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// Global stack, applied to all routes in order. CORS is global so
	// OPTIONS preflight is answered before routing.
	r.Use(RequestIDWithLogging())
	r.Use(RealIP)
	r.Use(Recoverer)
	r.Use(router.middleware.CORS())

	r.Get("/healthz", router.handler.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1/experiments", func(r chi.Router) {
		r.Use(PrometheusMetrics())

		// Assignment and tracking: the shopper-facing hot path.
		r.Group(func(r chi.Router) {
			r.Use(router.middleware.RateLimitTracking())
			r.Post("/assign", router.handler.Assign)
			r.Post("/track-impression", router.handler.TrackImpression)
			r.Post("/track-click", router.handler.TrackClick)
			r.Post("/track-add-to-cart", router.handler.TrackAddToCart)
			r.Post("/track-purchase", router.handler.TrackPurchase)
		})

		// Reports and optimization.
		r.Group(func(r chi.Router) {
			r.Use(router.middleware.RateLimitReports())
			r.Get("/{id}/metrics", router.handler.Metrics)
			r.Get("/{id}/lift", router.handler.Lift)
			r.Get("/{id}/significance", router.handler.Significance)
			r.Get("/{id}/positions", router.handler.Positions)
			r.Get("/{id}/timeseries", router.handler.TimeSeries)
			r.Get("/{id}/top-items", router.handler.TopItems)
			r.Get("/{id}/top-brands", router.handler.TopBrands)
			r.Get("/{id}/report", router.handler.Report)
			r.Get("/{id}/arms", router.handler.ArmPerformance)
			r.Post("/{id}/optimize", router.handler.Optimize)
		})
	})

	// Operator lifecycle endpoints.
	r.Route("/api/v1/admin/experiments", func(r chi.Router) {
		r.Use(PrometheusMetrics())
		r.Use(router.middleware.RateLimitWrite())

		r.Post("/", router.handler.CreateExperiment)
		r.Get("/{id}", router.handler.GetExperiment)
		r.Post("/{id}/variants", router.handler.AddVariant)
		r.Post("/{id}/start", router.handler.StartExperiment)
		r.Post("/{id}/stop", router.handler.StopExperiment)
		r.Post("/{id}/declare-winner", router.handler.DeclareWinner)
	})

	return r
}
