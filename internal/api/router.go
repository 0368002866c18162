// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router wires handlers and middleware.
type Router struct {
	handler    *Handler
	middleware *Middleware
}

// NewRouter creates a router.
func NewRouter(handler *Handler, mw *Middleware) *Router {
	return &Router{handler: handler, middleware: mw}
}

// Setup builds the chi route tree.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.middleware.CORS())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(router.middleware.RateLimit())
		r.Use(PrometheusMetrics)
		r.Use(chimiddleware.Compress(5, "application/json"))

		// Health stays open for load balancer checks.
		r.Get("/health", router.handler.Health)

		r.Group(func(r chi.Router) {
			r.Use(router.middleware.Authenticate())

			r.Get("/connection", router.handler.Connection)
			r.Post("/connection/reset", router.handler.ResetConnection)
			r.Get("/stats", router.handler.Stats)
			r.Get("/alerts", router.handler.Alerts)
			r.Post("/alerts/{id}/resolve", router.handler.ResolveAlert)
			r.Get("/channels", router.handler.Channels)
			r.Put("/channels/{id}", router.handler.UpsertChannel)
			r.Get("/channels/{id}/messages", router.handler.ChannelMessages)
			r.Get("/metrics", router.handler.MetricsIndex)
			r.Get("/metrics/{name}", router.handler.MetricSeries)
			r.Post("/webhook/test", router.handler.WebhookTest)
			r.Get("/ws", router.handler.WebSocket)
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).NotFound("route not found")
	})
	return r
}
