// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package telemetry exposes the gateway's Prometheus metrics.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector the gateway registers. A single instance
// is created at startup and threaded into the components that record.
type Metrics struct {
	registry *prometheus.Registry

	// HTTPRequests counts requests by route pattern and status class.
	HTTPRequests *prometheus.CounterVec

	// CacheRequests counts tiered-cache lookups by layer and outcome.
	CacheRequests *prometheus.CounterVec

	// OutboxPending tracks the number of pending outbox rows.
	OutboxPending prometheus.Gauge

	// OutboxFailed tracks the number of dead-lettered outbox rows.
	OutboxFailed prometheus.Gauge

	// OutboxOldestPending tracks the age in seconds of the oldest pending row.
	OutboxOldestPending prometheus.Gauge

	// OutboxDeliveries counts delivery attempts by outcome.
	OutboxDeliveries *prometheus.CounterVec

	// RateLimited counts requests denied by the rate limiter, by endpoint class.
	RateLimited *prometheus.CounterVec
}

// New creates and registers all gateway collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_http_requests_total",
			Help: "HTTP requests handled, by route and status class.",
		}, []string{"route", "status"}),
		CacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_cache_requests_total",
			Help: "Tiered cache lookups, by layer and outcome.",
		}, []string{"layer", "outcome"}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "authgate_outbox_pending",
			Help: "Outbox rows waiting for delivery.",
		}),
		OutboxFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "authgate_outbox_failed",
			Help: "Outbox rows dead-lettered after exhausting retries.",
		}),
		OutboxOldestPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "authgate_outbox_oldest_pending_seconds",
			Help: "Age of the oldest pending outbox row.",
		}),
		OutboxDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_outbox_deliveries_total",
			Help: "Projection delivery attempts, by outcome.",
		}, []string{"outcome"}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_rate_limited_total",
			Help: "Requests denied by the rate limiter, by endpoint class.",
		}, []string{"class"}),
	}

	m.registry.MustRegister(
		m.HTTPRequests,
		m.CacheRequests,
		m.OutboxPending,
		m.OutboxFailed,
		m.OutboxOldestPending,
		m.OutboxDeliveries,
		m.RateLimited,
	)
	return m
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
