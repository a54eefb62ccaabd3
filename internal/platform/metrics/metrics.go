// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "klips",
		Subsystem: "webhooks",
		Name:      "deliveries_total",
		Help:      "Terminal webhook delivery outcomes.",
	}, []string{"outcome"})

	WebhookAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "klips",
		Subsystem: "webhooks",
		Name:      "attempts_total",
		Help:      "Individual webhook HTTP attempts by result class.",
	}, []string{"result"})

	WebhookAttemptDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "klips",
		Subsystem: "webhooks",
		Name:      "attempt_duration_seconds",
		Help:      "Latency of individual webhook HTTP attempts.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	WebhookDeactivations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "klips",
		Subsystem: "webhooks",
		Name:      "deactivations_total",
		Help:      "Webhooks disabled after reaching the consecutive failure threshold.",
	})

	WebhookTasksInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "klips",
		Subsystem: "webhooks",
		Name:      "tasks_in_flight",
		Help:      "Delivery tasks currently running.",
	})

	WebhookBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "klips",
		Subsystem: "webhooks",
		Name:      "breaker_state",
		Help:      "Per-webhook circuit breaker state (0 closed, 1 half-open, 2 open).",
	}, []string{"webhook_id"})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "klips",
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Domain events published to the bus.",
	}, []string{"event"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "klips",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route and status.",
	}, []string{"route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "klips",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	RedirectCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "klips",
		Subsystem: "redirect",
		Name:      "cache_lookups_total",
		Help:      "Redirect cache lookups by result.",
	}, []string{"result"})

	MaintenanceRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "klips",
		Subsystem: "worker",
		Name:      "job_rows_total",
		Help:      "Rows affected by maintenance jobs.",
	}, []string{"job"})
)
