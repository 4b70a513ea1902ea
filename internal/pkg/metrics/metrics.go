package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "omnigate_orders_total",
		Help: "The total number of internal orders by terminal status",
	}, []string{"status", "side"})

	AllocationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "omnigate_allocation_failures_total",
		Help: "Fund allocation failures by reason",
	}, []string{"reason"})

	VenueCallLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "omnigate_venue_call_seconds",
		Help:    "Outbound venue call latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"venue", "op"})

	VenueStatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "omnigate_venue_status_transitions_total",
		Help: "Venue status transitions recorded by the health monitor",
	}, []string{"venue", "to"})

	ReconciliationRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "omnigate_reconciliation_runs_total",
		Help: "Reconciliation cycles by outcome",
	}, []string{"outcome"})

	ReconciliationDiscrepancies = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "omnigate_reconciliation_discrepancies_total",
		Help: "Reconciliation records by classification",
	}, []string{"venue", "status"})

	EventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "omnigate_events_emitted_total",
		Help: "Domain events emitted downstream",
	}, []string{"type"})

	HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "omnigate_http_request_seconds",
		Help:    "Inbound HTTP request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"path"})

	IntegrityViolations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "omnigate_ledger_integrity_violations_total",
		Help: "Ledger invariant violations detected (alertable)",
	})
)
