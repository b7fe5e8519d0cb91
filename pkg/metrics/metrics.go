package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProvisioningAttempts records provisioning calls by outcome
	// (created|replayed|conflict|validation|error).
	ProvisioningAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registrar_provisioning_attempts_total",
			Help: "Total number of company provisioning attempts",
		},
		[]string{"outcome"},
	)

	// EmailProbes counts email status classifications returned to clients.
	EmailProbes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registrar_email_probes_total",
			Help: "Total number of email status probes",
		},
		[]string{"status"},
	)

	// CleanupOperations counts cleanup code issues and validations by
	// stage (issue|validate|execute) and result (success|failure|rate_limited).
	CleanupOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registrar_cleanup_operations_total",
			Help: "Total number of orphaned-user cleanup operations",
		},
		[]string{"stage", "result"},
	)

	// OrphanChecks counts orphan detector runs by classification
	// (none|verified_orphan|unverified_orphan|fail_open).
	OrphanChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registrar_orphan_checks_total",
			Help: "Total number of orphan detector runs",
		},
		[]string{"classification"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "registrar_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
