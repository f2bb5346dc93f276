package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "draftline"

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		},
	)
)

// Background job metrics
var (
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Total number of jobs processed",
		},
		[]string{"type", "status"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Job execution time distribution",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"type"},
	)

	JobLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run per job type",
		},
		[]string{"type"},
	)
)

// Quota metrics
var (
	QuotaDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_decisions_total",
			Help:      "Total number of quota decisions by operation, resource kind and outcome",
		},
		[]string{"op", "kind", "outcome"},
	)

	QuotaFaults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_faults_total",
			Help:      "Total number of quota evaluations that failed with an error",
		},
		[]string{"op", "code"},
	)

	UsageIncrements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_increments_total",
			Help:      "Total number of usage counter increments by result",
		},
		[]string{"resource", "result"}, // "applied", "blocked" or "replayed"
	)
)

// Referral metrics
var (
	ReferralAwards = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "referral_awards_total",
			Help:      "Total number of referral bonus credits granted",
		},
		[]string{"source"},
	)

	ReferralAnomalies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "referral_anomalies_total",
			Help:      "Total number of referrals left unawarded because of bad data",
		},
		[]string{"reason"},
	)

	ReferralsFlagged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "referrals_flagged_total",
			Help:      "Total number of referrals parked for manual review",
		},
		[]string{"reason"},
	)

	LedgerCorrections = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_period_corrections_total",
			Help:      "Total number of ledger and referral period keys corrected by normalization",
		},
	)

	NormalizationLastRun = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "referral_normalization_last_run",
			Help:      "Counts from the most recent referral normalization run",
		},
		[]string{"field"}, // "checked", "needed", "updated", "failed"
	)
)
