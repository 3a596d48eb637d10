package admission

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	admissionDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_admission_decisions_total",
		Help: "Admission decisions by outcome and deny reason.",
	}, []string{"outcome", "reason"})

	tokensCommitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_tokens_committed_total",
		Help: "Actual tokens committed post-flight, by operation.",
	}, []string{"operation"})

	upstreamCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_upstream_calls_total",
		Help: "Guarded upstream calls by outcome.",
	}, []string{"outcome"})

	upstreamInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "warden_upstream_inflight",
		Help: "Upstream calls currently holding a concurrency slot.",
	})

	upstreamPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "warden_upstream_pending",
		Help: "Callers queued for an upstream concurrency slot.",
	})

	breakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "warden_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
	})

	guestAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_guest_attempts_total",
		Help: "Guest throttle attempts by outcome.",
	}, []string{"outcome"})

	suspiciousActivities = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_suspicious_activities_total",
		Help: "Suspicious activities raised, by pattern and severity.",
	}, []string{"pattern", "severity"})
)
