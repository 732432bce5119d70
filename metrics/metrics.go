package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TechniqueMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redtrace_technique_mutations_total",
			Help: "Total number of technique mutations",
		},
		[]string{"action"},
	)

	AccessDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redtrace_access_denials_total",
			Help: "Total number of access denials",
		},
		[]string{"mode"},
	)

	AuditAppendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "redtrace_audit_append_failures_total",
			Help: "Total number of audit log append failures",
		},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redtrace_http_request_duration_seconds",
			Help:    "Time taken to serve HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	LoginFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "redtrace_login_failures_total",
			Help: "Total number of failed login attempts",
		},
	)
)
