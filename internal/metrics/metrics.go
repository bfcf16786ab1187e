package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	AuditEventsCaptured = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "audit_events_captured_total",
		Help: "Total number of mutation events captured by the interceptor",
	}, []string{"entity", "operation"})
	AuditCaptureErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "audit_capture_errors_total",
		Help: "Total number of lifecycle callbacks whose capture failed and was skipped",
	}, []string{"entity"})
	AuditStoreFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_store_failures_total",
		Help: "Total number of audit records that could not be persisted",
	})
	// result is one of published, rerouted or lost.
	AuditPublish = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "audit_publish_total",
		Help: "Outcome of audit event publication attempts",
	}, []string{"result"})
	PostCommitSpills = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_post_commit_spills_total",
		Help: "Post-commit tasks run outside the worker queue because it was full",
	})
)

func init() {
	prometheus.MustRegister(AuditEventsCaptured)
	prometheus.MustRegister(AuditCaptureErrors)
	prometheus.MustRegister(AuditStoreFailures)
	prometheus.MustRegister(AuditPublish)
	prometheus.MustRegister(PostCommitSpills)
}
