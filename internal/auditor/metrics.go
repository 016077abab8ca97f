package auditor

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	veralogAuditsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "veralog_audits_total",
		Help: "Total audit checks by database and result.",
	}, []string{"database", "result"})

	veralogAuditDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "veralog_audit_duration_seconds",
		Help:    "Audit check duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"database"})

	veralogAuditLastVerifiedTx = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "veralog_audit_last_verified_tx",
		Help: "Last transaction id that passed verification, by database.",
	}, []string{"database"})
)

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

func recordAudit(db, result string, start time.Time) {
	veralogAuditsTotal.WithLabelValues(db, result).Inc()
	veralogAuditDuration.WithLabelValues(db).Observe(time.Since(start).Seconds())
}

func setLastVerified(db string, txID uint64) {
	veralogAuditLastVerifiedTx.WithLabelValues(db).Set(float64(txID))
}
