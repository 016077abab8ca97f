package client

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/veralog-io/veralog-go/pkg/ledger"
)

var (
	verifiedOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "veralog_client_verified_ops_total",
		Help: "Total verified operations by operation and result.",
	}, []string{"op", "result"})

	verificationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "veralog_client_verification_seconds",
		Help:    "Wall time of verified operations, round trip included.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	anchorAdvancesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "veralog_client_anchor_advances_total",
		Help: "Times the local trust anchor moved forward.",
	})

	tamperAlarmsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "veralog_client_tamper_alarms_total",
		Help: "Verified operations that failed with tampering detected.",
	})
)

// recordVerifiedOp classifies the outcome of one verified operation.
func recordVerifiedOp(op string, start time.Time, err error) {
	result := "ok"
	switch {
	case errors.Is(err, ledger.ErrTamperDetected):
		result = "tamper"
		tamperAlarmsTotal.Inc()
	case err != nil:
		result = "error"
	}
	verifiedOpsTotal.WithLabelValues(op, result).Inc()
	verificationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// recordAnchorAdvance counts a forward move of the trust anchor.
func recordAnchorAdvance() {
	anchorAdvancesTotal.Inc()
}
