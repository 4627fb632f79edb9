package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// GatewayRequests counts gateway calls by operation and result (ok, http_error, transport_error)
	GatewayRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lidapay",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Payment gateway requests by operation and result.",
		},
		[]string{"operation", "result"},
	)

	// GatewayLatency observes gateway round-trip time
	GatewayLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lidapay",
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Payment gateway request latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// PollAttempts observes how many status queries a poll needed before it stopped
	PollAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "lidapay",
			Subsystem: "reconcile",
			Name:      "poll_attempts",
			Help:      "Status queries per polling run.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 20},
		},
	)

	// Reconciliations counts terminal transitions by status and source (deeplink, poll)
	Reconciliations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lidapay",
			Subsystem: "reconcile",
			Name:      "terminal_total",
			Help:      "Terminal reconciliation transitions.",
		},
		[]string{"status", "source"},
	)

	// DeepLinks counts deep-link parses by result (ok, malformed)
	DeepLinks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lidapay",
			Subsystem: "deeplink",
			Name:      "parsed_total",
			Help:      "Deep-link parse results.",
		},
		[]string{"result"},
	)

	// Expired counts pending records discarded by the staleness rule
	Expired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lidapay",
			Subsystem: "reconcile",
			Name:      "expired_total",
			Help:      "Pending transactions discarded as stale.",
		},
	)
)

// Register adds every collector to the given registerer
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		GatewayRequests, GatewayLatency, PollAttempts, Reconciliations, DeepLinks, Expired,
	} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveGateway records one gateway call
func ObserveGateway(operation, result string, started time.Time) {
	GatewayRequests.WithLabelValues(operation, result).Inc()
	GatewayLatency.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}
