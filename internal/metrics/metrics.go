package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsEvaluatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vigil_requests_evaluated_total",
		Help: "Total number of requests evaluated by the rate limiter",
	})
	requestsLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vigil_requests_limited_total",
		Help: "Total number of requests denied by the rate limiter",
	})
	failOpenTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vigil_fail_open_total",
		Help: "Total number of decisions that failed open because a dependency was unavailable",
	})
	ddosAttacksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vigil_ddos_attacks_total",
		Help: "Total number of DDoS attack verdicts",
	})
	abuseDetectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vigil_abuse_detections_total",
		Help: "Total number of abusive-IP verdicts",
	})
	systemicOverloadTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vigil_systemic_overload_total",
		Help: "Total number of fleet-wide concurrent-connection overload signals",
	})
	autoBlocksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_auto_blocks_total",
		Help: "Total number of automatic blocks applied, by violation type",
	}, []string{"violation_type"})
)

// Register registers Prometheus collectors. Call once at startup.
func Register(registry *prometheus.Registry) {
	registry.MustRegister(
		requestsEvaluatedTotal,
		requestsLimitedTotal,
		failOpenTotal,
		ddosAttacksTotal,
		abuseDetectionsTotal,
		systemicOverloadTotal,
		autoBlocksTotal,
	)
}

// IncRequestEvaluated increments the evaluated requests counter.
func IncRequestEvaluated() { requestsEvaluatedTotal.Inc() }

// IncRequestLimited increments the denied requests counter.
func IncRequestLimited() { requestsLimitedTotal.Inc() }

// IncFailOpen increments the fail-open decisions counter.
func IncFailOpen() { failOpenTotal.Inc() }

// IncDDoSAttack increments the DDoS verdict counter.
func IncDDoSAttack() { ddosAttacksTotal.Inc() }

// IncAbuseDetection increments the abuse verdict counter.
func IncAbuseDetection() { abuseDetectionsTotal.Inc() }

// IncSystemicOverload increments the fleet-wide overload counter.
func IncSystemicOverload() { systemicOverloadTotal.Inc() }

// IncAutoBlock increments the automatic block counter for a violation type.
func IncAutoBlock(violationType string) {
	autoBlocksTotal.WithLabelValues(violationType).Inc()
}
