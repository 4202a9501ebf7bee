package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pushgate"

var (
	RateLimitBlockTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_block_total",
			Help:      "Total number of rate limit blocks.",
		},
		[]string{"scope", "route"}, // scope: http/ws_frame
	)

	CBRejectTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuitbreaker_reject_total",
			Help:      "Calls rejected by an open or half-open circuit breaker.",
		},
		[]string{"name", "reason"},
	)

	CBState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuitbreaker_state",
			Help:      "Circuit breaker state (0/1).",
		},
		[]string{"name", "state"}, // state: closed/half-open/open
	)
)

var cbStates = []string{"closed", "half-open", "open"}

// SetBreakerState 当前状态置 1，其余置 0
func SetBreakerState(name, state string) {
	for _, s := range cbStates {
		v := 0.0
		if s == state {
			v = 1
		}
		CBState.WithLabelValues(name, s).Set(v)
	}
}
