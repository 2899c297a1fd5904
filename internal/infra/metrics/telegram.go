package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		telegramEventsReceivedTotal,
		telegramRateLimitTriggeredTotal,
		transportCallsTotal,
		transportRetriesTotal,
		transportState,
	)
}

var (
	telegramEventsReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telegram_events_received_total",
			Help: "Inbound platform events by kind.",
		},
		[]string{"kind"},
	)

	telegramRateLimitTriggeredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "telegram_rate_limit_triggered_total",
			Help: "Total number of times users have been rate-limited.",
		},
	)

	transportCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transport_calls_total",
			Help: "Outbound platform calls by operation and result kind.",
		},
		[]string{"op", "result"},
	)

	transportRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transport_retries_total",
			Help: "Retries scheduled after a transient failure, by operation.",
		},
		[]string{"op"},
	)

	transportState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "transport_state",
			Help: "1 for the current transport state, 0 otherwise.",
		},
		[]string{"state"},
	)
)

func IncTelegramEvent(kind string) {
	telegramEventsReceivedTotal.WithLabelValues(norm(kind)).Inc()
}

func IncRateLimitTriggered() {
	telegramRateLimitTriggeredTotal.Inc()
}

func IncTransportCall(op, result string) {
	transportCallsTotal.WithLabelValues(norm(op), norm(result)).Inc()
}

func IncTransportRetry(op string) {
	transportRetriesTotal.WithLabelValues(norm(op)).Inc()
}

// SetTransportState marks state as current and clears the others.
func SetTransportState(state string) {
	for _, s := range []string{"Active", "Retrying", "Stopped"} {
		v := 0.0
		if s == state {
			v = 1
		}
		transportState.WithLabelValues(s).Set(v)
	}
}
