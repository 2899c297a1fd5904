package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		subscriptionsExpiredTotal,
		sweepFailuresTotal,
		provisioningTotal,
		remindersSentTotal,
		pendingGrants,
	)
}

var (
	subscriptionsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "subscriptions_expired_total",
			Help: "Total number of subscriptions deactivated by the expiry sweeper.",
		},
	)

	sweepFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sweep_failures_total",
			Help: "Subscriptions the sweeper skipped because of an error.",
		},
	)

	provisioningTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provisioning_total",
			Help: "Provisioning attempts by outcome.",
		},
		[]string{"outcome"}, // 'approved', 'transient', 'fatal', 'conflict', 'rejected', 'stopped', 'error'
	)

	remindersSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "expiry_reminders_sent_total",
			Help: "Expiry reminders delivered to users.",
		},
	)

	pendingGrants = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pending_grants",
			Help: "Users holding a validated code that has not been provisioned yet.",
		},
	)
)

func IncSubscriptionsExpired(count int) {
	subscriptionsExpiredTotal.Add(float64(count))
}

func IncSweepFailure() {
	sweepFailuresTotal.Inc()
}

func IncProvisioning(outcome string) {
	provisioningTotal.WithLabelValues(norm(outcome)).Inc()
}

func IncReminderSent() {
	remindersSentTotal.Inc()
}

func SetPendingGrants(n int) {
	pendingGrants.Set(float64(n))
}
