// File: internal/infra/metrics/metrics.go
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		codesIssuedTotal,
		codeRedemptionsTotal,
		codesByState,
	)
}

var (
	codesIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_codes_issued_total",
			Help: "Access codes issued, by plan.",
		},
		[]string{"plan"},
	)

	codeRedemptionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_code_redemptions_total",
			Help: "Redemption attempts by outcome (ok, invalid_format, not_found, already_used, rate_limited, error).",
		},
		[]string{"outcome"},
	)

	codesByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "access_codes",
			Help: "Current number of access codes by state.",
		},
		[]string{"state"}, // 'unused', 'reserved', 'used'
	)
)

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func IncCodeIssued(plan string) {
	codesIssuedTotal.WithLabelValues(norm(plan)).Inc()
}

func IncRedemption(outcome string) {
	codeRedemptionsTotal.WithLabelValues(norm(outcome)).Inc()
}

func SetCodesByState(counts map[string]int) {
	for _, state := range []string{"unused", "reserved", "used"} {
		codesByState.WithLabelValues(state).Set(float64(counts[state]))
	}
}
