package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(dbPoolConns, dbPoolEmptyAcquires) }

var (
	dbPoolConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ledger_db_pool_connections",
			Help: "Ledger connection pool size by state.",
		},
		[]string{"state"}, // total, idle, acquired, max
	)
	dbPoolEmptyAcquires = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_db_pool_empty_acquires",
		Help: "Cumulative acquires that had to wait for a free connection.",
	})
)

// PoolStats is the slice of pgxpool.Stat the service reports.
type PoolStats struct {
	Total, Idle, Acquired, Max int32
	EmptyAcquires            int64
}

func ObserveDBPool(s PoolStats) {
	dbPoolConns.WithLabelValues("total").Set(float64(s.Total))
	dbPoolConns.WithLabelValues("idle").Set(float64(s.Idle))
	dbPoolConns.WithLabelValues("acquired").Set(float64(s.Acquired))
	dbPoolConns.WithLabelValues("max").Set(float64(s.Max))
	dbPoolEmptyAcquires.Set(float64(s.EmptyAcquires))
}
