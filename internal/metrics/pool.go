package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// poolStat reads one value from a pool snapshot.
type poolStat struct {
	desc      *prometheus.Desc
	valueType prometheus.ValueType
	value     func(*pgxpool.Stat) float64
}

// StatSource is satisfied by *pgxpool.Pool.
type StatSource interface {
	Stat() *pgxpool.Stat
}

type poolCollector struct {
	source StatSource
	stats  []poolStat
}

func poolDesc(name, help string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, "db_pool", name), help, nil, nil)
}

// RegisterPoolMetrics exports pgxpool statistics, read fresh on every scrape.
func RegisterPoolMetrics(reg prometheus.Registerer, source StatSource) {
	reg.MustRegister(newPoolCollector(source))
}

func newPoolCollector(source StatSource) *poolCollector {
	gauge := func(name, help string, f func(*pgxpool.Stat) int32) poolStat {
		return poolStat{desc: poolDesc(name, help), valueType: prometheus.GaugeValue, value: func(s *pgxpool.Stat) float64 { return float64(f(s)) }}
	}
	counter := func(name, help string, f func(*pgxpool.Stat) int64) poolStat {
		return poolStat{desc: poolDesc(name, help), valueType: prometheus.CounterValue, value: func(s *pgxpool.Stat) float64 { return float64(f(s)) }}
	}

	return &poolCollector{
		source: source,
		stats: []poolStat{
			gauge("acquired", "Connections currently checked out of the pool.", (*pgxpool.Stat).AcquiredConns),
			gauge("idle", "Idle connections held by the pool.", (*pgxpool.Stat).IdleConns),
			gauge("total", "Connections owned by the pool, including ones still connecting.", (*pgxpool.Stat).TotalConns),
			gauge("max", "Configured maximum pool size.", (*pgxpool.Stat).MaxConns),
			counter("acquires_total", "Successful connection acquires.", (*pgxpool.Stat).AcquireCount),
			counter("empty_acquires_total", "Acquires that had to wait for a connection.", (*pgxpool.Stat).EmptyAcquireCount),
			counter("canceled_acquires_total", "Acquires abandoned because their context ended.", (*pgxpool.Stat).CanceledAcquireCount),
			{
				desc:      poolDesc("acquire_seconds_total", "Cumulative time spent acquiring connections."),
				valueType: prometheus.CounterValue,
				value:     func(s *pgxpool.Stat) float64 { return s.AcquireDuration().Seconds() },
			},
		},
	}
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, s := range c.stats {
		ch <- s.desc
	}
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	snapshot := c.source.Stat()
	for _, s := range c.stats {
		ch <- prometheus.MustNewConstMetric(s.desc, s.valueType, s.value(snapshot))
	}
}
