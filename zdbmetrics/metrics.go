// Package zdbmetrics exposes a pool.ConnectionPool's occupancy as
// Prometheus metrics.
package zdbmetrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/icgo-zdb/zdb/pool"
)

// Collector registers gauges that read a ConnectionPool's Stats() on
// every scrape (via prometheus.NewGaugeFunc — no polling goroutine of our
// own) plus counters for pool-full and reap events. Build one with
// NewPending before the pool exists, pass its Options to pool.New, then
// call Bind once the pool is built.
type Collector struct {
	Registry *prometheus.Registry

	size   prometheus.GaugeFunc
	active prometheus.GaugeFunc
	idle   prometheus.GaugeFunc
	isFull prometheus.GaugeFunc
	full   prometheus.Counter
	reaped prometheus.Counter
}

// Pending holds the counters a Collector needs wired into a pool via
// pool.WithOnPoolFull/WithOnReap before the pool itself exists.
type Pending struct {
	label  string
	full   prometheus.Counter
	reaped prometheus.Counter
}

// NewPending creates the counter side of a Collector for a pool that
// hasn't been constructed yet. label is typically the pool's database
// name or path, used to distinguish pools sharing one registry. Pass the
// returned options to pool.New, then call Bind on the result.
func NewPending(label string) (*Pending, []pool.Option) {
	full := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "zdb_pool_exhausted_total",
		Help:        "Times an acquisition found the pool full.",
		ConstLabels: prometheus.Labels{"pool": label},
	})
	reaped := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "zdb_pool_reaped_total",
		Help:        "Idle connections removed by the reaper.",
		ConstLabels: prometheus.Labels{"pool": label},
	})

	pend := &Pending{label: label, full: full, reaped: reaped}
	opts := []pool.Option{
		pool.WithOnPoolFull(func() { full.Inc() }),
		pool.WithOnReap(func(n int) { reaped.Add(float64(n)) }),
	}
	return pend, opts
}

// Bind registers the gauges against p and returns the finished Collector.
func (pend *Pending) Bind(p *pool.ConnectionPool) *Collector {
	labels := prometheus.Labels{"pool": pend.label}
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,
		full:     pend.full,
		reaped:   pend.reaped,
		size: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: "zdb_pool_size", Help: "Total connections held by the pool, idle or checked out.", ConstLabels: labels},
			func() float64 { return float64(p.Size()) },
		),
		active: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: "zdb_pool_active", Help: "Connections currently checked out.", ConstLabels: labels},
			func() float64 { return float64(p.Active()) },
		),
		idle: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: "zdb_pool_idle", Help: "Connections currently idle.", ConstLabels: labels},
			func() float64 { return float64(p.Stats().Idle) },
		),
		isFull: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: "zdb_pool_is_full", Help: "1 if active connections == max connections.", ConstLabels: labels},
			func() float64 {
				if p.IsFull() {
					return 1
				}
				return 0
			},
		),
	}

	reg.MustRegister(c.size, c.active, c.idle, c.isFull, c.full, c.reaped)
	return c
}
