package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors holds the Prometheus instruments for the simulation core.
type Collectors struct {
	TxDuration    *prometheus.HistogramVec
	TxTotal       *prometheus.CounterVec
	LockRetries   prometheus.Counter
	LockTimeouts  prometheus.Counter
	SlowTx        prometheus.Counter
	TickScheduled prometheus.Counter
	Backpressure  prometheus.Gauge
	HandoffTotal  *prometheus.CounterVec
}

// NewCollectors creates and registers all collectors on the given registerer.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	factory := promauto.With(reg)
	return &Collectors{
		TxDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "worldcore_tx_duration_seconds",
				Help:    "Duration of snapshot transactions by phase",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"phase"},
		),
		TxTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "worldcore_tx_total",
				Help: "Total snapshot transactions by outcome",
			},
			[]string{"outcome"}, // committed, skipped
		),
		LockRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "worldcore_lock_retries_total",
			Help: "Cross-process lock acquisition retries",
		}),
		LockTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "worldcore_lock_timeouts_total",
			Help: "Cross-process lock acquisitions that exhausted all retries",
		}),
		SlowTx: factory.NewCounter(prometheus.CounterOpts{
			Name: "worldcore_slow_tx_total",
			Help: "Transactions slower than the slow threshold",
		}),
		TickScheduled: factory.NewCounter(prometheus.CounterOpts{
			Name: "worldcore_tick_intents_total",
			Help: "Agent intents committed by the world loop",
		}),
		Backpressure: factory.NewGauge(prometheus.GaugeOpts{
			Name: "worldcore_backpressure",
			Help: "Whether the world loop is currently shedding ticks (1) or not (0)",
		}),
		HandoffTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "worldcore_handoff_total",
				Help: "Execution handoffs by terminal status",
			},
			[]string{"status"},
		),
	}
}

// ObserveTransaction feeds one transaction's phase timings into the histograms.
func (c *Collectors) ObserveTransaction(p PhaseTimings) {
	c.TxDuration.WithLabelValues("lock_wait").Observe(p.LockWait.Seconds())
	c.TxDuration.WithLabelValues("clone").Observe(p.Clone.Seconds())
	c.TxDuration.WithLabelValues("marshal").Observe(p.Marshal.Seconds())
	c.TxDuration.WithLabelValues("write").Observe(p.Write.Seconds())
	c.TxDuration.WithLabelValues("rename").Observe(p.Rename.Seconds())
	c.TxDuration.WithLabelValues("total").Observe(p.Total.Seconds())
	c.TxTotal.WithLabelValues("committed").Inc()
	if p.Total > SlowTransactionThreshold {
		c.SlowTx.Inc()
	}
}
