package ingest

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the ingest coordinator's Prometheus instrumentation.
type Metrics struct {
	HotSetBusy    prometheus.Counter
	BlocksFlushed prometheus.Counter
	ColdWrites    prometheus.Counter
}

// NewMetrics registers and returns the coordinator's counters.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HotSetBusy: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vodnik",
			Subsystem: "ingest",
			Name:      "hotset_busy_total",
			Help:      "Number of hot-set write attempts that observed Busy.",
		}),
		BlocksFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vodnik",
			Subsystem: "ingest",
			Name:      "blocks_flushed_total",
			Help:      "Number of blocks successfully written to the object store and catalog.",
		}),
		ColdWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vodnik",
			Subsystem: "ingest",
			Name:      "cold_writes_total",
			Help:      "Number of read-modify-write operations against an already-flushed block.",
		}),
	}
	reg.MustRegister(m.HotSetBusy, m.BlocksFlushed, m.ColdWrites)
	return m
}
