package walog

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the WAL's Prometheus instrumentation. A nil *Metrics
// is valid everywhere it's accepted — WAL.Append and rotate skip
// recording when metrics is nil, so tests can opt out of a registry.
type Metrics struct {
	FramesAppended prometheus.Counter
	BytesAppended  prometheus.Counter
	Rotations      prometheus.Counter
}

// NewMetrics registers and returns the WAL's counters against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vodnik",
			Subsystem: "wal",
			Name:      "frames_appended_total",
			Help:      "Number of WAL frames successfully appended and fsynced.",
		}),
		BytesAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vodnik",
			Subsystem: "wal",
			Name:      "bytes_appended_total",
			Help:      "Number of framed bytes written to WAL files.",
		}),
		Rotations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vodnik",
			Subsystem: "wal",
			Name:      "rotations_total",
			Help:      "Number of times a WAL file was rotated for exceeding max_file_size.",
		}),
	}
	reg.MustRegister(m.FramesAppended, m.BytesAppended, m.Rotations)
	return m
}
