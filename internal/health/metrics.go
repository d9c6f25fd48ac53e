package health

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	evaluations *prometheus.CounterVec
	frames      prometheus.Counter
	scores      prometheus.Histogram
	duration    prometheus.Histogram
	faults      prometheus.Counter
}

// NewMetrics registers evaluation metrics with reg. A nil registerer yields
// metrics that are collected but never exported.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		evaluations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rings_health_evaluations_total",
			Help: "Health evaluations by outcome",
		}, []string{"outcome"}),
		frames: f.NewCounter(prometheus.CounterOpts{
			Name: "rings_health_frames_total",
			Help: "Frames rendered by health evaluations",
		}),
		scores: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "rings_health_score",
			Help:    "Distribution of health scores",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "rings_health_duration_seconds",
			Help:    "Wall clock time per evaluation",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		faults: f.NewCounter(prometheus.CounterOpts{
			Name: "rings_health_faults_total",
			Help: "Evaluations aborted by execution faults",
		}),
	}
}

func (m *Metrics) observe(s Score, seconds float64) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(string(s.Outcome)).Inc()
	m.frames.Add(float64(s.Frames))
	m.scores.Observe(s.Value)
	m.duration.Observe(seconds)
}

func (m *Metrics) fault() {
	if m == nil {
		return
	}
	m.faults.Inc()
}
