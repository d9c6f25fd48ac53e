package evo

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"rings/internal/model"
)

type Metrics struct {
	generations   prometheus.Counter
	offspring     *prometheus.CounterVec
	best          prometheus.Gauge
	mean          prometheus.Gauge
	population    prometheus.Gauge
	storeFailures prometheus.Counter
}

// NewMetrics registers optimizer metrics with reg. A nil registerer yields
// unexported metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		generations: f.NewCounter(prometheus.CounterOpts{
			Name: "rings_optimizer_generations_total",
			Help: "Completed generations",
		}),
		offspring: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rings_optimizer_offspring_total",
			Help: "Genomes added to the population by operation",
		}, []string{"operation"}),
		best: f.NewGauge(prometheus.GaugeOpts{
			Name: "rings_optimizer_best_health",
			Help: "Best health of the last generation",
		}),
		mean: f.NewGauge(prometheus.GaugeOpts{
			Name: "rings_optimizer_mean_health",
			Help: "Mean health of the last generation",
		}),
		population: f.NewGauge(prometheus.GaugeOpts{
			Name: "rings_optimizer_population_size",
			Help: "Genomes in the current population",
		}),
		storeFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "rings_optimizer_store_failures_total",
			Help: "Population writes that failed",
		}),
	}
}

func (m *Metrics) generation(d model.GenerationDiagnostics, size int) {
	if m == nil {
		return
	}
	m.generations.Inc()
	m.offspring.WithLabelValues(model.OperationBred).Add(float64(d.Bred))
	m.offspring.WithLabelValues(model.OperationGenerated).Add(float64(d.Generated))
	m.best.Set(d.BestHealth)
	m.mean.Set(d.MeanHealth)
	m.population.Set(float64(size))
}

func (m *Metrics) storeFailure() {
	if m == nil {
		return
	}
	m.storeFailures.Inc()
}
