package evo

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"rings/internal/cell"
	"rings/internal/health"
	"rings/internal/heredity"
	"rings/internal/plan"
	"rings/internal/signal"
)

// rampTarget rises from 0.5 at a slope set by the bound genome's only factor
// and clips once it passes 1. Lower factors survive longer.
type rampTarget struct {
	level    signal.Producer
	measures []cell.Receptor
	output   cell.Receptor
	fail     func(level float64) error
	frame    int
	resets   int
}

func (r *rampTarget) Setup() plan.Op {
	return plan.Do("ramp setup", func() { r.frame = 0 })
}

func (r *rampTarget) Tick() plan.Op {
	return plan.New("ramp", func() error {
		level := r.level.Scalar()
		if r.fail != nil {
			if err := r.fail(level); err != nil {
				return err
			}
		}
		v := signal.Const(0.5 + level*float64(r.frame)/100)
		for _, m := range r.measures {
			if err := m.Push(v).Run(); err != nil {
				return err
			}
		}
		if err := r.output.Push(v).Run(); err != nil {
			return err
		}
		r.frame++
		return nil
	})
}

func (r *rampTarget) Reset() {
	r.frame = 0
	r.resets++
}

func rampTemplate() heredity.Template {
	return heredity.Template{Chromosomes: []heredity.ChromosomeSpec{
		{Name: "level", Genes: 1, Factors: 1, Ranges: []heredity.Range{{Min: 0.05, Max: 1}}},
	}}
}

func rampBuilder(built **rampTarget, fail func(float64) error) Builder {
	return func(store *heredity.Store, measures []cell.Receptor, output cell.Receptor) (health.Target, error) {
		live, err := store.Genome().ChromosomeAt(0)
		if err != nil {
			return nil, err
		}
		t := &rampTarget{
			level:    heredity.Resultant(live.Gene(0).Factor(0)),
			measures: measures,
			output:   output,
			fail:     fail,
		}
		if built != nil {
			*built = t
		}
		return t, nil
	}
}

func rampGenome(id string, level float64) heredity.Genome {
	return heredity.Genome{ID: id, Chromosomes: []heredity.Chromosome{{{level}}}}
}

func rampHealth(t *testing.T) *health.Computation {
	t.Helper()
	cfg := health.DefaultConfig(100)
	cfg.MaxDuration = 200
	cfg.StandardDuration = 200
	cfg.BatchSize = 1
	cfg.MaxSilence = 50
	cfg.MeasureCount = 1
	c, err := health.New(cfg, health.Options{})
	require.NoError(t, err)
	return c
}

func rampConfig(t *testing.T) OptimizerConfig {
	t.Helper()
	cfg := DefaultOptimizerConfig()
	cfg.Template = rampTemplate()
	cfg.Builder = rampBuilder(nil, nil)
	cfg.Health = rampHealth(t)
	cfg.PopulationSize = 6
	cfg.MaxChildren = 4
	cfg.Seed = 7
	return cfg
}

var errForcedFault = errors.New("forced fault")
