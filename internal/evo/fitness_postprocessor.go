package evo

import (
	"gonum.org/v1/gonum/floats"

	"rings/internal/heredity"
)

// HealthPostprocessor adjusts health values after evaluation and before
// ranking.
type HealthPostprocessor interface {
	Name() string
	Process(scored []ScoredGenome) []ScoredGenome
}

type NoopPostprocessor struct{}

func (NoopPostprocessor) Name() string {
	return "none"
}

func (NoopPostprocessor) Process(scored []ScoredGenome) []ScoredGenome {
	return cloneScored(scored)
}

// SharingPostprocessor divides each health by the number of genomes within
// Radius of it, so crowded regions of parameter space rank lower.
type SharingPostprocessor struct {
	Radius float64
}

func (SharingPostprocessor) Name() string {
	return "sharing"
}

func (s SharingPostprocessor) Process(scored []ScoredGenome) []ScoredGenome {
	out := cloneScored(scored)
	if s.Radius <= 0 {
		return out
	}
	flat := make([][]float64, len(scored))
	for i, item := range scored {
		flat[i] = flatten(item.Genome)
	}
	for i := range out {
		niche := 0.0
		for j := range flat {
			if len(flat[i]) != len(flat[j]) {
				continue
			}
			d := floats.Distance(flat[i], flat[j], 2)
			if d < s.Radius {
				niche += 1 - d/s.Radius
			}
		}
		if niche > 1 {
			out[i].Health /= niche
		}
	}
	return out
}

func flatten(g heredity.Genome) []float64 {
	var out []float64
	for _, c := range g.Chromosomes {
		for _, gene := range c {
			out = append(out, gene...)
		}
	}
	return out
}

func cloneScored(scored []ScoredGenome) []ScoredGenome {
	out := make([]ScoredGenome, len(scored))
	copy(out, scored)
	return out
}

// PostprocessorFor returns sharing for a positive radius and the no-op
// otherwise.
func PostprocessorFor(sharingRadius float64) HealthPostprocessor {
	if sharingRadius > 0 {
		return SharingPostprocessor{Radius: sharingRadius}
	}
	return NoopPostprocessor{}
}
