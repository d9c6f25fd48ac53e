package evo

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"rings/internal/model"
)

// summarizeGeneration expects ranked best first.
func summarizeGeneration(ranked []ScoredGenome, generation int) model.GenerationDiagnostics {
	if len(ranked) == 0 {
		return model.GenerationDiagnostics{Generation: generation}
	}
	values := make([]float64, len(ranked))
	for i, item := range ranked {
		values[i] = item.Health
	}
	d := model.GenerationDiagnostics{
		Generation:   generation,
		Evaluated:    len(ranked),
		BestHealth:   floats.Max(values),
		MeanHealth:   stat.Mean(values, nil),
		MinHealth:    floats.Min(values),
		BestGenomeID: ranked[0].Genome.ID,
		Diversity:    diversity(ranked),
	}
	if len(values) > 1 {
		d.StdDevHealth = stat.StdDev(values, nil)
	}
	return d
}

// diversity is the mean pairwise euclidean distance between genomes.
func diversity(scored []ScoredGenome) float64 {
	if len(scored) < 2 {
		return 0
	}
	flat := make([][]float64, len(scored))
	for i, item := range scored {
		flat[i] = flatten(item.Genome)
	}
	total, pairs := 0.0, 0
	for i := range flat {
		for j := i + 1; j < len(flat); j++ {
			if len(flat[i]) != len(flat[j]) {
				continue
			}
			total += floats.Distance(flat[i], flat[j], 2)
			pairs++
		}
	}
	if pairs == 0 {
		return 0
	}
	return total / float64(pairs)
}
