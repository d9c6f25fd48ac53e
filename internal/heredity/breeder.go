package heredity

import (
	"fmt"
	"math/rand"
)

// FactorBreeder combines two parent factor values into one child value.
type FactorBreeder interface {
	CombineFactor(x, y float64, rng *rand.Rand) float64
}

// Breeder combines two parent chromosomes gene by gene and factor by factor.
// Implementations must return a chromosome with the parents' shape.
type Breeder interface {
	Name() string
	Combine(a, b Chromosome, rng *rand.Rand) (Chromosome, error)
}

type AverageBreeder struct{}

func (AverageBreeder) Name() string { return "average" }

func (AverageBreeder) CombineFactor(x, y float64, _ *rand.Rand) float64 {
	return (x + y) / 2
}

func (b AverageBreeder) Combine(x, y Chromosome, rng *rand.Rand) (Chromosome, error) {
	return combineFactors(x, y, func(_, _ int, a, c float64) float64 { return b.CombineFactor(a, c, rng) })
}

// PerturbationBreeder steps the first parent's value towards the second
// parent's by at most Epsilon.
type PerturbationBreeder struct {
	Epsilon float64
}

const DefaultPerturbation = 0.0005

func (PerturbationBreeder) Name() string { return "perturbation" }

func (b PerturbationBreeder) CombineFactor(x, y float64, _ *rand.Rand) float64 {
	eps := b.Epsilon
	if eps <= 0 {
		eps = DefaultPerturbation
	}
	return x + clamp(y-x, -eps, eps)
}

func (b PerturbationBreeder) Combine(x, y Chromosome, rng *rand.Rand) (Chromosome, error) {
	return combineFactors(x, y, func(_, _ int, a, c float64) float64 { return b.CombineFactor(a, c, rng) })
}

// RandomChoiceBreeder takes each factor from one parent at random.
type RandomChoiceBreeder struct{}

func (RandomChoiceBreeder) Name() string { return "random_choice" }

func (RandomChoiceBreeder) CombineFactor(x, y float64, rng *rand.Rand) float64 {
	if rng.Intn(2) == 0 {
		return x
	}
	return y
}

func (b RandomChoiceBreeder) Combine(x, y Chromosome, rng *rand.Rand) (Chromosome, error) {
	return combineFactors(x, y, func(_, _ int, a, c float64) float64 { return b.CombineFactor(a, c, rng) })
}

// PerFactorBreeder applies Factors[i] to factor i of every gene. Factors past
// the end of the list reuse the last entry.
type PerFactorBreeder struct {
	Factors []FactorBreeder
}

func PerFactor(factors ...FactorBreeder) PerFactorBreeder {
	return PerFactorBreeder{Factors: factors}
}

func (PerFactorBreeder) Name() string { return "per_factor" }

func (b PerFactorBreeder) Combine(x, y Chromosome, rng *rand.Rand) (Chromosome, error) {
	if len(b.Factors) == 0 {
		return nil, fmt.Errorf("per factor breeder has no factor breeders")
	}
	return combineFactors(x, y, func(_, f int, a, c float64) float64 {
		idx := f
		if idx >= len(b.Factors) {
			idx = len(b.Factors) - 1
		}
		return b.Factors[idx].CombineFactor(a, c, rng)
	})
}

func combineFactors(x, y Chromosome, fn func(gene, factor int, a, b float64) float64) (Chromosome, error) {
	if len(x) != len(y) {
		return nil, fmt.Errorf("combine chromosomes of %d and %d genes: %w", len(x), len(y), ErrArityMismatch)
	}
	out := make(Chromosome, len(x))
	for g := range x {
		if len(x[g]) != len(y[g]) {
			return nil, fmt.Errorf("combine gene %d with %d and %d factors: %w", g, len(x[g]), len(y[g]), ErrArityMismatch)
		}
		gene := make(Gene, len(x[g]))
		for f := range x[g] {
			gene[f] = fn(g, f, x[g][f], y[g][f])
		}
		out[g] = gene
	}
	return out, nil
}

// GenomeBreeder assigns a breeder to each chromosome index.
type GenomeBreeder struct {
	Chromosomes []Breeder
	Default     Breeder
}

func (b GenomeBreeder) breederFor(i int) Breeder {
	if i < len(b.Chromosomes) && b.Chromosomes[i] != nil {
		return b.Chromosomes[i]
	}
	if b.Default != nil {
		return b.Default
	}
	return AverageBreeder{}
}

// Breed returns a child with the parents' shape. The child has no id.
func (b GenomeBreeder) Breed(x, y Genome, rng *rand.Rand) (Genome, error) {
	if len(x.Chromosomes) != len(y.Chromosomes) {
		return Genome{}, fmt.Errorf("breed genomes of %d and %d chromosomes: %w", len(x.Chromosomes), len(y.Chromosomes), ErrArityMismatch)
	}
	child := Genome{Chromosomes: make([]Chromosome, len(x.Chromosomes))}
	for i := range x.Chromosomes {
		breeder := b.breederFor(i)
		c, err := breeder.Combine(x.Chromosomes[i], y.Chromosomes[i], rng)
		if err != nil {
			return Genome{}, fmt.Errorf("chromosome %d (%s): %w", i, breeder.Name(), err)
		}
		child.Chromosomes[i] = c
	}
	return child, nil
}
