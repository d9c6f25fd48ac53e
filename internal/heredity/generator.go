package heredity

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/google/uuid"
)

// Range bounds the values a generator samples for one factor.
type Range struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

var Unit = Range{Min: 0, Max: 1}

func (r Range) Sample(rng *rand.Rand) float64 {
	return r.Min + rng.Float64()*(r.Max-r.Min)
}

func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// ChromosomeSpec describes one chromosome of a template. Ranges are per factor
// index; factors without a range sample from Unit. Choices, when set for a
// factor, replace its range with a discrete pick.
type ChromosomeSpec struct {
	Name    string
	Genes   int
	Factors int
	Ranges  []Range
	Choices [][]float64
}

func (c ChromosomeSpec) rangeFor(f int) Range {
	if f < len(c.Ranges) {
		return c.Ranges[f]
	}
	return Unit
}

// Template fixes the shape of every genome in a population.
type Template struct {
	Chromosomes []ChromosomeSpec
}

func (t Template) Validate() error {
	if len(t.Chromosomes) == 0 {
		return errors.New("template has no chromosomes")
	}
	for i, c := range t.Chromosomes {
		if c.Genes <= 0 {
			return fmt.Errorf("chromosome %d (%s): genes must be > 0", i, c.Name)
		}
		if c.Factors <= 0 {
			return fmt.Errorf("chromosome %d (%s): factors must be > 0", i, c.Name)
		}
		if len(c.Ranges) > c.Factors {
			return fmt.Errorf("chromosome %d (%s): %d ranges for %d factors", i, c.Name, len(c.Ranges), c.Factors)
		}
		for f, r := range c.Ranges {
			if r.Min > r.Max {
				return fmt.Errorf("chromosome %d (%s) factor %d: min %.4f > max %.4f", i, c.Name, f, r.Min, r.Max)
			}
		}
	}
	return nil
}

func (t Template) Shape() Shape {
	shape := make(Shape, len(t.Chromosomes))
	for i, c := range t.Chromosomes {
		genes := make([]int, c.Genes)
		for g := range genes {
			genes[g] = c.Factors
		}
		shape[i] = genes
	}
	return shape
}

// Index returns the position of the named chromosome.
func (t Template) Index(name string) (int, bool) {
	for i, c := range t.Chromosomes {
		if c.Name == name {
			return i, true
		}
	}
	return 0, false
}

// SetRange overrides the range of one factor in the named chromosome.
func (t *Template) SetRange(name string, factor int, r Range) error {
	i, ok := t.Index(name)
	if !ok {
		return fmt.Errorf("unknown chromosome %q", name)
	}
	c := &t.Chromosomes[i]
	if factor < 0 || factor >= c.Factors {
		return fmt.Errorf("chromosome %q factor %d: %w", name, factor, ErrIndexOutOfRange)
	}
	for len(c.Ranges) <= factor {
		c.Ranges = append(c.Ranges, Unit)
	}
	c.Ranges[factor] = r
	return nil
}

// Conforms reports whether g has the template's shape.
func (t Template) Conforms(g Genome) error {
	if !t.Shape().Equal(g.Shape()) {
		return fmt.Errorf("genome %q shape %s, template %s: %w", g.ID, g.Shape(), t.Shape(), ErrShapeMismatch)
	}
	return nil
}

// Generator samples genomes within a template's ranges. Values depend only on
// the seed.
type Generator struct {
	template Template
	rng      *rand.Rand
}

func NewGenerator(t Template, seed int64) (*Generator, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &Generator{template: t, rng: rand.New(rand.NewSource(seed))}, nil
}

func (g *Generator) Template() Template {
	return g.template
}

func (g *Generator) Next() Genome {
	out := Genome{ID: uuid.NewString(), Chromosomes: make([]Chromosome, len(g.template.Chromosomes))}
	for i, spec := range g.template.Chromosomes {
		c := make(Chromosome, spec.Genes)
		for j := range c {
			gene := make(Gene, spec.Factors)
			for f := range gene {
				if f < len(spec.Choices) && len(spec.Choices[f]) > 0 {
					gene[f] = spec.Choices[f][g.rng.Intn(len(spec.Choices[f]))]
					continue
				}
				gene[f] = spec.rangeFor(f).Sample(g.rng)
			}
			c[j] = gene
		}
		out.Chromosomes[i] = c
	}
	return out
}

func (g *Generator) Generate(n int) []Genome {
	out := make([]Genome, n)
	for i := range out {
		out[i] = g.Next()
	}
	return out
}
