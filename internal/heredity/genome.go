// Package heredity holds the parameter tree evolved by the optimizer: genomes
// made of chromosomes, chromosomes made of genes, genes made of factors.
package heredity

import (
	"fmt"
	"strings"
)

// Gene is the raw value of each factor in one gene.
type Gene []float64

// Chromosome is a fixed-length run of genes.
type Chromosome []Gene

// Genome is the persisted, breedable form of a candidate. Live resolution
// goes through a Store.
type Genome struct {
	ID          string
	Chromosomes []Chromosome
}

func (g Genome) Len() int {
	return len(g.Chromosomes)
}

func (g Genome) ChromosomeAt(i int) (Chromosome, error) {
	if i < 0 || i >= len(g.Chromosomes) {
		return nil, fmt.Errorf("chromosome %d of %d: %w", i, len(g.Chromosomes), ErrIndexOutOfRange)
	}
	return g.Chromosomes[i], nil
}

// HeadSubset drops the last chromosome. The result shares storage with g.
func (g Genome) HeadSubset() Genome {
	if len(g.Chromosomes) == 0 {
		return g
	}
	return Genome{ID: g.ID, Chromosomes: g.Chromosomes[:len(g.Chromosomes)-1]}
}

func (g Genome) Clone() Genome {
	out := Genome{ID: g.ID, Chromosomes: make([]Chromosome, len(g.Chromosomes))}
	for i, c := range g.Chromosomes {
		out.Chromosomes[i] = c.Clone()
	}
	return out
}

func (c Chromosome) Clone() Chromosome {
	out := make(Chromosome, len(c))
	for i, gene := range c {
		out[i] = append(Gene(nil), gene...)
	}
	return out
}

// Shape lists gene lengths per chromosome.
type Shape [][]int

func (g Genome) Shape() Shape {
	shape := make(Shape, len(g.Chromosomes))
	for i, c := range g.Chromosomes {
		shape[i] = c.Shape()
	}
	return shape
}

func (c Chromosome) Shape() []int {
	out := make([]int, len(c))
	for i, gene := range c {
		out[i] = len(gene)
	}
	return out
}

func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if !sameInts(s[i], o[i]) {
			return false
		}
	}
	return true
}

func (s Shape) String() string {
	var b strings.Builder
	for i, c := range s {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%d", len(c))
		if len(c) > 0 {
			fmt.Fprintf(&b, "x%d", c[0])
		}
	}
	return b.String()
}

// SameShape reports whether two genomes can be bred or assigned onto each
// other.
func SameShape(a, b Genome) bool {
	return a.Shape().Equal(b.Shape())
}

func sameInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (g Genome) String() string {
	var b strings.Builder
	for i, c := range g.Chromosomes {
		if i > 0 {
			b.WriteString(" | ")
		}
		for j, gene := range c {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteByte('[')
			for k, v := range gene {
				if k > 0 {
					b.WriteByte(' ')
				}
				fmt.Fprintf(&b, "%.3f", v)
			}
			b.WriteByte(']')
		}
	}
	return b.String()
}
