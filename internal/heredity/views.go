package heredity

import "fmt"

type Kind int

const (
	KindStored Kind = iota
	KindDerived
	KindFixedFilter
)

func (k Kind) String() string {
	switch k {
	case KindStored:
		return "stored"
	case KindDerived:
		return "derived"
	case KindFixedFilter:
		return "fixed_filter"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// GeneView resolves factors of one live gene. Factor panics when i is out of
// range, like slice indexing.
type GeneView interface {
	Len() int
	Factor(i int) Factor
}

// ChromosomeView resolves genes of one live chromosome. Gene panics when i is
// out of range.
type ChromosomeView interface {
	Kind() Kind
	Len() int
	Gene(i int) GeneView
}

// Variant replaces the view at one chromosome index.
type Variant func(source ChromosomeView) ChromosomeView

// LiveGenome resolves chromosomes against a Store. Chromosomes default to the
// stored variant unless a Variant was installed for their index.
type LiveGenome struct {
	store    *Store
	length   int
	variants map[int]Variant
}

func (g LiveGenome) Len() int {
	return g.length
}

func (g LiveGenome) Store() *Store {
	return g.store
}

// Assign copies other's values into the backing store without changing this
// genome's shape.
func (g LiveGenome) Assign(other Genome) error {
	return g.store.Assign(other)
}

func (g LiveGenome) ChromosomeAt(i int) (ChromosomeView, error) {
	if i < 0 || i >= g.length {
		return nil, fmt.Errorf("chromosome %d of %d: %w", i, g.length, ErrIndexOutOfRange)
	}
	var view ChromosomeView = storedChromosome{store: g.store, index: i}
	if v, ok := g.variants[i]; ok {
		view = v(view)
	}
	return view, nil
}

// MustChromosomeAt is ChromosomeAt for layouts validated up front.
func (g LiveGenome) MustChromosomeAt(i int) ChromosomeView {
	c, err := g.ChromosomeAt(i)
	if err != nil {
		panic(err)
	}
	return c
}

// HeadSubset drops the last chromosome and shares the store.
func (g LiveGenome) HeadSubset() LiveGenome {
	out := g
	if out.length > 0 {
		out.length--
	}
	return out
}

func (g LiveGenome) WithVariant(i int, v Variant) LiveGenome {
	variants := make(map[int]Variant, len(g.variants)+1)
	for k, existing := range g.variants {
		variants[k] = existing
	}
	variants[i] = v
	out := g
	out.variants = variants
	return out
}

type storedChromosome struct {
	store *Store
	index int
}

func (c storedChromosome) Kind() Kind { return KindStored }

func (c storedChromosome) Len() int {
	return len(c.store.shape[c.index])
}

func (c storedChromosome) Gene(i int) GeneView {
	if i < 0 || i >= c.Len() {
		panic(fmt.Sprintf("gene %d of chromosome %d: %v", i, c.index, ErrIndexOutOfRange))
	}
	return storedGene{store: c.store, chromosome: c.index, index: i}
}

type storedGene struct {
	store      *Store
	chromosome int
	index      int
}

func (g storedGene) Len() int {
	return g.store.shape[g.chromosome][g.index]
}

func (g storedGene) Factor(i int) Factor {
	if i < 0 || i >= g.Len() {
		panic(fmt.Sprintf("factor %d of gene %d/%d: %v", i, g.chromosome, g.index, ErrIndexOutOfRange))
	}
	store, c, idx := g.store, g.chromosome, g.index
	return ScaleFactor{value: func() float64 { return store.value(c, idx, i) }}
}

// DeriveFunc computes factor i of a derived gene from its source gene.
type DeriveFunc func(source GeneView, factor int) Factor

// Derived views source through fn. It holds no values of its own.
func Derived(source ChromosomeView, factors int, fn DeriveFunc) ChromosomeView {
	return derivedChromosome{source: source, factors: factors, fn: fn}
}

// DerivedVariant adapts Derived for use with LiveGenome.WithVariant.
func DerivedVariant(factors int, fn DeriveFunc) Variant {
	return func(source ChromosomeView) ChromosomeView {
		return Derived(source, factors, fn)
	}
}

type derivedChromosome struct {
	source  ChromosomeView
	factors int
	fn      DeriveFunc
}

func (c derivedChromosome) Kind() Kind { return KindDerived }

func (c derivedChromosome) Len() int { return c.source.Len() }

func (c derivedChromosome) Gene(i int) GeneView {
	return derivedGene{source: c.source.Gene(i), factors: c.factors, fn: c.fn}
}

type derivedGene struct {
	source  GeneView
	factors int
	fn      DeriveFunc
}

func (g derivedGene) Len() int { return g.factors }

func (g derivedGene) Factor(i int) Factor {
	if i < 0 || i >= g.factors {
		panic(fmt.Sprintf("derived factor %d of %d: %v", i, g.factors, ErrIndexOutOfRange))
	}
	return g.fn(g.source, i)
}
