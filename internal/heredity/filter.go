package heredity

import (
	"math"

	"rings/internal/plan"
	"rings/internal/signal"
)

// MaxFrequency scales fixed-filter factors in [0, 1] onto cutoffs in Hz.
const MaxFrequency = 20000.0

// FixedFilter views source as one filter per gene: source factor 0 sets the
// high-pass cutoff and factor 1 the low-pass cutoff.
func FixedFilter(source ChromosomeView, sampleRate int) ChromosomeView {
	return fixedFilterChromosome{source: source, sampleRate: sampleRate}
}

func FixedFilterVariant(sampleRate int) Variant {
	return func(source ChromosomeView) ChromosomeView {
		return FixedFilter(source, sampleRate)
	}
}

type fixedFilterChromosome struct {
	source     ChromosomeView
	sampleRate int
}

func (c fixedFilterChromosome) Kind() Kind { return KindFixedFilter }

func (c fixedFilterChromosome) Len() int { return c.source.Len() }

func (c fixedFilterChromosome) Gene(i int) GeneView {
	return FilterGene{source: c.source.Gene(i), sampleRate: c.sampleRate}
}

type FilterGene struct {
	source     GeneView
	sampleRate int
}

func (g FilterGene) Len() int { return 1 }

func (g FilterGene) HighPass() float64 {
	return Resultant(g.source.Factor(0)).Scalar() * MaxFrequency
}

func (g FilterGene) LowPass() float64 {
	return Resultant(g.source.Factor(1)).Scalar() * MaxFrequency
}

// Factor builds a fresh filter chain each call, so no filter state is shared
// between cells.
func (g FilterGene) Factor(i int) Factor {
	if i != 0 {
		panic("fixed filter genes have a single factor")
	}
	return &FilterChain{
		filters: []*PassFilter{
			NewPassFilter(g.sampleRate, g.HighPass, true),
			NewPassFilter(g.sampleRate, g.LowPass, false),
		},
	}
}

// PassFilter is a one-pole high- or low-pass filter whose cutoff is read
// every frame.
type PassFilter struct {
	sampleRate float64
	cutoff     func() float64
	high       bool

	prevIn  []float64
	prevOut []float64
}

func NewPassFilter(sampleRate int, cutoff func() float64, high bool) *PassFilter {
	return &PassFilter{sampleRate: float64(sampleRate), cutoff: cutoff, high: high}
}

func (f *PassFilter) ValueAt(in signal.Producer) signal.Producer {
	return func() signal.Frame {
		return f.apply(in())
	}
}

func (f *PassFilter) apply(x signal.Frame) signal.Frame {
	if len(f.prevIn) < len(x) {
		f.prevIn = append(f.prevIn, make([]float64, len(x)-len(f.prevIn))...)
		f.prevOut = append(f.prevOut, make([]float64, len(x)-len(f.prevOut))...)
	}

	nyquist := f.sampleRate / 2
	fc := clamp(f.cutoff(), 1, nyquist)
	rc := 1 / (2 * math.Pi * fc)
	dt := 1 / f.sampleRate

	out := make(signal.Frame, len(x))
	for c, v := range x {
		if f.high {
			a := rc / (rc + dt)
			out[c] = a * (f.prevOut[c] + v - f.prevIn[c])
		} else {
			a := dt / (rc + dt)
			out[c] = f.prevOut[c] + a*(v-f.prevOut[c])
		}
		f.prevIn[c] = v
		f.prevOut[c] = out[c]
	}
	return out
}

func (f *PassFilter) Tick() plan.Op { return plan.Noop }

func (f *PassFilter) Reset() {
	clear(f.prevIn)
	clear(f.prevOut)
}

// FilterChain applies filters in order.
type FilterChain struct {
	filters []*PassFilter
}

func (c *FilterChain) ValueAt(in signal.Producer) signal.Producer {
	out := in
	for _, f := range c.filters {
		out = f.ValueAt(out)
	}
	return out
}

func (c *FilterChain) Tick() plan.Op { return plan.Noop }

func (c *FilterChain) Reset() {
	for _, f := range c.filters {
		f.Reset()
	}
}
