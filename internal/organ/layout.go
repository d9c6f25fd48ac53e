// Package organ lays out the synthesis genome and builds the cell graph that
// renders it. The graph is built once around a live genome and follows every
// later assignment to the genome's store.
package organ

import (
	"errors"
	"fmt"
	"math"

	"rings/internal/audio"
	"rings/internal/heredity"
	"rings/internal/signal"
)

// Chromosome positions in an organ genome.
const (
	Generators = iota
	Volume
	Filters
	Processors
	Transmission
	Wet
	ChromosomeCount
)

var chromosomeNames = [ChromosomeCount]string{"generators", "volume", "filters", "processors", "transmission", "wet"}

func ChromosomeName(i int) string {
	if i < 0 || i >= ChromosomeCount {
		return fmt.Sprintf("chromosome(%d)", i)
	}
	return chromosomeNames[i]
}

// Generator gene factors.
const (
	GeneratorChoice = iota
	GeneratorPhase
	GeneratorRepeat
	GeneratorAmplitude
	generatorFactors
)

const (
	delayMultiplier = 60.0
	delayExponent   = 3.0
)

// Options size the organ and bound the values a generator samples. Delay
// ranges are in seconds and filter ranges in Hz.
type Options struct {
	Sources           int            `yaml:"sources" validate:"min=1"`
	DelayLayers       int            `yaml:"delay_layers" validate:"min=1"`
	SampleRate        int            `yaml:"-"`
	BaseFrequency     float64        `yaml:"base_frequency" validate:"gt=0"`
	MaxDelay          float64        `yaml:"max_delay" validate:"gt=0"`
	VolumeRange       heredity.Range `yaml:"volume"`
	DelayRange        heredity.Range `yaml:"delay"`
	GainRange         heredity.Range `yaml:"gain"`
	TransmissionRange heredity.Range `yaml:"transmission"`
	WetRange          heredity.Range `yaml:"wet"`
	HighPassRange     heredity.Range `yaml:"high_pass"`
	LowPassRange      heredity.Range `yaml:"low_pass"`

	// Samples, when present, replace the sine generators with looped sample
	// playback chosen by each generator gene.
	Samples []audio.Sample `yaml:"-"`
}

func DefaultOptions(sampleRate int) Options {
	sources := 4
	return Options{
		Sources:           sources,
		DelayLayers:       4,
		SampleRate:        sampleRate,
		BaseFrequency:     220,
		MaxDelay:          4,
		VolumeRange:       heredity.Range{Min: 0.5 / float64(sources), Max: 1 / float64(sources)},
		DelayRange:        heredity.Range{Min: 0.5, Max: 4},
		GainRange:         heredity.Range{Min: 0.5, Max: 1},
		TransmissionRange: heredity.Range{Min: 0, Max: 0.5},
		WetRange:          heredity.Range{Min: 0.8, Max: 1},
		HighPassRange:     heredity.Range{Min: 0, Max: 500},
		LowPassRange:      heredity.Range{Min: 2000, Max: heredity.MaxFrequency},
	}
}

func (o Options) Validate() error {
	switch {
	case o.Sources <= 0:
		return errors.New("organ needs at least one source")
	case o.DelayLayers <= 0:
		return errors.New("organ needs at least one delay layer")
	case o.SampleRate <= 0:
		return errors.New("sample rate must be > 0")
	case o.BaseFrequency <= 0:
		return errors.New("base frequency must be > 0")
	case o.MaxDelay <= 0:
		return errors.New("max delay must be > 0")
	case o.DelayRange.Max > o.MaxDelay:
		return fmt.Errorf("delay range max %.2fs exceeds max delay %.2fs", o.DelayRange.Max, o.MaxDelay)
	case o.DelayRange.Min < 0:
		return errors.New("delay range must be >= 0")
	}
	for i, s := range o.Samples {
		if len(s.Data) == 0 {
			return fmt.Errorf("sample %d (%s) is empty", i, s.Path)
		}
	}
	return nil
}

// DelaySeconds maps a processor factor onto a delay time.
func DelaySeconds(factor float64) float64 {
	return heredity.OneToInfinity(factor, delayExponent) * delayMultiplier
}

// FactorForDelay is the inverse of DelaySeconds.
func FactorForDelay(seconds float64) float64 {
	return heredity.InvertOneToInfinity(seconds, delayMultiplier, delayExponent)
}

func FactorForFrequency(hz float64) float64 {
	return hz / heredity.MaxFrequency
}

// Repeat maps a generator repeat factor onto a pitch multiplier: 0.5 is the
// base frequency and every 1/16 away doubles or halves it.
func Repeat(factor float64) float64 {
	return math.Pow(2, 16*(factor-0.5))
}

// FactorForRepeat is the inverse of Repeat.
func FactorForRepeat(multiplier float64) float64 {
	return math.Log2(multiplier)/16 + 0.5
}

// Template describes the organ genome for o.
func Template(o Options) heredity.Template {
	generators := heredity.ChromosomeSpec{
		Name:    ChromosomeName(Generators),
		Genes:   o.Sources,
		Factors: generatorFactors,
		Ranges: []heredity.Range{
			heredity.Unit,
			heredity.Unit,
			heredity.Unit,
			{Min: 0.5, Max: 1},
		},
		Choices: [][]float64{
			sampleChoices(len(o.Samples)),
			nil,
			{FactorForRepeat(0.5), FactorForRepeat(1), FactorForRepeat(1.5), FactorForRepeat(2)},
		},
	}

	return heredity.Template{Chromosomes: []heredity.ChromosomeSpec{
		generators,
		{
			Name:    ChromosomeName(Volume),
			Genes:   o.Sources,
			Factors: 2,
			Ranges:  []heredity.Range{o.VolumeRange, o.VolumeRange},
		},
		{
			Name:    ChromosomeName(Filters),
			Genes:   o.Sources,
			Factors: 2,
			Ranges: []heredity.Range{
				{Min: FactorForFrequency(o.HighPassRange.Min), Max: FactorForFrequency(o.HighPassRange.Max)},
				{Min: FactorForFrequency(o.LowPassRange.Min), Max: FactorForFrequency(o.LowPassRange.Max)},
			},
		},
		{
			Name:    ChromosomeName(Processors),
			Genes:   o.DelayLayers,
			Factors: 2,
			Ranges: []heredity.Range{
				{Min: FactorForDelay(o.DelayRange.Min), Max: FactorForDelay(o.DelayRange.Max)},
				o.GainRange,
			},
		},
		{
			Name:    ChromosomeName(Transmission),
			Genes:   o.DelayLayers,
			Factors: o.DelayLayers,
			Ranges:  repeatRange(o.TransmissionRange, o.DelayLayers),
		},
		{
			Name:    ChromosomeName(Wet),
			Genes:   1,
			Factors: o.DelayLayers,
			Ranges:  repeatRange(o.WetRange, o.DelayLayers),
		},
	}}
}

func sampleChoices(n int) []float64 {
	if n == 0 {
		return nil
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = (float64(i) + 0.5) / float64(n)
	}
	return out
}

func repeatRange(r heredity.Range, n int) []heredity.Range {
	out := make([]heredity.Range, n)
	for i := range out {
		out[i] = r
	}
	return out
}

// DefaultBreeder picks generator sources whole, averages levels and filters,
// and nudges delay and routing values.
func DefaultBreeder() heredity.GenomeBreeder {
	perturb := heredity.PerturbationBreeder{Epsilon: heredity.DefaultPerturbation}
	return heredity.GenomeBreeder{
		Chromosomes: []heredity.Breeder{
			Generators: heredity.PerFactor(
				heredity.RandomChoiceBreeder{},
				heredity.RandomChoiceBreeder{},
				heredity.RandomChoiceBreeder{},
				heredity.AverageBreeder{},
			),
			Volume:       heredity.AverageBreeder{},
			Filters:      heredity.AverageBreeder{},
			Processors:   perturb,
			Transmission: perturb,
			Wet:          heredity.AverageBreeder{},
		},
	}
}

// Live returns the organ's view of store: filters resolve as fixed filters
// and processors as delay times in seconds plus a gain.
func Live(store *heredity.Store, sampleRate int) heredity.LiveGenome {
	return store.Genome().
		WithVariant(Filters, heredity.FixedFilterVariant(sampleRate)).
		WithVariant(Processors, heredity.DerivedVariant(2, deriveProcessor))
}

func deriveProcessor(source heredity.GeneView, factor int) heredity.Factor {
	if factor != 0 {
		return source.Factor(factor)
	}
	delay := heredity.Resultant(source.Factor(0))
	return heredity.FactorFunc(func(in signal.Producer) signal.Producer {
		return func() signal.Frame {
			return in().Scale(DelaySeconds(delay.Scalar()))
		}
	})
}
