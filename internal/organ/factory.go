package organ

import (
	"fmt"

	"rings/internal/cell"
	"rings/internal/heredity"
	"rings/internal/plan"
	"rings/internal/signal"
)

// Measure indices passed to Build.
const (
	MainMeasure = iota
	EffectsMeasure
	measureCount
)

type Factory struct {
	opts Options
}

func NewFactory(o Options) (*Factory, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return &Factory{opts: o}, nil
}

func (f *Factory) Options() Options {
	return f.opts
}

func (f *Factory) Template() heredity.Template {
	return Template(f.opts)
}

// Organ is a built graph. It sets up, ticks and resets as one unit.
type Organ struct {
	list    *cell.List
	sources []cell.Cell
	delays  []*cell.DelayCell
}

func (o *Organ) Setup() plan.Op {
	return o.list.Setup()
}

func (o *Organ) Tick() plan.Op {
	return o.list.Tick()
}

func (o *Organ) Reset() {
	o.list.Reset()
}

func (o *Organ) List() *cell.List {
	return o.list
}

func (o *Organ) Sources() []cell.Cell {
	return append([]cell.Cell(nil), o.sources...)
}

func (o *Organ) Delays() []*cell.DelayCell {
	return append([]*cell.DelayCell(nil), o.delays...)
}

// Build wires the organ around g. Generators branch into a dry path scaled
// by volume and a wet path scaled and filtered per source. The dry path is
// summed into the output and measure 0. The wet path feeds every delay layer;
// delay layers feed back into each other through the transmission matrix and
// leave through the wet levels into the effects sum, which is measured by
// measure 1 and mixed into the dry sum on the next frame.
func (f *Factory) Build(g heredity.LiveGenome, measures []cell.Receptor, output cell.Receptor) (*Organ, error) {
	if err := f.check(g); err != nil {
		return nil, err
	}
	if len(measures) < measureCount {
		return nil, fmt.Errorf("organ needs %d measures, got %d", measureCount, len(measures))
	}
	o := f.opts

	gens := g.MustChromosomeAt(Generators)
	sources := cell.NewList()
	organ := &Organ{}
	for i := 0; i < o.Sources; i++ {
		c := f.source(gens.Gene(i), sources)
		sources.AddRoot(c)
		organ.sources = append(organ.sources, c)
	}

	volume := g.MustChromosomeAt(Volume)
	filters := g.MustChromosomeAt(Filters)
	paths := sources.Branch(
		func(i int) cell.Cell {
			return cell.NewFilteredCell(volume.Gene(i).Factor(0))
		},
		func(i int) cell.Cell {
			return cell.NewFilteredCell(heredity.AndThen(volume.Gene(i).Factor(1), filters.Gene(i).Factor(0)))
		},
	)
	dry, wet := paths[0].Sum(), paths[1].Sum()

	processors := g.MustChromosomeAt(Processors)
	delays := cell.NewList(wet)
	inputs := make([]cell.Receptor, o.DelayLayers)
	for i := 0; i < o.DelayLayers; i++ {
		gene := processors.Gene(i)
		d := cell.NewDelayCell(o.SampleRate, o.MaxDelay+1,
			heredity.Resultant(gene.Factor(0)),
			heredity.Resultant(gene.Factor(1)))
		delays.Add(d)
		inputs[i] = d
		organ.delays = append(organ.delays, d)
	}
	wet.Cell(0).SetReceptor(cell.Fanout(inputs...))

	levels := g.MustChromosomeAt(Wet).Gene(0)
	effects := delays.RouteSelf(
		func(int) cell.Cell { return cell.Identity() },
		cell.GeneMatrix(g.MustChromosomeAt(Transmission)),
		func(i int) cell.Cell { return cell.NewFilteredCell(levels.Factor(i)) },
	).Sum()

	main := dry.Map(func(int) cell.Cell {
		return cell.NewReceptorCell(cell.Fanout(output, measures[MainMeasure]))
	})
	effects.Cell(0).SetReceptor(cell.Fanout(dry.Cell(0), measures[EffectsMeasure]))

	organ.list = cell.Join(main, effects)
	return organ, nil
}

func (f *Factory) source(gene heredity.GeneView, list *cell.List) cell.Cell {
	o := f.opts
	amp := heredity.Resultant(gene.Factor(GeneratorAmplitude))

	if len(o.Samples) > 0 {
		choice := heredity.Resultant(gene.Factor(GeneratorChoice))
		wave := cell.NewWaveCell(nil, amp, true)
		list.AddSetup(plan.Do("select sample", func() {
			wave.SetData(o.Samples[choiceIndex(choice.Scalar(), len(o.Samples))].Data)
		}))
		return wave
	}

	repeat := heredity.Resultant(gene.Factor(GeneratorRepeat))
	phase := heredity.Resultant(gene.Factor(GeneratorPhase))
	freq := func() signal.Frame {
		return signal.Frame{o.BaseFrequency * Repeat(repeat.Scalar())}
	}
	sine := cell.NewSourceCell(o.SampleRate, freq, amp, 0)
	list.AddSetup(plan.Do("phase", func() { sine.SetPhaseOffset(phase.Scalar()) }))
	return sine
}

func (f *Factory) check(g heredity.LiveGenome) error {
	if g.Len() < ChromosomeCount {
		return fmt.Errorf("organ genome has %d chromosomes, need %d: %w", g.Len(), ChromosomeCount, heredity.ErrShapeMismatch)
	}
	want := Template(f.opts).Shape()
	have := g.Store().Shape()
	for i := 0; i < ChromosomeCount; i++ {
		if !sameGenes(want[i], have[i]) {
			return fmt.Errorf("organ %s chromosome: %w", ChromosomeName(i), heredity.ErrShapeMismatch)
		}
	}
	return nil
}

func sameGenes(a, b []int) bool {
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

func choiceIndex(v float64, n int) int {
	i := int(v * float64(n))
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
