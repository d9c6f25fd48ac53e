package evo

import (
	"context"
	"errors"
	"fmt"

	"rings/internal/cell"
	"rings/internal/health"
	"rings/internal/heredity"
	"rings/internal/organ"
)

var (
	ErrEmptyPopulation = errors.New("population has no genomes")
	ErrNotInitialized  = errors.New("population not initialized")
	ErrBindViolation   = errors.New("genome binding violated")
)

// Builder wires the shared graph around a store. It is called once per
// population; later generations reuse the graph by reassigning the store.
type Builder func(store *heredity.Store, measures []cell.Receptor, output cell.Receptor) (health.Target, error)

// OrganBuilder builds organs from f over the store's live view.
func OrganBuilder(f *organ.Factory) Builder {
	return func(store *heredity.Store, measures []cell.Receptor, output cell.Receptor) (health.Target, error) {
		return f.Build(organ.Live(store, f.Options().SampleRate), measures, output)
	}
}

// Population holds the genomes of one generation and the single graph they
// take turns occupying.
type Population struct {
	build   Builder
	store   *heredity.Store
	target  health.Target
	genomes []heredity.Genome
	active  *Activation
}

func NewPopulation(genomes []heredity.Genome, build Builder) *Population {
	return &Population{
		build:   build,
		store:   heredity.NewStore(),
		genomes: cloneGenomes(genomes),
	}
}

// Init checks every genome against template and builds the shared graph.
// Calling it again after Replace keeps the existing graph.
func (p *Population) Init(ctx context.Context, template heredity.Template, measures []cell.Receptor, output cell.Receptor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(p.genomes) == 0 {
		return ErrEmptyPopulation
	}
	for _, g := range p.genomes {
		if err := template.Conforms(g); err != nil {
			return err
		}
	}
	if p.target != nil {
		return nil
	}
	if p.build == nil {
		return fmt.Errorf("population builder is required")
	}
	if err := p.store.Assign(p.genomes[0]); err != nil {
		return err
	}
	target, err := p.build(p.store, measures, output)
	if err != nil {
		return fmt.Errorf("build population graph: %w", err)
	}
	p.target = target
	return nil
}

// Target is the shared graph, nil before Init.
func (p *Population) Target() health.Target {
	return p.target
}

func (p *Population) Store() *heredity.Store {
	return p.store
}

func (p *Population) Size() int {
	return len(p.genomes)
}

func (p *Population) Genomes() []heredity.Genome {
	return cloneGenomes(p.genomes)
}

// Enable binds genome i into the shared graph. Only one genome may be
// enabled at a time.
func (p *Population) Enable(i int) (*Activation, error) {
	if p.target == nil {
		return nil, ErrNotInitialized
	}
	if i < 0 || i >= len(p.genomes) {
		return nil, fmt.Errorf("enable genome %d of %d: %w", i, len(p.genomes), heredity.ErrIndexOutOfRange)
	}
	binding, err := p.store.Bind(p.genomes[i])
	if err != nil {
		return nil, err
	}
	p.active = &Activation{population: p, binding: binding, index: i}
	return p.active, nil
}

// Active returns the enabled activation, if any.
func (p *Population) Active() (*Activation, bool) {
	return p.active, p.active != nil
}

// Replace installs the next generation. The store and graph are kept.
func (p *Population) Replace(genomes []heredity.Genome) error {
	if p.active != nil {
		return fmt.Errorf("replace population while genome %q is enabled: %w", p.active.GenomeID(), heredity.ErrAlreadyBound)
	}
	if len(genomes) == 0 {
		return ErrEmptyPopulation
	}
	if shape := p.store.Shape(); shape != nil {
		for _, g := range genomes {
			if !shape.Equal(g.Shape()) {
				return fmt.Errorf("replace with genome %q shape %s: %w", g.ID, g.Shape(), heredity.ErrShapeMismatch)
			}
		}
	}
	p.genomes = cloneGenomes(genomes)
	return nil
}

// Activation is the token for the enabled genome.
type Activation struct {
	population *Population
	binding    *heredity.Binding
	index      int
}

func (a *Activation) Index() int {
	return a.index
}

func (a *Activation) GenomeID() string {
	return a.binding.GenomeID()
}

// Disable releases the genome and resets the graph for the next one.
func (a *Activation) Disable() error {
	if err := a.binding.Release(); err != nil {
		return err
	}
	p := a.population
	if p.active == a {
		p.active = nil
	}
	p.target.Reset()
	return nil
}

func cloneGenomes(genomes []heredity.Genome) []heredity.Genome {
	out := make([]heredity.Genome, len(genomes))
	for i, g := range genomes {
		out[i] = g.Clone()
	}
	return out
}
