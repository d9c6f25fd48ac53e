package evo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"

	"rings/internal/hardware"
	"rings/internal/health"
	"rings/internal/heredity"
	"rings/internal/model"
	"rings/internal/storage"
)

const (
	DefaultPopulationSize = 60
	DefaultMaxChildren    = 50
)

type OptimizerConfig struct {
	Template heredity.Template
	Builder  Builder
	Health   *health.Computation
	Breeder  heredity.GenomeBreeder

	Pairing       Pairing
	Postprocessor HealthPostprocessor

	PopulationSize int
	MaxChildren    int
	LowestHealth   float64
	Cycles         int
	Seed           int64

	// OffspringPotentials are the chances of a pair producing a second,
	// third and later child. Each extra child requires the previous one.
	OffspringPotentials []float64

	// Isolated runs every cycle inside a fresh backend context.
	Isolated bool

	Store        storage.Store
	PopulationID string
	RunID        string

	Logger   *slog.Logger
	Metrics  *Metrics
	Progress *Progress
	OnCycle  func(CycleReport)
	Now      func() time.Time
}

// DefaultOptimizerConfig fills the population policy. Callers supply the
// template, builder, health computation and breeder.
func DefaultOptimizerConfig() OptimizerConfig {
	return OptimizerConfig{
		PopulationSize: DefaultPopulationSize,
		MaxChildren:    DefaultMaxChildren,
		LowestHealth:   0,
		Cycles:         1,
	}
}

// CycleReport is passed to OnCycle after each completed cycle.
type CycleReport struct {
	Cycle       int
	Diagnostics model.GenerationDiagnostics
	Stored      bool
	StoreErr    error
}

type RunResult struct {
	RunID       string
	Cycles      int
	Diagnostics []model.GenerationDiagnostics
	Lineage     []model.LineageRecord
	Final       []ScoredGenome
	Population  []heredity.Genome
}

// Optimizer evaluates, breeds and persists a population for a number of
// cycles. It is not safe for concurrent use.
type Optimizer struct {
	cfg       OptimizerConfig
	rng       *rand.Rand
	generator *heredity.Generator

	population  *Population
	generation  int
	ranked      []ScoredGenome
	diagnostics []model.GenerationDiagnostics
	lineage     []model.LineageRecord
}

func NewOptimizer(cfg OptimizerConfig) (*Optimizer, error) {
	if err := cfg.Template.Validate(); err != nil {
		return nil, fmt.Errorf("template: %w", err)
	}
	if cfg.Builder == nil {
		return nil, fmt.Errorf("builder is required")
	}
	if cfg.Health == nil {
		return nil, fmt.Errorf("health computation is required")
	}
	if cfg.PopulationSize <= 0 {
		return nil, fmt.Errorf("population size must be > 0")
	}
	if cfg.MaxChildren < 0 || cfg.MaxChildren > cfg.PopulationSize {
		return nil, fmt.Errorf("max children must be in [0, population size]")
	}
	if cfg.LowestHealth < 0 || cfg.LowestHealth > 1 {
		return nil, fmt.Errorf("lowest health must be in [0, 1]")
	}
	for i, p := range cfg.OffspringPotentials {
		if p < 0 || p > 1 {
			return nil, fmt.Errorf("offspring potential %d must be in [0, 1]", i)
		}
	}
	if cfg.Cycles <= 0 {
		return nil, fmt.Errorf("cycles must be > 0")
	}
	if cfg.Store != nil && cfg.PopulationID == "" {
		return nil, fmt.Errorf("population id is required with a store")
	}
	if cfg.Pairing == nil {
		cfg.Pairing = OrderedPairing{}
	}
	if cfg.Postprocessor == nil {
		cfg.Postprocessor = NoopPostprocessor{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}

	generator, err := heredity.NewGenerator(cfg.Template, cfg.Seed)
	if err != nil {
		return nil, err
	}
	return &Optimizer{
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		generator: generator,
	}, nil
}

func (o *Optimizer) RunID() string {
	return o.cfg.RunID
}

// Population is nil until ReadPopulation succeeds.
func (o *Optimizer) Population() *Population {
	return o.population
}

func (o *Optimizer) Generation() int {
	return o.generation
}

// Ranked returns the last evaluated generation, best first.
func (o *Optimizer) Ranked() []ScoredGenome {
	return cloneScored(o.ranked)
}

func (o *Optimizer) Diagnostics() []model.GenerationDiagnostics {
	return append([]model.GenerationDiagnostics(nil), o.diagnostics...)
}

func (o *Optimizer) Lineage() []model.LineageRecord {
	return append([]model.LineageRecord(nil), o.lineage...)
}

// ReadPopulation loads the configured population from the store, or
// generates PopulationSize fresh genomes when there is none. A stored
// population without genomes is an error.
func (o *Optimizer) ReadPopulation(ctx context.Context) error {
	genomes, generation, err := o.load(ctx)
	if err != nil {
		return err
	}
	operation := model.OperationLoaded
	if genomes == nil {
		genomes = o.generator.Generate(o.cfg.PopulationSize)
		generation = 0
		operation = model.OperationSeed
		o.cfg.Logger.Info("generated initial population", "genomes", len(genomes))
	} else {
		o.cfg.Logger.Info("read population", "population", o.cfg.PopulationID, "genomes", len(genomes), "generation", generation)
	}

	if o.population == nil {
		o.population = NewPopulation(genomes, o.cfg.Builder)
	} else if err := o.population.Replace(genomes); err != nil {
		return err
	}
	if err := o.population.Init(ctx, o.cfg.Template, o.cfg.Health.Receptors(), o.cfg.Health.Output()); err != nil {
		return err
	}
	if err := o.cfg.Health.SetTarget(o.population.Target()); err != nil {
		return err
	}

	o.generation = generation
	for _, g := range genomes {
		o.lineage = append(o.lineage, model.LineageRecord{GenomeID: g.ID, Generation: generation, Operation: operation})
	}
	return nil
}

func (o *Optimizer) load(ctx context.Context) ([]heredity.Genome, int, error) {
	if o.cfg.Store == nil {
		return nil, 0, nil
	}
	pop, records, ok, err := o.cfg.Store.GetPopulation(ctx, o.cfg.PopulationID)
	if err != nil {
		return nil, 0, fmt.Errorf("read population %q: %w", o.cfg.PopulationID, err)
	}
	if !ok {
		return nil, 0, nil
	}
	if len(records) == 0 {
		return nil, 0, fmt.Errorf("read population %q: %w", o.cfg.PopulationID, ErrEmptyPopulation)
	}
	genomes := make([]heredity.Genome, len(records))
	for i, r := range records {
		genomes[i] = r.Genome()
	}
	return genomes, pop.Generation, nil
}

// Evaluate scores every genome in turn. Each genome is bound into the shared
// graph, measured, and released before the next one. Evaluations are not
// interrupted by ctx once the generation has started.
func (o *Optimizer) Evaluate(ctx context.Context) ([]ScoredGenome, error) {
	if o.population == nil {
		return nil, ErrNotInitialized
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	run := context.WithoutCancel(ctx)
	genomes := o.population.Genomes()
	scored := make([]ScoredGenome, len(genomes))
	for i, g := range genomes {
		o.cfg.Progress.Evaluate()
		act, err := o.population.Enable(i)
		if err != nil {
			return nil, fmt.Errorf("enable genome %q: %w: %w", g.ID, ErrBindViolation, err)
		}
		score, evalErr := o.cfg.Health.ComputeHealth(run)
		if err := act.Disable(); err != nil {
			return nil, fmt.Errorf("disable genome %q: %w: %w", g.ID, ErrBindViolation, err)
		}
		if evalErr != nil {
			return nil, fmt.Errorf("evaluate genome %q: %w", g.ID, evalErr)
		}
		o.cfg.Logger.Debug("genome evaluated", "generation", o.generation, "genome", g.ID, "score", score.Value, "outcome", score.Outcome)
		scored[i] = ScoredGenome{Genome: g, Health: score.Value, Frames: score.Frames}
	}
	return scored, nil
}

// Iterate runs one generation: evaluate, rank by health and breed the next
// population.
func (o *Optimizer) Iterate(ctx context.Context) (model.GenerationDiagnostics, error) {
	scored, err := o.Evaluate(ctx)
	if err != nil {
		return model.GenerationDiagnostics{}, err
	}
	ranked := rank(o.cfg.Postprocessor.Process(scored))
	diag := summarizeGeneration(ranked, o.generation)
	o.cfg.Logger.Info("generation evaluated",
		"generation", o.generation,
		"best", diag.BestHealth,
		"mean", diag.MeanHealth,
		"genome", diag.BestGenomeID)

	breeding, err := o.BreedingComplete(ranked)
	if err != nil {
		return model.GenerationDiagnostics{}, err
	}
	diag.Survivors = breeding.Survivors
	diag.Dropped = breeding.Dropped
	diag.Bred = breeding.Bred
	diag.Generated = breeding.Generated

	if err := o.population.Replace(breeding.Genomes); err != nil {
		return model.GenerationDiagnostics{}, err
	}
	o.ranked = ranked
	o.diagnostics = append(o.diagnostics, diag)
	o.lineage = append(o.lineage, breeding.Lineage...)
	o.generation++
	o.cfg.Metrics.generation(diag, len(breeding.Genomes))
	return diag, nil
}

// Breeding is the next generation and how it was made.
type Breeding struct {
	Genomes   []heredity.Genome
	Lineage   []model.LineageRecord
	Survivors int
	Dropped   int
	Bred      int
	Generated int
}

// BreedingComplete produces the next generation from genomes ranked best
// first. Genomes below LowestHealth do not breed. Surviving pairs produce up
// to MaxChildren children and the generator fills the rest of
// PopulationSize.
func (o *Optimizer) BreedingComplete(ranked []ScoredGenome) (Breeding, error) {
	var out Breeding
	survivors := make([]ScoredGenome, 0, len(ranked))
	for _, item := range ranked {
		if item.Health >= o.cfg.LowestHealth {
			survivors = append(survivors, item)
		}
	}
	out.Survivors = len(survivors)
	out.Dropped = len(ranked) - len(survivors)

	pairs, err := o.cfg.Pairing.Pairs(o.rng, survivors, o.cfg.MaxChildren)
	if err != nil {
		return Breeding{}, fmt.Errorf("pairing %s: %w", o.cfg.Pairing.Name(), err)
	}

	out.Genomes = make([]heredity.Genome, 0, o.cfg.PopulationSize)
	out.Lineage = make([]model.LineageRecord, 0, o.cfg.PopulationSize)
	generation := o.generation + 1
	for _, p := range pairs {
		if len(out.Genomes) >= o.cfg.MaxChildren {
			break
		}
		if err := o.breedChild(&out, p, generation); err != nil {
			return Breeding{}, err
		}
		for _, potential := range o.cfg.OffspringPotentials {
			if len(out.Genomes) >= o.cfg.MaxChildren || o.rng.Float64() >= potential {
				break
			}
			if err := o.breedChild(&out, p, generation); err != nil {
				return Breeding{}, err
			}
		}
	}
	out.Bred = len(out.Genomes)

	for len(out.Genomes) < o.cfg.PopulationSize {
		g := o.generator.Next()
		out.Genomes = append(out.Genomes, g)
		out.Lineage = append(out.Lineage, model.LineageRecord{GenomeID: g.ID, Generation: generation, Operation: model.OperationGenerated})
	}
	out.Generated = len(out.Genomes) - out.Bred
	return out, nil
}

func (o *Optimizer) breedChild(out *Breeding, p Pair, generation int) error {
	child, err := o.cfg.Breeder.Breed(p.First, p.Second, o.rng)
	if err != nil {
		return fmt.Errorf("breed %q with %q: %w", p.First.ID, p.Second.ID, err)
	}
	child.ID = uuid.NewString()
	out.Genomes = append(out.Genomes, child)
	out.Lineage = append(out.Lineage, model.LineageRecord{
		GenomeID:   child.ID,
		ParentIDs:  []string{p.First.ID, p.Second.ID},
		Generation: generation,
		Operation:  model.OperationBred,
	})
	return nil
}

// StorePopulation writes the current population, diagnostics, lineage and run
// progress. It is a no-op without a store.
func (o *Optimizer) StorePopulation(ctx context.Context) error {
	if o.cfg.Store == nil || o.population == nil {
		return nil
	}
	genomes := o.population.Genomes()
	records := make([]model.GenomeRecord, len(genomes))
	ids := make([]string, len(genomes))
	for i, g := range genomes {
		records[i] = model.FromGenome(g, o.generation)
		ids[i] = g.ID
	}
	pop := model.PopulationRecord{
		ID:         o.cfg.PopulationID,
		Generation: o.generation,
		GenomeIDs:  ids,
		UpdatedAt:  o.cfg.Now().UTC(),
	}
	if err := o.cfg.Store.SavePopulation(ctx, pop, records); err != nil {
		return fmt.Errorf("store population %q: %w", o.cfg.PopulationID, err)
	}
	if err := o.cfg.Store.SaveGenerationDiagnostics(ctx, o.cfg.RunID, o.diagnostics); err != nil {
		return fmt.Errorf("store diagnostics: %w", err)
	}
	if err := o.cfg.Store.SaveLineage(ctx, o.cfg.RunID, o.lineage); err != nil {
		return fmt.Errorf("store lineage: %w", err)
	}
	return nil
}

// Run reads the population if needed, then evaluates, breeds and stores it
// for Cycles cycles. Cancellation is observed between cycles. A failed store
// is logged and the run continues; a bind violation or execution fault ends
// it.
func (o *Optimizer) Run(ctx context.Context) (RunResult, error) {
	if o.population == nil {
		if err := o.ReadPopulation(ctx); err != nil {
			return RunResult{}, err
		}
	}

	run := model.RunRecord{
		ID:           o.cfg.RunID,
		PopulationID: o.cfg.PopulationID,
		Status:       model.RunRunning,
		Cycles:       o.cfg.Cycles,
		StartedAt:    o.cfg.Now().UTC(),
	}
	o.saveRun(ctx, run)

	var runErr error
	completed := 0
	for cycle := 0; cycle < o.cfg.Cycles; cycle++ {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		o.cfg.Progress.Cycle()

		var diag model.GenerationDiagnostics
		step := func() error {
			var err error
			diag, err = o.Iterate(ctx)
			return err
		}
		var err error
		if o.cfg.Isolated {
			err = o.backend().Isolated("cycle", func(*hardware.Context) error { return step() })
		} else {
			err = step()
		}
		if err != nil {
			o.cfg.Progress.Done()
			runErr = err
			break
		}
		completed++

		o.cfg.Progress.Store()
		storeErr := o.StorePopulation(context.WithoutCancel(ctx))
		if storeErr != nil {
			o.cfg.Metrics.storeFailure()
			o.cfg.Logger.Warn("population not stored", "generation", o.generation, "error", storeErr)
		}
		o.cfg.Progress.Done()

		run.Completed = completed
		if diag.BestHealth >= run.BestHealth {
			run.BestHealth = diag.BestHealth
			run.BestGenomeID = diag.BestGenomeID
		}
		o.saveRun(ctx, run)
		if o.cfg.OnCycle != nil {
			o.cfg.OnCycle(CycleReport{Cycle: cycle, Diagnostics: diag, Stored: storeErr == nil && o.cfg.Store != nil, StoreErr: storeErr})
		}
	}

	run.Completed = completed
	run.FinishedAt = o.cfg.Now().UTC()
	switch {
	case runErr == nil:
		run.Status = model.RunCompleted
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
		run.Status = model.RunCanceled
	default:
		run.Status = model.RunFailed
		run.Error = runErr.Error()
	}
	o.saveRun(ctx, run)
	o.cfg.Logger.Info("run finished", "run", run.ID, "status", run.Status, "cycles", completed, "best", run.BestHealth)

	result := RunResult{
		RunID:       o.cfg.RunID,
		Cycles:      completed,
		Diagnostics: o.Diagnostics(),
		Lineage:     o.Lineage(),
		Final:       o.Ranked(),
		Population:  o.population.Genomes(),
	}
	return result, runErr
}

func (o *Optimizer) backend() *hardware.Scope {
	return o.cfg.Health.Backend()
}

func (o *Optimizer) saveRun(ctx context.Context, run model.RunRecord) {
	if o.cfg.Store == nil {
		return
	}
	if err := o.cfg.Store.SaveRun(context.WithoutCancel(ctx), run); err != nil {
		o.cfg.Logger.Warn("run record not stored", "run", run.ID, "error", err)
	}
}

// rank sorts best first. Ties keep evaluation order.
func rank(scored []ScoredGenome) []ScoredGenome {
	out := cloneScored(scored)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Health > out[j].Health
	})
	return out
}
