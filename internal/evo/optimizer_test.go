package evo

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rings/internal/hardware"
	"rings/internal/health"
	"rings/internal/heredity"
	"rings/internal/model"
	"rings/internal/organ"
	"rings/internal/storage"
)

type failingPopulationStore struct {
	*storage.MemoryStore
	saves int
}

func (s *failingPopulationStore) SavePopulation(context.Context, model.PopulationRecord, []model.GenomeRecord) error {
	s.saves++
	return errors.New("disk full")
}

func newOptimizer(t *testing.T, cfg OptimizerConfig) *Optimizer {
	t.Helper()
	o, err := NewOptimizer(cfg)
	require.NoError(t, err)
	return o
}

func memoryStore(t *testing.T) *storage.MemoryStore {
	t.Helper()
	s := storage.NewMemoryStore()
	require.NoError(t, s.Init(context.Background()))
	return s
}

func TestNewOptimizerValidatesConfig(t *testing.T) {
	mutations := map[string]func(*OptimizerConfig){
		"missing builder":      func(c *OptimizerConfig) { c.Builder = nil },
		"missing health":       func(c *OptimizerConfig) { c.Health = nil },
		"empty template":       func(c *OptimizerConfig) { c.Template = heredity.Template{} },
		"zero population":      func(c *OptimizerConfig) { c.PopulationSize = 0 },
		"too many children":    func(c *OptimizerConfig) { c.MaxChildren = c.PopulationSize + 1 },
		"negative children":    func(c *OptimizerConfig) { c.MaxChildren = -1 },
		"lowest health above":  func(c *OptimizerConfig) { c.LowestHealth = 1.5 },
		"potential above one":  func(c *OptimizerConfig) { c.OffspringPotentials = []float64{0.5, 1.5} },
		"negative potential":   func(c *OptimizerConfig) { c.OffspringPotentials = []float64{-0.1} },
		"zero cycles":          func(c *OptimizerConfig) { c.Cycles = 0 },
		"store without pop id": func(c *OptimizerConfig) { c.Store = storage.NewMemoryStore() },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			cfg := rampConfig(t)
			mutate(&cfg)
			_, err := NewOptimizer(cfg)
			assert.Error(t, err)
		})
	}

	o := newOptimizer(t, rampConfig(t))
	assert.NotEmpty(t, o.RunID(), "run id is generated")
}

func TestDefaultOptimizerConfig(t *testing.T) {
	cfg := DefaultOptimizerConfig()
	assert.Equal(t, 60, cfg.PopulationSize)
	assert.Equal(t, 50, cfg.MaxChildren)
	assert.Zero(t, cfg.LowestHealth)
	assert.Empty(t, cfg.OffspringPotentials, "one child per pair by default")
}

func TestReadPopulationGeneratesWhenMissing(t *testing.T) {
	cfg := rampConfig(t)
	cfg.Store = memoryStore(t)
	cfg.PopulationID = "missing"
	o := newOptimizer(t, cfg)

	require.NoError(t, o.ReadPopulation(context.Background()))
	assert.Equal(t, cfg.PopulationSize, o.Population().Size())
	for _, rec := range o.Lineage() {
		assert.Equal(t, model.OperationSeed, rec.Operation)
	}
}

func TestReadPopulationRejectsEmptyStoredPopulation(t *testing.T) {
	store := memoryStore(t)
	require.NoError(t, store.SavePopulation(context.Background(), model.PopulationRecord{ID: "pop"}, nil))
	cfg := rampConfig(t)
	cfg.Store = store
	cfg.PopulationID = "pop"
	o := newOptimizer(t, cfg)
	assert.ErrorIs(t, o.ReadPopulation(context.Background()), ErrEmptyPopulation)
}

func TestIterateRanksByHealth(t *testing.T) {
	cfg := rampConfig(t)
	o := newOptimizer(t, cfg)
	require.NoError(t, o.ReadPopulation(context.Background()))
	evaluated := o.Population().Genomes()

	diag, err := o.Iterate(context.Background())
	require.NoError(t, err)
	ranked := o.Ranked()
	require.Len(t, ranked, len(evaluated))
	for i := 1; i < len(ranked); i++ {
		require.LessOrEqual(t, ranked[i].Health, ranked[i-1].Health, "not sorted at %d", i)
		// steeper ramps clip earlier
		if ranked[i].Health < ranked[i-1].Health {
			assert.GreaterOrEqual(t, ranked[i].Genome.Chromosomes[0][0][0], ranked[i-1].Genome.Chromosomes[0][0][0], "gentler ramp ranked lower at %d", i)
		}
	}
	assert.Equal(t, len(evaluated), diag.Evaluated)
	assert.Equal(t, ranked[0].Health, diag.BestHealth)
	assert.Equal(t, ranked[0].Genome.ID, diag.BestGenomeID)
	assert.LessOrEqual(t, diag.MinHealth, diag.MeanHealth)
	assert.LessOrEqual(t, diag.MeanHealth, diag.BestHealth)
	assert.Equal(t, 1, o.Generation())
	_, ok := o.Population().Active()
	assert.False(t, ok, "a genome was left enabled")
}

func TestBreedingCompleteHonorsPolicy(t *testing.T) {
	cfg := rampConfig(t)
	cfg.PopulationSize = 6
	cfg.MaxChildren = 2
	cfg.LowestHealth = 0.5
	o := newOptimizer(t, cfg)

	ranked := []ScoredGenome{
		{Genome: rampGenome("a", 0.1), Health: 0.9},
		{Genome: rampGenome("b", 0.2), Health: 0.8},
		{Genome: rampGenome("c", 0.3), Health: 0.7},
		{Genome: rampGenome("d", 0.4), Health: 0.6},
		{Genome: rampGenome("e", 0.5), Health: 0.2},
	}
	out, err := o.BreedingComplete(ranked)
	require.NoError(t, err)
	assert.Equal(t, 4, out.Survivors)
	assert.Equal(t, 1, out.Dropped)
	assert.Equal(t, 2, out.Bred)
	assert.Equal(t, 4, out.Generated)
	require.Len(t, out.Genomes, 6)

	wantParents := [][]string{{"a", "b"}, {"b", "c"}}
	for i, want := range wantParents {
		got := out.Lineage[i]
		assert.Equal(t, model.OperationBred, got.Operation)
		assert.Equal(t, want, got.ParentIDs)
		assert.Equal(t, out.Genomes[i].ID, got.GenomeID)
		assert.Equal(t, 1, got.Generation)
	}
	for _, rec := range out.Lineage[2:] {
		assert.Equal(t, model.OperationGenerated, rec.Operation)
	}
	// averaging parents 0.1 and 0.2
	assert.InDelta(t, 0.15, out.Genomes[0].Chromosomes[0][0][0], 1e-4)
}

func TestBreedingCompleteOffspringPotentials(t *testing.T) {
	ranked := []ScoredGenome{
		{Genome: rampGenome("a", 0.1), Health: 0.9},
		{Genome: rampGenome("b", 0.2), Health: 0.8},
		{Genome: rampGenome("c", 0.3), Health: 0.7},
	}
	cases := []struct {
		name        string
		potentials  []float64
		maxChildren int
		wantParents [][]string
	}{
		{
			name:        "one child per pair",
			maxChildren: 12,
			wantParents: [][]string{{"a", "b"}, {"b", "c"}},
		},
		{
			name:        "never a second",
			potentials:  []float64{0, 1, 1},
			maxChildren: 12,
			wantParents: [][]string{{"a", "b"}, {"b", "c"}},
		},
		{
			name:        "always a second",
			potentials:  []float64{1},
			maxChildren: 12,
			wantParents: [][]string{{"a", "b"}, {"a", "b"}, {"b", "c"}, {"b", "c"}},
		},
		{
			name:        "chain stops at zero",
			potentials:  []float64{1, 0, 1},
			maxChildren: 12,
			wantParents: [][]string{{"a", "b"}, {"a", "b"}, {"b", "c"}, {"b", "c"}},
		},
		{
			name:        "four per pair",
			potentials:  []float64{1, 1, 1},
			maxChildren: 12,
			wantParents: [][]string{
				{"a", "b"}, {"a", "b"}, {"a", "b"}, {"a", "b"},
				{"b", "c"}, {"b", "c"}, {"b", "c"}, {"b", "c"},
			},
		},
		{
			name:        "capped by max children",
			potentials:  []float64{1, 1, 1},
			maxChildren: 5,
			wantParents: [][]string{{"a", "b"}, {"a", "b"}, {"a", "b"}, {"a", "b"}, {"b", "c"}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := rampConfig(t)
			cfg.PopulationSize = 12
			cfg.MaxChildren = tc.maxChildren
			cfg.OffspringPotentials = tc.potentials
			o := newOptimizer(t, cfg)

			out, err := o.BreedingComplete(ranked)
			require.NoError(t, err)
			require.Equal(t, len(tc.wantParents), out.Bred)
			assert.Len(t, out.Genomes, 12)
			assert.Equal(t, 12-out.Bred, out.Generated)
			for i, want := range tc.wantParents {
				assert.Equal(t, model.OperationBred, out.Lineage[i].Operation)
				assert.Equal(t, want, out.Lineage[i].ParentIDs, "child %d", i)
			}
		})
	}
}

func TestBreedingCompleteRejectsArityMismatch(t *testing.T) {
	o := newOptimizer(t, rampConfig(t))
	odd := heredity.Genome{ID: "odd", Chromosomes: []heredity.Chromosome{{{0.1}}, {{0.2}}}}
	_, err := o.BreedingComplete([]ScoredGenome{
		{Genome: rampGenome("a", 0.1), Health: 1},
		{Genome: odd, Health: 1},
	})
	assert.ErrorIs(t, err, heredity.ErrArityMismatch)
}

func TestRunPersistsAndReloadsPopulation(t *testing.T) {
	ctx := context.Background()
	store := memoryStore(t)
	cfg := rampConfig(t)
	cfg.Store = store
	cfg.PopulationID = "pop"
	cfg.Cycles = 2
	o := newOptimizer(t, cfg)

	result, err := o.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Cycles)
	assert.Len(t, result.Diagnostics, 2)

	pop, records, ok, err := store.GetPopulation(ctx, "pop")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, pop.Generation)
	assert.Len(t, records, cfg.PopulationSize)

	diagnostics, ok, err := store.GetGenerationDiagnostics(ctx, result.RunID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, diagnostics, 2)

	lineage, ok, err := store.GetLineage(ctx, result.RunID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, lineage, 3*cfg.PopulationSize)

	run, ok, err := store.GetRun(ctx, result.RunID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.RunCompleted, run.Status)
	assert.Equal(t, 2, run.Completed)
	assert.NotEmpty(t, run.BestGenomeID)

	reloadCfg := rampConfig(t)
	reloadCfg.Store = store
	reloadCfg.PopulationID = "pop"
	reloaded := newOptimizer(t, reloadCfg)
	require.NoError(t, reloaded.ReadPopulation(ctx))
	assert.Equal(t, 2, reloaded.Generation())

	got := reloaded.Population().Genomes()
	want := result.Population
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].ID, got[i].ID)
		assert.Equal(t, want[i].String(), got[i].String(), "genome %d differs after reload", i)
	}
	assert.Equal(t, model.OperationLoaded, reloaded.Lineage()[0].Operation)
}

func TestRunContinuesWhenStoreFails(t *testing.T) {
	store := &failingPopulationStore{MemoryStore: memoryStore(t)}
	cfg := rampConfig(t)
	cfg.Store = store
	cfg.PopulationID = "pop"
	cfg.Cycles = 3
	var reports []CycleReport
	cfg.OnCycle = func(r CycleReport) { reports = append(reports, r) }
	o := newOptimizer(t, cfg)

	result, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Cycles)
	assert.Equal(t, 3, store.saves)
	for _, r := range reports {
		assert.False(t, r.Stored)
		assert.Error(t, r.StoreErr)
	}
	run, ok, err := store.GetRun(context.Background(), result.RunID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.RunCompleted, run.Status)
}

func TestRunStopsBetweenCyclesOnCancel(t *testing.T) {
	store := memoryStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := rampConfig(t)
	cfg.Store = store
	cfg.PopulationID = "pop"
	cfg.Cycles = 5
	cfg.OnCycle = func(CycleReport) { cancel() }
	o := newOptimizer(t, cfg)

	result, err := o.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, result.Cycles)
	assert.Len(t, result.Population, cfg.PopulationSize, "full population after cancel")

	run, ok, err := store.GetRun(context.Background(), result.RunID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.RunCanceled, run.Status)
}

func TestRunAbortsOnBindViolation(t *testing.T) {
	o := newOptimizer(t, rampConfig(t))
	require.NoError(t, o.ReadPopulation(context.Background()))
	_, err := o.Population().Enable(0)
	require.NoError(t, err)

	result, err := o.Run(context.Background())
	assert.ErrorIs(t, err, ErrBindViolation)
	assert.ErrorIs(t, err, heredity.ErrAlreadyBound)
	assert.Zero(t, result.Cycles)
}

func TestRunSurfacesExecutionFaults(t *testing.T) {
	store := memoryStore(t)
	cfg := rampConfig(t)
	cfg.Store = store
	cfg.PopulationID = "pop"
	cfg.Builder = rampBuilder(nil, func(float64) error { return errForcedFault })
	o := newOptimizer(t, cfg)

	result, err := o.Run(context.Background())
	var exec *hardware.ExecutionError
	require.ErrorAs(t, err, &exec)
	assert.ErrorIs(t, err, errForcedFault)
	assert.Equal(t, "ramp", exec.Op)
	_, ok := o.Population().Active()
	assert.False(t, ok, "faulting genome was left enabled")

	run, ok, err := store.GetRun(context.Background(), result.RunID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.RunFailed, run.Status)
	assert.Contains(t, run.Error, "forced fault")
}

func TestRunIsolatedCycles(t *testing.T) {
	cfg := rampConfig(t)
	cfg.Isolated = true
	cfg.Cycles = 2
	o := newOptimizer(t, cfg)

	_, err := o.Run(context.Background())
	require.NoError(t, err)
	base := cfg.Health.Backend().Current()
	assert.False(t, base.Destroyed())
	assert.Equal(t, "default", base.Name(), "back on the base context")
	assert.Zero(t, base.Runs(), "isolated cycles leave the base context unused")
}

func TestRunPrintsProgressMarkers(t *testing.T) {
	var out bytes.Buffer
	cfg := rampConfig(t)
	cfg.PopulationSize = 2
	cfg.MaxChildren = 1
	cfg.Cycles = 2
	cfg.Progress = NewProgress(&out)
	o := newOptimizer(t, cfg)

	_, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "C>>S\nC>>S\n", out.String())
}

func TestRunOrganPopulationPreservesShape(t *testing.T) {
	opts := organ.DefaultOptions(1000)
	opts.Sources = 2
	opts.DelayLayers = 2
	factory, err := organ.NewFactory(opts)
	require.NoError(t, err)
	hc := health.DefaultConfig(1000)
	hc.MaxDuration = 400
	hc.StandardDuration = 400
	hc.BatchSize = 100
	hc.MaxSilence = 200
	comp, err := health.New(hc, health.Options{})
	require.NoError(t, err)

	cfg := DefaultOptimizerConfig()
	cfg.Template = factory.Template()
	cfg.Builder = OrganBuilder(factory)
	cfg.Health = comp
	cfg.Breeder = organ.DefaultBreeder()
	cfg.PopulationSize = 4
	cfg.MaxChildren = 3
	cfg.Cycles = 2
	cfg.Seed = 3
	o := newOptimizer(t, cfg)

	result, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Population, cfg.PopulationSize)
	shape := cfg.Template.Shape()
	for _, g := range result.Population {
		assert.True(t, shape.Equal(g.Shape()), "genome %q shape %s, want %s", g.ID, g.Shape(), shape)
	}
	for _, s := range result.Final {
		assert.GreaterOrEqual(t, s.Health, 0.0)
		assert.LessOrEqual(t, s.Health, 1.0)
	}
}
