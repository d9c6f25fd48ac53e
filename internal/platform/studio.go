// Package platform hosts the studio: the long-lived owner of the population
// store, the sample feature cache and the execution backend. Evolutions are
// started through it and can be stopped by run id.
package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"rings/internal/audio"
	"rings/internal/evo"
	"rings/internal/hardware"
	"rings/internal/health"
	"rings/internal/heredity"
	"rings/internal/library"
	"rings/internal/model"
	"rings/internal/organ"
	"rings/internal/stats"
	"rings/internal/storage"
)

var (
	ErrNotStarted   = errors.New("studio is not initialized")
	ErrRunActive    = errors.New("run already active")
	ErrNoSampleDir  = errors.New("studio has no sample directory")
	ErrNoPopulation = errors.New("population not found")
)

const featureCacheDir = ".features"

type Config struct {
	Store      storage.Store
	SampleRate int
	Health     health.Config
	Organ      organ.Options

	// SampleDir holds WAV files usable as generator sources. Their features
	// are cached in Cache.
	SampleDir string
	Cache     library.CacheConfig

	// ArtifactsDir receives one directory per finished run when set.
	ArtifactsDir string
	// OutputDir receives a recording per evaluation when Health.EnableOutput
	// is set.
	OutputDir string

	Registry prometheus.Registerer
	Logger   *slog.Logger
	Now      func() time.Time
}

func DefaultConfig(sampleRate int) Config {
	if sampleRate <= 0 {
		sampleRate = health.DefaultSampleRate
	}
	return Config{
		SampleRate: sampleRate,
		Health:     health.DefaultConfig(sampleRate),
		Organ:      organ.DefaultOptions(sampleRate),
		Cache:      library.CacheConfig{Workers: 2},
	}
}

type EvolutionConfig struct {
	RunID          string
	PopulationID   string
	PopulationSize int
	// MaxChildren caps bred children per generation. Nil keeps the
	// optimizer default; zero disables breeding.
	MaxChildren         *int
	OffspringPotentials []float64
	LowestHealth        float64
	Cycles              int
	Seed                int64
	Pairing             string
	TournamentSize      int
	SharingRadius       float64
	Isolated            bool
	// UseSamples plays the loaded samples instead of sine generators.
	UseSamples bool
	Progress   io.Writer
	OnCycle    func(evo.CycleReport)
}

type EvolutionResult struct {
	Run          model.RunRecord
	Result       evo.RunResult
	ArtifactsDir string
}

type Studio struct {
	cfg     Config
	store   storage.Store
	logger  *slog.Logger
	backend *hardware.Scope

	healthMetrics *health.Metrics
	evoMetrics    *evo.Metrics

	mu       sync.RWMutex
	started  bool
	cache    *library.Cache
	samples  []audio.Sample
	features []library.Features
	runs     map[string]context.CancelFunc
}

func NewStudio(cfg Config) *Studio {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Studio{
		cfg:    cfg,
		store:  cfg.Store,
		logger: cfg.Logger,
		runs:   make(map[string]context.CancelFunc),
	}
}

// Init prepares the store, the backend and, with a sample directory, the
// feature cache. It is idempotent.
func (s *Studio) Init(ctx context.Context) error {
	if s.store == nil {
		return fmt.Errorf("store is required")
	}
	if err := s.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if err := s.store.Init(ctx); err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	if s.cfg.SampleDir != "" {
		cacheCfg := s.cfg.Cache
		if !cacheCfg.InMemory && cacheCfg.Path == "" {
			cacheCfg.Path = filepath.Join(s.cfg.SampleDir, featureCacheDir)
		}
		if cacheCfg.Logger == nil {
			cacheCfg.Logger = s.logger
		}
		cache, err := library.OpenCache(cacheCfg, library.WAVSource(s.cfg.SampleDir, s.cfg.SampleRate))
		if err != nil {
			return err
		}
		s.cache = cache
	}
	if s.cfg.Registry != nil && s.healthMetrics == nil {
		s.healthMetrics = health.NewMetrics(s.cfg.Registry)
		s.evoMetrics = evo.NewMetrics(s.cfg.Registry)
	}
	s.backend = hardware.NewScope(nil, s.logger)
	s.started = true
	return nil
}

func (s *Studio) validate() error {
	if s.cfg.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be > 0")
	}
	if s.cfg.Health.SampleRate != s.cfg.SampleRate {
		return fmt.Errorf("health sample rate %d does not match studio sample rate %d", s.cfg.Health.SampleRate, s.cfg.SampleRate)
	}
	if err := s.cfg.Health.Validate(); err != nil {
		return fmt.Errorf("health: %w", err)
	}
	o := s.cfg.Organ
	o.SampleRate = s.cfg.SampleRate
	o.Samples = nil
	if err := o.Validate(); err != nil {
		return fmt.Errorf("organ: %w", err)
	}
	return nil
}

func (s *Studio) Started() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// Close stops active runs and releases the cache, backend and store.
func (s *Studio) Close() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return storage.CloseIfSupported(s.store)
	}
	for _, cancel := range s.runs {
		cancel()
	}
	s.runs = make(map[string]context.CancelFunc)
	cache := s.cache
	s.cache = nil
	s.started = false
	backend := s.backend
	s.mu.Unlock()

	var errs []error
	if cache != nil {
		errs = append(errs, cache.Close())
	}
	backend.Close()
	errs = append(errs, storage.CloseIfSupported(s.store))
	return errors.Join(errs...)
}

// Template is the organ genome template for the current samples.
func (s *Studio) Template(useSamples bool) (heredity.Template, error) {
	f, err := s.factory(useSamples)
	if err != nil {
		return heredity.Template{}, err
	}
	return f.Template(), nil
}

func (s *Studio) factory(useSamples bool) (*organ.Factory, error) {
	opts := s.cfg.Organ
	opts.SampleRate = s.cfg.SampleRate
	opts.Samples = nil
	if useSamples {
		s.mu.RLock()
		opts.Samples = append([]audio.Sample(nil), s.samples...)
		s.mu.RUnlock()
		if len(opts.Samples) == 0 {
			return nil, fmt.Errorf("no samples loaded")
		}
	}
	return organ.NewFactory(opts)
}

// LoadSamples decodes every WAV file in the sample directory in name order.
// Feature extraction for all of them is queued first and awaited per file;
// cache entries for files that no longer exist are removed.
func (s *Studio) LoadSamples(ctx context.Context) ([]library.Features, error) {
	cache, err := s.sampleCache()
	if err != nil {
		return nil, err
	}
	ids, err := listSamples(s.cfg.SampleDir)
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		cache.Submit(id, library.BackgroundPriority)
	}

	samples := make([]audio.Sample, 0, len(ids))
	features := make([]library.Features, 0, len(ids))
	var frames int
	for _, id := range ids {
		sample, err := audio.LoadWAV(filepath.Join(s.cfg.SampleDir, id), s.cfg.SampleRate)
		if err != nil {
			return nil, err
		}
		if len(sample.Data) == 0 {
			s.logger.Warn("skipping empty sample", "sample", id)
			continue
		}
		f, err := cache.GetAwait(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("features for %s: %w", id, err)
		}
		samples = append(samples, sample)
		features = append(features, f)
		frames += len(sample.Data)
	}

	present := make(map[string]bool, len(ids))
	for _, id := range ids {
		present[id] = true
	}
	removed, err := cache.Cleanup(func(id string) bool { return present[id] })
	if err != nil {
		s.logger.Warn("feature cache cleanup failed", "error", err)
	}

	s.mu.Lock()
	s.samples = samples
	s.features = features
	s.mu.Unlock()
	s.logger.Info("samples loaded",
		"samples", len(samples),
		"frames", humanize.Comma(int64(frames)),
		"removed_features", removed,
	)
	return append([]library.Features(nil), features...), nil
}

// SampleCount is the number of samples loaded by LoadSamples.
func (s *Studio) SampleCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.samples)
}

// Features returns the cached features of one sample, computing them when
// absent.
func (s *Studio) Features(ctx context.Context, id string) (library.Features, error) {
	cache, err := s.sampleCache()
	if err != nil {
		return library.Features{}, err
	}
	return cache.GetAwait(ctx, library.SampleID(id))
}

// PinSample keeps a sample's features through cache cleanup.
func (s *Studio) PinSample(id string) error {
	cache, err := s.sampleCache()
	if err != nil {
		return err
	}
	return cache.MarkPersistent(library.SampleID(id))
}

// SimilarSamples ranks the loaded samples by envelope similarity to id, most
// similar first, excluding id itself.
func (s *Studio) SimilarSamples(ctx context.Context, id string) ([]SampleMatch, error) {
	ref, err := s.Features(ctx, id)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	loaded := append([]library.Features(nil), s.features...)
	s.mu.RUnlock()

	matches := make([]SampleMatch, 0, len(loaded))
	for _, f := range loaded {
		if f.ID == ref.ID {
			continue
		}
		matches = append(matches, SampleMatch{ID: f.ID, Similarity: library.Similarity(ref, f)})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	return matches, nil
}

type SampleMatch struct {
	ID         string  `json:"id"`
	Similarity float64 `json:"similarity"`
}

func (s *Studio) sampleCache() (*library.Cache, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	if s.cache == nil {
		return nil, ErrNoSampleDir
	}
	return s.cache, nil
}

func listSamples(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".wav") {
			continue
		}
		ids = append(ids, e.Name())
	}
	sort.Strings(ids)
	return ids, nil
}

// RunEvolution evolves cfg.PopulationID for cfg.Cycles cycles. The run can be
// stopped through Stop with its run id; a stopped run still writes its
// artifacts and returns its partial result with the cancellation error.
func (s *Studio) RunEvolution(ctx context.Context, cfg EvolutionConfig) (EvolutionResult, error) {
	if !s.Started() {
		return EvolutionResult{}, ErrNotStarted
	}
	if cfg.PopulationID == "" {
		return EvolutionResult{}, fmt.Errorf("population id is required")
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	pairing, err := evo.PairingByName(cfg.Pairing, cfg.TournamentSize)
	if err != nil {
		return EvolutionResult{}, err
	}
	factory, err := s.factory(cfg.UseSamples)
	if err != nil {
		return EvolutionResult{}, err
	}

	hopts := health.Options{Backend: s.backend, Logger: s.logger, Metrics: s.healthMetrics, Now: s.cfg.Now}
	if s.cfg.OutputDir != "" {
		hopts.Outputs = audio.NewOutputNamer(filepath.Join(s.cfg.OutputDir, cfg.RunID), "output")
	}
	computation, err := health.New(s.cfg.Health, hopts)
	if err != nil {
		return EvolutionResult{}, err
	}

	ocfg := evo.DefaultOptimizerConfig()
	ocfg.Template = factory.Template()
	ocfg.Builder = evo.OrganBuilder(factory)
	ocfg.Health = computation
	ocfg.Breeder = organ.DefaultBreeder()
	ocfg.Pairing = pairing
	ocfg.Postprocessor = evo.PostprocessorFor(cfg.SharingRadius)
	if cfg.PopulationSize > 0 {
		ocfg.PopulationSize = cfg.PopulationSize
		ocfg.MaxChildren = min(ocfg.MaxChildren, cfg.PopulationSize)
	}
	if cfg.MaxChildren != nil {
		ocfg.MaxChildren = *cfg.MaxChildren
	}
	ocfg.OffspringPotentials = cfg.OffspringPotentials
	if cfg.Cycles > 0 {
		ocfg.Cycles = cfg.Cycles
	}
	ocfg.LowestHealth = cfg.LowestHealth
	ocfg.Seed = cfg.Seed
	ocfg.Isolated = cfg.Isolated
	ocfg.Store = s.store
	ocfg.PopulationID = cfg.PopulationID
	ocfg.RunID = cfg.RunID
	ocfg.Logger = s.logger.With("run", cfg.RunID)
	ocfg.Metrics = s.evoMetrics
	ocfg.OnCycle = cfg.OnCycle
	ocfg.Now = s.cfg.Now
	if cfg.Progress != nil {
		ocfg.Progress = evo.NewProgress(cfg.Progress)
	}
	optimizer, err := evo.NewOptimizer(ocfg)
	if err != nil {
		return EvolutionResult{}, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := s.registerRun(cfg.RunID, cancel); err != nil {
		return EvolutionResult{}, err
	}
	defer s.unregisterRun(cfg.RunID)

	result, runErr := optimizer.Run(runCtx)
	out := EvolutionResult{Result: result}
	run, ok, err := s.store.GetRun(context.WithoutCancel(ctx), cfg.RunID)
	if err != nil {
		return out, errors.Join(runErr, err)
	}
	if ok {
		out.Run = run
	}

	if s.cfg.ArtifactsDir != "" && ok {
		dir, err := s.writeArtifacts(run, ocfg, result)
		if err != nil {
			return out, errors.Join(runErr, fmt.Errorf("write artifacts: %w", err))
		}
		out.ArtifactsDir = dir
	}
	return out, runErr
}

func (s *Studio) writeArtifacts(run model.RunRecord, ocfg evo.OptimizerConfig, result evo.RunResult) (string, error) {
	records := make([]model.GenomeRecord, len(result.Final))
	for i, scored := range result.Final {
		records[i] = model.FromGenome(scored.Genome, run.Completed)
		records[i].Health = scored.Health
		records[i].Scored = true
	}
	s.mu.RLock()
	samples := len(s.samples)
	s.mu.RUnlock()

	dir, err := stats.WriteRunArtifacts(s.cfg.ArtifactsDir, stats.RunArtifacts{
		Run: run,
		Config: stats.RunConfig{
			RunID:            run.ID,
			PopulationID:     ocfg.PopulationID,
			PopulationSize:   ocfg.PopulationSize,
			MaxChildren:      ocfg.MaxChildren,
			LowestHealth:     ocfg.LowestHealth,
			Cycles:           ocfg.Cycles,
			Seed:             ocfg.Seed,
			Pairing:          ocfg.Pairing.Name(),
			SharingRadius:    sharingRadius(ocfg.Postprocessor),
			SampleRate:       s.cfg.SampleRate,
			Sources:          s.cfg.Organ.Sources,
			DelayLayers:      s.cfg.Organ.DelayLayers,
			Samples:          samples,
			BatchSize:        s.cfg.Health.BatchSize,
			MaxDuration:      s.cfg.Health.MaxDuration,
			StandardDuration: s.cfg.Health.StandardDuration,
			MaxSilence:       s.cfg.Health.MaxSilence,
		},
		Diagnostics: result.Diagnostics,
		Lineage:     result.Lineage,
		TopGenomes:  stats.TopGenomes(records, 5),
	})
	if err != nil {
		return "", err
	}
	if err := stats.AppendRunIndex(s.cfg.ArtifactsDir, stats.RunIndexEntry{
		RunID:          run.ID,
		PopulationID:   run.PopulationID,
		Status:         run.Status,
		PopulationSize: ocfg.PopulationSize,
		Cycles:         run.Cycles,
		Completed:      run.Completed,
		Seed:           ocfg.Seed,
		BestHealth:     run.BestHealth,
		CreatedAtUTC:   run.StartedAt.UTC().Format(time.RFC3339Nano),
	}); err != nil {
		return "", err
	}
	s.logger.Info("run artifacts written", "run", run.ID, "dir", dir, "generations", len(result.Diagnostics))
	return dir, nil
}

func sharingRadius(p evo.HealthPostprocessor) float64 {
	if sp, ok := p.(evo.SharingPostprocessor); ok {
		return sp.Radius
	}
	return 0
}

func (s *Studio) registerRun(runID string, cancel context.CancelFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return ErrNotStarted
	}
	if _, exists := s.runs[runID]; exists {
		return fmt.Errorf("%w: %s", ErrRunActive, runID)
	}
	s.runs[runID] = cancel
	return nil
}

func (s *Studio) unregisterRun(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, runID)
}

// Stop cancels an active run. The run ends after its current cycle.
func (s *Studio) Stop(runID string) bool {
	s.mu.RLock()
	cancel, ok := s.runs[runID]
	s.mu.RUnlock()
	if ok {
		cancel()
	}
	return ok
}

// ActiveRuns lists the ids of running evolutions.
func (s *Studio) ActiveRuns() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.runs))
	for id := range s.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Studio) Runs(ctx context.Context) ([]model.RunRecord, error) {
	if !s.Started() {
		return nil, ErrNotStarted
	}
	return s.store.ListRuns(ctx)
}

func (s *Studio) Run(ctx context.Context, runID string) (model.RunRecord, bool, error) {
	if !s.Started() {
		return model.RunRecord{}, false, ErrNotStarted
	}
	return s.store.GetRun(ctx, runID)
}

// RunHistory returns the stored diagnostics and lineage of a run.
func (s *Studio) RunHistory(ctx context.Context, runID string) ([]model.GenerationDiagnostics, []model.LineageRecord, error) {
	if !s.Started() {
		return nil, nil, ErrNotStarted
	}
	diagnostics, _, err := s.store.GetGenerationDiagnostics(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	lineage, _, err := s.store.GetLineage(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	return diagnostics, lineage, nil
}

// GeneratePopulation stores size fresh genomes under id at generation zero.
// An existing population is kept unless overwrite is set.
func (s *Studio) GeneratePopulation(ctx context.Context, id string, size int, seed int64, overwrite bool) ([]heredity.Genome, error) {
	if !s.Started() {
		return nil, ErrNotStarted
	}
	if id == "" {
		return nil, fmt.Errorf("population id is required")
	}
	if size <= 0 {
		return nil, fmt.Errorf("population size must be > 0")
	}
	if !overwrite {
		if _, _, ok, err := s.store.GetPopulation(ctx, id); err != nil {
			return nil, err
		} else if ok {
			return nil, fmt.Errorf("population %q already exists", id)
		}
	}
	template, err := s.Template(s.SampleCount() > 0)
	if err != nil {
		return nil, err
	}
	gen, err := heredity.NewGenerator(template, seed)
	if err != nil {
		return nil, err
	}
	genomes := gen.Generate(size)
	if err := s.savePopulation(ctx, id, 0, genomes); err != nil {
		return nil, err
	}
	s.logger.Info("population generated", "population", id, "genomes", size)
	return genomes, nil
}

func (s *Studio) savePopulation(ctx context.Context, id string, generation int, genomes []heredity.Genome) error {
	records := make([]model.GenomeRecord, len(genomes))
	ids := make([]string, len(genomes))
	for i, g := range genomes {
		records[i] = model.FromGenome(g, generation)
		ids[i] = g.ID
	}
	return s.store.SavePopulation(ctx, model.PopulationRecord{
		ID:         id,
		Generation: generation,
		GenomeIDs:  ids,
		UpdatedAt:  s.cfg.Now().UTC(),
	}, records)
}

func (s *Studio) Population(ctx context.Context, id string) (model.PopulationRecord, []model.GenomeRecord, error) {
	if !s.Started() {
		return model.PopulationRecord{}, nil, ErrNotStarted
	}
	pop, genomes, ok, err := s.store.GetPopulation(ctx, id)
	if err != nil {
		return model.PopulationRecord{}, nil, err
	}
	if !ok {
		return model.PopulationRecord{}, nil, fmt.Errorf("%w: %s", ErrNoPopulation, id)
	}
	return pop, genomes, nil
}

// ExportPopulation writes a stored population as a population stream file.
func (s *Studio) ExportPopulation(ctx context.Context, id, path string) (int, error) {
	_, genomes, err := s.Population(ctx, id)
	if err != nil {
		return 0, err
	}
	if err := storage.SavePopulationFile(path, genomes); err != nil {
		return 0, err
	}
	return len(genomes), nil
}

// ImportPopulation stores the genomes of a population stream file under id.
// Every genome must fit the organ template. A missing file is
// ErrNoPopulation.
func (s *Studio) ImportPopulation(ctx context.Context, id, path string) (int, error) {
	if !s.Started() {
		return 0, ErrNotStarted
	}
	records, ok, err := storage.LoadPopulationFile(path)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoPopulation, path)
	}
	if len(records) == 0 {
		return 0, fmt.Errorf("import %s: %w", path, evo.ErrEmptyPopulation)
	}
	template, err := s.Template(false)
	if err != nil {
		return 0, err
	}
	genomes := make([]heredity.Genome, len(records))
	generation := 0
	for i, r := range records {
		genomes[i] = r.Genome()
		if err := template.Conforms(genomes[i]); err != nil {
			return 0, fmt.Errorf("import genome %s: %w", r.ID, err)
		}
		generation = max(generation, r.Generation)
	}
	if err := s.savePopulation(ctx, id, generation, genomes); err != nil {
		return 0, err
	}
	return len(genomes), nil
}
