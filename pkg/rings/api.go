// Package rings is the client API for evolving synthesis genomes: generating
// and moving populations, running evolutions and reading their history.
package rings

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"

	"rings/internal/evo"
	"rings/internal/model"
	"rings/internal/platform"
	"rings/internal/stats"
	"rings/internal/storage"
)

const (
	defaultArtifactsDir = "runs"
	defaultExportsDir   = "exports"
	defaultDBPath       = "rings.db"
	defaultStoreKind    = "sqlite"
)

type Options struct {
	StoreKind  string
	DBPath     string
	ExportsDir string
	// Studio configures everything but the store. The zero value uses the
	// studio defaults at the default sample rate.
	Studio *platform.Config
}

type Client struct {
	studio *platform.Studio
	cfg    platform.Config

	exportsDir string
}

type EvolveRequest struct {
	RunID          string
	PopulationID   string
	PopulationSize int
	// MaxChildren is left to the default when nil.
	MaxChildren         *int
	OffspringPotentials []float64
	LowestHealth        float64
	Cycles              int
	Seed                int64
	Pairing             string
	TournamentSize      int
	SharingRadius       float64
	Isolated            bool
	UseSamples          bool
	Progress            io.Writer
	OnCycle             func(evo.CycleReport)
}

type EvolveSummary struct {
	RunID            string    `json:"run_id"`
	Status           string    `json:"status"`
	Cycles           int       `json:"cycles"`
	BestByGeneration []float64 `json:"best_by_generation"`
	BestHealth       float64   `json:"best_health"`
	BestGenomeID     string    `json:"best_genome_id,omitempty"`
	ArtifactsDir     string    `json:"artifacts_dir,omitempty"`
}

type GenerateRequest struct {
	PopulationID string
	Size         int
	Seed         int64
	Overwrite    bool
}

type GenomeItem struct {
	ID         string  `json:"id"`
	Generation int     `json:"generation"`
	Health     float64 `json:"health"`
	Scored     bool    `json:"scored"`
	Shape      [][]int `json:"shape"`
}

type PopulationSummary struct {
	ID         string       `json:"id"`
	Generation int          `json:"generation"`
	Genomes    []GenomeItem `json:"genomes"`
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID        string  `json:"run_id"`
	PopulationID string  `json:"population_id"`
	Status       string  `json:"status"`
	Cycles       int     `json:"cycles"`
	Completed    int     `json:"completed"`
	BestHealth   float64 `json:"best_health"`
	StartedAtUTC string  `json:"started_at_utc"`
	Error        string  `json:"error,omitempty"`
}

type HistoryRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type FeatureItem struct {
	ID         string   `json:"id"`
	Seconds    float64  `json:"seconds"`
	Peak       float64  `json:"peak"`
	RMS        float64  `json:"rms"`
	Similarity *float64 `json:"similarity,omitempty"`
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string `json:"run_id"`
	Directory string `json:"directory"`
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = defaultStoreKind
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	cfg := platform.DefaultConfig(0)
	cfg.ArtifactsDir = defaultArtifactsDir
	if opts.Studio != nil {
		cfg = *opts.Studio
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}
	cfg.Store = store
	return &Client{
		studio:     platform.NewStudio(cfg),
		cfg:        cfg,
		exportsDir: exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return c.studio.Close()
}

func (c *Client) Init(ctx context.Context) error {
	return c.studio.Init(ctx)
}

// Evolve runs one evolution to completion or until ctx is canceled. Samples
// are loaded first when the request plays them and none are loaded yet.
func (c *Client) Evolve(ctx context.Context, req EvolveRequest) (EvolveSummary, error) {
	if req.PopulationID == "" {
		return EvolveSummary{}, errors.New("population id is required")
	}
	if err := c.Init(ctx); err != nil {
		return EvolveSummary{}, err
	}
	if req.UseSamples && c.studio.SampleCount() == 0 {
		if _, err := c.studio.LoadSamples(ctx); err != nil {
			return EvolveSummary{}, err
		}
	}

	res, err := c.studio.RunEvolution(ctx, platform.EvolutionConfig{
		RunID:               req.RunID,
		PopulationID:        req.PopulationID,
		PopulationSize:      req.PopulationSize,
		MaxChildren:         req.MaxChildren,
		OffspringPotentials: req.OffspringPotentials,
		LowestHealth:        req.LowestHealth,
		Cycles:              req.Cycles,
		Seed:                req.Seed,
		Pairing:             req.Pairing,
		TournamentSize:      req.TournamentSize,
		SharingRadius:       req.SharingRadius,
		Isolated:            req.Isolated,
		UseSamples:          req.UseSamples,
		Progress:            req.Progress,
		OnCycle:             req.OnCycle,
	})
	best := make([]float64, len(res.Result.Diagnostics))
	for i, d := range res.Result.Diagnostics {
		best[i] = d.BestHealth
	}
	summary := EvolveSummary{
		RunID:            res.Run.ID,
		Status:           res.Run.Status,
		Cycles:           res.Run.Completed,
		BestByGeneration: best,
		BestHealth:       res.Run.BestHealth,
		BestGenomeID:     res.Run.BestGenomeID,
		ArtifactsDir:     res.ArtifactsDir,
	}
	if summary.RunID == "" {
		summary.RunID = res.Result.RunID
	}
	return summary, err
}

// Stop cancels an evolution started by this client.
func (c *Client) Stop(runID string) bool {
	return c.studio.Stop(runID)
}

func (c *Client) Generate(ctx context.Context, req GenerateRequest) (PopulationSummary, error) {
	if err := c.Init(ctx); err != nil {
		return PopulationSummary{}, err
	}
	if _, err := c.studio.GeneratePopulation(ctx, req.PopulationID, req.Size, req.Seed, req.Overwrite); err != nil {
		return PopulationSummary{}, err
	}
	return c.Population(ctx, req.PopulationID)
}

func (c *Client) Population(ctx context.Context, id string) (PopulationSummary, error) {
	if err := c.Init(ctx); err != nil {
		return PopulationSummary{}, err
	}
	pop, genomes, err := c.studio.Population(ctx, id)
	if err != nil {
		return PopulationSummary{}, err
	}
	out := PopulationSummary{ID: pop.ID, Generation: pop.Generation, Genomes: make([]GenomeItem, 0, len(genomes))}
	for _, g := range genomes {
		out.Genomes = append(out.Genomes, GenomeItem{
			ID:         g.ID,
			Generation: g.Generation,
			Health:     g.Health,
			Scored:     g.Scored,
			Shape:      g.Genome().Shape(),
		})
	}
	return out, nil
}

func (c *Client) ExportPopulation(ctx context.Context, id, path string) (int, error) {
	if err := c.Init(ctx); err != nil {
		return 0, err
	}
	return c.studio.ExportPopulation(ctx, id, path)
}

func (c *Client) ImportPopulation(ctx context.Context, id, path string) (int, error) {
	if err := c.Init(ctx); err != nil {
		return 0, err
	}
	return c.studio.ImportPopulation(ctx, id, path)
}

// Runs lists stored runs, newest first.
func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	runs, err := c.studio.Runs(ctx)
	if err != nil {
		return nil, err
	}
	slices.Reverse(runs)
	if req.Limit > 0 && len(runs) > req.Limit {
		runs = runs[:req.Limit]
	}
	out := make([]RunItem, 0, len(runs))
	for _, r := range runs {
		out = append(out, RunItem{
			RunID:        r.ID,
			PopulationID: r.PopulationID,
			Status:       r.Status,
			Cycles:       r.Cycles,
			Completed:    r.Completed,
			BestHealth:   r.BestHealth,
			StartedAtUTC: r.StartedAt.UTC().Format("2006-01-02T15:04:05Z"),
			Error:        r.Error,
		})
	}
	return out, nil
}

func (c *Client) Diagnostics(ctx context.Context, req HistoryRequest) ([]model.GenerationDiagnostics, error) {
	runID, err := c.resolveRun(ctx, req)
	if err != nil {
		return nil, err
	}
	diagnostics, _, err := c.studio.RunHistory(ctx, runID)
	if err != nil {
		return nil, err
	}
	if diagnostics == nil {
		return nil, fmt.Errorf("diagnostics not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(diagnostics) > req.Limit {
		diagnostics = diagnostics[:req.Limit]
	}
	return diagnostics, nil
}

func (c *Client) Lineage(ctx context.Context, req HistoryRequest) ([]model.LineageRecord, error) {
	runID, err := c.resolveRun(ctx, req)
	if err != nil {
		return nil, err
	}
	_, lineage, err := c.studio.RunHistory(ctx, runID)
	if err != nil {
		return nil, err
	}
	if lineage == nil {
		return nil, fmt.Errorf("lineage not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(lineage) > req.Limit {
		lineage = lineage[:req.Limit]
	}
	return lineage, nil
}

func (c *Client) resolveRun(ctx context.Context, req HistoryRequest) (string, error) {
	if req.RunID != "" && req.Latest {
		return "", errors.New("use either run id or latest")
	}
	if req.Limit < 0 {
		return "", errors.New("limit must be >= 0")
	}
	if err := c.Init(ctx); err != nil {
		return "", err
	}
	if !req.Latest {
		if req.RunID == "" {
			return "", errors.New("run id or latest is required")
		}
		return req.RunID, nil
	}
	runs, err := c.studio.Runs(ctx)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", errors.New("no runs available")
	}
	return runs[len(runs)-1].ID, nil
}

// Features lists the features of every sample in the sample directory. With
// similarTo set, each item also carries its similarity to that sample.
func (c *Client) Features(ctx context.Context, similarTo string) ([]FeatureItem, error) {
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	features, err := c.studio.LoadSamples(ctx)
	if err != nil {
		return nil, err
	}
	scores := map[string]float64{}
	if similarTo != "" {
		matches, err := c.studio.SimilarSamples(ctx, similarTo)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			scores[m.ID] = m.Similarity
		}
	}
	out := make([]FeatureItem, 0, len(features))
	for _, f := range features {
		item := FeatureItem{ID: f.ID, Seconds: f.Seconds(), Peak: f.Peak, RMS: f.RMS}
		if s, ok := scores[f.ID]; ok {
			item.Similarity = &s
		}
		out = append(out, item)
	}
	return out, nil
}

// Report compares runs from the artifacts directory. No ids means every
// indexed run.
func (c *Client) Report(runIDs []string) (stats.RunsReport, error) {
	if c.cfg.ArtifactsDir == "" {
		return stats.RunsReport{}, errors.New("no artifacts directory configured")
	}
	if len(runIDs) == 0 {
		entries, err := stats.ListRunIndex(c.cfg.ArtifactsDir)
		if err != nil {
			return stats.RunsReport{}, err
		}
		for _, e := range entries {
			runIDs = append(runIDs, e.RunID)
		}
	}
	return stats.BuildRunsReport(c.cfg.ArtifactsDir, runIDs)
}

// Export copies a run's artifacts into req.OutDir.
func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.RunID != "" && req.Latest {
		return ExportSummary{}, errors.New("use either run id or latest")
	}
	if req.RunID == "" && !req.Latest {
		return ExportSummary{}, errors.New("export requires run id or latest")
	}
	if c.cfg.ArtifactsDir == "" {
		return ExportSummary{}, errors.New("no artifacts directory configured")
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}

	runID := req.RunID
	if req.Latest {
		entries, err := stats.ListRunIndex(c.cfg.ArtifactsDir)
		if err != nil {
			return ExportSummary{}, err
		}
		if len(entries) == 0 {
			return ExportSummary{}, errors.New("no runs available to export")
		}
		runID = entries[0].RunID
	}

	dir, err := stats.ExportRunArtifacts(c.cfg.ArtifactsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(dir)}, nil
}
