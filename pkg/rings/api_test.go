package rings

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rings/internal/audio"
	"rings/internal/library"
	"rings/internal/model"
	"rings/internal/platform"
	"rings/internal/signal"
	"rings/internal/stats"
)

func children(n int) *int {
	return &n
}

func newTestClient(t *testing.T, sampleDir string) (*Client, string) {
	t.Helper()
	base := t.TempDir()
	cfg := platform.DefaultConfig(1000)
	cfg.Organ.Sources = 2
	cfg.Organ.DelayLayers = 2
	cfg.Health.MaxDuration = 400
	cfg.Health.StandardDuration = 400
	cfg.Health.BatchSize = 100
	cfg.Health.MaxSilence = 200
	cfg.Cache = library.InMemoryCacheConfig()
	cfg.ArtifactsDir = filepath.Join(base, "runs")
	cfg.SampleDir = sampleDir

	client, err := New(Options{
		StoreKind:  "memory",
		ExportsDir: filepath.Join(base, "exports"),
		Studio:     &cfg,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client, base
}

func TestClientEvolveRunsAndExport(t *testing.T) {
	ctx := context.Background()
	client, base := newTestClient(t, "")

	summary, err := client.Evolve(ctx, EvolveRequest{
		PopulationID:   "pop",
		PopulationSize: 4,
		MaxChildren:    children(3),
		Cycles:         2,
		Seed:           42,
	})
	require.NoError(t, err)
	require.NotEmpty(t, summary.RunID)
	assert.Equal(t, model.RunCompleted, summary.Status)
	require.Len(t, summary.BestByGeneration, 2)
	assert.Equal(t, 2, summary.Cycles)
	assert.Equal(t, filepath.Join(base, "runs", summary.RunID), summary.ArtifactsDir)

	runs, err := client.Runs(ctx, RunsRequest{Limit: 5})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, summary.RunID, runs[0].RunID)
	assert.Equal(t, "pop", runs[0].PopulationID)

	lineage, err := client.Lineage(ctx, HistoryRequest{RunID: summary.RunID, Limit: 3})
	require.NoError(t, err)
	assert.Len(t, lineage, 3)

	diagnostics, err := client.Diagnostics(ctx, HistoryRequest{Latest: true})
	require.NoError(t, err)
	require.Len(t, diagnostics, 2)
	assert.Equal(t, summary.BestByGeneration[1], diagnostics[1].BestHealth)

	exported, err := client.Export(ctx, ExportRequest{Latest: true})
	require.NoError(t, err)
	assert.Equal(t, summary.RunID, exported.RunID)
	_, err = os.Stat(filepath.Join(exported.Directory, stats.RunFile))
	assert.NoError(t, err)

	report, err := client.Report(nil)
	require.NoError(t, err)
	assert.Len(t, report.Runs, 1)
	assert.Equal(t, summary.RunID, report.BestRunID)
}

func TestClientEvolveMaxChildrenAndPotentials(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t, "")

	_, err := client.Evolve(ctx, EvolveRequest{
		RunID:          "no-children",
		PopulationID:   "barren",
		PopulationSize: 4,
		MaxChildren:    children(0),
		Cycles:         1,
		Seed:           1,
	})
	require.NoError(t, err)
	diagnostics, err := client.Diagnostics(ctx, HistoryRequest{RunID: "no-children"})
	require.NoError(t, err)
	require.Len(t, diagnostics, 1)
	assert.Zero(t, diagnostics[0].Bred)
	assert.Equal(t, 4, diagnostics[0].Generated)

	_, err = client.Evolve(ctx, EvolveRequest{
		RunID:               "twins",
		PopulationID:        "fertile",
		PopulationSize:      8,
		MaxChildren:         children(8),
		OffspringPotentials: []float64{1},
		Cycles:              1,
		Seed:                1,
	})
	require.NoError(t, err)
	diagnostics, err = client.Diagnostics(ctx, HistoryRequest{RunID: "twins"})
	require.NoError(t, err)
	require.Len(t, diagnostics, 1)
	assert.Equal(t, 8, diagnostics[0].Bred, "seven ordered pairs with two children each, capped at eight")

	_, err = client.Evolve(ctx, EvolveRequest{
		PopulationID:        "invalid",
		OffspringPotentials: []float64{2},
	})
	assert.Error(t, err)
}

func TestClientRequestValidation(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t, "")

	_, err := client.Evolve(ctx, EvolveRequest{})
	assert.Error(t, err, "missing population id")
	_, err = client.Runs(ctx, RunsRequest{Limit: -1})
	assert.Error(t, err, "negative limit")
	_, err = client.Lineage(ctx, HistoryRequest{RunID: "r", Latest: true})
	assert.Error(t, err, "run id and latest conflict")
	_, err = client.Diagnostics(ctx, HistoryRequest{})
	assert.Error(t, err, "missing run selector")
	_, err = client.Diagnostics(ctx, HistoryRequest{Latest: true})
	assert.Error(t, err, "latest without runs")
	_, err = client.Export(ctx, ExportRequest{})
	assert.Error(t, err, "export without selector")
	_, err = client.Features(ctx, "")
	assert.ErrorIs(t, err, platform.ErrNoSampleDir)
	assert.False(t, client.Stop("absent"))
}

func TestClientGenerateExportImport(t *testing.T) {
	ctx := context.Background()
	client, base := newTestClient(t, "")

	pop, err := client.Generate(ctx, GenerateRequest{PopulationID: "seeded", Size: 3, Seed: 7})
	require.NoError(t, err)
	assert.Equal(t, "seeded", pop.ID)
	assert.Zero(t, pop.Generation)
	require.Len(t, pop.Genomes, 3)
	assert.NotEmpty(t, pop.Genomes[0].Shape)
	assert.False(t, pop.Genomes[0].Scored)

	path := filepath.Join(base, "seeded.jsonl")
	n, err := client.ExportPopulation(ctx, "seeded", path)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = client.ImportPopulation(ctx, "copy", path)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	copied, err := client.Population(ctx, "copy")
	require.NoError(t, err)
	require.NotEmpty(t, copied.Genomes)
	assert.Equal(t, pop.Genomes[0].ID, copied.Genomes[0].ID)

	_, err = client.Population(ctx, "absent")
	assert.ErrorIs(t, err, platform.ErrNoPopulation)
}

func TestClientFeaturesAndSampledEvolution(t *testing.T) {
	dir := t.TempDir()
	for name, freq := range map[string]float64{"low.wav": 3, "high.wav": 11} {
		out := audio.NewWaveOutput(1000, 0)
		for i := 0; i < 250; i++ {
			require.NoError(t, out.Push(signal.Const(0.4*math.Sin(2*math.Pi*freq*float64(i)/1000))).Run())
		}
		require.NoError(t, out.Save(filepath.Join(dir, name)))
	}

	ctx := context.Background()
	client, _ := newTestClient(t, dir)

	features, err := client.Features(ctx, "low.wav")
	require.NoError(t, err)
	require.Len(t, features, 2)
	for _, f := range features {
		assert.Equal(t, 0.25, f.Seconds)
		assert.Positive(t, f.Peak)
		switch f.ID {
		case "low.wav":
			assert.Nil(t, f.Similarity, "reference sample carries no similarity")
		case "high.wav":
			assert.NotNil(t, f.Similarity)
		}
	}

	summary, err := client.Evolve(ctx, EvolveRequest{
		PopulationID:   "sampled",
		PopulationSize: 3,
		MaxChildren:    children(2),
		Cycles:         1,
		Seed:           5,
		UseSamples:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, model.RunCompleted, summary.Status)
}
