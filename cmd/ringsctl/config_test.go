package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultFileConfigIsValid(t *testing.T) {
	cfg, err := LoadFileConfig("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	h := cfg.HealthConfig()
	assert.Equal(t, 75*cfg.SampleRate, h.MaxDuration)
	assert.Equal(t, 6*cfg.SampleRate, h.MaxSilence)
	assert.Equal(t, cfg.SampleRate, cfg.Organ.SampleRate)
}

func TestLoadFileConfigOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
sample_rate: 1000
store:
  kind: file
  path: /tmp/rings-store
population:
  id: studio
  size: 8
  max_children: 6
  offspring_potentials: [0.5, 0.25]
  cycles: 3
  seed: 77
  pairing: tournament
  tournament_size: 3
  sharing_radius: 0.25
health:
  max_duration: 2.5
  batch_size: 0.5
  timeout: 30s
organ:
  sources: 3
  delay_layers: 2
samples:
  dir: samples
  use: true
artifacts_dir: out/runs
`)
	cfg, err := LoadFileConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "studio", cfg.Population.ID)
	assert.Equal(t, int64(77), cfg.Population.Seed)
	assert.Equal(t, "tournament", cfg.Population.Pairing)

	h := cfg.HealthConfig()
	assert.Equal(t, 1000, h.SampleRate)
	assert.Equal(t, 2500, h.MaxDuration)
	assert.Equal(t, 500, h.BatchSize)
	assert.Equal(t, 30*time.Second, h.Timeout)
	assert.Equal(t, 1.0, h.ClipMax, "clip defaults survive")
	assert.Equal(t, -1.0, h.ClipMin, "clip defaults survive")

	studio := cfg.StudioConfig()
	assert.Equal(t, 1000, studio.SampleRate)
	assert.Equal(t, 3, studio.Organ.Sources)
	assert.Equal(t, 1000, studio.Organ.SampleRate)
	assert.Equal(t, "samples", studio.SampleDir)
	assert.Equal(t, "out/runs", studio.ArtifactsDir)

	ev := cfg.EvolutionConfig()
	assert.Equal(t, 8, ev.PopulationSize)
	require.NotNil(t, ev.MaxChildren)
	assert.Equal(t, 6, *ev.MaxChildren)
	assert.Equal(t, []float64{0.5, 0.25}, ev.OffspringPotentials)
	assert.Equal(t, 3, ev.TournamentSize)
	assert.True(t, ev.UseSamples)
}

func TestEvolutionConfigKeepsZeroMaxChildren(t *testing.T) {
	cfg := DefaultFileConfig()
	cfg.Population.MaxChildren = 0
	require.NoError(t, cfg.Validate())

	ev := cfg.EvolutionConfig()
	require.NotNil(t, ev.MaxChildren)
	assert.Zero(t, *ev.MaxChildren)
}

func TestLoadFileConfigRejectsUnknownFields(t *testing.T) {
	_, err := LoadFileConfig(writeConfig(t, "population:\n  idd: typo\n"))
	assert.Error(t, err)
}

func TestLoadFileConfigEmptyFile(t *testing.T) {
	cfg, err := LoadFileConfig(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, "default", cfg.Population.ID)
}

func TestFileConfigValidate(t *testing.T) {
	cases := map[string]func(*FileConfig){
		"missing population id":   func(c *FileConfig) { c.Population.ID = "" },
		"children above size":     func(c *FileConfig) { c.Population.MaxChildren = c.Population.Size + 1 },
		"unknown pairing":         func(c *FileConfig) { c.Population.Pairing = "roulette" },
		"lowest health above 1":   func(c *FileConfig) { c.Population.LowestHealth = 1.5 },
		"potential above 1":       func(c *FileConfig) { c.Population.OffspringPotentials = []float64{0.5, 1.2} },
		"too many potentials":     func(c *FileConfig) { c.Population.OffspringPotentials = []float64{0, 0, 0, 0} },
		"unknown store":           func(c *FileConfig) { c.Store.Kind = "postgres" },
		"store without path":      func(c *FileConfig) { c.Store.Path = "" },
		"clip range inverted":     func(c *FileConfig) { c.Health.ClipMax = -2 },
		"no sources":              func(c *FileConfig) { c.Organ.Sources = 0 },
		"delay beyond max":        func(c *FileConfig) { c.Organ.MaxDelay = 1 },
		"samples without dir":     func(c *FileConfig) { c.Samples.Use = true },
		"zero cycles":             func(c *FileConfig) { c.Population.Cycles = 0 },
		"negative potential only": func(c *FileConfig) { c.Population.OffspringPotentials = []float64{-0.1} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultFileConfig()
			mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid")
		})
	}

	cfg := DefaultFileConfig()
	cfg.Store = StoreConfig{Kind: "memory"}
	assert.NoError(t, cfg.Validate(), "memory store needs no path")
}
