package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"rings/internal/health"
	"rings/internal/organ"
	"rings/internal/platform"
)

var validate = validator.New()

// FileConfig is the YAML run file. Durations in the health section are in
// seconds and converted to frames at the configured sample rate.
type FileConfig struct {
	SampleRate   int              `yaml:"sample_rate" validate:"gt=0"`
	Store        StoreConfig      `yaml:"store"`
	Population   PopulationConfig `yaml:"population"`
	Health       HealthConfig     `yaml:"health"`
	Organ        organ.Options    `yaml:"organ"`
	Samples      SamplesConfig    `yaml:"samples"`
	ArtifactsDir string           `yaml:"artifacts_dir"`
	OutputDir    string           `yaml:"output_dir"`
}

type StoreConfig struct {
	Kind string `yaml:"kind" validate:"omitempty,oneof=memory sqlite file"`
	Path string `yaml:"path"`
}

type PopulationConfig struct {
	ID                  string    `yaml:"id" validate:"required"`
	Size                int       `yaml:"size" validate:"gt=0"`
	MaxChildren         int       `yaml:"max_children" validate:"gte=0,ltefield=Size"`
	OffspringPotentials []float64 `yaml:"offspring_potentials" validate:"omitempty,max=3,dive,gte=0,lte=1"`
	LowestHealth        float64   `yaml:"lowest_health" validate:"gte=0,lte=1"`
	Cycles              int       `yaml:"cycles" validate:"gt=0"`
	Seed                int64     `yaml:"seed"`
	Pairing             string    `yaml:"pairing" validate:"omitempty,oneof=ordered tournament"`
	TournamentSize      int       `yaml:"tournament_size" validate:"gte=0"`
	SharingRadius       float64   `yaml:"sharing_radius" validate:"gte=0"`
	Isolated            bool      `yaml:"isolated"`
}

type HealthConfig struct {
	MaxDuration       float64       `yaml:"max_duration" validate:"gt=0"`
	StandardDuration  float64       `yaml:"standard_duration" validate:"gt=0"`
	BatchSize         float64       `yaml:"batch_size" validate:"gt=0"`
	MaxSilence        float64       `yaml:"max_silence" validate:"gt=0"`
	SilenceThreshold  float64       `yaml:"silence_threshold" validate:"gte=0"`
	ClipMin           float64       `yaml:"clip_min"`
	ClipMax           float64       `yaml:"clip_max" validate:"gtfield=ClipMin"`
	Timeout           time.Duration `yaml:"timeout" validate:"gte=0"`
	TimeoutMultiplier float64       `yaml:"timeout_multiplier" validate:"gte=0,lte=1"`
	Record            bool          `yaml:"record"`
}

type SamplesConfig struct {
	Dir     string `yaml:"dir"`
	Use     bool   `yaml:"use"`
	Workers int    `yaml:"workers" validate:"gte=0"`
}

func DefaultFileConfig() FileConfig {
	sr := health.DefaultSampleRate
	h := health.DefaultConfig(sr)
	seconds := func(frames int) float64 { return float64(frames) / float64(sr) }
	return FileConfig{
		SampleRate: sr,
		Store:      StoreConfig{Kind: "sqlite", Path: "rings.db"},
		Population: PopulationConfig{
			ID:          "default",
			Size:        60,
			MaxChildren: 50,
			Cycles:      1,
			Pairing:     "ordered",
		},
		Health: HealthConfig{
			MaxDuration:       seconds(h.MaxDuration),
			StandardDuration:  seconds(h.StandardDuration),
			BatchSize:         seconds(h.BatchSize),
			MaxSilence:        seconds(h.MaxSilence),
			SilenceThreshold:  h.SilenceThreshold,
			ClipMin:           h.ClipMin,
			ClipMax:           h.ClipMax,
			TimeoutMultiplier: h.TimeoutMultiplier,
		},
		Organ:        organ.DefaultOptions(sr),
		Samples:      SamplesConfig{Workers: 2},
		ArtifactsDir: "runs",
	}
}

// LoadFileConfig reads path over the defaults. An empty path or an empty file
// returns the defaults.
func LoadFileConfig(path string) (FileConfig, error) {
	cfg := DefaultFileConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return FileConfig{}, err
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return FileConfig{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	cfg.Organ.SampleRate = cfg.SampleRate
	return cfg, nil
}

func (c FileConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.HealthConfig().Validate(); err != nil {
		return fmt.Errorf("invalid health config: %w", err)
	}
	o := c.Organ
	o.SampleRate = c.SampleRate
	if err := o.Validate(); err != nil {
		return fmt.Errorf("invalid organ config: %w", err)
	}
	if c.Store.Kind != "" && c.Store.Kind != "memory" && c.Store.Path == "" {
		return fmt.Errorf("invalid config: store %s requires a path", c.Store.Kind)
	}
	if c.Samples.Use && c.Samples.Dir == "" {
		return errors.New("invalid config: samples.use requires samples.dir")
	}
	return nil
}

func (c FileConfig) HealthConfig() health.Config {
	h := health.DefaultConfig(c.SampleRate)
	frames := func(s float64) int { return max(1, h.Seconds(s)) }
	h.MaxDuration = frames(c.Health.MaxDuration)
	h.StandardDuration = frames(c.Health.StandardDuration)
	h.BatchSize = frames(c.Health.BatchSize)
	h.MaxSilence = frames(c.Health.MaxSilence)
	h.SilenceThreshold = c.Health.SilenceThreshold
	h.ClipMin = c.Health.ClipMin
	h.ClipMax = c.Health.ClipMax
	h.Timeout = c.Health.Timeout
	h.TimeoutMultiplier = c.Health.TimeoutMultiplier
	h.EnableOutput = c.Health.Record
	return h
}

// StudioConfig maps the file onto the studio. The store is opened by the
// caller.
func (c FileConfig) StudioConfig() platform.Config {
	cfg := platform.DefaultConfig(c.SampleRate)
	cfg.Health = c.HealthConfig()
	cfg.Organ = c.Organ
	cfg.Organ.SampleRate = c.SampleRate
	cfg.SampleDir = c.Samples.Dir
	cfg.Cache.Workers = c.Samples.Workers
	cfg.ArtifactsDir = c.ArtifactsDir
	cfg.OutputDir = c.OutputDir
	return cfg
}

func (c FileConfig) EvolutionConfig() platform.EvolutionConfig {
	p := c.Population
	return platform.EvolutionConfig{
		PopulationID:        p.ID,
		PopulationSize:      p.Size,
		MaxChildren:         &p.MaxChildren,
		OffspringPotentials: p.OffspringPotentials,
		LowestHealth:        p.LowestHealth,
		Cycles:              p.Cycles,
		Seed:                p.Seed,
		Pairing:             p.Pairing,
		TournamentSize:      p.TournamentSize,
		SharingRadius:       p.SharingRadius,
		Isolated:            p.Isolated,
		UseSamples:          c.Samples.Use,
	}
}
