package health

import (
	"errors"
	"fmt"
	"time"

	"rings/internal/audio"
)

const DefaultSampleRate = 44100

// Config is fixed for the lifetime of a Computation. Durations are in frames.
type Config struct {
	SampleRate        int
	MaxDuration       int
	StandardDuration  int
	BatchSize         int
	MaxSilence        int
	SilenceThreshold  float64
	ClipMin           float64
	ClipMax           float64
	MeasureCount      int
	Timeout           time.Duration
	TimeoutMultiplier float64
	EnableOutput      bool
}

func DefaultConfig(sampleRate int) Config {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return Config{
		SampleRate:        sampleRate,
		MaxDuration:       75 * sampleRate,
		StandardDuration:  75 * sampleRate,
		BatchSize:         sampleRate,
		MaxSilence:        6 * sampleRate,
		SilenceThreshold:  0.001,
		ClipMin:           -1,
		ClipMax:           1,
		MeasureCount:      2,
		TimeoutMultiplier: 0.75,
	}
}

// Seconds converts a duration in seconds to frames at the configured rate.
func (c Config) Seconds(s float64) int {
	return int(s * float64(c.SampleRate))
}

func (c Config) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return errors.New("sample rate must be > 0")
	case c.MaxDuration <= 0:
		return errors.New("max duration must be > 0")
	case c.StandardDuration <= 0:
		return errors.New("standard duration must be > 0")
	case c.BatchSize <= 0:
		return errors.New("batch size must be > 0")
	case c.MaxSilence <= 0:
		return errors.New("max silence must be > 0")
	case c.SilenceThreshold < 0:
		return errors.New("silence threshold must be >= 0")
	case c.ClipMin >= c.ClipMax:
		return fmt.Errorf("clip min %.4f must be below clip max %.4f", c.ClipMin, c.ClipMax)
	case c.MeasureCount <= 0:
		return errors.New("measure count must be > 0")
	case c.Timeout < 0:
		return errors.New("timeout must be >= 0")
	case c.TimeoutMultiplier < 0 || c.TimeoutMultiplier > 1:
		return errors.New("timeout multiplier must be within [0, 1]")
	}
	return nil
}

func (c Config) meter() audio.MeterConfig {
	return audio.MeterConfig{ClipMin: c.ClipMin, ClipMax: c.ClipMax, SilenceThreshold: c.SilenceThreshold}
}
