// Package audio holds the receptors at the edge of the cell graph: meters that
// watch a signal for clipping and silence, wave outputs that record it, and
// WAV sample sources.
package audio

import (
	"math"

	"rings/internal/plan"
	"rings/internal/signal"
)

type MeterConfig struct {
	ClipMin          float64
	ClipMax          float64
	SilenceThreshold float64
}

func DefaultMeterConfig() MeterConfig {
	return MeterConfig{ClipMin: -1, ClipMax: 1, SilenceThreshold: 0.001}
}

// Reading is the meter state after one sample.
type Reading struct {
	Sample  int
	Value   float64
	Clips   int
	Silence int
}

// Meter counts samples outside the clip range and the current run of samples
// whose magnitude is at or below the silence threshold. The clip count only
// returns to zero on Reset; the silence run also ends on any louder sample.
type Meter struct {
	cfg MeterConfig

	samples int
	clips   int
	silence int

	listener func(Reading)
}

func NewMeter(cfg MeterConfig) *Meter {
	return &Meter{cfg: cfg}
}

// OnReading installs a callback invoked after every sample.
func (m *Meter) OnReading(fn func(Reading)) {
	m.listener = fn
}

func (m *Meter) Push(in signal.Producer) plan.Op {
	return plan.Do("meter", func() {
		m.observe(in().First())
	})
}

func (m *Meter) observe(v float64) {
	if v < m.cfg.ClipMin || v > m.cfg.ClipMax || math.IsNaN(v) {
		m.clips++
	}
	if math.Abs(v) > m.cfg.SilenceThreshold {
		m.silence = 0
	} else {
		m.silence++
	}
	if m.listener != nil {
		m.listener(Reading{Sample: m.samples, Value: v, Clips: m.clips, Silence: m.silence})
	}
	m.samples++
}

func (m *Meter) ClipCount() int {
	return m.clips
}

func (m *Meter) SilenceDuration() int {
	return m.silence
}

func (m *Meter) Samples() int {
	return m.samples
}

func (m *Meter) Reset() {
	m.samples = 0
	m.clips = 0
	m.silence = 0
}
