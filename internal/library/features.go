// Package library keeps auxiliary per-sample features. Features are computed
// on a bounded, priority ordered worker pool and memoized by sample id.
package library

import (
	"context"
	"math"
	"path/filepath"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"rings/internal/audio"
)

// EnvelopeBins is the number of RMS windows kept per sample.
const EnvelopeBins = 32

type Features struct {
	ID            string    `json:"id"`
	Path          string    `json:"path,omitempty"`
	SampleRate    int       `json:"sample_rate"`
	Frames        int       `json:"frames"`
	Peak          float64   `json:"peak"`
	RMS           float64   `json:"rms"`
	Mean          float64   `json:"mean"`
	StdDev        float64   `json:"stddev"`
	ZeroCrossings float64   `json:"zero_crossings"`
	Envelope      []float64 `json:"envelope"`
}

// Seconds is the duration of the source sample.
func (f Features) Seconds() float64 {
	if f.SampleRate <= 0 {
		return 0
	}
	return float64(f.Frames) / float64(f.SampleRate)
}

// Extract summarizes a decoded sample.
func Extract(id string, s audio.Sample) Features {
	f := Features{ID: id, Path: s.Path, SampleRate: s.SampleRate, Frames: len(s.Data)}
	if len(s.Data) == 0 {
		f.Envelope = make([]float64, EnvelopeBins)
		return f
	}

	abs := make([]float64, len(s.Data))
	for i, v := range s.Data {
		abs[i] = math.Abs(v)
	}
	f.Peak = floats.Max(abs)
	f.RMS = rms(s.Data)
	f.Mean = stat.Mean(s.Data, nil)
	if len(s.Data) > 1 {
		f.StdDev = stat.StdDev(s.Data, nil)
	}

	crossings := 0
	for i := 1; i < len(s.Data); i++ {
		if (s.Data[i-1] < 0) != (s.Data[i] < 0) {
			crossings++
		}
	}
	f.ZeroCrossings = float64(crossings) / float64(len(s.Data))

	f.Envelope = make([]float64, EnvelopeBins)
	for b := range f.Envelope {
		lo := b * len(s.Data) / EnvelopeBins
		hi := (b + 1) * len(s.Data) / EnvelopeBins
		if hi > lo {
			f.Envelope[b] = rms(s.Data[lo:hi])
		}
	}
	return f
}

func rms(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return math.Sqrt(floats.Dot(x, x) / float64(len(x)))
}

// Similarity compares the loudness envelopes of two samples. It is 1 for
// identical shapes and 0 when either sample is silent.
func Similarity(a, b Features) float64 {
	if len(a.Envelope) != len(b.Envelope) || len(a.Envelope) == 0 {
		return 0
	}
	na, nb := floats.Norm(a.Envelope, 2), floats.Norm(b.Envelope, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return floats.Dot(a.Envelope, b.Envelope) / (na * nb)
}

// SampleID is the cache key for a sample file.
func SampleID(path string) string {
	return filepath.Base(path)
}

// WAVSource computes features for ids naming WAV files in dir.
func WAVSource(dir string, sampleRate int) RunFunc {
	return func(ctx context.Context, id string) (Features, error) {
		if err := ctx.Err(); err != nil {
			return Features{}, err
		}
		s, err := audio.LoadWAV(filepath.Join(dir, id), sampleRate)
		if err != nil {
			return Features{}, err
		}
		return Extract(id, s), nil
	}
}
