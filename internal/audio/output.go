package audio

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/faiface/beep"
	"github.com/faiface/beep/wav"

	"rings/internal/plan"
	"rings/internal/signal"
)

// WaveOutput records every pushed sample, up to maxFrames, for export as a
// mono WAV file.
type WaveOutput struct {
	sampleRate int
	maxFrames  int
	data       []float64
}

func NewWaveOutput(sampleRate, maxFrames int) *WaveOutput {
	return &WaveOutput{sampleRate: sampleRate, maxFrames: maxFrames}
}

func (o *WaveOutput) Push(in signal.Producer) plan.Op {
	return plan.Do("wave output", func() {
		v := in().First()
		if o.maxFrames > 0 && len(o.data) >= o.maxFrames {
			return
		}
		o.data = append(o.data, v)
	})
}

func (o *WaveOutput) Frames() int {
	return len(o.data)
}

func (o *WaveOutput) Samples() []float64 {
	return append([]float64(nil), o.data...)
}

func (o *WaveOutput) Reset() {
	o.data = o.data[:0]
}

// Format is the encoding used for exported recordings.
func (o *WaveOutput) Format() beep.Format {
	return beep.Format{SampleRate: beep.SampleRate(o.sampleRate), NumChannels: 1, Precision: 2}
}

func (o *WaveOutput) WriteWAV(w io.WriteSeeker) error {
	return wav.Encode(w, &monoStreamer{data: o.data}, o.Format())
}

// Save writes the recording to path, creating parent directories.
func (o *WaveOutput) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := o.WriteWAV(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}

type monoStreamer struct {
	data []float64
	pos  int
}

func (s *monoStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	if s.pos >= len(s.data) {
		return 0, false
	}
	for n < len(samples) && s.pos < len(s.data) {
		v := s.data[s.pos]
		samples[n][0] = v
		samples[n][1] = v
		s.pos++
		n++
	}
	return n, true
}

func (s *monoStreamer) Err() error {
	return nil
}

// OutputNamer hands out numbered recording paths so successive evaluations do
// not overwrite each other.
type OutputNamer struct {
	dir    string
	prefix string
	count  atomic.Int64
}

func NewOutputNamer(dir, prefix string) *OutputNamer {
	if prefix == "" {
		prefix = "output"
	}
	return &OutputNamer{dir: dir, prefix: prefix}
}

func (n *OutputNamer) Next() string {
	i := n.count.Add(1) - 1
	return filepath.Join(n.dir, fmt.Sprintf("%s-%d.wav", n.prefix, i))
}
