package cell

import (
	"math"

	"rings/internal/plan"
	"rings/internal/signal"
)

// SummationCell accumulates every push within a frame and forwards the total
// on Tick.
type SummationCell struct {
	base
	total signal.Frame
}

func NewSummationCell() *SummationCell {
	return &SummationCell{}
}

func (c *SummationCell) Push(in signal.Producer) plan.Op {
	return plan.Do("sum push", func() {
		c.total = c.total.Add(in())
	})
}

func (c *SummationCell) Tick() plan.Op {
	return plan.Seq("sum tick",
		c.forward(func() signal.Frame { return c.total }),
		plan.Do("sum clear", func() { c.total = nil }),
	)
}

func (c *SummationCell) Reset() {
	c.total = nil
}

// DelayCell writes each push delay frames ahead of its cursor and emits the
// sample under the cursor on Tick, scaled by gain.
type DelayCell struct {
	base
	sampleRate int
	buffer     []float64
	cursor     int
	delay      signal.Producer
	gain       signal.Producer
	current    float64
}

// NewDelayCell builds a delay line holding up to maxSeconds. The delay
// producer yields seconds and is read on every push; gain may be nil.
func NewDelayCell(sampleRate int, maxSeconds float64, delay, gain signal.Producer) *DelayCell {
	n := int(maxSeconds * float64(sampleRate))
	if n < 2 {
		n = 2
	}
	return &DelayCell{
		sampleRate: sampleRate,
		buffer:     make([]float64, n),
		delay:      delay,
		gain:       gain,
	}
}

// DelayFrames is the current delay, clamped to the buffer.
func (c *DelayCell) DelayFrames() int {
	d := int(math.Round(c.delay.Scalar() * float64(c.sampleRate)))
	if d < 1 {
		d = 1
	}
	if d >= len(c.buffer) {
		d = len(c.buffer) - 1
	}
	return d
}

func (c *DelayCell) Push(in signal.Producer) plan.Op {
	return plan.Do("delay push", func() {
		pos := (c.cursor + c.DelayFrames()) % len(c.buffer)
		c.buffer[pos] += in().First()
	})
}

func (c *DelayCell) Tick() plan.Op {
	return plan.Seq("delay tick",
		plan.Do("delay read", func() {
			c.current = c.buffer[c.cursor]
			c.buffer[c.cursor] = 0
			if c.gain != nil {
				c.current *= c.gain.Scalar()
			}
		}),
		c.forward(func() signal.Frame { return signal.Frame{c.current} }),
		plan.Do("delay advance", func() { c.cursor = (c.cursor + 1) % len(c.buffer) }),
	)
}

func (c *DelayCell) Reset() {
	clear(c.buffer)
	c.cursor = 0
	c.current = 0
}

// SourceCell is a sine oscillator root. Frequency and amplitude are read
// every frame.
type SourceCell struct {
	base
	sampleRate float64
	freq       signal.Producer
	amp        signal.Producer
	offset     float64
	phase      float64
}

func NewSourceCell(sampleRate int, freq, amp signal.Producer, phaseOffset float64) *SourceCell {
	return &SourceCell{sampleRate: float64(sampleRate), freq: freq, amp: amp, offset: phaseOffset, phase: phaseOffset}
}

// SetPhaseOffset moves the oscillator to offset, which Reset also returns to.
func (c *SourceCell) SetPhaseOffset(offset float64) {
	c.offset = offset - math.Floor(offset)
	c.phase = c.offset
}

func (c *SourceCell) Push(signal.Producer) plan.Op {
	return c.forward(func() signal.Frame {
		return signal.Frame{c.amp.Scalar() * math.Sin(2*math.Pi*c.phase)}
	})
}

func (c *SourceCell) Tick() plan.Op {
	return plan.Do("source advance", func() {
		c.phase += c.freq.Scalar() / c.sampleRate
		c.phase -= math.Floor(c.phase)
	})
}

func (c *SourceCell) Reset() {
	c.phase = c.offset
}

// WaveCell plays back a fixed buffer, optionally looping.
type WaveCell struct {
	base
	data   []float64
	amp    signal.Producer
	loop   bool
	cursor int
}

func NewWaveCell(data []float64, amp signal.Producer, loop bool) *WaveCell {
	if amp == nil {
		amp = signal.Const(1)
	}
	return &WaveCell{data: data, amp: amp, loop: loop}
}

func (c *WaveCell) SetData(data []float64) {
	c.data = data
	c.cursor = 0
}

func (c *WaveCell) Data() []float64 {
	return c.data
}

func (c *WaveCell) Cursor() int {
	return c.cursor
}

func (c *WaveCell) Push(signal.Producer) plan.Op {
	return c.forward(func() signal.Frame {
		return signal.Frame{c.sample() * c.amp.Scalar()}
	})
}

func (c *WaveCell) sample() float64 {
	if len(c.data) == 0 {
		return 0
	}
	if c.loop {
		return c.data[c.cursor%len(c.data)]
	}
	if c.cursor >= len(c.data) {
		return 0
	}
	return c.data[c.cursor]
}

func (c *WaveCell) Tick() plan.Op {
	return plan.Do("wave advance", func() { c.cursor++ })
}

func (c *WaveCell) Reset() {
	c.cursor = 0
}

// Recorder keeps the most recent frames pushed into it in a ring buffer.
// Pushes within one frame are summed; Tick moves to the next slot.
type Recorder struct {
	base
	buffer []float64
	cursor int
	filled int
}

func NewRecorder(frames int) *Recorder {
	if frames < 1 {
		frames = 1
	}
	return &Recorder{buffer: make([]float64, frames+1)}
}

func (r *Recorder) Push(in signal.Producer) plan.Op {
	l := &latch{}
	return plan.Seq("record",
		l.capture(in),
		plan.Do("record write", func() {
			r.buffer[r.cursor] += l.frame.First()
		}),
		r.forward(l.producer()),
	)
}

func (r *Recorder) Tick() plan.Op {
	return plan.Do("record advance", func() {
		r.cursor = (r.cursor + 1) % len(r.buffer)
		r.buffer[r.cursor] = 0
		if r.filled < len(r.buffer)-1 {
			r.filled++
		}
	})
}

// Frames returns how many complete frames are held.
func (r *Recorder) Frames() int {
	return r.filled
}

// Export copies the held frames out, oldest first.
func (r *Recorder) Export() []float64 {
	out := make([]float64, r.filled)
	start := r.cursor - r.filled
	if start < 0 {
		start += len(r.buffer)
	}
	for i := range out {
		out[i] = r.buffer[(start+i)%len(r.buffer)]
	}
	return out
}

func (r *Recorder) Reset() {
	clear(r.buffer)
	r.cursor = 0
	r.filled = 0
}
