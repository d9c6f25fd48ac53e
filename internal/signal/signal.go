// Package signal holds the per-frame sample representation shared by factors
// and cells.
package signal

// Frame is one sample across channels.
type Frame []float64

// First returns the first channel, or 0 for an empty frame.
func (f Frame) First() float64 {
	if len(f) == 0 {
		return 0
	}
	return f[0]
}

// Mono truncates the frame to its first channel.
func (f Frame) Mono() Frame {
	if len(f) <= 1 {
		return f
	}
	return f[:1]
}

func (f Frame) Scale(v float64) Frame {
	out := make(Frame, len(f))
	for i, s := range f {
		out[i] = s * v
	}
	return out
}

// Add sums two frames channel by channel. The result is as wide as the wider
// input.
func (f Frame) Add(o Frame) Frame {
	n := len(f)
	if len(o) > n {
		n = len(o)
	}
	out := make(Frame, n)
	copy(out, f)
	for i, s := range o {
		out[i] += s
	}
	return out
}

// Producer lazily yields a frame. Nothing is computed until it is invoked.
type Producer func() Frame

// Const returns a producer of a fixed frame.
func Const(v ...float64) Producer {
	frame := Frame(v)
	return func() Frame { return frame }
}

// Zero is the input pushed into self-driving roots.
var Zero = Const(0)

// Scalar resolves a producer to its first channel.
func (p Producer) Scalar() float64 {
	if p == nil {
		return 0
	}
	return p().First()
}
