package heredity

import (
	"math"

	"golang.org/x/exp/constraints"

	"rings/internal/plan"
	"rings/internal/signal"
)

// Factor maps an input signal to an output signal. ValueAt only composes
// producers; the arithmetic runs when the returned producer is invoked.
type Factor interface {
	ValueAt(in signal.Producer) signal.Producer
}

// TemporalFactor carries state that advances once per frame.
type TemporalFactor interface {
	Factor
	Tick() plan.Op
	Reset()
}

type FactorFunc func(in signal.Producer) signal.Producer

func (f FactorFunc) ValueAt(in signal.Producer) signal.Producer {
	return f(in)
}

// Identity passes its input through.
var Identity Factor = FactorFunc(func(in signal.Producer) signal.Producer { return in })

// ScaleFactor multiplies its input by a value read at evaluation time, so a
// factor built once keeps tracking later assignments to its store.
type ScaleFactor struct {
	value func() float64
}

func Scale(v float64) ScaleFactor {
	return ScaleFactor{value: func() float64 { return v }}
}

func (f ScaleFactor) Scale() float64 {
	if f.value == nil {
		return 0
	}
	return f.value()
}

func (f ScaleFactor) ValueAt(in signal.Producer) signal.Producer {
	return func() signal.Frame {
		return in().Scale(f.Scale())
	}
}

// AndThen feeds the output of first into next. The result ticks and resets
// whichever of the two carry state.
func AndThen(first, next Factor) TemporalFactor {
	return chain{first: first, next: next}
}

type chain struct {
	first, next Factor
}

func (c chain) ValueAt(in signal.Producer) signal.Producer {
	return c.next.ValueAt(c.first.ValueAt(in))
}

func (c chain) Tick() plan.Op {
	var ops []plan.Op
	for _, f := range []Factor{c.first, c.next} {
		if t, ok := f.(TemporalFactor); ok {
			ops = append(ops, t.Tick())
		}
	}
	return plan.Seq("factor tick", ops...)
}

func (c chain) Reset() {
	for _, f := range []Factor{c.first, c.next} {
		if t, ok := f.(TemporalFactor); ok {
			t.Reset()
		}
	}
}

// Resultant resolves a factor against a unit input, which for scale factors
// yields the factor value itself.
func Resultant(f Factor) signal.Producer {
	return f.ValueAt(signal.Const(1))
}

// OneToInfinity maps [0, 1) onto [0, +inf): 1/(1-x^exp) - 1.
func OneToInfinity(x, exp float64) float64 {
	p := math.Pow(x, exp)
	if p >= 1 {
		return math.Inf(1)
	}
	return 1/(1-p) - 1
}

// InvertOneToInfinity returns the factor that OneToInfinity(factor, exp) *
// multiplier maps onto target.
func InvertOneToInfinity(target, multiplier, exp float64) float64 {
	return math.Pow(1-(1/((target/multiplier)+1)), 1.0/exp)
}

func clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
