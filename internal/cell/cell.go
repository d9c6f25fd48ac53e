// Package cell implements the per-frame signal graph. Cells receive samples
// through Push, forward them to their receptor, and expose deferred Setup and
// Tick plans that a runner executes once per evaluation and once per frame.
package cell

import (
	"rings/internal/heredity"
	"rings/internal/plan"
	"rings/internal/signal"
)

// Receptor accepts one sample per push. The returned op performs the
// delivery when run.
type Receptor interface {
	Push(in signal.Producer) plan.Op
}

type ReceptorFunc func(in signal.Producer) plan.Op

func (f ReceptorFunc) Push(in signal.Producer) plan.Op {
	return f(in)
}

// Cell is a graph node. A cell without a receptor is a sink.
type Cell interface {
	Receptor
	SetReceptor(r Receptor)
	Reset()
}

type Setup interface {
	Setup() plan.Op
}

type Temporal interface {
	Tick() plan.Op
}

// Requirement is a temporal element that is not itself a cell, such as a
// stateful factor.
type Requirement interface {
	Temporal
	Reset()
}

type resetter interface {
	Reset()
}

type base struct {
	receptor Receptor
}

func (b *base) SetReceptor(r Receptor) {
	b.receptor = r
}

func (b *base) Receptor() Receptor {
	return b.receptor
}

func (b *base) forward(in signal.Producer) plan.Op {
	if b.receptor == nil {
		return plan.Noop
	}
	return b.receptor.Push(in)
}

// latch evaluates in once per run and hands downstream ops a producer of the
// cached frame, so fan-out never advances a stateful upstream twice.
type latch struct {
	frame signal.Frame
}

func (l *latch) capture(in signal.Producer) plan.Op {
	return plan.Do("latch", func() { l.frame = in() })
}

func (l *latch) producer() signal.Producer {
	return func() signal.Frame { return l.frame }
}

// Fanout delivers each sample to every receptor in order.
func Fanout(receptors ...Receptor) Receptor {
	return ReceptorFunc(func(in signal.Producer) plan.Op {
		if len(receptors) == 0 {
			return plan.Noop
		}
		if len(receptors) == 1 {
			return receptors[0].Push(in)
		}
		l := &latch{}
		ops := []plan.Op{l.capture(in)}
		for _, r := range receptors {
			ops = append(ops, r.Push(l.producer()))
		}
		return plan.Seq("fanout", ops...)
	})
}

// ReceptorCell delivers to a wrapped receptor and then to its own receptor,
// if one is set.
type ReceptorCell struct {
	base
	target Receptor
}

func NewReceptorCell(target Receptor) *ReceptorCell {
	return &ReceptorCell{target: target}
}

func (c *ReceptorCell) Target() Receptor {
	return c.target
}

func (c *ReceptorCell) Push(in signal.Producer) plan.Op {
	if c.receptor == nil {
		return c.target.Push(in)
	}
	return Fanout(c.target, c.receptor).Push(in)
}

func (c *ReceptorCell) Setup() plan.Op {
	if s, ok := c.target.(Setup); ok {
		return s.Setup()
	}
	return plan.Noop
}

func (c *ReceptorCell) Tick() plan.Op {
	if t, ok := c.target.(Temporal); ok {
		return t.Tick()
	}
	return plan.Noop
}

func (c *ReceptorCell) Reset() {
	if r, ok := c.target.(resetter); ok {
		r.Reset()
	}
}

// FilteredCell transforms each sample through a factor.
type FilteredCell struct {
	base
	factor heredity.Factor
}

func NewFilteredCell(f heredity.Factor) *FilteredCell {
	return &FilteredCell{factor: f}
}

func (c *FilteredCell) Push(in signal.Producer) plan.Op {
	return c.forward(c.factor.ValueAt(in))
}

func (c *FilteredCell) Tick() plan.Op {
	if t, ok := c.factor.(Temporal); ok {
		return t.Tick()
	}
	return plan.Noop
}

func (c *FilteredCell) Reset() {
	if r, ok := c.factor.(resetter); ok {
		r.Reset()
	}
}

// Identity forwards samples unchanged.
func Identity() *FilteredCell {
	return NewFilteredCell(heredity.Identity)
}
