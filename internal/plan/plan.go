// Package plan describes deferred work. An Op is built once, carries no side
// effects until Run is called, and may be run any number of times.
package plan

import (
	"errors"
	"fmt"
)

type Op struct {
	name  string
	fn    func() error
	steps []Op
}

// Noop is the empty plan. Running it does nothing.
var Noop = Op{name: "noop"}

func New(name string, fn func() error) Op {
	return Op{name: name, fn: fn}
}

// Do wraps an infallible action.
func Do(name string, fn func()) Op {
	return Op{name: name, fn: func() error {
		fn()
		return nil
	}}
}

// Seq composes ops that run in order. Empty ops are dropped so that deeply
// nested lists of no-ops collapse.
func Seq(name string, ops ...Op) Op {
	steps := make([]Op, 0, len(ops))
	for _, op := range ops {
		if op.Empty() {
			continue
		}
		steps = append(steps, op)
	}
	if len(steps) == 1 && steps[0].name == name {
		return steps[0]
	}
	return Op{name: name, steps: steps}
}

// Loop runs op n times.
func Loop(name string, op Op, n int) Op {
	if n <= 0 || op.Empty() {
		return Op{name: name}
	}
	if n == 1 {
		return op
	}
	return Op{name: name, fn: func() error {
		for i := 0; i < n; i++ {
			if err := op.Run(); err != nil {
				return err
			}
		}
		return nil
	}}
}

func (o Op) Name() string {
	if o.name == "" {
		return "anonymous"
	}
	return o.name
}

// Empty reports whether running the op is guaranteed to do nothing.
func (o Op) Empty() bool {
	return o.fn == nil && len(o.steps) == 0
}

// Steps returns the direct children of a sequence.
func (o Op) Steps() []Op {
	out := make([]Op, len(o.steps))
	copy(out, o.steps)
	return out
}

func (o Op) Run() error {
	if o.fn != nil {
		if err := o.fn(); err != nil {
			var step *StepError
			if errors.As(err, &step) {
				return err
			}
			return &StepError{Op: o.Name(), Err: err}
		}
		return nil
	}
	for _, step := range o.steps {
		if err := step.Run(); err != nil {
			return err
		}
	}
	return nil
}

// StepError names the innermost op that failed.
type StepError struct {
	Op  string
	Err error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
