// Package hardware is the boundary to the execution backend. Ops are compiled
// against a Context, and any fault raised while running them comes back as an
// ExecutionError naming the op that failed.
package hardware

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	pkgerrors "github.com/pkg/errors"

	"rings/internal/plan"
)

var ErrDestroyed = errors.New("hardware context destroyed")

type ExecutionError struct {
	Context string
	Op      string
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution of %s failed in context %s: %v", e.Op, e.Context, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

type Context struct {
	name   string
	logger *slog.Logger

	mu        sync.Mutex
	compiled  map[string]int
	destroyed bool

	runs atomic.Int64
}

func New(name string, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	return &Context{
		name:     name,
		logger:   logger,
		compiled: make(map[string]int),
	}
}

func (c *Context) Name() string {
	return c.name
}

// Compile prepares op for repeated execution in this context.
func (c *Context) Compile(op plan.Op) *Runnable {
	c.mu.Lock()
	c.compiled[op.Name()]++
	c.mu.Unlock()
	return &Runnable{ctx: c, op: op}
}

// Compiled reports how many distinct ops have been compiled.
func (c *Context) Compiled() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.compiled)
}

// Runs reports how many runnable executions this context has served.
func (c *Context) Runs() int64 {
	return c.runs.Load()
}

func (c *Context) Destroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

// Destroy releases everything compiled in the context. It is safe to call
// more than once.
func (c *Context) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return
	}
	c.destroyed = true
	c.logger.Debug("hardware context destroyed", "context", c.name, "compiled", len(c.compiled), "runs", c.runs.Load())
	c.compiled = make(map[string]int)
}

type Runnable struct {
	ctx *Context
	op  plan.Op
}

func (r *Runnable) Name() string {
	return r.op.Name()
}

func (r *Runnable) Run() (err error) {
	if r.ctx.Destroyed() {
		return &ExecutionError{Context: r.ctx.name, Op: r.op.Name(), Err: ErrDestroyed}
	}
	r.ctx.runs.Add(1)

	defer func() {
		if rec := recover(); rec != nil {
			err = &ExecutionError{
				Context: r.ctx.name,
				Op:      r.op.Name(),
				Err:     pkgerrors.Errorf("panic: %v", rec),
			}
		}
	}()

	if runErr := r.op.Run(); runErr != nil {
		failed := r.op.Name()
		var step *plan.StepError
		if errors.As(runErr, &step) {
			failed = step.Op
		}
		return &ExecutionError{Context: r.ctx.name, Op: failed, Err: pkgerrors.WithStack(runErr)}
	}
	return nil
}
