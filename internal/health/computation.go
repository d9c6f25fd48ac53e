// Package health scores a candidate graph by running it for a fixed duration
// and stopping early when its output goes silent or clips.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"rings/internal/audio"
	"rings/internal/cell"
	"rings/internal/hardware"
	"rings/internal/plan"
)

var (
	ErrReuse    = errors.New("health computation cannot be reused")
	ErrNoTarget = errors.New("health computation has no target")
	ErrRunning  = errors.New("health computation already running")
)

// Target is the graph under evaluation.
type Target interface {
	Setup() plan.Op
	Tick() plan.Op
	Reset()
}

type Outcome string

const (
	OutcomeComplete Outcome = "complete"
	OutcomeSilence  Outcome = "silence"
	OutcomeClip     Outcome = "clip"
	OutcomeTimeout  Outcome = "timeout"
)

type Score struct {
	Value   float64 `json:"value"`
	Frames  int     `json:"frames"`
	Outcome Outcome `json:"outcome"`
	Output  string  `json:"output,omitempty"`
}

type State int

const (
	StateIdle State = iota
	StateBound
	StateRunning
)

type Options struct {
	Backend *hardware.Scope
	Logger  *slog.Logger
	Metrics *Metrics
	Outputs *audio.OutputNamer
	Now     func() time.Time
}

// Computation evaluates one target for its whole lifetime. Meters and the
// recording sink are owned by the computation and reset after every run.
type Computation struct {
	cfg     Config
	backend *hardware.Scope
	logger  *slog.Logger
	metrics *Metrics
	outputs *audio.OutputNamer
	now     func() time.Time

	meters []*audio.Meter
	output *audio.WaveOutput

	state  State
	target Target
	setup  plan.Op
	tick   plan.Op

	onError func(error)
}

func New(cfg Config, opts Options) (*Computation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Backend == nil {
		opts.Backend = hardware.NewScope(nil, opts.Logger)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	meters := make([]*audio.Meter, cfg.MeasureCount)
	for i := range meters {
		meters[i] = audio.NewMeter(cfg.meter())
	}
	return &Computation{
		cfg:     cfg,
		backend: opts.Backend,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		outputs: opts.Outputs,
		now:     opts.Now,
		meters:  meters,
		output:  audio.NewWaveOutput(cfg.SampleRate, cfg.MaxDuration),
	}, nil
}

func (c *Computation) Config() Config {
	return c.cfg
}

// Backend is the scope evaluations compile against.
func (c *Computation) Backend() *hardware.Scope {
	return c.backend
}

func (c *Computation) State() State {
	return c.state
}

// Measures are the meters a target should push its signal into.
func (c *Computation) Measures() []*audio.Meter {
	return append([]*audio.Meter(nil), c.meters...)
}

// Receptors returns the meters as graph receptors.
func (c *Computation) Receptors() []cell.Receptor {
	out := make([]cell.Receptor, len(c.meters))
	for i, m := range c.meters {
		out[i] = m
	}
	return out
}

// Output is the recording sink for the target's final mix.
func (c *Computation) Output() *audio.WaveOutput {
	return c.output
}

// OnError installs a listener for non-fatal problems such as a recording that
// could not be written. Without one they are logged.
func (c *Computation) OnError(fn func(error)) {
	c.onError = fn
}

// SetTarget binds the computation to t. Binding the same target again is a
// no-op; binding a different one fails with ErrReuse.
func (c *Computation) SetTarget(t Target) error {
	if c.target != nil {
		if c.target != t {
			return ErrReuse
		}
		return nil
	}
	c.target = t
	c.setup = t.Setup()
	c.tick = t.Tick()
	c.state = StateBound
	return nil
}

func (c *Computation) Target() Target {
	return c.target
}

// ComputeHealth runs the target until MaxDuration frames have rendered or a
// meter disqualifies it. A clean run scores exactly 1; a disqualified run
// scores the frames completed before the failing batch over
// StandardDuration. A timed out run counts every batch it rendered, then
// applies TimeoutMultiplier. Execution faults are returned as errors. ctx is
// only consulted before the run starts.
func (c *Computation) ComputeHealth(ctx context.Context) (score Score, err error) {
	switch {
	case c.target == nil:
		return Score{}, ErrNoTarget
	case c.state == StateRunning:
		return Score{}, ErrRunning
	}
	if err := ctx.Err(); err != nil {
		return Score{}, err
	}

	c.state = StateRunning
	started := c.now()
	defer func() {
		c.finish(&score, err)
		c.state = StateBound
		if err == nil {
			c.metrics.observe(score, c.now().Sub(started).Seconds())
		}
	}()

	hw := c.backend.Current()
	setup := hw.Compile(c.setup)
	batch := hw.Compile(plan.Loop("batch", c.tick, c.cfg.BatchSize))

	frames := 0
	outcome := OutcomeComplete
	for frames < c.cfg.MaxDuration {
		if frames == 0 {
			if err := setup.Run(); err != nil {
				return c.fault(score, frames, err)
			}
		}

		run := batch
		if n := c.cfg.MaxDuration - frames; n < c.cfg.BatchSize {
			run = hw.Compile(plan.Loop("batch tail", c.tick, n))
		}
		if err := run.Run(); err != nil {
			return c.fault(score, frames, err)
		}

		if o, failed := c.check(); failed {
			outcome = o
			break
		}
		frames += min(c.cfg.BatchSize, c.cfg.MaxDuration-frames)
		if frames < c.cfg.MaxDuration && c.cfg.Timeout > 0 && c.now().Sub(started) > c.cfg.Timeout {
			outcome = OutcomeTimeout
			break
		}
	}

	score = Score{Frames: frames, Outcome: outcome}
	switch outcome {
	case OutcomeComplete:
		score.Value = 1.0
	case OutcomeTimeout:
		score.Value = c.partial(frames) * c.cfg.TimeoutMultiplier
	default:
		score.Value = c.partial(frames)
	}
	c.logger.Debug("health computed", "score", score.Value, "frames", frames, "outcome", outcome)
	return score, nil
}

func (c *Computation) partial(frames int) float64 {
	return math.Min(float64(frames)/float64(c.cfg.StandardDuration), 1)
}

func (c *Computation) check() (Outcome, bool) {
	for _, m := range c.meters {
		if m.SilenceDuration() > c.cfg.MaxSilence {
			return OutcomeSilence, true
		}
		if m.ClipCount() > 0 {
			return OutcomeClip, true
		}
	}
	return "", false
}

func (c *Computation) fault(score Score, frames int, err error) (Score, error) {
	c.metrics.fault()
	var exec *hardware.ExecutionError
	if errors.As(err, &exec) {
		c.logger.Error("health computation fault", "frame", frames, "op", exec.Op, "context", exec.Context, "error", exec.Err)
	} else {
		c.logger.Error("health computation fault", "frame", frames, "error", err)
	}
	score.Frames = frames
	return score, fmt.Errorf("health computation at frame %d: %w", frames, err)
}

// finish always runs: it flushes the recording, then resets the target and
// the meters so the next candidate starts from a clean graph.
func (c *Computation) finish(score *Score, runErr error) {
	if runErr == nil && c.cfg.EnableOutput && c.outputs != nil && c.output.Frames() > 0 {
		path := c.outputs.Next()
		if err := c.output.Save(path); err != nil {
			c.report(fmt.Errorf("write recording %s: %w", path, err))
		} else {
			score.Output = path
		}
	}
	c.Reset()
}

func (c *Computation) report(err error) {
	if c.onError != nil {
		c.onError(err)
		return
	}
	c.logger.Warn("health computation", "error", err)
}

// Reset returns the target, meters and recording to their initial state.
func (c *Computation) Reset() {
	if c.target != nil {
		c.target.Reset()
	}
	for _, m := range c.meters {
		m.Reset()
	}
	c.output.Reset()
}
