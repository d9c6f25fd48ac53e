package cell

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rings/internal/plan"
	"rings/internal/signal"
)

type probe struct {
	base
	name   string
	log    *[]string
	ticks  int
	setups int
}

func newProbe(name string, log *[]string) *probe {
	return &probe{name: name, log: log}
}

func (p *probe) Push(in signal.Producer) plan.Op { return p.forward(in) }

func (p *probe) Setup() plan.Op {
	return plan.Do("probe setup", func() { p.setups++ })
}

func (p *probe) Tick() plan.Op {
	return plan.Do("probe tick", func() { p.ticks++ })
}

func (p *probe) Reset() {
	*p.log = append(*p.log, "reset "+p.name)
}

func run(t *testing.T, op plan.Op, frames int) {
	t.Helper()
	for i := 0; i < frames; i++ {
		require.NoError(t, op.Run())
	}
}

func TestEmptyListIsNoop(t *testing.T) {
	l := NewList()
	assert.True(t, l.Setup().Empty())
	assert.True(t, l.Tick().Empty())
	require.NoError(t, l.Tick().Run())
	l.Reset()
	assert.Equal(t, 0, l.Len())

	assert.True(t, Join(NewList(), nil).Tick().Empty())
}

func TestTickAndSetupDeduplicateSharedCells(t *testing.T) {
	var log []string
	shared := newProbe("shared", &log)
	a := NewList().Add(shared)
	b := NewList(a).Add(shared).Add(newProbe("b", &log))
	joined := Join(a, b)

	run(t, joined.Tick(), 3)
	assert.Equal(t, 3, shared.ticks, "a shared cell advances once per frame")

	require.NoError(t, joined.Setup().Run())
	assert.Equal(t, 1, shared.setups)
}

func TestResetOrder(t *testing.T) {
	var log []string
	parent := NewList().Add(newProbe("parent", &log))
	child := NewList(parent).Add(newProbe("child", &log))
	child.AddRequirement(newProbe("requirement", &log))
	child.AddFinal(func() { log = append(log, "final") })

	child.Reset()
	assert.Equal(t, []string{"final", "reset parent", "reset child", "reset requirement"}, log)
}

func TestBranchAndSum(t *testing.T) {
	sources := Cells(2, func(i int) Cell {
		if i == 0 {
			return NewWaveCell([]float64{1, 2, 3}, nil, false)
		}
		return NewWaveCell([]float64{10, 20, 30}, nil, false)
	})
	branches := sources.Branch(
		func(int) Cell { return Identity() },
		func(int) Cell { return NewFilteredCell(scale(0.5)) },
	)
	require.Len(t, branches, 2)

	rec := NewRecorder(8)
	out := branches[0].Sum().Map(func(int) Cell { return rec })

	run(t, out.Tick(), 4)
	assert.Equal(t, []float64{11, 22, 33, 0}, rec.Export())
}

func TestMultiChannelIntoMonoSinkUsesFirstChannel(t *testing.T) {
	rec := NewRecorder(2)
	require.NoError(t, rec.Push(signal.Const(0.25, 0.75)).Run())
	require.NoError(t, rec.Tick().Run())
	assert.Equal(t, []float64{0.25}, rec.Export())

	d := NewDelayCell(10, 1, signal.Const(0.1), nil)
	require.NoError(t, d.Push(signal.Const(0.5, 9)).Run())
	require.NoError(t, d.Tick().Run())
	require.NoError(t, d.Tick().Run())
	assert.InDelta(t, 0.5, d.current, 1e-12)
}

func TestRecorderRingKeepsMostRecent(t *testing.T) {
	rec := NewRecorder(3)
	for i := 1; i <= 5; i++ {
		require.NoError(t, rec.Push(signal.Const(float64(i))).Run())
		require.NoError(t, rec.Tick().Run())
	}
	assert.Equal(t, []float64{3, 4, 5}, rec.Export())
	assert.Equal(t, 3, rec.Frames())
}

func TestResetIsIdempotent(t *testing.T) {
	wave := NewWaveCell([]float64{0.1, 0.2, 0.3}, nil, true)
	delay := NewDelayCell(10, 1, signal.Const(0.2), nil)
	rec := NewRecorder(4)
	graph := Cells(1, func(int) Cell { return wave }).
		Map(func(int) Cell { return delay }).
		Map(func(int) Cell { return rec })

	run(t, graph.Tick(), 3)
	require.NotZero(t, wave.Cursor())

	graph.Reset()
	first := []any{wave.Cursor(), delay.cursor, append([]float64(nil), delay.buffer...), rec.Frames(), rec.Export()}
	graph.Reset()
	second := []any{wave.Cursor(), delay.cursor, append([]float64(nil), delay.buffer...), rec.Frames(), rec.Export()}

	assert.Equal(t, first, second)
	assert.Equal(t, 0, wave.Cursor())
	assert.Equal(t, 0, delay.cursor)
	assert.Equal(t, 0, rec.Frames())
	for _, v := range delay.buffer {
		assert.Zero(t, v)
	}
}
