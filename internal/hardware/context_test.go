package hardware

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rings/internal/plan"
)

func TestRunnableWrapsFailureWithOpName(t *testing.T) {
	ctx := New("test", nil)
	boom := errors.New("kernel fault")
	op := plan.Seq("tick", plan.Do("ok", func() {}), plan.New("filter", func() error { return boom }))

	err := ctx.Compile(op).Run()
	var exec *ExecutionError
	require.ErrorAs(t, err, &exec)
	assert.Equal(t, "filter", exec.Op)
	assert.Equal(t, "test", exec.Context)
	assert.ErrorIs(t, err, boom)
}

func TestRunnableRecoversPanics(t *testing.T) {
	ctx := New("test", nil)
	err := ctx.Compile(plan.Do("explode", func() { panic("index out of range") })).Run()

	var exec *ExecutionError
	require.ErrorAs(t, err, &exec)
	assert.Equal(t, "explode", exec.Op)
	assert.Contains(t, err.Error(), "index out of range")
}

func TestScopeIsolatedDestroysAndRestores(t *testing.T) {
	scope := NewScope(nil, nil)
	base := scope.Current()

	var inner *Context
	err := scope.Isolated("cycle", func(c *Context) error {
		inner = c
		assert.Same(t, c, scope.Current())
		require.NoError(t, c.Compile(plan.Do("x", func() {})).Run())
		return scope.Isolated("nested", func(*Context) error { return nil })
	})
	require.Error(t, err, "nested isolation is rejected")

	assert.Same(t, base, scope.Current())
	assert.True(t, inner.Destroyed())
	assert.False(t, base.Destroyed())

	runErr := inner.Compile(plan.Do("late", func() {})).Run()
	assert.ErrorIs(t, runErr, ErrDestroyed)
}
