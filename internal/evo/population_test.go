package evo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rings/internal/heredity"
)

func initRampPopulation(t *testing.T, genomes ...heredity.Genome) (*Population, *rampTarget) {
	t.Helper()
	var target *rampTarget
	p := NewPopulation(genomes, rampBuilder(&target, nil))
	comp := rampHealth(t)
	require.NoError(t, p.Init(context.Background(), rampTemplate(), comp.Receptors(), comp.Output()))
	return p, target
}

func TestPopulationEnableIsExclusive(t *testing.T) {
	p, _ := initRampPopulation(t, rampGenome("a", 0.1), rampGenome("b", 0.2))

	first, err := p.Enable(0)
	require.NoError(t, err)
	_, err = p.Enable(1)
	assert.ErrorIs(t, err, heredity.ErrAlreadyBound)
	assert.Equal(t, "a", p.Store().Assigned(), "second enable overwrote the store")

	require.NoError(t, first.Disable())
	assert.ErrorIs(t, first.Disable(), heredity.ErrBindingReleased)

	second, err := p.Enable(1)
	require.NoError(t, err)
	assert.Equal(t, "b", second.GenomeID())
	assert.Equal(t, 1, second.Index())
	require.NoError(t, second.Disable())
	_, ok := p.Active()
	assert.False(t, ok)
}

func TestPopulationDisableResetsTarget(t *testing.T) {
	p, target := initRampPopulation(t, rampGenome("a", 0.1))
	act, err := p.Enable(0)
	require.NoError(t, err)
	require.NoError(t, target.Tick().Run())
	require.NoError(t, act.Disable())
	assert.Zero(t, target.frame)
	assert.Equal(t, 1, target.resets)
}

func TestPopulationEnableRequiresInit(t *testing.T) {
	p := NewPopulation([]heredity.Genome{rampGenome("a", 0.1)}, rampBuilder(nil, nil))
	_, err := p.Enable(0)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestPopulationEnableOutOfRange(t *testing.T) {
	p, _ := initRampPopulation(t, rampGenome("a", 0.1))
	_, err := p.Enable(3)
	assert.ErrorIs(t, err, heredity.ErrIndexOutOfRange)
}

func TestPopulationInitRejectsEmptyAndForeignGenomes(t *testing.T) {
	comp := rampHealth(t)
	empty := NewPopulation(nil, rampBuilder(nil, nil))
	err := empty.Init(context.Background(), rampTemplate(), comp.Receptors(), comp.Output())
	assert.ErrorIs(t, err, ErrEmptyPopulation)

	foreign := heredity.Genome{ID: "x", Chromosomes: []heredity.Chromosome{{{0.1, 0.2}}}}
	p := NewPopulation([]heredity.Genome{foreign}, rampBuilder(nil, nil))
	err = p.Init(context.Background(), rampTemplate(), comp.Receptors(), comp.Output())
	assert.ErrorIs(t, err, heredity.ErrShapeMismatch)
}

func TestPopulationReplaceKeepsGraph(t *testing.T) {
	p, target := initRampPopulation(t, rampGenome("a", 0.1))

	require.NoError(t, p.Replace([]heredity.Genome{rampGenome("b", 0.3), rampGenome("c", 0.4)}))
	comp := rampHealth(t)
	require.NoError(t, p.Init(context.Background(), rampTemplate(), comp.Receptors(), comp.Output()))
	got, ok := p.Target().(*rampTarget)
	require.True(t, ok)
	assert.Same(t, target, got, "graph is reused")
	require.Equal(t, 2, p.Size())
	assert.Equal(t, "b", p.Genomes()[0].ID)

	act, err := p.Enable(1)
	require.NoError(t, err)
	assert.Equal(t, 0.4, target.level.Scalar())
	assert.ErrorIs(t, p.Replace([]heredity.Genome{rampGenome("d", 0.5)}), heredity.ErrAlreadyBound)
	require.NoError(t, act.Disable())

	foreign := heredity.Genome{ID: "x", Chromosomes: []heredity.Chromosome{{{0.1}, {0.2}}}}
	assert.ErrorIs(t, p.Replace([]heredity.Genome{foreign}), heredity.ErrShapeMismatch)
	assert.ErrorIs(t, p.Replace(nil), ErrEmptyPopulation)
}

func TestPopulationGenomesAreCopies(t *testing.T) {
	p, _ := initRampPopulation(t, rampGenome("a", 0.1))
	got := p.Genomes()
	got[0].Chromosomes[0][0][0] = 0.9
	assert.Equal(t, 0.1, p.Genomes()[0].Chromosomes[0][0][0], "population mutated through a returned copy")
}
