package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rings/internal/heredity"
)

func TestGenomeRecordCopiesValues(t *testing.T) {
	g := heredity.Genome{
		ID: "g1",
		Chromosomes: []heredity.Chromosome{
			{{0.1, 0.2}, {0.3, 0.4}},
			{{0.5}},
		},
	}

	record := FromGenome(g, 4)
	assert.Equal(t, "g1", record.ID)
	assert.Equal(t, 4, record.Generation)
	g.Chromosomes[0][0][0] = 9
	assert.Equal(t, 0.1, record.Chromosomes[0][0][0], "record shares storage with genome")

	back := record.Genome()
	require.True(t, heredity.SameShape(g, back), "shape changed: %s vs %s", g.Shape(), back.Shape())
	record.Chromosomes[1][0][0] = 7
	assert.Equal(t, 0.5, back.Chromosomes[1][0][0], "genome shares storage with record")
}
