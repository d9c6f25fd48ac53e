package model

import (
	"time"

	"rings/internal/heredity"
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// GenomeRecord is the persisted form of one genome. Health is only meaningful
// when Scored is set.
type GenomeRecord struct {
	VersionedRecord
	ID          string        `json:"id"`
	Generation  int           `json:"generation"`
	Chromosomes [][][]float64 `json:"chromosomes"`
	Health      float64       `json:"health,omitempty"`
	Scored      bool          `json:"scored,omitempty"`
}

type PopulationRecord struct {
	VersionedRecord
	ID         string    `json:"id"`
	Generation int       `json:"generation"`
	GenomeIDs  []string  `json:"genome_ids"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type GenerationDiagnostics struct {
	Generation   int     `json:"generation"`
	Evaluated    int     `json:"evaluated"`
	BestHealth   float64 `json:"best_health"`
	MeanHealth   float64 `json:"mean_health"`
	MinHealth    float64 `json:"min_health"`
	StdDevHealth float64 `json:"stddev_health"`
	BestGenomeID string  `json:"best_genome_id"`
	Survivors    int     `json:"survivors"`
	Bred         int     `json:"bred"`
	Generated    int     `json:"generated"`
	Dropped      int     `json:"dropped"`
	Diversity    float64 `json:"diversity"`
}

// Lineage operations.
const (
	OperationSeed      = "seed"
	OperationBred      = "bred"
	OperationGenerated = "generated"
	OperationLoaded    = "loaded"
)

type LineageRecord struct {
	VersionedRecord
	GenomeID   string   `json:"genome_id"`
	ParentIDs  []string `json:"parent_ids,omitempty"`
	Generation int      `json:"generation"`
	Operation  string   `json:"operation"`
}

// Run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunCanceled  = "canceled"
	RunFailed    = "failed"
)

type RunRecord struct {
	VersionedRecord
	ID           string    `json:"id"`
	PopulationID string    `json:"population_id"`
	Status       string    `json:"status"`
	Cycles       int       `json:"cycles"`
	Completed    int       `json:"completed"`
	BestHealth   float64   `json:"best_health"`
	BestGenomeID string    `json:"best_genome_id,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// FromGenome copies g into a record. The version fields are left for the
// codec to fill.
func FromGenome(g heredity.Genome, generation int) GenomeRecord {
	chromosomes := make([][][]float64, len(g.Chromosomes))
	for i, c := range g.Chromosomes {
		genes := make([][]float64, len(c))
		for j, gene := range c {
			genes[j] = append([]float64(nil), gene...)
		}
		chromosomes[i] = genes
	}
	return GenomeRecord{ID: g.ID, Generation: generation, Chromosomes: chromosomes}
}

func (r GenomeRecord) Genome() heredity.Genome {
	out := heredity.Genome{ID: r.ID, Chromosomes: make([]heredity.Chromosome, len(r.Chromosomes))}
	for i, c := range r.Chromosomes {
		genes := make(heredity.Chromosome, len(c))
		for j, gene := range c {
			genes[j] = append(heredity.Gene(nil), gene...)
		}
		out.Chromosomes[i] = genes
	}
	return out
}
