package storage

import (
	"context"

	"rings/internal/model"
)

// Store defines transaction-like persistence operations for populations and
// the records an evolution run leaves behind.
type Store interface {
	Init(ctx context.Context) error
	SavePopulation(ctx context.Context, population model.PopulationRecord, genomes []model.GenomeRecord) error
	GetPopulation(ctx context.Context, id string) (model.PopulationRecord, []model.GenomeRecord, bool, error)
	SaveGenerationDiagnostics(ctx context.Context, runID string, diagnostics []model.GenerationDiagnostics) error
	GetGenerationDiagnostics(ctx context.Context, runID string) ([]model.GenerationDiagnostics, bool, error)
	SaveLineage(ctx context.Context, runID string, lineage []model.LineageRecord) error
	GetLineage(ctx context.Context, runID string) ([]model.LineageRecord, bool, error)
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
}
