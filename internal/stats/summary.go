package stats

import (
	"fmt"
	"path/filepath"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"rings/internal/model"
)

// RunSummary condenses the best health history of one run.
type RunSummary struct {
	RunID       string  `json:"run_id"`
	Generations int     `json:"generations"`
	InitialBest float64 `json:"initial_best"`
	FinalBest   float64 `json:"final_best"`
	BestMean    float64 `json:"best_mean"`
	BestStd     float64 `json:"best_std"`
	BestMax     float64 `json:"best_max"`
	BestMin     float64 `json:"best_min"`
	Improvement float64 `json:"improvement"`
	MeanDiverse float64 `json:"mean_diversity"`
}

func Summarize(runID string, diagnostics []model.GenerationDiagnostics) RunSummary {
	s := RunSummary{RunID: runID, Generations: len(diagnostics)}
	if len(diagnostics) == 0 {
		return s
	}
	best := make([]float64, len(diagnostics))
	diversity := make([]float64, len(diagnostics))
	for i, d := range diagnostics {
		best[i] = d.BestHealth
		diversity[i] = d.Diversity
	}
	s.InitialBest = best[0]
	s.FinalBest = best[len(best)-1]
	s.BestMean = stat.Mean(best, nil)
	if len(best) > 1 {
		s.BestStd = stat.StdDev(best, nil)
	}
	s.BestMax = floats.Max(best)
	s.BestMin = floats.Min(best)
	s.Improvement = s.FinalBest - s.InitialBest
	s.MeanDiverse = stat.Mean(diversity, nil)
	return s
}

// TopGenomes ranks the scored records by health and keeps the first n.
func TopGenomes(genomes []model.GenomeRecord, n int) []TopGenome {
	scored := make([]model.GenomeRecord, 0, len(genomes))
	for _, g := range genomes {
		if g.Scored {
			scored = append(scored, g)
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Health > scored[j].Health
	})
	if n >= 0 && len(scored) > n {
		scored = scored[:n]
	}
	out := make([]TopGenome, len(scored))
	for i, g := range scored {
		out[i] = TopGenome{Rank: i + 1, Health: g.Health, Genome: g}
	}
	return out
}

// SeriesPoint is one generation of an averaged health series.
type SeriesPoint struct {
	Generation int     `json:"generation"`
	Mean       float64 `json:"mean"`
	Runs       int     `json:"runs"`
}

// AverageSeries averages several best health series generation by generation.
// Shorter series drop out once exhausted.
func AverageSeries(series [][]float64) []SeriesPoint {
	longest := 0
	for _, s := range series {
		longest = max(longest, len(s))
	}
	points := make([]SeriesPoint, 0, longest)
	values := make([]float64, 0, len(series))
	for g := 0; g < longest; g++ {
		values = values[:0]
		for _, s := range series {
			if g < len(s) {
				values = append(values, s[g])
			}
		}
		points = append(points, SeriesPoint{Generation: g + 1, Mean: stat.Mean(values, nil), Runs: len(values)})
	}
	return points
}

// RunsReport compares several runs written under one base directory.
type RunsReport struct {
	Runs        []RunSummary  `json:"runs"`
	FinalMean   float64       `json:"final_mean"`
	FinalStd    float64       `json:"final_std"`
	FinalMax    float64       `json:"final_max"`
	FinalMin    float64       `json:"final_min"`
	Average     []SeriesPoint `json:"average"`
	BestRunID   string        `json:"best_run_id,omitempty"`
	BestOverall float64       `json:"best_overall"`
}

// BuildRunsReport reads the health series of every run. A run without a
// series is an error.
func BuildRunsReport(baseDir string, runIDs []string) (RunsReport, error) {
	report := RunsReport{Runs: make([]RunSummary, 0, len(runIDs))}
	if len(runIDs) == 0 {
		return report, nil
	}
	all := make([][]float64, 0, len(runIDs))
	finals := make([]float64, 0, len(runIDs))
	for _, runID := range runIDs {
		var diagnostics []model.GenerationDiagnostics
		ok, err := readJSON(filepath.Join(baseDir, runID, DiagnosticsFile), &diagnostics)
		if err != nil {
			return RunsReport{}, err
		}
		if !ok {
			series, found, err := ReadHealthSeries(baseDir, runID)
			if err != nil {
				return RunsReport{}, err
			}
			if !found {
				return RunsReport{}, fmt.Errorf("health series not found for run id: %s", runID)
			}
			diagnostics = make([]model.GenerationDiagnostics, len(series))
			for i, best := range series {
				diagnostics[i] = model.GenerationDiagnostics{Generation: i, BestHealth: best}
			}
		}
		summary := Summarize(runID, diagnostics)
		report.Runs = append(report.Runs, summary)
		series := make([]float64, len(diagnostics))
		for i, d := range diagnostics {
			series[i] = d.BestHealth
		}
		all = append(all, series)
		finals = append(finals, summary.FinalBest)
		if report.BestRunID == "" || summary.BestMax > report.BestOverall {
			report.BestRunID = runID
			report.BestOverall = summary.BestMax
		}
	}
	report.FinalMean = stat.Mean(finals, nil)
	if len(finals) > 1 {
		report.FinalStd = stat.StdDev(finals, nil)
	}
	report.FinalMax = floats.Max(finals)
	report.FinalMin = floats.Min(finals)
	report.Average = AverageSeries(all)
	return report, nil
}
