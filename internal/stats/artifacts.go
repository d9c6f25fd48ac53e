package stats

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"rings/internal/model"
	"rings/internal/storage"
)

const runIndexFile = "run_index.json"

// Files written for every run.
const (
	RunFile         = "run.json"
	ConfigFile      = "config.json"
	HistoryFile     = "health_history.json"
	DiagnosticsFile = "generation_diagnostics.json"
	LineageFile     = "lineage.json"
	TopGenomesFile  = "top_genomes.json"
	SeriesFile      = "health_series.csv"
	SummaryFile     = "summary.json"
)

type RunConfig struct {
	RunID            string  `json:"run_id"`
	PopulationID     string  `json:"population_id"`
	PopulationSize   int     `json:"population_size"`
	MaxChildren      int     `json:"max_children"`
	LowestHealth     float64 `json:"lowest_health"`
	Cycles           int     `json:"cycles"`
	Seed             int64   `json:"seed"`
	Pairing          string  `json:"pairing,omitempty"`
	SharingRadius    float64 `json:"sharing_radius,omitempty"`
	SampleRate       int     `json:"sample_rate"`
	Sources          int     `json:"sources"`
	DelayLayers      int     `json:"delay_layers"`
	Samples          int     `json:"samples,omitempty"`
	BatchSize        int     `json:"batch_size"`
	MaxDuration      int     `json:"max_duration"`
	StandardDuration int     `json:"standard_duration"`
	MaxSilence       int     `json:"max_silence"`
}

type TopGenome struct {
	Rank   int                `json:"rank"`
	Health float64            `json:"health"`
	Genome model.GenomeRecord `json:"genome"`
}

type RunArtifacts struct {
	Run         model.RunRecord               `json:"run"`
	Config      RunConfig                     `json:"config"`
	Diagnostics []model.GenerationDiagnostics `json:"generation_diagnostics"`
	Lineage     []model.LineageRecord         `json:"lineage"`
	TopGenomes  []TopGenome                   `json:"top_genomes"`
}

// BestByGeneration is the best health of every recorded generation.
func (a RunArtifacts) BestByGeneration() []float64 {
	out := make([]float64, len(a.Diagnostics))
	for i, d := range a.Diagnostics {
		out[i] = d.BestHealth
	}
	return out
}

type RunIndexEntry struct {
	RunID          string  `json:"run_id"`
	PopulationID   string  `json:"population_id"`
	Status         string  `json:"status"`
	PopulationSize int     `json:"population_size"`
	Cycles         int     `json:"cycles"`
	Completed      int     `json:"completed"`
	Seed           int64   `json:"seed"`
	BestHealth     float64 `json:"best_health"`
	CreatedAtUTC   string  `json:"created_at_utc"`
}

// WriteRunArtifacts writes one directory per run under baseDir and returns it.
func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	runID := artifacts.Run.ID
	if runID == "" {
		runID = artifacts.Config.RunID
	}
	if strings.TrimSpace(runID) == "" {
		return "", fmt.Errorf("run id is required")
	}
	if artifacts.Config.RunID == "" {
		artifacts.Config.RunID = runID
	}
	if artifacts.Config.RunID != runID {
		return "", fmt.Errorf("run config run id mismatch: got=%s want=%s", artifacts.Config.RunID, runID)
	}

	runDir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	best := artifacts.BestByGeneration()
	files := []struct {
		name  string
		value any
	}{
		{RunFile, artifacts.Run},
		{ConfigFile, artifacts.Config},
		{HistoryFile, map[string]any{"best_by_generation": best, "final_best_health": artifacts.Run.BestHealth}},
		{DiagnosticsFile, nonNil(artifacts.Diagnostics)},
		{LineageFile, nonNil(artifacts.Lineage)},
		{TopGenomesFile, nonNil(artifacts.TopGenomes)},
		{SummaryFile, Summarize(runID, artifacts.Diagnostics)},
	}
	for _, f := range files {
		if err := writeJSON(filepath.Join(runDir, f.name), f.value); err != nil {
			return "", fmt.Errorf("write %s: %w", f.name, err)
		}
	}
	if err := WriteHealthSeries(runDir, best); err != nil {
		return "", err
	}
	return runDir, nil
}

// ReadRunArtifacts loads what WriteRunArtifacts wrote. ok is false when the run
// directory does not exist.
func ReadRunArtifacts(baseDir, runID string) (RunArtifacts, bool, error) {
	if strings.TrimSpace(runID) == "" {
		return RunArtifacts{}, false, fmt.Errorf("run id is required")
	}
	runDir := filepath.Join(baseDir, runID)
	if _, err := os.Stat(runDir); errors.Is(err, fs.ErrNotExist) {
		return RunArtifacts{}, false, nil
	} else if err != nil {
		return RunArtifacts{}, false, err
	}

	var a RunArtifacts
	targets := []struct {
		name  string
		value any
	}{
		{RunFile, &a.Run},
		{ConfigFile, &a.Config},
		{DiagnosticsFile, &a.Diagnostics},
		{LineageFile, &a.Lineage},
		{TopGenomesFile, &a.TopGenomes},
	}
	for _, t := range targets {
		if _, err := readJSON(filepath.Join(runDir, t.name), t.value); err != nil {
			return RunArtifacts{}, false, fmt.Errorf("read %s: %w", t.name, err)
		}
	}
	return a, true, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns the index newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	var entries []RunIndexEntry
	ok, err := readJSON(filepath.Join(baseDir, runIndexFile), &entries)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []RunIndexEntry{}, nil
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Later appends first on equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

// ExportRunArtifacts copies a run directory into outDir.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	required := []string{RunFile, ConfigFile, HistoryFile, DiagnosticsFile, LineageFile, TopGenomesFile}
	for _, file := range required {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	for _, file := range []string{SeriesFile, SummaryFile} {
		err := copyFile(filepath.Join(src, file), filepath.Join(dst, file))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
	}
	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	var cfg RunConfig
	ok, err := readJSON(filepath.Join(baseDir, runID, ConfigFile), &cfg)
	return cfg, ok, err
}

func ReadTopGenomes(baseDir, runID string) ([]TopGenome, bool, error) {
	var top []TopGenome
	ok, err := readJSON(filepath.Join(baseDir, runID, TopGenomesFile), &top)
	return top, ok, err
}

// WriteHealthSeries writes the best health per generation as CSV.
func WriteHealthSeries(runDir string, bestByGeneration []float64) error {
	var b strings.Builder
	writer := csv.NewWriter(&b)
	if err := writer.Write([]string{"generation", "best_health"}); err != nil {
		return err
	}
	for i, best := range bestByGeneration {
		if err := writer.Write([]string{
			strconv.Itoa(i + 1),
			strconv.FormatFloat(best, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return storage.WriteFileAtomic(filepath.Join(runDir, SeriesFile), []byte(b.String()))
}

func ReadHealthSeries(baseDir, runID string) ([]float64, bool, error) {
	file, err := os.Open(filepath.Join(baseDir, runID, SeriesFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []float64{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 2 {
		return nil, false, fmt.Errorf("health series header must have at least 2 columns")
	}

	series := make([]float64, 0, 64)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if len(record) < 2 {
			return nil, false, fmt.Errorf("health series row must have at least 2 columns")
		}
		value, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, false, err
		}
		series = append(series, value)
	}
	return series, true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return storage.WriteFileAtomic(path, data)
}

func readJSON(path string, value any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, value); err != nil {
		return false, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
