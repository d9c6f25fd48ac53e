package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"rings/internal/model"
)

// FileStore keeps every record as a file under a root directory. Each file
// is replaced atomically, so a crash mid-write leaves the previous version.
//
//	populations/<id>.json   population record
//	populations/<id>.jsonl  genome stream
//	runs/<id>/run.json, diagnostics.json, lineage.json
type FileStore struct {
	root string

	mu          sync.RWMutex
	initialized bool
}

func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

func (s *FileStore) Root() string {
	return s.root
}

func (s *FileStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.root == "" {
		return errors.New("file store root is required")
	}
	for _, dir := range []string{"populations", "runs"} {
		if err := os.MkdirAll(filepath.Join(s.root, dir), 0o755); err != nil {
			return err
		}
	}
	s.initialized = true
	return nil
}

func (s *FileStore) SavePopulation(_ context.Context, population model.PopulationRecord, genomes []model.GenomeRecord) error {
	if err := s.check(); err != nil {
		return err
	}
	population.GenomeIDs = genomeIDs(genomes)
	payload, err := EncodePopulation(population)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := SavePopulationFile(s.populationPath(population.ID, ".jsonl"), genomes); err != nil {
		return err
	}
	return WriteFileAtomic(s.populationPath(population.ID, ".json"), payload)
}

func (s *FileStore) GetPopulation(_ context.Context, id string) (model.PopulationRecord, []model.GenomeRecord, bool, error) {
	if err := s.check(); err != nil {
		return model.PopulationRecord{}, nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	payload, ok, err := readOptional(s.populationPath(id, ".json"))
	if err != nil || !ok {
		return model.PopulationRecord{}, nil, false, err
	}
	population, err := DecodePopulation(payload)
	if err != nil {
		return model.PopulationRecord{}, nil, false, fmt.Errorf("decode population %s: %w", id, err)
	}
	genomes, ok, err := LoadPopulationFile(s.populationPath(id, ".jsonl"))
	if err != nil {
		return model.PopulationRecord{}, nil, false, err
	}
	if !ok {
		return model.PopulationRecord{}, nil, false, fmt.Errorf("population %s has no genome stream", id)
	}
	return population, genomes, true, nil
}

func (s *FileStore) SaveGenerationDiagnostics(_ context.Context, runID string, diagnostics []model.GenerationDiagnostics) error {
	payload, err := EncodeGenerationDiagnostics(diagnostics)
	if err != nil {
		return err
	}
	return s.putRunFile(runID, "diagnostics.json", payload)
}

func (s *FileStore) GetGenerationDiagnostics(_ context.Context, runID string) ([]model.GenerationDiagnostics, bool, error) {
	payload, ok, err := s.getRunFile(runID, "diagnostics.json")
	if err != nil || !ok {
		return nil, ok, err
	}
	diagnostics, err := DecodeGenerationDiagnostics(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode diagnostics %s: %w", runID, err)
	}
	return diagnostics, true, nil
}

func (s *FileStore) SaveLineage(_ context.Context, runID string, lineage []model.LineageRecord) error {
	payload, err := EncodeLineage(lineage)
	if err != nil {
		return err
	}
	return s.putRunFile(runID, "lineage.json", payload)
}

func (s *FileStore) GetLineage(_ context.Context, runID string) ([]model.LineageRecord, bool, error) {
	payload, ok, err := s.getRunFile(runID, "lineage.json")
	if err != nil || !ok {
		return nil, ok, err
	}
	lineage, err := DecodeLineage(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode lineage %s: %w", runID, err)
	}
	return lineage, true, nil
}

func (s *FileStore) SaveRun(_ context.Context, run model.RunRecord) error {
	payload, err := EncodeRun(run)
	if err != nil {
		return err
	}
	return s.putRunFile(run.ID, "run.json", payload)
}

func (s *FileStore) GetRun(_ context.Context, id string) (model.RunRecord, bool, error) {
	payload, ok, err := s.getRunFile(id, "run.json")
	if err != nil || !ok {
		return model.RunRecord{}, ok, err
	}
	run, err := DecodeRun(payload)
	if err != nil {
		return model.RunRecord{}, false, fmt.Errorf("decode run %s: %w", id, err)
	}
	return run, true, nil
}

func (s *FileStore) ListRuns(ctx context.Context) ([]model.RunRecord, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(s.root, "runs"))
	if err != nil {
		return nil, err
	}
	var runs []model.RunRecord
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		run, ok, err := s.GetRun(ctx, entry.Name())
		if err != nil {
			return nil, err
		}
		if ok {
			runs = append(runs, run)
		}
	}
	sortRuns(runs)
	return runs, nil
}

func (s *FileStore) check() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return errNotInitialized
	}
	return nil
}

func (s *FileStore) populationPath(id, ext string) string {
	return filepath.Join(s.root, "populations", safeName(id)+ext)
}

func (s *FileStore) putRunFile(runID, name string, payload []byte) error {
	if err := s.check(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return WriteFileAtomic(filepath.Join(s.root, "runs", safeName(runID), name), payload)
}

func (s *FileStore) getRunFile(runID, name string) ([]byte, bool, error) {
	if err := s.check(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return readOptional(filepath.Join(s.root, "runs", safeName(runID), name))
}

func safeName(id string) string {
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(id)
}

// SavePopulationFile writes genomes as a population stream at path.
func SavePopulationFile(path string, genomes []model.GenomeRecord) error {
	var buf bytes.Buffer
	if err := WritePopulationStream(&buf, genomes); err != nil {
		return err
	}
	return WriteFileAtomic(path, buf.Bytes())
}

// LoadPopulationFile reads a population stream. A missing file is reported
// through ok rather than as an error.
func LoadPopulationFile(path string) ([]model.GenomeRecord, bool, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	genomes, err := ReadPopulationStream(f)
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", path, err)
	}
	return genomes, true, nil
}

// WriteFileAtomic replaces path with data through a synced temporary file in
// the same directory.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	cleanup := func() { _ = os.Remove(name) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(name, path); err != nil {
		cleanup()
		return err
	}
	return nil
}

func readOptional(path string) ([]byte, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

