// pkg/artifact/store.go
package artifact

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Store persists stage artifacts under a fixed directory layout:
// processed tables under <dataDir>/processed, serialized models under
// <modelDir>, explainability output under <explainDir>.
//
// Every write lands atomically: content goes to a temp file in the target
// directory and is renamed into place, so a stage abort never leaves a
// partial artifact behind
type Store struct {
	dataDir    string
	modelDir   string
	explainDir string
	logger     *zap.Logger
}

// NewStore creates an artifact store rooted at the given directories
func NewStore(dataDir, modelDir, explainDir string, logger *zap.Logger) (*Store, error) {
	if dataDir == "" {
		return nil, errors.New("data directory cannot be empty")
	}
	if modelDir == "" {
		return nil, errors.New("model directory cannot be empty")
	}
	if explainDir == "" {
		return nil, errors.New("explainability directory cannot be empty")
	}
	if logger == nil {
		logger = zap.L().Named("artifact-store")
	}

	return &Store{
		dataDir:    dataDir,
		modelDir:   modelDir,
		explainDir: explainDir,
		logger:     logger,
	}, nil
}

// RawPath returns the path of a raw input file
func (s *Store) RawPath(name string) string {
	return filepath.Join(s.dataDir, "raw", name)
}

// ProcessedPath returns the path of a processed artifact
func (s *Store) ProcessedPath(name string) string {
	return filepath.Join(s.dataDir, "processed", name)
}

// ModelPath returns the path of a serialized model artifact
func (s *Store) ModelPath(name string) string {
	return filepath.Join(s.modelDir, name)
}

// ExplainPath returns the path of an explainability artifact
func (s *Store) ExplainPath(name string) string {
	return filepath.Join(s.explainDir, name)
}

// Exists reports whether an artifact is present
func (s *Store) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// WriteAtomic streams content through fn into a temp file and renames it into place
func (s *Store) WriteAtomic(path string, fn func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create artifact directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()

	if err := fn(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write artifact %s: %w", path, err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync artifact %s: %w", path, err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file for %s: %w", path, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to publish artifact %s: %w", path, err)
	}

	s.logger.Debug("Artifact written", zap.String("path", path))
	return nil
}

// WriteCSV writes a header plus rows as an atomic CSV artifact
func (s *Store) WriteCSV(path string, header []string, rows [][]string) error {
	return s.WriteAtomic(path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(header); err != nil {
			return fmt.Errorf("failed to write CSV header: %w", err)
		}
		for i, row := range rows {
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("failed to write CSV row %d: %w", i, err)
			}
		}
		cw.Flush()
		return cw.Error()
	})
}

// ReadCSV reads a CSV artifact, returning its header and rows
func (s *Store) ReadCSV(path string) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open CSV artifact %s: %w", path, err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read CSV artifact %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("CSV artifact %s is empty", path)
	}

	return records[0], records[1:], nil
}

// WriteJSON writes a value as an indented, atomic JSON artifact
func (s *Store) WriteJSON(path string, v interface{}) error {
	return s.WriteAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}

// ReadJSON reads a JSON artifact into v
func (s *Store) ReadJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to open JSON artifact %s: %w", path, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode JSON artifact %s: %w", path, err)
	}
	return nil
}
