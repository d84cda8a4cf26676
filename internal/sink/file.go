// Package sink holds the persistence variants for finished records.
//
// Every sink satisfies pipeline.Sink. Errors returned by Save are wrapped as
// persistence failures by the caller.
package sink

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"taskpipe/internal/record"
	"taskpipe/internal/state"
)

const DefaultJSONPath = "sink_output.json"

// JSONFile writes the record as pretty-printed JSON, replacing the file
// atomically.
type JSONFile struct {
	path   string
	indent int
	logger *slog.Logger
}

func NewJSONFile(path string, logger *slog.Logger) *JSONFile {
	if path == "" {
		path = DefaultJSONPath
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &JSONFile{path: path, indent: 4, logger: logger}
}

func (s *JSONFile) Path() string {
	return s.path
}

func (s *JSONFile) Save(ctx context.Context, rec record.ExecutionRecord) error {
	b, err := record.Marshal(rec, s.indent)
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	if err := writeLocked(ctx, s.path, b); err != nil {
		return err
	}
	s.logger.Info("data persisted", "path", s.path, "format", "json")
	return nil
}

// LoadJSON reads back a record written by JSONFile.
func LoadJSON(path string) (record.ExecutionRecord, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return record.ExecutionRecord{}, err
	}
	return record.Unmarshal(b)
}

type YAMLFile struct {
	path   string
	logger *slog.Logger
}

func NewYAMLFile(path string, logger *slog.Logger) *YAMLFile {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &YAMLFile{path: path, logger: logger}
}

func (s *YAMLFile) Save(ctx context.Context, rec record.ExecutionRecord) error {
	b, err := yaml.Marshal(rec.Document())
	if err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	if err := writeLocked(ctx, s.path, b); err != nil {
		return err
	}
	s.logger.Info("data persisted", "path", s.path, "format", "yaml")
	return nil
}

func LoadYAML(path string) (record.ExecutionRecord, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return record.ExecutionRecord{}, err
	}
	var doc record.Document
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return record.ExecutionRecord{}, fmt.Errorf("decode yaml: %w", err)
	}
	return record.FromDocument(doc)
}

func writeLocked(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock, err := state.AcquireFileLock(state.LockPathFor(path))
	if err != nil {
		return err
	}
	defer lock.Release()
	return writeAtomic(path, data)
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
