package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"txn-features/internal/frame"
)

var ErrSourceNotFound = errors.New("source not found")

// Source supplies a rectangular table of named columns for a path.
type Source interface {
	Load(ctx context.Context, path string) (*frame.Table, error)
}

// FileSource reads delimited files from the local filesystem. Paths that do
// not exist as given are looked up again under DataDir.
type FileSource struct {
	DataDir string
}

var _ Source = (*FileSource)(nil)

func NewFileSource(dataDir string) *FileSource {
	return &FileSource{DataDir: dataDir}
}

func (s *FileSource) Resolve(path string) (string, error) {
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		return path, nil
	}

	if s.DataDir != "" {
		alt := filepath.Join(s.DataDir, path)
		if info, err := os.Stat(alt); err == nil && !info.IsDir() {
			return alt, nil
		}
	}

	return "", fmt.Errorf("%w: %s", ErrSourceNotFound, path)
}

func (s *FileSource) Load(ctx context.Context, path string) (*frame.Table, error) {
	resolved, err := s.Resolve(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(resolved)
	if err != nil {
		return nil, fmt.Errorf("error opening %s: %w", resolved, err)
	}
	defer file.Close()

	table, err := frame.ReadCSV(file)
	if err != nil {
		return nil, fmt.Errorf("error loading %s: %w", resolved, err)
	}

	slog.Info("loaded source", "path", resolved, "rows", table.Rows(), "columns", table.Width())
	return table, nil
}
