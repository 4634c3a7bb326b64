package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/aliskhannn/imager/internal/storage"
)

// Storage provides a simple file-based storage backend.
// It stores processed files as plain files directly under basePath.
type Storage struct {
	basePath string
}

// NewStorage creates a new Storage rooted at basePath, creating the directory if absent.
func NewStorage(basePath string) (*Storage, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", basePath, err)
	}

	return &Storage{basePath: basePath}, nil
}

// Save writes src to a file called name. The file only appears once it is
// fully written; on failure nothing is left behind.
// Returns the path of the stored file.
func (s *Storage) Save(ctx context.Context, name string, src io.Reader) (string, error) {
	if err := storage.ValidateName(name); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.basePath, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file in %s: %w", s.basePath, err)
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, src); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("failed to write file %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("failed to close file %s: %w", name, err)
	}

	dstPath := s.Path(name)
	if err := os.Rename(tmpPath, dstPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("failed to save file %s: %w", dstPath, err)
	}

	return dstPath, nil
}

// Open opens the named file for reading.
func (s *Storage) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := storage.ValidateName(name); err != nil {
		return nil, err
	}

	f, err := os.Open(s.Path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to open file %s: %w", name, err)
	}

	return f, nil
}

// Delete removes the named file.
func (s *Storage) Delete(ctx context.Context, name string) error {
	if err := storage.ValidateName(name); err != nil {
		return err
	}

	if err := os.Remove(s.Path(name)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", storage.ErrNotFound, name)
		}
		return fmt.Errorf("failed to delete file %s: %w", name, err)
	}

	return nil
}

// List returns the names of the stored files in lexical order.
func (s *Storage) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", s.basePath, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}

	return names, nil
}

// Path returns the filesystem path of the named file.
func (s *Storage) Path(name string) string {
	return filepath.Join(s.basePath, name)
}
