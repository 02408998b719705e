package storage

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/starford/nudge/internal/apperr"
	"github.com/starford/nudge/internal/models"
)

// FS implements Provider as a single JSON document on the local file system.
type FS struct {
	path   string // absolute path to the reminders file
	logger *slog.Logger
}

// NewFS creates a provider for the file at path.
// The parent directory must already exist.
func NewFS(path string, logger *slog.Logger) (*FS, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve path: %w", err)
	}
	dir := filepath.Dir(abs)
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("storage: stat dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: parent is not a directory: %s", dir)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FS{path: abs, logger: logger}, nil
}

// Path returns the absolute path of the reminders file.
func (f *FS) Path() string {
	return f.path
}

// Load is the strict read: it returns whatever could be decoded together
// with an ErrPersistenceRead-wrapped error describing what could not.
// A missing file is empty state, not an error.
func (f *FS) Load() ([]models.Reminder, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return []models.Reminder{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: storage: read %s: %w", apperr.ErrPersistenceRead, f.path, err)
	}
	reminders, err := decode(data)
	if err != nil {
		return reminders, fmt.Errorf("%w: %w", apperr.ErrPersistenceRead, err)
	}
	return reminders, nil
}

// LoadAll implements Provider. Read failures are logged and degrade to the
// recoverable subset, or to an empty collection.
func (f *FS) LoadAll() []models.Reminder {
	reminders, err := f.Load()
	if err != nil {
		f.logger.Warn("storage: load degraded",
			slog.String("path", f.path),
			slog.Int("recovered", len(reminders)),
			slog.String("error", err.Error()))
	}
	if reminders == nil {
		return []models.Reminder{}
	}
	return reminders
}

// SaveAll implements Provider. Writing bytes identical to the current file
// is skipped.
func (f *FS) SaveAll(reminders []models.Reminder) error {
	if err := checkUnique(reminders); err != nil {
		return fmt.Errorf("storage: save: %w", err)
	}
	data, err := encode(reminders)
	if err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrPersistenceWrite, err)
	}
	if existing, err := os.ReadFile(f.path); err == nil && bytes.Equal(existing, data) {
		return nil
	}
	if err := f.write(data); err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrPersistenceWrite, err)
	}
	return nil
}

// write atomically replaces the file: tmp file → fsync → rename.
func (f *FS) write(content []byte) error {
	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".nudge-tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return nil
}
