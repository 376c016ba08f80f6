package scratch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrAlreadyAllocated indicates a duplicate Allocate call for a job that
// already owns a scratch directory. That is an orchestration defect, not an
// environmental condition, and is surfaced loudly.
var ErrAlreadyAllocated = errors.New("scratch directory already allocated")

// Manager owns the per-job working directories under a single scratch root.
// Allocation both creates and claims a directory, so no locking is needed:
// no two jobs ever share one.
type Manager struct {
	root string
}

// NewManager constructs a manager rooted at the configured scratch directory.
func NewManager(root string) (*Manager, error) {
	trimmed := strings.TrimSpace(root)
	if trimmed == "" {
		return nil, errors.New("scratch root must be set")
	}
	if err := os.MkdirAll(trimmed, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch root: %w", err)
	}
	return &Manager{root: trimmed}, nil
}

// Root returns the scratch root directory.
func (m *Manager) Root() string {
	return m.root
}

// Path returns the directory a job would own, whether or not it exists.
func (m *Manager) Path(jobID string) string {
	return filepath.Join(m.root, "job_"+jobID)
}

// Allocate creates a fresh, empty, job-scoped directory. A second call for
// the same job fails with ErrAlreadyAllocated.
func (m *Manager) Allocate(jobID string) (string, error) {
	if strings.TrimSpace(jobID) == "" {
		return "", errors.New("job id must not be empty")
	}
	path := m.Path(jobID)
	if err := os.Mkdir(path, 0o755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrAlreadyAllocated, path)
		}
		return "", fmt.Errorf("allocate scratch directory: %w", err)
	}
	return path, nil
}

// Ensure returns the job's scratch directory, creating it when missing.
// Redelivered stage invocations use this: the directory may survive from the
// previous attempt or may already have been reclaimed by the janitor.
func (m *Manager) Ensure(jobID string) (string, error) {
	if strings.TrimSpace(jobID) == "" {
		return "", errors.New("job id must not be empty")
	}
	path := m.Path(jobID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("ensure scratch directory: %w", err)
	}
	return path, nil
}

// Release recursively removes the job's directory. Releasing an already
// removed directory is a no-op, so the terminal-path cleanup and the janitor
// can race without either seeing an error.
func (m *Manager) Release(jobID string) error {
	if strings.TrimSpace(jobID) == "" {
		return errors.New("job id must not be empty")
	}
	if err := os.RemoveAll(m.Path(jobID)); err != nil {
		return fmt.Errorf("release scratch directory: %w", err)
	}
	return nil
}

// Entry describes one scratch directory found by a sweep listing.
type Entry struct {
	Path    string
	ModTime time.Time
}

// List returns the scratch directories currently on disk.
func (m *Manager) List() ([]Entry, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, fmt.Errorf("list scratch root: %w", err)
	}
	result := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Vanished between listing and stat: already cleaned elsewhere.
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("stat scratch entry: %w", err)
		}
		result = append(result, Entry{
			Path:    filepath.Join(m.root, entry.Name()),
			ModTime: info.ModTime(),
		})
	}
	return result, nil
}
