package storage

import (
	"log/slog"
	"sync"
)

// ArchiveRegistry hands out one Archive per page path segment.
type ArchiveRegistry struct {
	baseDir   string
	maxSizeMB int

	mu       sync.Mutex
	archives map[string]*Archive
}

func NewArchiveRegistry(baseDir string, maxSizeMB int) *ArchiveRegistry {
	return &ArchiveRegistry{
		baseDir:   baseDir,
		maxSizeMB: maxSizeMB,
		archives:  make(map[string]*Archive),
	}
}

// Get returns (or creates) the archive for segment.
func (r *ArchiveRegistry) Get(segment string) *Archive {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.archives[segment]; ok {
		return a
	}
	a := NewArchive(r.baseDir, segment, r.maxSizeMB)
	r.archives[segment] = a
	return a
}

// Close closes every archive and returns the last error seen.
func (r *ArchiveRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lastErr error
	for segment, a := range r.archives {
		if err := a.Close(); err != nil {
			slog.Error("failed to close archive", "segment", segment, "error", err)
			lastErr = err
		}
	}
	r.archives = make(map[string]*Archive)
	return lastErr
}
