// Package filestore provides the in-memory virtual file system shared by the
// supervisor and its researchers during a run.
//
// Researchers never hold the live Store. They read from an immutable Snapshot
// and record their output in a WriteSet rooted at their subtopic directory;
// the supervisor applies every WriteSet after the dispatch batch joins.
package filestore

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/ShayCichocki/delve/pkg/models"
)

var (
	// ErrNotFound is returned when reading a path that was never written.
	ErrNotFound = errors.New("file not found")
	// ErrInvalidPath is returned for relative or empty paths.
	ErrInvalidPath = errors.New("invalid path")
	// ErrOutsideRoot is returned when a WriteSet write escapes its root.
	ErrOutsideRoot = errors.New("path outside writable root")
)

// Store maps absolute paths to content. Writes overwrite; there is no append.
type Store struct {
	mu    sync.RWMutex
	files map[string]string
}

// New creates an empty Store.
func New() *Store {
	return &Store{files: make(map[string]string)}
}

// Read returns the content at p or ErrNotFound.
func (s *Store) Read(p string) (string, error) {
	clean, err := Clean(p)
	if err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	content, ok := s.files[clean]
	if !ok {
		return "", fmt.Errorf("%s: %w", clean, ErrNotFound)
	}
	return content, nil
}

// Write stores content at p, replacing any previous content.
func (s *Store) Write(p, content string) error {
	clean, err := Clean(p)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[clean] = content
	return nil
}

// List returns the sorted paths under dir. A file path lists itself.
func (s *Store) List(dir string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listPaths(s.files, dir)
}

// Len returns the number of stored files.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files)
}

// Snapshot returns an immutable copy of the current contents.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	files := make(map[string]string, len(s.files))
	for k, v := range s.files {
		files[k] = v
	}
	return Snapshot{files: files}
}

// Apply writes every entry in order. Later writes to the same path win.
func (s *Store) Apply(writes []models.FileWrite) error {
	for _, w := range writes {
		if err := s.Write(w.Path, w.Content); err != nil {
			return fmt.Errorf("apply %s: %w", w.Path, err)
		}
	}
	return nil
}

// Files returns a copy of all entries. Used when archiving a finished run.
func (s *Store) Files() map[string]string {
	return s.Snapshot().files
}

// Snapshot is a read-only view of a Store at one point in time.
type Snapshot struct {
	files map[string]string
}

// Read returns the content at p or ErrNotFound.
func (s Snapshot) Read(p string) (string, error) {
	clean, err := Clean(p)
	if err != nil {
		return "", err
	}
	content, ok := s.files[clean]
	if !ok {
		return "", fmt.Errorf("%s: %w", clean, ErrNotFound)
	}
	return content, nil
}

// List returns the sorted paths under dir.
func (s Snapshot) List(dir string) []string {
	return listPaths(s.files, dir)
}

// Clean validates and normalizes an absolute store path.
func Clean(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" || !strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%q: %w", p, ErrInvalidPath)
	}
	return path.Clean(p), nil
}

func listPaths(files map[string]string, dir string) []string {
	clean, err := Clean(dir)
	if err != nil {
		return nil
	}
	prefix := clean
	if prefix != "/" {
		prefix += "/"
	}
	var out []string
	for p := range files {
		if p == clean || strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}
