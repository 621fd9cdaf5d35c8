package filestore

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/delve/pkg/models"
)

// WriteSet collects the writes of one researcher. Every path must live
// under the set's root directory.
type WriteSet struct {
	root   string
	writes []models.FileWrite
}

// NewWriteSet creates a WriteSet rooted at dir.
func NewWriteSet(dir string) (*WriteSet, error) {
	clean, err := Clean(dir)
	if err != nil {
		return nil, err
	}
	return &WriteSet{root: clean}, nil
}

// Root returns the directory writes are confined to.
func (w *WriteSet) Root() string {
	return w.root
}

// Write records content for p. Paths outside the root are rejected.
func (w *WriteSet) Write(p, content string) error {
	clean, err := Clean(p)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(clean, w.root+"/") {
		return fmt.Errorf("%s not under %s: %w", clean, w.root, ErrOutsideRoot)
	}
	w.writes = append(w.writes, models.FileWrite{Path: clean, Content: content})
	return nil
}

// Writes returns the recorded writes in order.
func (w *WriteSet) Writes() []models.FileWrite {
	out := make([]models.FileWrite, len(w.writes))
	copy(out, w.writes)
	return out
}
