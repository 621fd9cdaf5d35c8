package state

import "io"

// RunStore handles run archive operations.
type RunStore interface {
	CreateRun(r *Run) error
	FinishRun(r *Run) error
	GetRun(id string) (*Run, error)
	ListRuns(status *RunStatus, limit int) ([]Run, error)
	SaveFiles(runID string, files map[string]string) error
	GetRunFiles(runID string) ([]RunFile, error)
}

// Migrator handles database schema migrations.
// Separating this allows clients to depend only on migration functionality.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// StateStore defines the interface for run persistence.
// The CLI archives runs through it without depending on SQLite.
type StateStore interface {
	io.Closer
	Migrator
	RunStore
}

// Compile-time verification that DB implements all interfaces.
var (
	_ StateStore = (*DB)(nil)
	_ Migrator   = (*DB)(nil)
	_ RunStore   = (*DB)(nil)
)
