package state

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"
)

// RunStatus represents the status of a research run.
type RunStatus string

const (
	RunRunning     RunStatus = "running"
	RunCompleted   RunStatus = "completed"
	RunPartial     RunStatus = "partial"
	RunFailed      RunStatus = "failed"
	RunInterrupted RunStatus = "interrupted"
)

// Run is an archived research run.
type Run struct {
	ID         string     `json:"id" yaml:"id"`
	Topic      string     `json:"topic" yaml:"topic"`
	Scope      string     `json:"scope" yaml:"scope"`
	Status     RunStatus  `json:"status" yaml:"status"`
	Reason     string     `json:"reason" yaml:"reason"`
	Rounds     int        `json:"rounds" yaml:"rounds"`
	Sources    int        `json:"sources" yaml:"sources"`
	TokensIn   int64      `json:"tokens_in" yaml:"tokens_in"`
	TokensOut  int64      `json:"tokens_out" yaml:"tokens_out"`
	Report     string     `json:"report" yaml:"-"`
	Error      string     `json:"error,omitempty" yaml:"error,omitempty"`
	PID        int        `json:"pid" yaml:"-"`
	StartedAt  time.Time  `json:"started_at" yaml:"started_at"`
	FinishedAt *time.Time `json:"finished_at" yaml:"finished_at,omitempty"`
}

// RunFile is one file of a run's research store.
type RunFile struct {
	Path    string `json:"path" yaml:"path"`
	Content string `json:"content" yaml:"-"`
}

const runColumns = `id, topic, scope, status, reason, rounds, sources, tokens_in, tokens_out,
	report, error, pid, started_at, finished_at`

// CreateRun records a run that has just started.
func (db *DB) CreateRun(r *Run) error {
	if r.Status == "" {
		r.Status = RunRunning
	}
	_, err := db.Exec(`
		INSERT INTO runs (id, topic, scope, status, pid, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.ID, r.Topic, r.Scope, string(r.Status), r.PID, formatTime(r.StartedAt))
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// FinishRun stores the outcome of a run. FinishedAt defaults to now.
func (db *DB) FinishRun(r *Run) error {
	if r.FinishedAt == nil {
		now := time.Now()
		r.FinishedAt = &now
	}
	result, err := db.Exec(`
		UPDATE runs SET status = ?, reason = ?, rounds = ?, sources = ?, tokens_in = ?, tokens_out = ?,
			report = ?, error = ?, pid = 0, finished_at = ?
		WHERE id = ?
	`, string(r.Status), r.Reason, r.Rounds, r.Sources, r.TokensIn, r.TokensOut,
		r.Report, r.Error, formatTime(*r.FinishedAt), r.ID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run: run %s not found", r.ID)
	}
	return nil
}

// GetRun retrieves a run by ID or unique ID prefix.
// Returns nil if no run matches.
func (db *DB) GetRun(id string) (*Run, error) {
	runs, err := db.queryRuns(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	if len(runs) == 0 {
		runs, err = db.queryRuns(`SELECT `+runColumns+` FROM runs WHERE id LIKE ? LIMIT 2`,
			stripLikeWildcards(id)+"%")
		if err != nil {
			return nil, fmt.Errorf("get run: %w", err)
		}
	}
	switch len(runs) {
	case 0:
		return nil, nil
	case 1:
		return &runs[0], nil
	}
	return nil, fmt.Errorf("get run: prefix %q matches more than one run", id)
}

// ListRuns lists runs, newest first, optionally filtered by status.
// A limit of zero lists every run.
func (db *DB) ListRuns(status *RunStatus, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	var args []any
	if status != nil {
		query += ` WHERE status = ?`
		args = append(args, string(*status))
	}
	query += ` ORDER BY started_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	runs, err := db.queryRuns(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// DeleteRun deletes a run and its files.
// Files are removed explicitly since foreign_keys is a per-connection pragma.
func (db *DB) DeleteRun(id string) error {
	return db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM run_files WHERE run_id = ?", id); err != nil {
			return fmt.Errorf("delete run files: %w", err)
		}
		if _, err := tx.Exec("DELETE FROM runs WHERE id = ?", id); err != nil {
			return fmt.Errorf("delete run: %w", err)
		}
		return nil
	})
}

// SaveFiles replaces the stored research files of a run.
func (db *DB) SaveFiles(runID string, files map[string]string) error {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	return db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM run_files WHERE run_id = ?", runID); err != nil {
			return fmt.Errorf("clear run files: %w", err)
		}
		for _, p := range paths {
			if _, err := tx.Exec(`
				INSERT INTO run_files (run_id, path, content) VALUES (?, ?, ?)
			`, runID, p, files[p]); err != nil {
				return fmt.Errorf("save run file %s: %w", p, err)
			}
		}
		return nil
	})
}

// GetRunFiles returns the stored research files of a run, ordered by path.
func (db *DB) GetRunFiles(runID string) ([]RunFile, error) {
	rows, err := db.Query(`
		SELECT path, content FROM run_files WHERE run_id = ? ORDER BY path
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("get run files: %w", err)
	}
	defer rows.Close()

	var files []RunFile
	for rows.Next() {
		var f RunFile
		if err := rows.Scan(&f.Path, &f.Content); err != nil {
			return nil, fmt.Errorf("scan run file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (db *DB) queryRuns(query string, args ...any) ([]Run, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

func scanRuns(rows *sql.Rows) ([]Run, error) {
	var runs []Run
	for rows.Next() {
		var r Run
		var startedAt string
		var finishedAt sql.NullString
		if err := rows.Scan(&r.ID, &r.Topic, &r.Scope, &r.Status, &r.Reason, &r.Rounds, &r.Sources,
			&r.TokensIn, &r.TokensOut, &r.Report, &r.Error, &r.PID, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt, _ = parseTime(startedAt)
		r.FinishedAt = parseNullableTime(finishedAt)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func stripLikeWildcards(s string) string {
	return strings.NewReplacer("%", "", "_", "").Replace(s)
}
