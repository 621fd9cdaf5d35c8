package state

import (
	"fmt"
	"log"
	"os"
	"syscall"
	"time"
)

// InterruptedRun describes a run that was still marked running at startup
// although the process that started it is gone.
type InterruptedRun struct {
	RunID     string
	Topic     string
	StartedAt time.Time
	PID       int
}

// RecoveryManager handles detection and cleanup of interrupted runs.
type RecoveryManager struct {
	db *DB
}

// NewRecoveryManager creates a new RecoveryManager with the given database.
func NewRecoveryManager(db *DB) *RecoveryManager {
	return &RecoveryManager{db: db}
}

// CheckForInterrupted lists runs marked running whose process is no longer alive.
// Runs owned by a live process (including the caller) are left alone.
func (rm *RecoveryManager) CheckForInterrupted() ([]InterruptedRun, error) {
	status := RunRunning
	runs, err := rm.db.ListRuns(&status, 0)
	if err != nil {
		return nil, fmt.Errorf("list running runs: %w", err)
	}

	var interrupted []InterruptedRun
	for _, r := range runs {
		if r.PID > 0 && isProcessAlive(r.PID) {
			continue
		}
		interrupted = append(interrupted, InterruptedRun{
			RunID:     r.ID,
			Topic:     r.Topic,
			StartedAt: r.StartedAt,
			PID:       r.PID,
		})
	}
	return interrupted, nil
}

// Clean marks every interrupted run as interrupted.
// Returns the number of runs cleaned up.
func (rm *RecoveryManager) Clean() (int, error) {
	interrupted, err := rm.CheckForInterrupted()
	if err != nil {
		return 0, err
	}

	for _, ir := range interrupted {
		r, err := rm.db.GetRun(ir.RunID)
		if err != nil {
			return 0, fmt.Errorf("load run %s: %w", ir.RunID, err)
		}
		if r == nil {
			continue
		}
		r.Status = RunInterrupted
		r.Error = "process exited before the run finished"
		if err := rm.db.FinishRun(r); err != nil {
			return 0, fmt.Errorf("mark run %s interrupted: %w", ir.RunID, err)
		}
		log.Printf("Run %s (%s) marked as interrupted", r.ID, r.Topic)
	}
	return len(interrupted), nil
}

// isProcessAlive checks if a process with the given PID is still running.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Send signal 0 to check if process exists
	err = process.Signal(syscall.Signal(0))
	return err == nil
}
