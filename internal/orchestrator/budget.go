package orchestrator

import (
	"sync"
)

// BudgetStatus represents the current state of token budget consumption.
type BudgetStatus int

const (
	// BudgetOK indicates usage is below the warning threshold (<80%).
	BudgetOK BudgetStatus = iota
	// BudgetWarning indicates usage is between warning and exhaustion (80-99%).
	BudgetWarning
	// BudgetExhausted indicates budget is fully consumed (>=100%).
	BudgetExhausted
)

// String returns a human-readable representation of the budget status.
func (s BudgetStatus) String() string {
	switch s {
	case BudgetOK:
		return "OK"
	case BudgetWarning:
		return "Warning"
	case BudgetExhausted:
		return "Exhausted"
	default:
		return "Unknown"
	}
}

// DefaultWarningThreshold is the default percentage at which warnings begin.
const DefaultWarningThreshold = 0.80

// BudgetHandler tracks token usage of every generation call in a run against
// an optional budget. The supervisor checks it before each round and stops
// delegating once it is exhausted; in-flight researchers finish normally.
type BudgetHandler struct {
	budget           int64
	used             int64
	warningThreshold float64
	// warned is set once the warning threshold has been reported.
	warned    bool
	exhausted bool
	mu        sync.RWMutex
}

// NewBudgetHandler creates a new BudgetHandler with the specified token budget.
// A budget <= 0 means unlimited.
func NewBudgetHandler(budget int64) *BudgetHandler {
	return &BudgetHandler{
		budget:           budget,
		warningThreshold: DefaultWarningThreshold,
	}
}

// Update adds the specified number of tokens to the usage counter.
// It is fed from the generator call hook, so it must be safe for concurrent use.
func (h *BudgetHandler) Update(tokensUsed int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.used += tokensUsed
}

// CheckBudget returns the current budget status based on usage percentage.
// Returns:
//   - BudgetOK: usage < 80% (or configured warning threshold)
//   - BudgetWarning: usage 80-99%
//   - BudgetExhausted: usage >= 100%
func (h *BudgetHandler) CheckBudget() BudgetStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.statusLocked()
}

func (h *BudgetHandler) statusLocked() BudgetStatus {
	if h.budget <= 0 {
		return BudgetOK
	}

	percentage := float64(h.used) / float64(h.budget)

	if percentage >= 1.0 {
		return BudgetExhausted
	}
	if percentage >= h.warningThreshold {
		return BudgetWarning
	}
	return BudgetOK
}

// CrossedWarning reports true exactly once, the first time it is called
// while usage is at or above the warning threshold.
func (h *BudgetHandler) CrossedWarning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.warned || h.statusLocked() == BudgetOK {
		return false
	}
	h.warned = true
	return true
}

// GetUsage returns the current usage statistics.
// Returns: used tokens, total budget, and usage percentage (0.0-1.0).
func (h *BudgetHandler) GetUsage() (used, budget int64, percentage float64) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	used = h.used
	budget = h.budget

	if budget <= 0 {
		percentage = 0.0
	} else {
		percentage = float64(used) / float64(budget)
	}

	return used, budget, percentage
}

// CanDelegate returns true if another supervisor round may start.
func (h *BudgetHandler) CanDelegate() bool {
	return h.CheckBudget() != BudgetExhausted
}

// OnExhausted records that the run stopped because of the budget.
// This method is idempotent.
func (h *BudgetHandler) OnExhausted() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.exhausted = true
}

// IsExhausted returns true if OnExhausted has been called.
func (h *BudgetHandler) IsExhausted() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.exhausted
}
