package budget

import (
	"fmt"
	"sync"
)

// Unlimited is the Remaining value reported by a budget without a ceiling.
const Unlimited = -1

// Budget tracks the outbound calls one execution unit may still make.
// It is created at task start and never shared between units.
type Budget struct {
	mu    sync.Mutex
	limit int
	used  int
}

// ForPass derives a pass budget from the caller's allowance: callLimit minus
// the calls already used minus the safety margin, floored at zero.
// A callLimit <= 0 yields an unlimited budget.
func ForPass(callLimit, used, margin int) *Budget {
	if callLimit <= 0 {
		return New(Unlimited)
	}
	if margin < 0 {
		margin = 0
	}
	limit := callLimit - used - margin
	if limit < 0 {
		limit = 0
	}
	return New(limit)
}

// New creates a budget allowing limit calls. Unlimited (or any negative
// value) removes the ceiling.
func New(limit int) *Budget {
	if limit < 0 {
		limit = Unlimited
	}
	return &Budget{limit: limit}
}

// TryConsume takes one call from the budget. It returns false without
// consuming anything once the budget is exhausted.
func (b *Budget) TryConsume() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.limit != Unlimited && b.used >= b.limit {
		return false
	}
	b.used++
	return true
}

// Remaining returns the calls left, or Unlimited.
func (b *Budget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.limit == Unlimited {
		return Unlimited
	}
	return b.limit - b.used
}

// Used returns the number of calls consumed so far.
func (b *Budget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

// Check returns a *LimitError when no further call is allowed.
func (b *Budget) Check() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.limit != Unlimited && b.used >= b.limit {
		return &LimitError{
			Limit:   b.limit,
			Used:    b.used,
			Message: "outbound call budget exhausted",
		}
	}
	return nil
}

// Stats is a snapshot of a budget, suitable for run logs.
type Stats struct {
	Limit int `json:"limit"`
	Used  int `json:"used"`
}

// Snapshot returns the current usage.
func (b *Budget) Snapshot() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{Limit: b.limit, Used: b.used}
}

func (s Stats) String() string {
	if s.Limit == Unlimited {
		return fmt.Sprintf("%d/unlimited", s.Used)
	}
	return fmt.Sprintf("%d/%d", s.Used, s.Limit)
}

// LimitError represents a call budget violation
type LimitError struct {
	Limit   int
	Used    int
	Message string
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s (%d/%d)", e.Message, e.Used, e.Limit)
}
