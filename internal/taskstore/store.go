package taskstore

import (
	"sort"
	"sync"
	"time"
)

// DefaultMaxRuns bounds how many runs the store keeps.
const DefaultMaxRuns = 1000

type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
)

// Counts tallies per-ticket outcomes of one work unit run.
type Counts struct {
	Posted   int `json:"posted"`
	Rejected int `json:"rejected"`
	Failed   int `json:"failed"`
	Deferred int `json:"deferred"`
	Skipped  int `json:"skipped"`
}

// Run records one work unit's life in the queue.
type Run struct {
	ID          string     `json:"id"`
	Pass        int        `json:"pass"`
	ActivityIDs []string   `json:"activity_ids"`
	Status      RunStatus  `json:"status"`
	Counts      Counts     `json:"counts"`
	Budget      string     `json:"budget,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Logs        []LogEntry `json:"logs,omitempty"`
}

type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"` // info, error, success
	Message   string    `json:"message"`
}

type Store struct {
	mu      sync.RWMutex
	runs    map[string]*Run
	maxRuns int
}

func NewStore() *Store {
	return NewStoreWithLimit(DefaultMaxRuns)
}

// NewStoreWithLimit keeps at most maxRuns runs, evicting the oldest finished ones first.
func NewStoreWithLimit(maxRuns int) *Store {
	if maxRuns <= 0 {
		maxRuns = DefaultMaxRuns
	}
	return &Store{
		runs:    make(map[string]*Run),
		maxRuns: maxRuns,
	}
}

func (s *Store) Create(run *Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	run.CreatedAt = now
	run.UpdatedAt = now
	if run.Status == "" {
		run.Status = StatusPending
	}
	s.runs[run.ID] = run
	s.evictLocked()
}

// Get returns a copy of the run.
func (s *Store) Get(id string) (*Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, false
	}
	return run.clone(), true
}

// List returns copies of all runs, newest first.
func (s *Store) List() []*Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := make([]*Run, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run.clone())
	}
	sortNewestFirst(runs)
	return runs
}

func (s *Store) UpdateStatus(id string, status RunStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[id]; ok {
		run.Status = status
		run.UpdatedAt = time.Now()
	}
}

func (s *Store) AddLog(id string, level, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[id]; ok {
		run.Logs = append(run.Logs, LogEntry{
			Timestamp: time.Now(),
			Level:     level,
			Message:   message,
		})
		run.UpdatedAt = time.Now()
	}
}

// Finish marks the run completed with its outcome counts and budget usage.
func (s *Store) Finish(id string, counts Counts, budget string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[id]; ok {
		run.Status = StatusCompleted
		run.Counts = counts
		run.Budget = budget
		run.UpdatedAt = time.Now()
	}
}

func (s *Store) evictLocked() {
	if len(s.runs) <= s.maxRuns {
		return
	}
	runs := make([]*Run, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	// Oldest completed runs go first, then oldest of any status.
	sort.SliceStable(runs, func(i, j int) bool {
		ci := runs[i].Status == StatusCompleted
		cj := runs[j].Status == StatusCompleted
		if ci != cj {
			return ci
		}
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})
	for _, run := range runs[:len(s.runs)-s.maxRuns] {
		delete(s.runs, run.ID)
	}
}

func (r *Run) clone() *Run {
	cp := *r
	cp.ActivityIDs = append([]string(nil), r.ActivityIDs...)
	cp.Logs = append([]LogEntry(nil), r.Logs...)
	return &cp
}

func sortNewestFirst(runs []*Run) {
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
}
