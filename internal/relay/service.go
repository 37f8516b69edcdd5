package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/cexll/jira-relay/internal/activity"
	"github.com/cexll/jira-relay/internal/budget"
	"github.com/cexll/jira-relay/internal/taskstore"
)

// Queue runs work units asynchronously.
type Queue interface {
	// Enqueue submits a unit without blocking.
	Enqueue(unit *WorkUnit) error
	// Redispatch schedules a unit for a later execution in the background.
	Redispatch(unit *WorkUnit)
}

// Config holds the relay limits.
type Config struct {
	BatchSize int
	// CallLimit is the outbound-call allowance of one execution unit; <= 0 is unlimited.
	CallLimit    int
	BudgetMargin int
}

// Service turns activity ids into tracker comments.
type Service struct {
	cfg        Config
	queue      Queue
	aggregator *Aggregator
	poster     *Poster
	store      *taskstore.Store
	logf       func(format string, args ...any)
}

// NewService creates a relay service. AttachQueue must be called before PostComment.
func NewService(reader activity.Reader, client CommentPoster, cfg Config) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BudgetMargin < 0 {
		cfg.BudgetMargin = 0
	}
	// A margin that swallows the whole limit would defer every key forever.
	if cfg.CallLimit > 0 && cfg.BudgetMargin >= cfg.CallLimit {
		log.Printf("[Relay] Budget margin %d leaves no calls under limit %d, using margin %d", cfg.BudgetMargin, cfg.CallLimit, cfg.CallLimit-1)
		cfg.BudgetMargin = cfg.CallLimit - 1
	}
	return &Service{
		cfg:        cfg,
		aggregator: NewAggregator(reader),
		poster:     NewPoster(client),
		logf:       log.Printf,
	}
}

// AttachQueue sets the queue that executes units.
func (s *Service) AttachQueue(q Queue) {
	s.queue = q
}

// WithStore records unit runs in store.
func (s *Service) WithStore(store *taskstore.Store) {
	s.store = store
}

// Aggregator exposes the aggregator, mainly to pin its clock in tests.
func (s *Service) Aggregator() *Aggregator {
	return s.aggregator
}

// PostComment splits ids into work units and submits each one without
// waiting for it to run. Nil or empty input is a no-op. Processing failures
// never surface here; only a closed queue is reported.
func (s *Service) PostComment(ids []string) ([]*WorkUnit, error) {
	return s.submit(normalizeIDs(ids), 1, false)
}

func (s *Service) submit(ids []string, pass int, redispatch bool) ([]*WorkUnit, error) {
	chunks := Split(ids, s.cfg.BatchSize)
	if len(chunks) == 0 {
		return nil, nil
	}
	if s.queue == nil {
		return nil, errors.New("relay: no queue attached")
	}

	units := make([]*WorkUnit, 0, len(chunks))
	for _, chunk := range chunks {
		unit := NewWorkUnit(chunk, pass)
		s.recordQueued(unit)

		if redispatch {
			s.queue.Redispatch(unit)
			units = append(units, unit)
			continue
		}

		err := s.queue.Enqueue(unit)
		switch {
		case err == nil:
		case errors.Is(err, ErrQueueFull):
			s.logf("[Relay] Queue full, unit %s (%d activities) scheduled for later", unit.ID, len(chunk))
			s.queue.Redispatch(unit)
		default:
			s.note(unit.ID, "error", fmt.Sprintf("enqueue failed: %v", err))
			return units, fmt.Errorf("enqueue unit %s: %w", unit.ID, err)
		}
		units = append(units, unit)
	}
	return units, nil
}

// Execute runs one work unit: aggregate, dispatch within the pass budget and
// redispatch deferred activities. Failures are logged and absorbed.
func (s *Service) Execute(ctx context.Context, unit *WorkUnit) error {
	if unit == nil {
		return errors.New("relay execute: unit is nil")
	}
	s.setRunning(unit.ID)
	logger := s.unitLogger(unit)

	drafts := s.aggregator.Aggregate(ctx, unit.ActivityIDs, logger)
	b := budget.ForPass(s.cfg.CallLimit, 0, s.cfg.BudgetMargin)
	report := s.poster.Dispatch(ctx, drafts, b, logger)

	if len(report.Deferred) > 0 {
		logger.Log(fmt.Sprintf("redispatching %d activities for %d deferred tickets", len(report.Deferred), report.Count(OutcomeDeferred)))
		if _, err := s.submit(report.Deferred, unit.Pass+1, true); err != nil {
			logger.Log(fmt.Sprintf("redispatch failed: %v", err))
		}
	}

	counts := taskstore.Counts{
		Posted:   report.Count(OutcomePosted),
		Rejected: report.Count(OutcomeRejected),
		Failed:   report.Count(OutcomeFailed),
		Deferred: report.Count(OutcomeDeferred),
		Skipped:  len(drafts.Skipped),
	}
	usage := b.Snapshot()
	s.logf("[Relay] Unit %s pass %d done: %d tickets, posted=%d rejected=%d failed=%d deferred=%d skipped=%d, calls %s",
		unit.ID, unit.Pass, drafts.Len(), counts.Posted, counts.Rejected, counts.Failed, counts.Deferred, counts.Skipped, usage)
	if s.store != nil {
		s.store.Finish(unit.ID, counts, usage.String())
	}
	return nil
}

func (s *Service) unitLogger(unit *WorkUnit) Logger {
	return LoggerFunc(func(msg string) {
		s.logf("[Relay] Unit %s: %s", unit.ID, msg)
		s.note(unit.ID, "info", msg)
	})
}

func (s *Service) recordQueued(unit *WorkUnit) {
	if s.store == nil {
		return
	}
	s.store.Create(&taskstore.Run{
		ID:          unit.ID,
		Pass:        unit.Pass,
		ActivityIDs: unit.ActivityIDs,
	})
}

func (s *Service) setRunning(id string) {
	if s.store != nil {
		s.store.UpdateStatus(id, taskstore.StatusRunning)
	}
}

func (s *Service) note(id, level, msg string) {
	if s.store != nil {
		s.store.AddLog(id, level, msg)
	}
}

// normalizeIDs trims ids, drops blanks and keeps the first of any duplicates.
func normalizeIDs(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
