package dispatcher

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cexll/jira-relay/internal/relay"
)

// UnitExecutor runs one work unit
type UnitExecutor interface {
	Execute(ctx context.Context, unit *relay.WorkUnit) error
}

// Config controls dispatcher behaviour
type Config struct {
	Workers           int
	QueueSize         int
	InitialBackoff    time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
}

// Dispatcher runs work units on a fixed pool of workers fed by a bounded
// queue. Redispatched units re-enter the queue after a pass-based backoff.
type Dispatcher struct {
	executor UnitExecutor
	cfg      Config

	queue chan *relay.WorkUnit

	// pending counts units accepted but not yet finished, including delayed ones.
	pending atomic.Int64

	stopCh chan struct{}
	wg     sync.WaitGroup

	once sync.Once
}

// New creates a dispatcher with the provided configuration
func New(executor UnitExecutor, cfg Config) *Dispatcher {
	normalized := normalizeConfig(cfg)
	d := &Dispatcher{
		executor: executor,
		cfg:      normalized,
		queue:    make(chan *relay.WorkUnit, normalized.QueueSize),
		stopCh:   make(chan struct{}),
	}
	d.startWorkers()
	return d
}

func normalizeConfig(cfg Config) Config {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * 4
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = 2
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = time.Minute
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	return cfg
}

func (d *Dispatcher) startWorkers() {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

// Enqueue queues a unit for execution without blocking
func (d *Dispatcher) Enqueue(unit *relay.WorkUnit) error {
	if unit == nil {
		return errors.New("dispatcher enqueue: unit is nil")
	}

	select {
	case <-d.stopCh:
		return relay.ErrQueueClosed
	default:
	}

	d.pending.Add(1)
	select {
	case d.queue <- unit:
		return nil
	default:
		d.pending.Add(-1)
		return relay.ErrQueueFull
	}
}

// Redispatch schedules unit to re-enter the queue after the backoff for its
// pass. It returns immediately; the unit is retried until accepted or the
// dispatcher shuts down.
func (d *Dispatcher) Redispatch(unit *relay.WorkUnit) {
	if unit == nil {
		return
	}
	select {
	case <-d.stopCh:
		log.Printf("[Dispatcher] Dropping unit %s: dispatcher is shut down", unit.ID)
		return
	default:
	}

	d.pending.Add(1)
	delay := d.backoffDuration(unit.Pass)
	log.Printf("[Dispatcher] Scheduling unit %s (pass %d, %d activities) in %s", unit.ID, unit.Pass, len(unit.ActivityIDs), delay)

	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-timer.C:
			if !d.enqueueRetry(unit) {
				d.pending.Add(-1)
			}
		case <-d.stopCh:
			d.pending.Add(-1)
		}
	}()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.stopCh:
			return
		case unit, ok := <-d.queue:
			if !ok {
				return
			}
			d.process(unit)
		}
	}
}

func (d *Dispatcher) process(unit *relay.WorkUnit) {
	defer d.pending.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Dispatcher] Unit %s panicked: %v", unit.ID, r)
		}
	}()

	if err := d.executor.Execute(context.Background(), unit); err != nil {
		log.Printf("[Dispatcher] Unit %s pass %d failed: %v", unit.ID, unit.Pass, err)
	}
}

func (d *Dispatcher) enqueueRetry(unit *relay.WorkUnit) bool {
	for {
		select {
		case <-d.stopCh:
			return false
		case d.queue <- unit:
			return true
		default:
			time.Sleep(100 * time.Millisecond)
		}
	}
}

// backoffDuration returns the redispatch delay for a unit's pass number.
// Pass 1 (overflow of fresh input) and pass 2 both wait the initial backoff.
func (d *Dispatcher) backoffDuration(pass int) time.Duration {
	backoff := float64(d.cfg.InitialBackoff)
	for i := 2; i < pass; i++ {
		backoff *= d.cfg.BackoffMultiplier
		if backoff >= float64(d.cfg.MaxBackoff) {
			return d.cfg.MaxBackoff
		}
	}
	return time.Duration(backoff)
}

// Pending returns the number of units accepted but not yet finished.
func (d *Dispatcher) Pending() int {
	return int(d.pending.Load())
}

// WaitIdle blocks until no unit is queued, delayed or running, or ctx ends.
func (d *Dispatcher) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if d.pending.Load() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Shutdown gracefully stops the dispatcher
func (d *Dispatcher) Shutdown(ctx context.Context) {
	d.once.Do(func() {
		close(d.stopCh)
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.wg.Wait()
	}()

	select {
	case <-ctx.Done():
		return
	case <-done:
		return
	}
}
