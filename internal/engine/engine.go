// Copyright (c) 2025 Social Harvest Project
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"golang.org/x/time/rate"

	"github.com/socialharvest/harvester/internal/model"
	"github.com/socialharvest/harvester/internal/progress"
	"github.com/socialharvest/harvester/internal/ratelimit"
	"github.com/socialharvest/harvester/internal/scrape"
	"github.com/socialharvest/harvester/internal/store"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotPending is returned when submitting a task that already
	// left the pending state.
	ErrNotPending = errors.New("task is not pending")

	// ErrPoolFull is returned when the worker pool is at capacity.
	ErrPoolFull = errors.New("worker pool is at capacity")

	// ErrAlreadyActive is returned when a task is submitted while a
	// worker for it is still registered. The pool admits a task at most
	// once, which is what guarantees single-writer access to it.
	ErrAlreadyActive = errors.New("task is already active")

	// ErrNotFound is returned when the task id is unknown.
	ErrNotFound = errors.New("task not found")

	// ErrAlreadyTerminal is returned when cancelling a task that has
	// already reached a terminal state.
	ErrAlreadyTerminal = errors.New("task is already terminal")

	// ErrNotRunning is returned when cancelling a task that was never
	// admitted: there is no worker to stop.
	ErrNotRunning = errors.New("task is not running")

	// ErrStopped is returned when submitting to a shut-down engine.
	ErrStopped = errors.New("engine is stopped")
)

// =============================================================================
// OPTIONS
// =============================================================================

// DefaultMaxWorkers bounds concurrently active tasks when the caller
// configures nothing.
const DefaultMaxWorkers = 3

// Options configures an Engine.
type Options struct {
	// MaxWorkers bounds the number of concurrently active tasks.
	MaxWorkers int

	// RequestsPerSecond bounds the aggregate fetch rate across all
	// workers (0 = unpaced).
	RequestsPerSecond float64

	// Burst is the pacer burst size.
	Burst int

	// Logger optionally tees every task log entry for operational
	// visibility. Not part of the progress contract.
	Logger *log.Logger
}

// =============================================================================
// ENGINE
// =============================================================================

// cancelSignal delivers a cooperative stop request to one worker.
type cancelSignal struct {
	once sync.Once
	ch   chan struct{}
}

func newCancelSignal() *cancelSignal {
	return &cancelSignal{ch: make(chan struct{})}
}

func (c *cancelSignal) fire() {
	c.once.Do(func() { close(c.ch) })
}

// Engine runs scraping tasks against a fetch capability.
type Engine struct {
	tasks   store.TaskStore
	records store.RecordStore
	fetcher scrape.Fetcher

	// sem is the worker pool semaphore
	sem chan struct{}

	// pacer bounds aggregate request rate across workers
	pacer *rate.Limiter

	// trackers answers status polls, also after a task finished
	trackers *progress.Registry

	// mu guards active and stopped
	mu sync.Mutex

	// active maps task id -> cancel signal while a worker owns the task
	active map[string]*cancelSignal

	wg sync.WaitGroup

	// stopped blocks new admissions once a drain started (guarded by mu)
	stopped bool

	logger *log.Logger
}

// New creates an engine over the given stores and fetch capability.
func New(tasks store.TaskStore, records store.RecordStore, fetcher scrape.Fetcher, opts Options) *Engine {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = DefaultMaxWorkers
	}
	return &Engine{
		tasks:    tasks,
		records:  records,
		fetcher:  fetcher,
		sem:      make(chan struct{}, opts.MaxWorkers),
		pacer:    ratelimit.NewPacer(opts.RequestsPerSecond, opts.Burst),
		trackers: progress.NewRegistry(),
		active:   make(map[string]*cancelSignal),
		logger:   opts.Logger,
	}
}

// =============================================================================
// PUBLIC CONTRACT
// =============================================================================

// Submit admits a pending task to the worker pool and starts its
// worker. Rejections are synchronous validation errors: the task is not
// pending, its config is invalid, it is already active, the pool is at
// capacity, or the engine is shut down.
func (e *Engine) Submit(ctx context.Context, t *model.Task) error {
	if s := t.Status(); s != model.TaskStatusPending {
		return fmt.Errorf("%w: status is %s", ErrNotPending, s)
	}
	if err := t.Config.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Checked under mu: Shutdown flips the flag under the same lock, so
	// no worker can be added once the drain has started.
	if e.stopped {
		return ErrStopped
	}
	if _, ok := e.active[t.ID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyActive, t.ID)
	}

	select {
	case e.sem <- struct{}{}:
	default:
		return fmt.Errorf("%w (%d workers)", ErrPoolFull, cap(e.sem))
	}

	sig := newCancelSignal()
	e.active[t.ID] = sig

	tracker := progress.NewTracker(t, e.logger)
	e.trackers.Add(t.ID, tracker)

	e.wg.Add(1)
	go e.runWorker(t, tracker, sig)
	return nil
}

// Cancel requests cooperative cancellation of a running task. It
// returns immediately; the worker stops at its next checkpoint.
// Cancelling a terminal task returns ErrAlreadyTerminal, a pending
// never-admitted task ErrNotRunning, an unknown id ErrNotFound. A
// second cancel is idempotent: once the first takes effect it also
// reports ErrAlreadyTerminal.
func (e *Engine) Cancel(id string) error {
	e.mu.Lock()
	sig, running := e.active[id]
	e.mu.Unlock()

	if running {
		sig.fire()
		return nil
	}

	// Not active: either it finished, was never submitted, or does not
	// exist at all.
	t, err := e.tasks.GetTask(context.Background(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return err
	}

	if t.Status().Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, id, t.Status())
	}
	return fmt.Errorf("%w: %s is %s", ErrNotRunning, id, t.Status())
}

// Status returns the latest progress snapshot for a task. It never
// blocks on the running worker. For tasks the engine has no tracker for
// (created before a restart), a snapshot is derived from the persisted
// task, without a log sequence.
func (e *Engine) Status(ctx context.Context, id string) (*progress.Snapshot, error) {
	if tr := e.trackers.Get(id); tr != nil {
		return tr.Snapshot(), nil
	}

	t, err := e.tasks.GetTask(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return progress.NewTracker(t, nil).Snapshot(), nil
}

// Shutdown stops admitting tasks and waits for running workers to reach
// a terminal state, or for ctx to expire.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ActiveCount returns the number of currently running workers.
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// release returns a worker slot and unregisters the task. The tracker
// is retired, not dropped: recent status polls still see the final
// snapshot until it ages out of the registry's bounded history.
func (e *Engine) release(taskID string) {
	e.mu.Lock()
	delete(e.active, taskID)
	e.mu.Unlock()
	<-e.sem
	e.trackers.Retire(taskID)
}
