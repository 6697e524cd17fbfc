// Copyright (c) 2025 Social Harvest Project
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrInvalidTransition is returned when a lifecycle method is called
	// on an entity whose current status does not permit the transition.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNotRunning is returned when a running-only mutation (progress
	// counter) is attempted on a task that is not running.
	ErrNotRunning = errors.New("task is not running")
)

// =============================================================================
// TASK STATUS
// =============================================================================

// TaskStatus represents the current state of a scraping task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task was created but not yet admitted
	TaskStatusPending TaskStatus = "pending"

	// TaskStatusRunning indicates a worker is currently executing the task
	TaskStatusRunning TaskStatus = "running"

	// TaskStatusCompleted indicates the task finished successfully
	TaskStatusCompleted TaskStatus = "completed"

	// TaskStatusFailed indicates the task hit an unrecoverable error
	TaskStatusFailed TaskStatus = "failed"

	// TaskStatusCancelled indicates a stop request was observed
	TaskStatusCancelled TaskStatus = "cancelled"
)

// String returns the string representation of the task status.
func (s TaskStatus) String() string {
	return string(s)
}

// Terminal reports whether the status is one no transition may leave.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// validTaskTransition checks whether from -> to is a legal move.
// Valid transitions: pending -> running -> completed/failed/cancelled.
// Cancellation is defined on running tasks only; a pending task has no
// worker to stop and stays pending until admitted.
func validTaskTransition(from, to TaskStatus) bool {
	switch from {
	case TaskStatusPending:
		return to == TaskStatusRunning
	case TaskStatusRunning:
		return to == TaskStatusCompleted || to == TaskStatusFailed || to == TaskStatusCancelled
	default:
		// Terminal states admit nothing.
		return false
	}
}

// =============================================================================
// TASK STRUCTURE
// =============================================================================

// Task represents one configured extraction run against a target URL.
//
// A task is created in pending status by the caller and mutated only by
// the execution engine afterward. Exactly one worker owns a task's
// mutable fields while it runs; everyone else reads through Clone().
type Task struct {
	// ID is a unique identifier for this task
	ID string

	// Name is a human-readable description of the task
	Name string

	// URL is the target page being scraped
	URL string

	// Config holds the validated extraction settings
	Config Config

	// CreatedAt is when the task record was created
	CreatedAt time.Time

	// UpdatedAt is bumped on every mutation
	UpdatedAt time.Time

	// StartedAt is set exactly once, on entry to running
	StartedAt time.Time

	// CompletedAt is set exactly once, on entry to a terminal state
	CompletedAt time.Time

	// status is the current lifecycle state (guarded)
	status TaskStatus

	// itemsProcessed counts successfully extracted items (guarded)
	itemsProcessed int

	// errorMessage holds the failure reason for failed tasks (guarded)
	errorMessage string

	// mu protects concurrent access to the task
	mu sync.RWMutex
}

// NewTask creates a pending task with the given name, URL, and config.
// The config is validated; an invalid config is rejected before the
// task ever reaches the engine.
func NewTask(name, url string, cfg Config) (*Task, error) {
	if name == "" {
		return nil, errors.New("task name is required")
	}
	if url == "" {
		return nil, errors.New("task url is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &Task{
		ID:        uuid.New().String(),
		Name:      name,
		URL:       url,
		Config:    cfg,
		CreatedAt: now,
		UpdatedAt: now,
		status:    TaskStatusPending,
	}, nil
}

// =============================================================================
// LIFECYCLE TRANSITIONS
// =============================================================================

// Start moves the task from pending to running and stamps StartedAt.
func (t *Task) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.transitionLocked(TaskStatusRunning); err != nil {
		return err
	}
	t.StartedAt = time.Now().UTC()
	return nil
}

// Complete moves the task from running to completed.
func (t *Task) Complete() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transitionLocked(TaskStatusCompleted)
}

// Fail moves the task to failed and records the failure reason.
// The items-processed counter is left at the last successful count.
func (t *Task) Fail(reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.transitionLocked(TaskStatusFailed); err != nil {
		return err
	}
	t.errorMessage = reason
	return nil
}

// MarkCancelled moves the task from running to cancelled, recording
// that a stop request was observed at a checkpoint.
func (t *Task) MarkCancelled() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transitionLocked(TaskStatusCancelled)
}

// transitionLocked applies a validated transition. Must be called with
// the lock held. CompletedAt is stamped on entry to a terminal state.
func (t *Task) transitionLocked(to TaskStatus) error {
	if !validTaskTransition(t.status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.status, to)
	}
	t.status = to
	t.UpdatedAt = time.Now().UTC()
	if to.Terminal() {
		t.CompletedAt = t.UpdatedAt
	}
	return nil
}

// =============================================================================
// ACCESSORS
// =============================================================================

// Status returns the current task status (thread-safe).
func (t *Task) Status() TaskStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// ItemsProcessed returns the current progress counter (thread-safe).
func (t *Task) ItemsProcessed() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.itemsProcessed
}

// ErrorMessage returns the failure reason, empty unless failed.
func (t *Task) ErrorMessage() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.errorMessage
}

// AddProcessed increments the items-processed counter. The counter is
// monotonically non-decreasing and only moves while the task runs.
func (t *Task) AddProcessed(n int) error {
	if n < 0 {
		return errors.New("item count cannot be negative")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != TaskStatusRunning {
		return ErrNotRunning
	}
	t.itemsProcessed += n
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// Duration returns how long the task has been running, or took to
// finish. Zero until the task starts.
func (t *Task) Duration() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.StartedAt.IsZero() {
		return 0
	}
	if t.CompletedAt.IsZero() {
		return time.Since(t.StartedAt)
	}
	return t.CompletedAt.Sub(t.StartedAt)
}

// Clone creates a point-in-time copy of the task for reading.
// The copy carries its own zero-value mutex and shares no mutable state
// with the original.
func (t *Task) Clone() *Task {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return &Task{
		ID:             t.ID,
		Name:           t.Name,
		URL:            t.URL,
		Config:         t.Config.clone(),
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
		StartedAt:      t.StartedAt,
		CompletedAt:    t.CompletedAt,
		status:         t.status,
		itemsProcessed: t.itemsProcessed,
		errorMessage:   t.errorMessage,
	}
}

// Restore rebuilds a task from persisted state, bypassing transition
// validation. Only the store may call this when loading rows.
func Restore(id, name, url string, cfg Config, status TaskStatus,
	created, updated, started, completed time.Time, items int, errMsg string) *Task {
	return &Task{
		ID:             id,
		Name:           name,
		URL:            url,
		Config:         cfg,
		CreatedAt:      created,
		UpdatedAt:      updated,
		StartedAt:      started,
		CompletedAt:    completed,
		status:         status,
		itemsProcessed: items,
		errorMessage:   errMsg,
	}
}

// Summary returns a one-line summary of the task.
func (t *Task) Summary() string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	id := t.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("[%s] %s - %s (%d items)", id, t.Name, t.status, t.itemsProcessed)
}
