// Copyright (c) 2025 Social Harvest Project
// SPDX-License-Identifier: AGPL-3.0-or-later

package progress

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/socialharvest/harvester/internal/model"
)

// =============================================================================
// LOG ENTRIES
// =============================================================================

// Level is the severity of a log entry.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// LogEntry is one line in a task's append-only log sequence.
type LogEntry struct {
	Time    time.Time
	Level   Level
	Message string
}

// =============================================================================
// SNAPSHOT
// =============================================================================

// PercentUnknown marks a snapshot whose task has no item limit, so no
// meaningful completion percentage exists.
const PercentUnknown = -1

// Snapshot is a point-in-time view of a running (or finished) task.
// Snapshots are immutable: readers may hold one as long as they like.
type Snapshot struct {
	// TaskID identifies the task
	TaskID string

	// Status is the task status at publish time
	Status model.TaskStatus

	// ItemsProcessed is the progress counter at publish time
	ItemsProcessed int

	// Percent is min(100, items*100/limit), or PercentUnknown when the
	// task has no item limit
	Percent int

	// Remaining is a best-effort estimate of time left, zero when no
	// estimate can be made
	Remaining time.Duration

	// Log is the ordered log sequence up to publish time
	Log []LogEntry
}

// =============================================================================
// TRACKER
// =============================================================================

// Tracker is the single-writer, multi-reader progress channel for one
// task. Only the task's worker calls the publishing methods; Snapshot
// may be called from anywhere.
type Tracker struct {
	taskID string
	limit  int

	// cur holds the latest *Snapshot
	cur atomic.Value

	// writer-side state; mu serializes publishers (there is one worker,
	// but engine bookkeeping also publishes the final state)
	mu      sync.Mutex
	started time.Time
	entries []LogEntry

	// tee optionally mirrors entries to a process-wide logger
	tee *log.Logger
}

// NewTracker creates a tracker for the given task and publishes its
// initial snapshot.
func NewTracker(task *model.Task, tee *log.Logger) *Tracker {
	t := &Tracker{
		taskID: task.ID,
		limit:  task.Config.MaxItems,
		tee:    tee,
	}
	t.cur.Store(t.buildLocked(task.Status(), task.ItemsProcessed()))
	return t
}

// Snapshot returns the latest published snapshot. Never blocks on the
// writer.
func (t *Tracker) Snapshot() *Snapshot {
	return t.cur.Load().(*Snapshot)
}

// Publish appends a log entry and publishes a snapshot carrying the new
// entry together with the given status and counter. This is the only
// write path, which is what keeps counter and log in lockstep.
func (t *Tracker) Publish(status model.TaskStatus, items int, level Level, format string, args ...interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()

	msg := fmt.Sprintf(format, args...)
	t.entries = append(t.entries, LogEntry{
		Time:    time.Now().UTC(),
		Level:   level,
		Message: msg,
	})
	if t.started.IsZero() && status == model.TaskStatusRunning {
		t.started = time.Now().UTC()
	}

	t.cur.Store(t.buildLocked(status, items))

	if t.tee != nil {
		t.tee.Printf("[TASK %s] %s: %s", shortID(t.taskID), level, msg)
	}
}

// buildLocked assembles an immutable snapshot. Must be called with mu
// held (or before the tracker is shared).
func (t *Tracker) buildLocked(status model.TaskStatus, items int) *Snapshot {
	percent := PercentUnknown
	if t.limit > 0 {
		percent = items * 100 / t.limit
		if percent > 100 {
			percent = 100
		}
	}
	if status == model.TaskStatusCompleted {
		percent = 100
	}

	var remaining time.Duration
	if t.limit > 0 && items > 0 && !t.started.IsZero() && !status.Terminal() {
		elapsed := time.Since(t.started)
		left := t.limit - items
		if left > 0 {
			remaining = time.Duration(int64(elapsed) / int64(items) * int64(left))
		}
	}

	// Cap the slice so the writer's next append reallocates instead of
	// touching the backing array a published snapshot still references.
	entries := t.entries[:len(t.entries):len(t.entries)]

	return &Snapshot{
		TaskID:         t.taskID,
		Status:         status,
		ItemsProcessed: items,
		Percent:        percent,
		Remaining:      remaining,
		Log:            entries,
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// =============================================================================
// REGISTRY
// =============================================================================

// historyLimit bounds how many finished tasks' trackers the registry
// retains. Beyond it the oldest finished trackers are evicted; status
// polls for evicted tasks fall back to persisted state.
const historyLimit = 64

// Registry maps task ids to their trackers. Trackers outlive their
// workers so status polls keep answering after a task finishes, but
// only a bounded history of finished trackers is kept so a long-lived
// process does not grow one tracker per task forever.
type Registry struct {
	mu       sync.RWMutex
	trackers map[string]*Tracker

	// retired lists finished task ids in completion order
	retired []string
}

// NewRegistry creates an empty tracker registry.
func NewRegistry() *Registry {
	return &Registry{trackers: make(map[string]*Tracker)}
}

// Add registers a tracker for a task id.
func (r *Registry) Add(taskID string, t *Tracker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trackers[taskID] = t
}

// Get returns the tracker for a task id, or nil.
func (r *Registry) Get(taskID string) *Tracker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.trackers[taskID]
}

// Retire marks a task's tracker as finished. The tracker stays
// readable until it ages out of the bounded history.
func (r *Registry) Retire(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.trackers[taskID]; !ok {
		return
	}
	r.retired = append(r.retired, taskID)
	for len(r.retired) > historyLimit {
		delete(r.trackers, r.retired[0])
		r.retired = r.retired[1:]
	}
}
