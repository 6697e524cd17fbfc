// Copyright (c) 2025 Social Harvest Project
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// EXPORT STATUS
// =============================================================================

// ExportStatus represents the current state of an export job.
type ExportStatus string

const (
	// ExportStatusPending indicates the job was created but not started
	ExportStatusPending ExportStatus = "pending"

	// ExportStatusProcessing indicates the pipeline is building the artifact
	ExportStatusProcessing ExportStatus = "processing"

	// ExportStatusCompleted indicates the artifact was produced
	ExportStatusCompleted ExportStatus = "completed"

	// ExportStatusFailed indicates the pipeline hit a terminal error
	ExportStatusFailed ExportStatus = "failed"
)

// String returns the string representation of the export status.
func (s ExportStatus) String() string {
	return string(s)
}

// Terminal reports whether the status is final. Exports define no
// cancellation; failed is the only abnormal exit.
func (s ExportStatus) Terminal() bool {
	return s == ExportStatusCompleted || s == ExportStatusFailed
}

// validExportTransition checks whether from -> to is a legal move.
// Valid transitions: pending -> processing -> completed/failed.
func validExportTransition(from, to ExportStatus) bool {
	switch from {
	case ExportStatusPending:
		return to == ExportStatusProcessing
	case ExportStatusProcessing:
		return to == ExportStatusCompleted || to == ExportStatusFailed
	default:
		return false
	}
}

// =============================================================================
// EXPORT JOB
// =============================================================================

// ExportJob is one request to materialize a task's extracted records as
// a structured artifact. Created by the caller, mutated only by the
// export pipeline, terminal once completed or failed.
type ExportJob struct {
	// ID is a unique identifier for this job
	ID string

	// TaskID is the owning scraping task
	TaskID string

	// Filename is the target artifact name
	Filename string

	// CreatedAt is when the job was created
	CreatedAt time.Time

	// CompletedAt is set exactly once, on entry to a terminal state
	CompletedAt time.Time

	// status is the current lifecycle state (guarded)
	status ExportStatus

	// fileSize is the produced artifact size in bytes (guarded)
	fileSize int64

	// errorMessage holds the failure reason for failed jobs (guarded)
	errorMessage string

	// mu protects concurrent access to the job
	mu sync.RWMutex
}

// NewExportJob creates a pending export job for the given task. When
// filename is empty a name is generated from the task name, a task id
// prefix, and a timestamp.
func NewExportJob(task *Task, filename string) *ExportJob {
	if filename == "" {
		filename = GenerateExportFilename(task.Name, task.ID)
	}
	return &ExportJob{
		ID:        uuid.New().String(),
		TaskID:    task.ID,
		Filename:  filename,
		CreatedAt: time.Now().UTC(),
		status:    ExportStatusPending,
	}
}

// StartProcessing moves the job from pending to processing.
func (j *ExportJob) StartProcessing() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(ExportStatusProcessing)
}

// Complete moves the job to completed and records the artifact size.
func (j *ExportJob) Complete(size int64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.transitionLocked(ExportStatusCompleted); err != nil {
		return err
	}
	j.fileSize = size
	return nil
}

// Fail moves the job to failed and captures the reason.
func (j *ExportJob) Fail(reason string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.transitionLocked(ExportStatusFailed); err != nil {
		return err
	}
	j.errorMessage = reason
	return nil
}

// transitionLocked applies a validated transition. Must be called with
// the lock held.
func (j *ExportJob) transitionLocked(to ExportStatus) error {
	if !validExportTransition(j.status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.status, to)
	}
	j.status = to
	if to.Terminal() {
		j.CompletedAt = time.Now().UTC()
	}
	return nil
}

// Status returns the current job status (thread-safe).
func (j *ExportJob) Status() ExportStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// FileSize returns the produced artifact size in bytes.
func (j *ExportJob) FileSize() int64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.fileSize
}

// ErrorMessage returns the failure reason, empty unless failed.
func (j *ExportJob) ErrorMessage() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.errorMessage
}

// Clone creates a point-in-time copy of the job for reading.
func (j *ExportJob) Clone() *ExportJob {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return &ExportJob{
		ID:           j.ID,
		TaskID:       j.TaskID,
		Filename:     j.Filename,
		CreatedAt:    j.CreatedAt,
		CompletedAt:  j.CompletedAt,
		status:       j.status,
		fileSize:     j.fileSize,
		errorMessage: j.errorMessage,
	}
}

// RestoreExportJob rebuilds a job from persisted state, bypassing
// transition validation. Only the store may call this when loading rows.
func RestoreExportJob(id, taskID, filename string, status ExportStatus,
	created, completed time.Time, size int64, errMsg string) *ExportJob {
	return &ExportJob{
		ID:           id,
		TaskID:       taskID,
		Filename:     filename,
		CreatedAt:    created,
		CompletedAt:  completed,
		status:       status,
		fileSize:     size,
		errorMessage: errMsg,
	}
}

// =============================================================================
// FILENAME GENERATION
// =============================================================================

// GenerateExportFilename builds an artifact name from the task name, a
// short task id, and a timestamp. The task name is reduced to filename-
// safe characters.
func GenerateExportFilename(taskName, taskID string) string {
	var b strings.Builder
	for _, r := range taskName {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	name := b.String()
	if name == "" {
		name = "export"
	}

	id := taskID
	if len(id) > 8 {
		id = id[:8]
	}
	stamp := time.Now().Format("20060102_150405")
	return fmt.Sprintf("%s_%s_%s.csv", name, id, stamp)
}
