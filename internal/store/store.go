// Copyright (c) 2025 Social Harvest Project
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"errors"

	"github.com/socialharvest/harvester/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotFound is returned when the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateID is returned when creating an entity whose id is
	// already taken.
	ErrDuplicateID = errors.New("duplicate id")
)

// =============================================================================
// STORE INTERFACES
// =============================================================================

// TaskStore persists scraping tasks.
type TaskStore interface {
	// CreateTask persists a new task.
	CreateTask(ctx context.Context, t *model.Task) error

	// GetTask loads a task by id.
	GetTask(ctx context.Context, id string) (*model.Task, error)

	// UpdateTask persists the current state of an existing task.
	UpdateTask(ctx context.Context, t *model.Task) error

	// ListTasks returns all tasks, newest first.
	ListTasks(ctx context.Context) ([]*model.Task, error)
}

// RecordStore persists extracted records, append-only per task.
type RecordStore interface {
	// AppendRecords appends a batch of records in extraction order.
	AppendRecords(ctx context.Context, recs []*model.Record) error

	// ListRecords returns a task's records in extraction order.
	ListRecords(ctx context.Context, taskID string) ([]*model.Record, error)

	// ListRecordsByKind returns a task's records of one kind, in
	// extraction order.
	ListRecordsByKind(ctx context.Context, taskID string, kind model.DataKind) ([]*model.Record, error)

	// CountRecords returns how many records a task owns.
	CountRecords(ctx context.Context, taskID string) (int, error)
}

// ExportStore persists export jobs.
type ExportStore interface {
	// CreateExport persists a new export job.
	CreateExport(ctx context.Context, j *model.ExportJob) error

	// GetExport loads an export job by id.
	GetExport(ctx context.Context, id string) (*model.ExportJob, error)

	// UpdateExport persists the current state of an existing job.
	UpdateExport(ctx context.Context, j *model.ExportJob) error

	// ListExports returns a task's export jobs, newest first.
	ListExports(ctx context.Context, taskID string) ([]*model.ExportJob, error)
}

// Store bundles all three persistence concerns.
type Store interface {
	TaskStore
	RecordStore
	ExportStore
}
