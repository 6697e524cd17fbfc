// Copyright (c) 2025 Social Harvest Project
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/socialharvest/harvester/internal/model"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// MemoryStore is an in-process Store. It keeps clones, never the live
// entities, so callers cannot mutate stored state behind its back.
type MemoryStore struct {
	mu      sync.RWMutex
	tasks   map[string]*model.Task
	records map[string][]*model.Record // taskID -> append-only sequence
	exports map[string]*model.ExportJob
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:   make(map[string]*model.Task),
		records: make(map[string][]*model.Record),
		exports: make(map[string]*model.ExportJob),
	}
}

// =============================================================================
// TASKS
// =============================================================================

// CreateTask implements TaskStore.
func (s *MemoryStore) CreateTask(_ context.Context, t *model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[t.ID]; ok {
		return fmt.Errorf("%w: task %s", ErrDuplicateID, t.ID)
	}
	s.tasks[t.ID] = t.Clone()
	return nil
}

// GetTask implements TaskStore.
func (s *MemoryStore) GetTask(_ context.Context, id string) (*model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: task %s", ErrNotFound, id)
	}
	return t.Clone(), nil
}

// UpdateTask implements TaskStore.
func (s *MemoryStore) UpdateTask(_ context.Context, t *model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[t.ID]; !ok {
		return fmt.Errorf("%w: task %s", ErrNotFound, t.ID)
	}
	s.tasks[t.ID] = t.Clone()
	return nil
}

// ListTasks implements TaskStore.
func (s *MemoryStore) ListTasks(_ context.Context) ([]*model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// =============================================================================
// RECORDS
// =============================================================================

// AppendRecords implements RecordStore.
func (s *MemoryStore) AppendRecords(_ context.Context, recs []*model.Record) error {
	if len(recs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range recs {
		if _, ok := s.tasks[r.TaskID]; !ok {
			return fmt.Errorf("%w: task %s", ErrNotFound, r.TaskID)
		}
		s.records[r.TaskID] = append(s.records[r.TaskID], r)
	}
	return nil
}

// ListRecords implements RecordStore.
func (s *MemoryStore) ListRecords(_ context.Context, taskID string) ([]*model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.records[taskID]
	// Records are immutable; only the slice header needs copying.
	return append([]*model.Record(nil), recs...), nil
}

// ListRecordsByKind implements RecordStore.
func (s *MemoryStore) ListRecordsByKind(_ context.Context, taskID string, kind model.DataKind) ([]*model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Record
	for _, r := range s.records[taskID] {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out, nil
}

// CountRecords implements RecordStore.
func (s *MemoryStore) CountRecords(_ context.Context, taskID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records[taskID]), nil
}

// =============================================================================
// EXPORT JOBS
// =============================================================================

// CreateExport implements ExportStore.
func (s *MemoryStore) CreateExport(_ context.Context, j *model.ExportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.exports[j.ID]; ok {
		return fmt.Errorf("%w: export %s", ErrDuplicateID, j.ID)
	}
	s.exports[j.ID] = j.Clone()
	return nil
}

// GetExport implements ExportStore.
func (s *MemoryStore) GetExport(_ context.Context, id string) (*model.ExportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.exports[id]
	if !ok {
		return nil, fmt.Errorf("%w: export %s", ErrNotFound, id)
	}
	return j.Clone(), nil
}

// UpdateExport implements ExportStore.
func (s *MemoryStore) UpdateExport(_ context.Context, j *model.ExportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.exports[j.ID]; !ok {
		return fmt.Errorf("%w: export %s", ErrNotFound, j.ID)
	}
	s.exports[j.ID] = j.Clone()
	return nil
}

// ListExports implements ExportStore.
func (s *MemoryStore) ListExports(_ context.Context, taskID string) ([]*model.ExportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.ExportJob
	for _, j := range s.exports {
		if j.TaskID == taskID {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
