// Copyright (c) 2025 Social Harvest Project
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialharvest/harvester/internal/model"
)

// openFuncs enumerates the Store implementations under test. Every
// subtest in TestStoreSuite runs against each of them.
var openFuncs = map[string]func(t *testing.T) Store{
	"memory": func(t *testing.T) Store {
		return NewMemoryStore()
	},
	"sqlite": func(t *testing.T) Store {
		s, err := OpenSQLite(filepath.Join(t.TempDir(), "harvester.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	},
}

func makeTask(t *testing.T, name string) *model.Task {
	t.Helper()
	task, err := model.NewTask(name, "https://example.com/"+name, model.Config{
		DataKinds:  []model.DataKind{model.KindPost, model.KindComment},
		MaxItems:   20,
		DelayMin:   time.Millisecond,
		DelayMax:   2 * time.Millisecond,
		Timeout:    time.Second,
		MaxRetries: 2,
		Headless:   true,
	})
	require.NoError(t, err)
	return task
}

func makeRecord(t *testing.T, taskID string, kind model.DataKind, content string) *model.Record {
	t.Helper()
	rec, err := model.NewRecord(taskID, kind, content, map[string]string{
		"author":      "ann",
		"likes_count": "3",
	}, "https://example.com/item")
	require.NoError(t, err)
	return rec
}

func TestStoreSuite(t *testing.T) {
	for name, open := range openFuncs {
		t.Run(name, func(t *testing.T) {
			t.Run("TaskRoundTrip", func(t *testing.T) { testTaskRoundTrip(t, open(t)) })
			t.Run("TaskNotFound", func(t *testing.T) { testTaskNotFound(t, open(t)) })
			t.Run("TaskDuplicate", func(t *testing.T) { testTaskDuplicate(t, open(t)) })
			t.Run("ListTasksNewestFirst", func(t *testing.T) { testListTasksNewestFirst(t, open(t)) })
			t.Run("RecordsAppendOnlyOrder", func(t *testing.T) { testRecordsAppendOnlyOrder(t, open(t)) })
			t.Run("RecordsByKind", func(t *testing.T) { testRecordsByKind(t, open(t)) })
			t.Run("ExportRoundTrip", func(t *testing.T) { testExportRoundTrip(t, open(t)) })
		})
	}
}

func testTaskRoundTrip(t *testing.T, s Store) {
	ctx := context.Background()
	task := makeTask(t, "round-trip")
	require.NoError(t, s.CreateTask(ctx, task))

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, "round-trip", got.Name)
	assert.Equal(t, model.TaskStatusPending, got.Status())
	assert.Equal(t, task.Config.DataKinds, got.Config.DataKinds)
	assert.Equal(t, 20, got.Config.MaxItems)
	assert.True(t, got.StartedAt.IsZero())

	// Advance the lifecycle and persist the result.
	require.NoError(t, task.Start())
	require.NoError(t, task.AddProcessed(5))
	require.NoError(t, task.Fail("retry budget exhausted"))
	require.NoError(t, s.UpdateTask(ctx, task))

	got, err = s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, got.Status())
	assert.Equal(t, 5, got.ItemsProcessed())
	assert.Equal(t, "retry budget exhausted", got.ErrorMessage())
	assert.False(t, got.StartedAt.IsZero())
	assert.False(t, got.CompletedAt.IsZero())
}

func testTaskNotFound(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.GetTask(ctx, "no-such-task")
	assert.ErrorIs(t, err, ErrNotFound)

	task := makeTask(t, "never-created")
	assert.ErrorIs(t, s.UpdateTask(ctx, task), ErrNotFound)
}

func testTaskDuplicate(t *testing.T, s Store) {
	ctx := context.Background()
	task := makeTask(t, "dup")
	require.NoError(t, s.CreateTask(ctx, task))
	assert.Error(t, s.CreateTask(ctx, task))
}

func testListTasksNewestFirst(t *testing.T, s Store) {
	ctx := context.Background()

	first := makeTask(t, "first")
	require.NoError(t, s.CreateTask(ctx, first))
	time.Sleep(5 * time.Millisecond)
	second := makeTask(t, "second")
	require.NoError(t, s.CreateTask(ctx, second))

	tasks, err := s.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, second.ID, tasks[0].ID)
	assert.Equal(t, first.ID, tasks[1].ID)
}

func testRecordsAppendOnlyOrder(t *testing.T, s Store) {
	ctx := context.Background()
	task := makeTask(t, "records")
	require.NoError(t, s.CreateTask(ctx, task))

	batch1 := []*model.Record{
		makeRecord(t, task.ID, model.KindPost, "post 1"),
		makeRecord(t, task.ID, model.KindPost, "post 2"),
	}
	batch2 := []*model.Record{
		makeRecord(t, task.ID, model.KindComment, "comment 1"),
	}
	require.NoError(t, s.AppendRecords(ctx, batch1))
	require.NoError(t, s.AppendRecords(ctx, batch2))

	recs, err := s.ListRecords(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "post 1", recs[0].Content)
	assert.Equal(t, "post 2", recs[1].Content)
	assert.Equal(t, "comment 1", recs[2].Content)
	assert.Equal(t, "ann", recs[0].Meta("author", ""))
	assert.Equal(t, 3, recs[0].MetaInt("likes_count"))

	count, err := s.CountRecords(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	// A task with no records is empty, not an error.
	other := makeTask(t, "empty")
	require.NoError(t, s.CreateTask(ctx, other))
	recs, err = s.ListRecords(ctx, other.ID)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func testRecordsByKind(t *testing.T, s Store) {
	ctx := context.Background()
	task := makeTask(t, "by-kind")
	require.NoError(t, s.CreateTask(ctx, task))

	require.NoError(t, s.AppendRecords(ctx, []*model.Record{
		makeRecord(t, task.ID, model.KindPost, "p1"),
		makeRecord(t, task.ID, model.KindComment, "c1"),
		makeRecord(t, task.ID, model.KindPost, "p2"),
	}))

	posts, err := s.ListRecordsByKind(ctx, task.ID, model.KindPost)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, "p1", posts[0].Content)
	assert.Equal(t, "p2", posts[1].Content)

	likes, err := s.ListRecordsByKind(ctx, task.ID, model.KindLike)
	require.NoError(t, err)
	assert.Empty(t, likes)
}

func testExportRoundTrip(t *testing.T, s Store) {
	ctx := context.Background()
	task := makeTask(t, "export")
	require.NoError(t, s.CreateTask(ctx, task))

	job := model.NewExportJob(task, "custom.csv")
	require.NoError(t, s.CreateExport(ctx, job))

	got, err := s.GetExport(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.TaskID)
	assert.Equal(t, "custom.csv", got.Filename)
	assert.Equal(t, model.ExportStatusPending, got.Status())

	require.NoError(t, job.StartProcessing())
	require.NoError(t, job.Complete(2048))
	require.NoError(t, s.UpdateExport(ctx, job))

	got, err = s.GetExport(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExportStatusCompleted, got.Status())
	assert.Equal(t, int64(2048), got.FileSize())
	assert.False(t, got.CompletedAt.IsZero())

	jobs, err := s.ListExports(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	_, err = s.GetExport(ctx, "no-such-export")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreAppendRequiresTask(t *testing.T) {
	s := NewMemoryStore()
	rec := makeRecord(t, "ghost-task", model.KindPost, "orphan")
	err := s.AppendRecords(context.Background(), []*model.Record{rec})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemoryStoreIsolation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	task := makeTask(t, "isolated")
	require.NoError(t, s.CreateTask(ctx, task))

	// Mutating the live task must not change the stored copy until
	// UpdateTask is called.
	require.NoError(t, task.Start())
	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusPending, got.Status())
}
