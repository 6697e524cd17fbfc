// Copyright (c) 2025 Social Harvest Project
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialharvest/harvester/internal/model"
	"github.com/socialharvest/harvester/internal/progress"
	"github.com/socialharvest/harvester/internal/scrape"
	"github.com/socialharvest/harvester/internal/store"
)

// =============================================================================
// HELPERS
// =============================================================================

// fastConfig keeps the randomized delays at millisecond scale so tests
// finish quickly.
func fastConfig(kinds []model.DataKind, maxItems, maxRetries int) model.Config {
	return model.Config{
		DataKinds:  kinds,
		MaxItems:   maxItems,
		DelayMin:   time.Millisecond,
		DelayMax:   2 * time.Millisecond,
		Timeout:    5 * time.Second,
		MaxRetries: maxRetries,
	}
}

func newEngineTask(t *testing.T, st store.Store, cfg model.Config) *model.Task {
	t.Helper()
	task, err := model.NewTask("test run", "https://example.com/page", cfg)
	require.NoError(t, err)
	require.NoError(t, st.CreateTask(context.Background(), task))
	return task
}

// pagingFetcher serves one item per call and keeps paging until the
// configured number of pages is exhausted.
func pagingFetcher(calls *atomic.Int32, pages int) scrape.FetcherFunc {
	return func(ctx context.Context, url string, kind model.DataKind, cursor string) (*scrape.Page, error) {
		n := int(calls.Add(1))
		page := &scrape.Page{
			Items: []scrape.Item{{
				Content:  "item " + strconv.Itoa(n),
				Metadata: map[string]string{"author": "ann"},
			}},
			NextCursor: strconv.Itoa(n + 1),
		}
		if pages > 0 && n >= pages {
			page.Exhausted = true
		}
		return page, nil
	}
}

func waitTerminal(t *testing.T, eng *Engine, id string) *progress.Snapshot {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := eng.Status(context.Background(), id)
		require.NoError(t, err)
		if snap.Status.Terminal() {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("task did not reach a terminal state in time")
	return nil
}

// waitIdle blocks until every worker has released its slot, which also
// means the final task state has been persisted.
func waitIdle(t *testing.T, eng *Engine) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if eng.ActiveCount() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("engine did not go idle in time")
}

func countLevel(snap *progress.Snapshot, lvl progress.Level) int {
	n := 0
	for _, e := range snap.Log {
		if e.Level == lvl {
			n++
		}
	}
	return n
}

// =============================================================================
// HAPPY PATH
// =============================================================================

func TestRunToCompletionAtLimit(t *testing.T) {
	st := store.NewMemoryStore()
	var calls atomic.Int32
	eng := New(st, st, pagingFetcher(&calls, 0), Options{MaxWorkers: 2})

	task := newEngineTask(t, st, fastConfig([]model.DataKind{model.KindPost}, 5, 2))
	require.NoError(t, eng.Submit(context.Background(), task))

	snap := waitTerminal(t, eng, task.ID)
	waitIdle(t, eng)

	assert.Equal(t, model.TaskStatusCompleted, snap.Status)
	assert.Equal(t, 5, snap.ItemsProcessed)
	assert.Equal(t, 100, snap.Percent)
	assert.Equal(t, 0, countLevel(snap, progress.LevelWarn))
	require.NotEmpty(t, snap.Log)
	assert.Equal(t, "task started", snap.Log[0].Message)

	// Persisted state matches the snapshot.
	got, err := st.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, got.Status())
	assert.Equal(t, 5, got.ItemsProcessed())
	assert.False(t, got.CompletedAt.IsZero())

	// Items-processed always equals the stored record count.
	count, err := st.CountRecords(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	// Records keep extraction order.
	recs, err := st.ListRecords(context.Background(), task.ID)
	require.NoError(t, err)
	require.Len(t, recs, 5)
	assert.Equal(t, "item 1", recs[0].Content)
	assert.Equal(t, "item 5", recs[4].Content)
}

func TestRunToExhaustionAcrossKinds(t *testing.T) {
	st := store.NewMemoryStore()

	// Two pages per kind, then exhausted.
	perKind := make(map[model.DataKind]*atomic.Int32)
	var mu sync.Mutex
	fetcher := scrape.FetcherFunc(func(ctx context.Context, url string, kind model.DataKind, cursor string) (*scrape.Page, error) {
		mu.Lock()
		c, ok := perKind[kind]
		if !ok {
			c = &atomic.Int32{}
			perKind[kind] = c
		}
		mu.Unlock()

		n := int(c.Add(1))
		return &scrape.Page{
			Items:      []scrape.Item{{Content: kind.String() + " " + strconv.Itoa(n)}},
			NextCursor: strconv.Itoa(n + 1),
			Exhausted:  n >= 2,
		}, nil
	})

	eng := New(st, st, fetcher, Options{})
	task := newEngineTask(t, st, fastConfig([]model.DataKind{model.KindPost, model.KindComment}, 10, 1))
	require.NoError(t, eng.Submit(context.Background(), task))

	snap := waitTerminal(t, eng, task.ID)
	waitIdle(t, eng)

	assert.Equal(t, model.TaskStatusCompleted, snap.Status)
	assert.Equal(t, 4, snap.ItemsProcessed)

	posts, err := st.ListRecordsByKind(context.Background(), task.ID, model.KindPost)
	require.NoError(t, err)
	comments, err := st.ListRecordsByKind(context.Background(), task.ID, model.KindComment)
	require.NoError(t, err)
	assert.Len(t, posts, 2)
	assert.Len(t, comments, 2)
}

func TestEmptySourceCompletesWithNothing(t *testing.T) {
	st := store.NewMemoryStore()
	fetcher := scrape.FetcherFunc(func(ctx context.Context, url string, kind model.DataKind, cursor string) (*scrape.Page, error) {
		return &scrape.Page{Exhausted: true}, nil
	})

	eng := New(st, st, fetcher, Options{})
	task := newEngineTask(t, st, fastConfig([]model.DataKind{model.KindPost}, 10, 1))
	require.NoError(t, eng.Submit(context.Background(), task))

	snap := waitTerminal(t, eng, task.ID)
	assert.Equal(t, model.TaskStatusCompleted, snap.Status)
	assert.Equal(t, 0, snap.ItemsProcessed)
	assert.Equal(t, 100, snap.Percent)
}

func TestLimitTrimsFinalPage(t *testing.T) {
	st := store.NewMemoryStore()
	fetcher := scrape.FetcherFunc(func(ctx context.Context, url string, kind model.DataKind, cursor string) (*scrape.Page, error) {
		return &scrape.Page{
			Items: []scrape.Item{
				{Content: "a"}, {Content: "b"}, {Content: "c"},
			},
			NextCursor: "2",
		}, nil
	})

	eng := New(st, st, fetcher, Options{})
	task := newEngineTask(t, st, fastConfig([]model.DataKind{model.KindPost}, 2, 1))
	require.NoError(t, eng.Submit(context.Background(), task))

	snap := waitTerminal(t, eng, task.ID)
	waitIdle(t, eng)

	assert.Equal(t, model.TaskStatusCompleted, snap.Status)
	assert.Equal(t, 2, snap.ItemsProcessed)

	count, err := st.CountRecords(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

// =============================================================================
// RETRIES
// =============================================================================

func TestTransientErrorsRetriedThenSucceed(t *testing.T) {
	st := store.NewMemoryStore()
	var calls atomic.Int32
	fetcher := scrape.FetcherFunc(func(ctx context.Context, url string, kind model.DataKind, cursor string) (*scrape.Page, error) {
		if calls.Add(1) <= 2 {
			return nil, scrape.NewError(scrape.ErrKindTimeout, "slow source", nil)
		}
		return &scrape.Page{Items: []scrape.Item{{Content: "finally"}}, Exhausted: true}, nil
	})

	eng := New(st, st, fetcher, Options{})
	task := newEngineTask(t, st, fastConfig([]model.DataKind{model.KindPost}, 1, 2))
	require.NoError(t, eng.Submit(context.Background(), task))

	snap := waitTerminal(t, eng, task.ID)

	// Budget 2 absorbs exactly 2 transient failures: the run succeeds
	// and carries one warning per retried attempt.
	assert.Equal(t, model.TaskStatusCompleted, snap.Status)
	assert.Equal(t, 1, snap.ItemsProcessed)
	assert.Equal(t, 2, countLevel(snap, progress.LevelWarn))
	assert.Equal(t, 0, countLevel(snap, progress.LevelError))
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetryBudgetExhausted(t *testing.T) {
	st := store.NewMemoryStore()
	var calls atomic.Int32
	fetcher := scrape.FetcherFunc(func(ctx context.Context, url string, kind model.DataKind, cursor string) (*scrape.Page, error) {
		calls.Add(1)
		return nil, scrape.NewError(scrape.ErrKindConnReset, "flaky source", nil)
	})

	eng := New(st, st, fetcher, Options{})
	task := newEngineTask(t, st, fastConfig([]model.DataKind{model.KindPost}, 5, 1))
	require.NoError(t, eng.Submit(context.Background(), task))

	snap := waitTerminal(t, eng, task.ID)
	waitIdle(t, eng)

	// Budget 1 means two attempts total, then the task fails with
	// nothing extracted.
	assert.Equal(t, model.TaskStatusFailed, snap.Status)
	assert.Equal(t, 0, snap.ItemsProcessed)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 1, countLevel(snap, progress.LevelWarn))

	got, err := st.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, got.Status())
	assert.Contains(t, got.ErrorMessage(), "retry budget exhausted")

	count, err := st.CountRecords(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestStructuralErrorFailsImmediately(t *testing.T) {
	st := store.NewMemoryStore()
	var calls atomic.Int32
	fetcher := scrape.FetcherFunc(func(ctx context.Context, url string, kind model.DataKind, cursor string) (*scrape.Page, error) {
		calls.Add(1)
		return nil, scrape.NewError(scrape.ErrKindStructural, "layout changed", nil)
	})

	eng := New(st, st, fetcher, Options{})
	task := newEngineTask(t, st, fastConfig([]model.DataKind{model.KindPost}, 5, 3))
	require.NoError(t, eng.Submit(context.Background(), task))

	snap := waitTerminal(t, eng, task.ID)
	waitIdle(t, eng)

	// Structural errors never consume retry budget.
	assert.Equal(t, model.TaskStatusFailed, snap.Status)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 0, countLevel(snap, progress.LevelWarn))

	got, err := st.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Contains(t, got.ErrorMessage(), "structural error")
}

// =============================================================================
// CANCELLATION
// =============================================================================

func TestCancelMidRun(t *testing.T) {
	st := store.NewMemoryStore()

	// Long inter-step delays give the cancel request a wide window to
	// land at the checkpoint before the fourth fetch.
	cfg := fastConfig([]model.DataKind{model.KindPost}, 10, 1)
	cfg.DelayMin = 300 * time.Millisecond
	cfg.DelayMax = 300 * time.Millisecond

	ready := make(chan struct{})
	var once sync.Once
	var calls atomic.Int32
	fetcher := scrape.FetcherFunc(func(ctx context.Context, url string, kind model.DataKind, cursor string) (*scrape.Page, error) {
		n := int(calls.Add(1))
		if n == 3 {
			defer once.Do(func() { close(ready) })
		}
		return &scrape.Page{
			Items:      []scrape.Item{{Content: "item " + strconv.Itoa(n)}},
			NextCursor: strconv.Itoa(n + 1),
		}, nil
	})

	eng := New(st, st, fetcher, Options{})
	task := newEngineTask(t, st, cfg)
	require.NoError(t, eng.Submit(context.Background(), task))

	<-ready
	require.NoError(t, eng.Cancel(task.ID))

	snap := waitTerminal(t, eng, task.ID)
	waitIdle(t, eng)

	assert.Equal(t, model.TaskStatusCancelled, snap.Status)
	assert.Equal(t, 3, snap.ItemsProcessed)

	// Nothing was appended after the request was observed.
	count, err := st.CountRecords(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	got, err := st.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCancelled, got.Status())

	// A second cancel after the first took effect reports terminal.
	assert.ErrorIs(t, eng.Cancel(task.ID), ErrAlreadyTerminal)
}

func TestCancelPendingNeverSubmitted(t *testing.T) {
	st := store.NewMemoryStore()
	eng := New(st, st, pagingFetcher(&atomic.Int32{}, 1), Options{})

	// There is no worker to stop: the request is rejected and the task
	// stays pending, untouched.
	task := newEngineTask(t, st, fastConfig([]model.DataKind{model.KindPost}, 5, 1))
	assert.ErrorIs(t, eng.Cancel(task.ID), ErrNotRunning)

	got, err := st.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusPending, got.Status())
	assert.True(t, got.StartedAt.IsZero())
	assert.True(t, got.CompletedAt.IsZero())
}

func TestCancelUnknownTask(t *testing.T) {
	st := store.NewMemoryStore()
	eng := New(st, st, pagingFetcher(&atomic.Int32{}, 1), Options{})
	assert.ErrorIs(t, eng.Cancel("no-such-task"), ErrNotFound)
}

// =============================================================================
// ADMISSION
// =============================================================================

func TestSubmitRejectsNonPending(t *testing.T) {
	st := store.NewMemoryStore()
	eng := New(st, st, pagingFetcher(&atomic.Int32{}, 1), Options{})

	task := newEngineTask(t, st, fastConfig([]model.DataKind{model.KindPost}, 5, 1))
	require.NoError(t, task.Start())
	assert.ErrorIs(t, eng.Submit(context.Background(), task), ErrNotPending)
}

func TestSubmitRejectsInvalidConfig(t *testing.T) {
	st := store.NewMemoryStore()
	eng := New(st, st, pagingFetcher(&atomic.Int32{}, 1), Options{})

	task := newEngineTask(t, st, fastConfig([]model.DataKind{model.KindPost}, 5, 1))
	task.Config.DelayMin = 0
	assert.Error(t, eng.Submit(context.Background(), task))
}

func TestSubmitPoolFull(t *testing.T) {
	st := store.NewMemoryStore()

	gate := make(chan struct{})
	fetcher := scrape.FetcherFunc(func(ctx context.Context, url string, kind model.DataKind, cursor string) (*scrape.Page, error) {
		select {
		case <-gate:
			return &scrape.Page{Exhausted: true}, nil
		case <-ctx.Done():
			return nil, scrape.NewError(scrape.ErrKindTimeout, "gated", ctx.Err())
		}
	})

	eng := New(st, st, fetcher, Options{MaxWorkers: 1})

	first := newEngineTask(t, st, fastConfig([]model.DataKind{model.KindPost}, 5, 1))
	second := newEngineTask(t, st, fastConfig([]model.DataKind{model.KindPost}, 5, 1))

	require.NoError(t, eng.Submit(context.Background(), first))
	assert.ErrorIs(t, eng.Submit(context.Background(), second), ErrPoolFull)

	// The slot frees up once the first task finishes.
	close(gate)
	waitIdle(t, eng)
	assert.NoError(t, eng.Submit(context.Background(), second))
	waitTerminal(t, eng, second.ID)
}

func TestSubmitRejectsActiveDuplicate(t *testing.T) {
	st := store.NewMemoryStore()

	gate := make(chan struct{})
	defer close(gate)
	fetcher := scrape.FetcherFunc(func(ctx context.Context, url string, kind model.DataKind, cursor string) (*scrape.Page, error) {
		select {
		case <-gate:
		case <-ctx.Done():
		}
		return &scrape.Page{Exhausted: true}, nil
	})

	eng := New(st, st, fetcher, Options{MaxWorkers: 2})
	task := newEngineTask(t, st, fastConfig([]model.DataKind{model.KindPost}, 5, 1))
	require.NoError(t, eng.Submit(context.Background(), task))

	// A stale pending copy of the same task cannot be admitted twice.
	dup, err := model.NewTask(task.Name, task.URL, task.Config)
	require.NoError(t, err)
	dup.ID = task.ID
	assert.ErrorIs(t, eng.Submit(context.Background(), dup), ErrAlreadyActive)
}

// =============================================================================
// STATUS AND SHUTDOWN
// =============================================================================

func TestStatusFallsBackToStore(t *testing.T) {
	st := store.NewMemoryStore()
	eng := New(st, st, pagingFetcher(&atomic.Int32{}, 1), Options{})

	// Persisted but never submitted: no tracker, snapshot derived from
	// the stored task without a log sequence.
	task := newEngineTask(t, st, fastConfig([]model.DataKind{model.KindPost}, 5, 1))
	snap, err := eng.Status(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusPending, snap.Status)
	assert.Empty(t, snap.Log)

	_, err = eng.Status(context.Background(), "no-such-task")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestShutdown(t *testing.T) {
	st := store.NewMemoryStore()
	var calls atomic.Int32
	eng := New(st, st, pagingFetcher(&calls, 2), Options{})

	task := newEngineTask(t, st, fastConfig([]model.DataKind{model.KindPost}, 5, 1))
	require.NoError(t, eng.Submit(context.Background(), task))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, eng.Shutdown(ctx))

	// The running task finished before shutdown returned.
	got, err := st.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.True(t, got.Status().Terminal())

	// No new admissions afterwards.
	late := newEngineTask(t, st, fastConfig([]model.DataKind{model.KindPost}, 5, 1))
	assert.ErrorIs(t, eng.Submit(context.Background(), late), ErrStopped)
}

func TestShutdownRacesSubmit(t *testing.T) {
	st := store.NewMemoryStore()
	var calls atomic.Int32
	eng := New(st, st, pagingFetcher(&calls, 1), Options{MaxWorkers: 4})

	// Hammer Submit while Shutdown flips the stop flag: every submission
	// either runs to a terminal state before the drain finishes or is
	// rejected outright, never admitted into a draining pool.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task := newEngineTask(t, st, fastConfig([]model.DataKind{model.KindPost}, 1, 1))
			err := eng.Submit(context.Background(), task)
			if err != nil {
				assert.True(t,
					errors.Is(err, ErrStopped) || errors.Is(err, ErrPoolFull),
					"unexpected submit error: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, eng.Shutdown(ctx))
	wg.Wait()

	// Everything that was admitted has finished.
	assert.Equal(t, 0, eng.ActiveCount())
	tasks, err := st.ListTasks(context.Background())
	require.NoError(t, err)
	for _, task := range tasks {
		s := task.Status()
		assert.True(t, s == model.TaskStatusPending || s.Terminal(),
			"task left mid-flight in status %s", s)
	}
}
