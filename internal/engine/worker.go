// Copyright (c) 2025 Social Harvest Project
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/socialharvest/harvester/internal/model"
	"github.com/socialharvest/harvester/internal/progress"
	"github.com/socialharvest/harvester/internal/ratelimit"
	"github.com/socialharvest/harvester/internal/scrape"
)

// errCancelled flows up the extraction loop when a stop request is
// observed at a checkpoint.
var errCancelled = errors.New("cancellation observed")

// =============================================================================
// WORKER
// =============================================================================

// runWorker owns one task from admission to its terminal state. It is
// the only goroutine that writes the task's mutable fields.
func (e *Engine) runWorker(t *model.Task, tr *progress.Tracker, sig *cancelSignal) {
	defer e.wg.Done()
	defer e.release(t.ID)

	// Bridge the cancel signal into a context so the pacer sleep is
	// interruptible. Fetches deliberately do NOT derive from this
	// context: cancellation waits for the next checkpoint.
	wctx, stop := context.WithCancel(context.Background())
	defer stop()
	go func() {
		select {
		case <-sig.ch:
			stop()
		case <-wctx.Done():
		}
	}()

	if err := t.Start(); err != nil {
		// Submit validated pending status; losing the race here means a
		// caller mutated the task outside the engine.
		tr.Publish(t.Status(), t.ItemsProcessed(), progress.LevelError,
			"task could not start: %v", err)
		return
	}
	e.persist(t, tr)
	tr.Publish(model.TaskStatusRunning, 0, progress.LevelInfo, "task started")

	policy := ratelimit.NewPolicy(t.Config)
	err := e.extract(wctx, t, tr, policy, sig)

	switch {
	case err == nil:
		if terr := t.Complete(); terr == nil {
			tr.Publish(t.Status(), t.ItemsProcessed(), progress.LevelInfo,
				"task completed: %d item(s) extracted", t.ItemsProcessed())
		}
	case errors.Is(err, errCancelled):
		if terr := t.MarkCancelled(); terr == nil {
			tr.Publish(t.Status(), t.ItemsProcessed(), progress.LevelInfo,
				"task cancelled after %d item(s)", t.ItemsProcessed())
		}
	default:
		if terr := t.Fail(err.Error()); terr == nil {
			tr.Publish(t.Status(), t.ItemsProcessed(), progress.LevelError,
				"task failed: %v", err)
		}
	}
	e.persist(t, tr)
}

// extract drives the full extraction loop over all configured kinds.
// A nil return means the item limit was reached or every kind is
// exhausted; errCancelled means a stop request was observed; any other
// error is unrecoverable and fails the task.
func (e *Engine) extract(wctx context.Context, t *model.Task, tr *progress.Tracker,
	policy *ratelimit.Policy, sig *cancelSignal) error {

	limit := t.Config.MaxItems

	for _, kind := range t.Config.DataKinds {
		cursor := ""
		for {
			if limit > 0 && t.ItemsProcessed() >= limit {
				return nil
			}

			// Checkpoint: the only places cancellation is observed are
			// here and inside the interruptible sleeps below.
			if cancelled(sig) {
				return errCancelled
			}

			// Randomized pre-step delay, then the shared pacer.
			if err := e.sleep(wctx, policy.NextDelay(1)); err != nil {
				return err
			}
			if err := e.pacer.Wait(wctx); err != nil {
				return errCancelled
			}

			page, err := e.fetchWithRetry(wctx, t, tr, policy, kind, cursor)
			if err != nil {
				return err
			}

			if err := e.commitStep(t, tr, kind, page, limit); err != nil {
				return err
			}

			if page.Exhausted || page.NextCursor == "" {
				break
			}
			cursor = page.NextCursor
		}
	}
	return nil
}

// fetchWithRetry performs one extraction step, retrying transient
// failures within the policy's budget. Structural errors fail
// immediately without consuming budget. The in-flight fetch itself is
// never interrupted; its context carries only the per-step timeout.
func (e *Engine) fetchWithRetry(wctx context.Context, t *model.Task, tr *progress.Tracker,
	policy *ratelimit.Policy, kind model.DataKind, cursor string) (*scrape.Page, error) {

	for attempt := 1; ; attempt++ {
		fctx, cancel := context.WithTimeout(context.Background(), t.Config.Timeout)
		page, err := e.fetcher.Fetch(fctx, t.URL, kind, cursor)
		cancel()

		if err == nil {
			return page, nil
		}

		if scrape.KindOf(err) == scrape.ErrKindStructural {
			return nil, fmt.Errorf("structural error fetching %s: %w", kind, err)
		}

		if !policy.ShouldRetry(attempt, err) {
			return nil, fmt.Errorf("retry budget exhausted after %d attempt(s) fetching %s: %w",
				attempt, kind, err)
		}

		tr.Publish(model.TaskStatusRunning, t.ItemsProcessed(), progress.LevelWarn,
			"transient error fetching %s (attempt %d/%d): %v", kind, attempt, policy.MaxRetries()+1, err)

		// Back off before the next attempt. The sleep watches the
		// worker context, so cancellation also ends a retry chain.
		if err := e.sleep(wctx, policy.NextDelay(attempt+1)); err != nil {
			return nil, err
		}
	}
}

// commitStep normalizes a page into records, appends them to the store,
// and advances counter + log + persisted task state together.
func (e *Engine) commitStep(t *model.Task, tr *progress.Tracker,
	kind model.DataKind, page *scrape.Page, limit int) error {

	items := page.Items
	if limit > 0 {
		if left := limit - t.ItemsProcessed(); len(items) > left {
			items = items[:left]
		}
	}
	if len(items) == 0 {
		return nil
	}

	recs := make([]*model.Record, 0, len(items))
	for _, it := range items {
		src := it.SourceURL
		if src == "" {
			src = t.URL
		}
		rec, err := model.NewRecord(t.ID, kind, it.Content, it.Metadata, src)
		if err != nil {
			return fmt.Errorf("structural error normalizing %s item: %w", kind, err)
		}
		recs = append(recs, rec)
	}

	// Store unavailability is fatal to this task, not to the engine.
	if err := e.records.AppendRecords(context.Background(), recs); err != nil {
		return fmt.Errorf("record store: %w", err)
	}

	if err := t.AddProcessed(len(recs)); err != nil {
		return err
	}
	tr.Publish(model.TaskStatusRunning, t.ItemsProcessed(), progress.LevelInfo,
		"extracted %d %s item(s), total %d", len(recs), kind, t.ItemsProcessed())
	e.persist(t, tr)
	return nil
}

// sleep pauses for d but aborts early when the worker context is
// cancelled, so stop requests have bounded latency.
func (e *Engine) sleep(wctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-wctx.Done():
		return errCancelled
	}
}

// persist writes the task's current state through the task store.
// Persistence trouble during progress updates is logged rather than
// fatal; the terminal transition has already been applied in memory and
// the next update will retry the write.
func (e *Engine) persist(t *model.Task, tr *progress.Tracker) {
	if err := e.tasks.UpdateTask(context.Background(), t); err != nil {
		tr.Publish(t.Status(), t.ItemsProcessed(), progress.LevelWarn,
			"persisting task state: %v", err)
	}
}

// cancelled reports whether the stop signal fired, without blocking.
func cancelled(sig *cancelSignal) bool {
	select {
	case <-sig.ch:
		return true
	default:
		return false
	}
}
