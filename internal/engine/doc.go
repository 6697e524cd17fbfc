// Copyright (c) 2025 Social Harvest Project
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine executes scraping tasks under a bounded worker pool.
//
// The engine owns the task state machine: it admits pending tasks, runs
// one worker per active task, drives the extraction loop through the
// rate-limit/retry policy, appends results to the record store, and
// publishes progress through the per-task tracker. Admission is the
// only operation that can reject a caller; once admitted, a task runs
// to a terminal state on its own.
//
// Cancellation is cooperative. A cancel request is observed at
// checkpoints between extraction steps and during policy sleeps, never
// in the middle of an in-flight fetch, so a store write is never left
// half-applied. The latency bound is therefore the configured maximum
// delay plus one fetch timeout.
//
// # Usage
//
//	eng := engine.New(st, st, fetcher, engine.Options{MaxWorkers: 3})
//	if err := eng.Submit(ctx, task); err != nil { ... }
//	snap, _ := eng.Status(ctx, task.ID)
//	_ = eng.Cancel(task.ID)
package engine
