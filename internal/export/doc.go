// Copyright (c) 2025 Social Harvest Project
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export turns a completed task's extracted records into a
// structured tabular artifact.
//
// The pipeline runs its own small state machine (pending -> processing
// -> completed/failed) per export job. It reads records grouped by data
// kind, builds one logical table per kind plus a summary table, and
// hands everything to an opaque Sink in a single call. Any store or
// sink error is terminal for the job; a partial artifact is never
// reported as complete.
package export
