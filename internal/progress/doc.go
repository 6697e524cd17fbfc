// Copyright (c) 2025 Social Harvest Project
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package progress implements the per-task progress and log channel.
//
// Each running task owns one Tracker. The task's worker is the single
// writer; any number of status polls read concurrently. The writer
// builds a fresh immutable Snapshot per step and publishes it through
// an atomic swap, so reads never block the worker and never observe a
// half-updated state. The items-processed counter and the log sequence
// travel in the same snapshot: an observer cannot see one advance
// without the other.
//
// An optional process-wide log sink may tee entries for operational
// visibility; it is not part of the correctness contract.
package progress
