// Copyright (c) 2025 Social Harvest Project
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store is the persistence collaborator for tasks, extracted
// records, and export jobs.
//
// The engine and the export pipeline only speak to the narrow
// TaskStore / RecordStore / ExportStore interfaces. Two implementations
// ship: an in-process MemoryStore (tests, zero-config runs) and a
// durable SQLiteStore on modernc.org/sqlite.
//
// Records are append-only per task. The single active worker appends
// while exports read; because records are immutable once written and
// list operations observe a consistent prefix, no coordination beyond
// the store's own locking is needed.
package store
