// Copyright (c) 2025 Social Harvest Project
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

const (
	// SchemaVersion tracks the database schema version for migrations
	SchemaVersion = 1
)

// SQLite schema for the harvester database.
const Schema = `
-- Metadata table for schema version
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
) WITHOUT ROWID;

-- Scraping tasks
CREATE TABLE IF NOT EXISTS scraping_tasks (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    url TEXT NOT NULL,
    status TEXT NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed', 'cancelled')),
    config TEXT NOT NULL,             -- JSON-encoded extraction settings
    created_at INTEGER NOT NULL,      -- Unix nanoseconds, 0 = unset
    updated_at INTEGER NOT NULL,
    started_at INTEGER NOT NULL DEFAULT 0,
    completed_at INTEGER NOT NULL DEFAULT 0,
    items_processed INTEGER NOT NULL DEFAULT 0,
    error_message TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON scraping_tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON scraping_tasks(created_at);

-- Extracted records, append-only per task
CREATE TABLE IF NOT EXISTS extracted_records (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,  -- preserves extraction order
    id TEXT NOT NULL UNIQUE,
    task_id TEXT NOT NULL,
    kind TEXT NOT NULL CHECK (kind IN ('post', 'comment', 'profile', 'like', 'share')),
    content TEXT NOT NULL,
    metadata TEXT NOT NULL DEFAULT '{}',    -- JSON object
    extracted_at INTEGER NOT NULL,
    source_url TEXT NOT NULL DEFAULT '',
    FOREIGN KEY(task_id) REFERENCES scraping_tasks(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_records_task_id ON extracted_records(task_id);
CREATE INDEX IF NOT EXISTS idx_records_task_kind ON extracted_records(task_id, kind);

-- Export jobs
CREATE TABLE IF NOT EXISTS export_jobs (
    id TEXT PRIMARY KEY,
    task_id TEXT NOT NULL,
    filename TEXT NOT NULL,
    status TEXT NOT NULL CHECK (status IN ('pending', 'processing', 'completed', 'failed')),
    file_size INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    completed_at INTEGER NOT NULL DEFAULT 0,
    error_message TEXT NOT NULL DEFAULT '',
    FOREIGN KEY(task_id) REFERENCES scraping_tasks(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_exports_task_id ON export_jobs(task_id);
`
