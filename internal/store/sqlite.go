// Copyright (c) 2025 Social Harvest Project
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/socialharvest/harvester/internal/model"
)

// =============================================================================
// SQLITE STORE
// =============================================================================

// SQLiteStore is the durable Store backed by a single SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and if needed creates) the database at path and
// applies the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single writer keeps SQLite happy; WAL lets readers proceed
	// alongside it.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma: %w", err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if _, err := db.Exec(
		`INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)`,
		strconv.Itoa(SchemaVersion),
	); err != nil {
		db.Close()
		return nil, fmt.Errorf("record schema version: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// TASKS
// =============================================================================

// CreateTask implements TaskStore.
func (s *SQLiteStore) CreateTask(ctx context.Context, t *model.Task) error {
	c := t.Clone()
	cfg, err := json.Marshal(c.Config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scraping_tasks
			(id, name, url, status, config, created_at, updated_at,
			 started_at, completed_at, items_processed, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.URL, c.Status().String(), string(cfg),
		timeToInt(c.CreatedAt), timeToInt(c.UpdatedAt),
		timeToInt(c.StartedAt), timeToInt(c.CompletedAt),
		c.ItemsProcessed(), c.ErrorMessage(),
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetTask implements TaskStore.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, url, status, config, created_at, updated_at,
		       started_at, completed_at, items_processed, error_message
		FROM scraping_tasks WHERE id = ?`, id)

	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: task %s", ErrNotFound, id)
	}
	return t, err
}

// UpdateTask implements TaskStore.
func (s *SQLiteStore) UpdateTask(ctx context.Context, t *model.Task) error {
	c := t.Clone()
	cfg, err := json.Marshal(c.Config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE scraping_tasks
		SET name = ?, url = ?, status = ?, config = ?, updated_at = ?,
		    started_at = ?, completed_at = ?, items_processed = ?, error_message = ?
		WHERE id = ?`,
		c.Name, c.URL, c.Status().String(), string(cfg),
		timeToInt(c.UpdatedAt), timeToInt(c.StartedAt), timeToInt(c.CompletedAt),
		c.ItemsProcessed(), c.ErrorMessage(), c.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: task %s", ErrNotFound, c.ID)
	}
	return nil
}

// ListTasks implements TaskStore.
func (s *SQLiteStore) ListTasks(ctx context.Context) ([]*model.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, url, status, config, created_at, updated_at,
		       started_at, completed_at, items_processed, error_message
		FROM scraping_tasks ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(sc scanner) (*model.Task, error) {
	var (
		id, name, url, status, cfgJSON, errMsg string
		created, updated, started, completed   int64
		items                                  int
	)
	if err := sc.Scan(&id, &name, &url, &status, &cfgJSON,
		&created, &updated, &started, &completed, &items, &errMsg); err != nil {
		return nil, err
	}

	var cfg model.Config
	if err := json.Unmarshal([]byte(cfgJSON), &cfg); err != nil {
		return nil, fmt.Errorf("decode config for task %s: %w", id, err)
	}

	return model.Restore(id, name, url, cfg, model.TaskStatus(status),
		intToTime(created), intToTime(updated), intToTime(started), intToTime(completed),
		items, errMsg), nil
}

// =============================================================================
// RECORDS
// =============================================================================

// AppendRecords implements RecordStore. The batch goes in one
// transaction so a crash cannot leave half a step's records behind.
func (s *SQLiteStore) AppendRecords(ctx context.Context, recs []*model.Record) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO extracted_records
			(id, task_id, kind, content, metadata, extracted_at, source_url)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare append: %w", err)
	}
	defer stmt.Close()

	for _, r := range recs {
		md, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			r.ID, r.TaskID, r.Kind.String(), r.Content, string(md),
			timeToInt(r.ExtractedAt), r.SourceURL); err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
	}
	return tx.Commit()
}

// ListRecords implements RecordStore.
func (s *SQLiteStore) ListRecords(ctx context.Context, taskID string) ([]*model.Record, error) {
	return s.queryRecords(ctx, `
		SELECT id, task_id, kind, content, metadata, extracted_at, source_url
		FROM extracted_records WHERE task_id = ? ORDER BY seq`, taskID)
}

// ListRecordsByKind implements RecordStore.
func (s *SQLiteStore) ListRecordsByKind(ctx context.Context, taskID string, kind model.DataKind) ([]*model.Record, error) {
	return s.queryRecords(ctx, `
		SELECT id, task_id, kind, content, metadata, extracted_at, source_url
		FROM extracted_records WHERE task_id = ? AND kind = ? ORDER BY seq`, taskID, kind.String())
}

// CountRecords implements RecordStore.
func (s *SQLiteStore) CountRecords(ctx context.Context, taskID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM extracted_records WHERE task_id = ?`, taskID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) queryRecords(ctx context.Context, query string, args ...interface{}) ([]*model.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []*model.Record
	for rows.Next() {
		var (
			id, taskID, kind, content, mdJSON, sourceURL string
			extracted                                    int64
		)
		if err := rows.Scan(&id, &taskID, &kind, &content, &mdJSON, &extracted, &sourceURL); err != nil {
			return nil, err
		}
		md := make(map[string]string)
		if err := json.Unmarshal([]byte(mdJSON), &md); err != nil {
			return nil, fmt.Errorf("decode metadata for record %s: %w", id, err)
		}
		out = append(out, &model.Record{
			ID:          id,
			TaskID:      taskID,
			Kind:        model.DataKind(kind),
			Content:     content,
			Metadata:    md,
			ExtractedAt: intToTime(extracted),
			SourceURL:   sourceURL,
		})
	}
	return out, rows.Err()
}

// =============================================================================
// EXPORT JOBS
// =============================================================================

// CreateExport implements ExportStore.
func (s *SQLiteStore) CreateExport(ctx context.Context, j *model.ExportJob) error {
	c := j.Clone()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO export_jobs
			(id, task_id, filename, status, file_size, created_at, completed_at, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.TaskID, c.Filename, c.Status().String(), c.FileSize(),
		timeToInt(c.CreatedAt), timeToInt(c.CompletedAt), c.ErrorMessage(),
	)
	if err != nil {
		return fmt.Errorf("insert export job: %w", err)
	}
	return nil
}

// GetExport implements ExportStore.
func (s *SQLiteStore) GetExport(ctx context.Context, id string) (*model.ExportJob, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, task_id, filename, status, file_size, created_at, completed_at, error_message
		FROM export_jobs WHERE id = ?`, id)

	j, err := scanExport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: export %s", ErrNotFound, id)
	}
	return j, err
}

// UpdateExport implements ExportStore.
func (s *SQLiteStore) UpdateExport(ctx context.Context, j *model.ExportJob) error {
	c := j.Clone()
	res, err := s.db.ExecContext(ctx, `
		UPDATE export_jobs
		SET filename = ?, status = ?, file_size = ?, completed_at = ?, error_message = ?
		WHERE id = ?`,
		c.Filename, c.Status().String(), c.FileSize(),
		timeToInt(c.CompletedAt), c.ErrorMessage(), c.ID,
	)
	if err != nil {
		return fmt.Errorf("update export job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: export %s", ErrNotFound, c.ID)
	}
	return nil
}

// ListExports implements ExportStore.
func (s *SQLiteStore) ListExports(ctx context.Context, taskID string) ([]*model.ExportJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, filename, status, file_size, created_at, completed_at, error_message
		FROM export_jobs WHERE task_id = ? ORDER BY created_at DESC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list export jobs: %w", err)
	}
	defer rows.Close()

	var out []*model.ExportJob
	for rows.Next() {
		j, err := scanExport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func scanExport(sc scanner) (*model.ExportJob, error) {
	var (
		id, taskID, filename, status, errMsg string
		size, created, completed             int64
	)
	if err := sc.Scan(&id, &taskID, &filename, &status, &size, &created, &completed, &errMsg); err != nil {
		return nil, err
	}
	return model.RestoreExportJob(id, taskID, filename, model.ExportStatus(status),
		intToTime(created), intToTime(completed), size, errMsg), nil
}

// =============================================================================
// TIME ENCODING
// =============================================================================

// timeToInt encodes a timestamp as Unix nanoseconds, zero time as 0.
func timeToInt(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

// intToTime reverses timeToInt.
func intToTime(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
