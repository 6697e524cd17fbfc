// Copyright (c) 2025 Social Harvest Project
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/socialharvest/harvester/internal/model"
	"github.com/socialharvest/harvester/internal/store"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrTaskNotCompleted is returned when an export is requested for a
	// task that has not finished successfully.
	ErrTaskNotCompleted = errors.New("task is not completed")

	// ErrNoRecords is returned when a completed task has nothing to
	// export.
	ErrNoRecords = errors.New("task has no extracted records")
)

// =============================================================================
// TABLES AND SINK
// =============================================================================

// Table is one logical table of the artifact: a name, a header, and
// ordered rows.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]string
}

// Sink is the opaque artifact writer. It receives every table of one
// export in a single call and returns the produced artifact size.
type Sink interface {
	Write(ctx context.Context, tables []Table, destination string) (int64, error)
}

// recordColumns is the header shared by all per-kind tables.
var recordColumns = []string{
	"ID", "Kind", "Content", "Author", "Timestamp",
	"Likes", "Comments", "Shares", "Source URL", "Extracted At",
}

// =============================================================================
// PIPELINE
// =============================================================================

// Pipeline consumes the record store for completed tasks and produces
// artifacts through a sink.
type Pipeline struct {
	tasks   store.TaskStore
	records store.RecordStore
	exports store.ExportStore
	sink    Sink

	// logger optionally mirrors job events for operational visibility
	logger *log.Logger
}

// NewPipeline creates an export pipeline over the given stores and sink.
func NewPipeline(tasks store.TaskStore, records store.RecordStore, exports store.ExportStore, sink Sink, logger *log.Logger) *Pipeline {
	return &Pipeline{
		tasks:   tasks,
		records: records,
		exports: exports,
		sink:    sink,
		logger:  logger,
	}
}

// NewJob validates an export request and persists a pending job.
// The owning task must exist, be completed, and have at least one
// record; anything else is a validation error and no job record is
// created. Multiple jobs for the same task are allowed.
func (p *Pipeline) NewJob(ctx context.Context, taskID, filename string) (*model.ExportJob, error) {
	t, err := p.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if s := t.Status(); s != model.TaskStatusCompleted {
		return nil, fmt.Errorf("%w: status is %s", ErrTaskNotCompleted, s)
	}

	n, err := p.records.CountRecords(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoRecords, taskID)
	}

	job := model.NewExportJob(t, filename)
	if err := p.exports.CreateExport(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Run executes one export job to a terminal state. A nil return means
// the artifact was produced and its size recorded; otherwise the job is
// failed with the error captured both on the entity and in the return.
func (p *Pipeline) Run(ctx context.Context, job *model.ExportJob) error {
	if err := job.StartProcessing(); err != nil {
		return err
	}
	if err := p.exports.UpdateExport(ctx, job); err != nil {
		return p.fail(ctx, job, fmt.Errorf("export store: %w", err))
	}
	p.logf("[EXPORT %s] building artifact %s", shortID(job.ID), job.Filename)

	tables, err := p.buildTables(ctx, job.TaskID)
	if err != nil {
		return p.fail(ctx, job, err)
	}

	size, err := p.sink.Write(ctx, tables, job.Filename)
	if err != nil {
		return p.fail(ctx, job, fmt.Errorf("artifact sink: %w", err))
	}

	if err := job.Complete(size); err != nil {
		return err
	}
	if err := p.exports.UpdateExport(ctx, job); err != nil {
		return err
	}
	p.logf("[EXPORT %s] completed, %d bytes", shortID(job.ID), size)
	return nil
}

// fail moves the job to failed, persists it best-effort, and returns
// the original error.
func (p *Pipeline) fail(ctx context.Context, job *model.ExportJob, cause error) error {
	if err := job.Fail(cause.Error()); err == nil {
		if uerr := p.exports.UpdateExport(ctx, job); uerr != nil {
			p.logf("[EXPORT %s] persisting failure: %v", shortID(job.ID), uerr)
		}
	}
	p.logf("[EXPORT %s] failed: %v", shortID(job.ID), cause)
	return cause
}

// =============================================================================
// TABLE BUILDING
// =============================================================================

// buildTables assembles the summary table followed by one table per
// data kind that has records, each ordered by extraction time.
func (p *Pipeline) buildTables(ctx context.Context, taskID string) ([]Table, error) {
	t, err := p.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	counts := make(map[model.DataKind]int)
	kindTables := make([]Table, 0, len(model.AllKinds))
	total := 0

	for _, kind := range model.AllKinds {
		recs, err := p.records.ListRecordsByKind(ctx, taskID, kind)
		if err != nil {
			return nil, fmt.Errorf("record store: %w", err)
		}
		if len(recs) == 0 {
			continue
		}

		counts[kind] = len(recs)
		total += len(recs)

		rows := make([][]string, 0, len(recs))
		for _, r := range recs {
			rows = append(rows, recordRow(r))
		}
		kindTables = append(kindTables, Table{
			Name:    kind.Title(),
			Columns: recordColumns,
			Rows:    rows,
		})
	}

	tables := []Table{summaryTable(t, counts, total)}
	return append(tables, kindTables...), nil
}

// recordRow flattens one record into the shared column layout.
func recordRow(r *model.Record) []string {
	return []string{
		r.ID,
		r.Kind.Title(),
		r.Content,
		r.Meta("author", ""),
		r.Meta("timestamp", ""),
		strconv.Itoa(r.MetaInt("likes_count")),
		strconv.Itoa(r.MetaInt("comments_count")),
		strconv.Itoa(r.MetaInt("shares_count")),
		r.SourceURL,
		r.ExtractedAt.Format("2006-01-02 15:04:05"),
	}
}

// summaryTable aggregates task metadata and per-kind counts.
func summaryTable(t *model.Task, counts map[model.DataKind]int, total int) Table {
	rows := [][]string{
		{"Task", t.Name},
		{"URL", t.URL},
		{"Status", t.Status().String()},
		{"Duration", t.Duration().Round(time.Millisecond).String()},
		{"Items Processed", strconv.Itoa(t.ItemsProcessed())},
		{"Total Records", strconv.Itoa(total)},
	}
	for _, kind := range model.AllKinds {
		if n, ok := counts[kind]; ok {
			rows = append(rows, []string{kind.Title() + " Records", strconv.Itoa(n)})
		}
	}
	return Table{
		Name:    "Summary",
		Columns: []string{"Field", "Value"},
		Rows:    rows,
	}
}

func (p *Pipeline) logf(format string, args ...interface{}) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
