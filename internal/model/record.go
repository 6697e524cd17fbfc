// Copyright (c) 2025 Social Harvest Project
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// EXTRACTED RECORD
// =============================================================================

// Record is one normalized unit of extracted content.
//
// Records are immutable once written: the engine creates them during
// extraction and everything downstream (progress, export) only reads.
// A record belongs to exactly one task for its whole lifetime.
type Record struct {
	// ID is a unique identifier for this record
	ID string

	// TaskID is the owning scraping task
	TaskID string

	// Kind is the content type; must be one of the task's configured kinds
	Kind DataKind

	// Content is the main extracted payload
	Content string

	// Metadata carries free-form extras (author, counters, links)
	Metadata map[string]string

	// ExtractedAt is when the item was pulled from the source
	ExtractedAt time.Time

	// SourceURL is where the content came from
	SourceURL string
}

// NewRecord creates a record owned by the given task. The kind is not
// checked against the task config here; the engine enforces that at the
// write site where the config is in scope.
func NewRecord(taskID string, kind DataKind, content string, metadata map[string]string, sourceURL string) (*Record, error) {
	if taskID == "" {
		return nil, fmt.Errorf("record: task id is required")
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("record: unknown data kind %q", kind)
	}

	md := make(map[string]string, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}

	return &Record{
		ID:          uuid.New().String(),
		TaskID:      taskID,
		Kind:        kind,
		Content:     content,
		Metadata:    md,
		ExtractedAt: time.Now().UTC(),
		SourceURL:   sourceURL,
	}, nil
}

// Meta returns a metadata field, or the fallback when absent.
func (r *Record) Meta(key, fallback string) string {
	if v, ok := r.Metadata[key]; ok {
		return v
	}
	return fallback
}

// MetaInt returns a numeric metadata field, or 0 when absent or
// unparseable. Used for the likes/comments/shares counters.
func (r *Record) MetaInt(key string) int {
	n, err := strconv.Atoi(r.Metadata[key])
	if err != nil {
		return 0
	}
	return n
}
