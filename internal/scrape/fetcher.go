// Copyright (c) 2025 Social Harvest Project
// SPDX-License-Identifier: AGPL-3.0-or-later

package scrape

import (
	"context"
	"errors"
	"fmt"

	"github.com/socialharvest/harvester/internal/model"
)

// =============================================================================
// ERROR TAXONOMY
// =============================================================================

// ErrorKind classifies a fetch failure for the retry policy.
type ErrorKind string

const (
	// ErrKindTimeout indicates the fetch exceeded its per-step timeout
	ErrKindTimeout ErrorKind = "timeout"

	// ErrKindRateLimited indicates the source pushed back on request rate
	ErrKindRateLimited ErrorKind = "rate_limited"

	// ErrKindConnReset indicates the connection dropped mid-fetch
	ErrKindConnReset ErrorKind = "connection_reset"

	// ErrKindStructural indicates the source shape was not what the
	// extractor expects. Never retried.
	ErrKindStructural ErrorKind = "structural"
)

// Transient reports whether the kind is retry eligible.
func (k ErrorKind) Transient() bool {
	switch k {
	case ErrKindTimeout, ErrKindRateLimited, ErrKindConnReset:
		return true
	}
	return false
}

// Error is a classified fetch failure.
type Error struct {
	// Kind drives the retry decision
	Kind ErrorKind

	// Message describes what went wrong
	Message string

	// Err is the underlying cause, if any
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a classified fetch error.
func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// KindOf extracts the classification from an error. Unclassified errors
// are treated as structural: an adapter that cannot say what went wrong
// gives the policy no basis to believe a retry would behave differently.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrKindTimeout
	}
	return ErrKindStructural
}

// Transient reports whether the error is retry eligible.
func Transient(err error) bool {
	return KindOf(err).Transient()
}

// =============================================================================
// FETCH CAPABILITY
// =============================================================================

// Item is one normalized unit of content as handed over by a fetcher.
type Item struct {
	// Content is the main payload
	Content string

	// Metadata carries extras like author, timestamp, and counters
	Metadata map[string]string

	// SourceURL is where the item came from; falls back to the task URL
	// when empty
	SourceURL string
}

// Page is the result of one fetch step.
type Page struct {
	// Items are the normalized units extracted in this step
	Items []Item

	// NextCursor positions the following fetch; opaque to the engine
	NextCursor string

	// Exhausted signals that the source has no more content of this kind
	Exhausted bool
}

// Fetcher is the opaque fetch capability consumed by the engine.
//
// Fetch retrieves the next page of the given kind starting at cursor
// (empty for the first page). Implementations must honor ctx so the
// engine's per-step timeout bounds how long a single fetch may run,
// and must return classified *Error values for anything the retry
// policy should reason about.
type Fetcher interface {
	Fetch(ctx context.Context, url string, kind model.DataKind, cursor string) (*Page, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, url string, kind model.DataKind, cursor string) (*Page, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, url string, kind model.DataKind, cursor string) (*Page, error) {
	return f(ctx, url, kind, cursor)
}
