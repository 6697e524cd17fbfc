// Copyright (c) 2025 Social Harvest Project
// SPDX-License-Identifier: AGPL-3.0-or-later

package scrape

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"syscall"

	"github.com/socialharvest/harvester/internal/model"
)

// =============================================================================
// HTTP FETCHER
// =============================================================================

// maxBodyBytes bounds how much of a response body one item may carry.
const maxBodyBytes = 1 << 20 // 1MB

// defaultUserAgent is sent when the caller configures none.
const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// HTTPFetcher is a plain HTTP implementation of the fetch capability.
//
// It treats one response body as one item of the requested kind and
// maps transport faults onto the error taxonomy. It is deliberately
// dumb about content: anything smarter (a DOM walker, a headless
// browser) plugs in behind the same Fetcher interface.
type HTTPFetcher struct {
	// Client is the HTTP client used for requests. http.DefaultClient
	// when nil. Per-fetch deadlines come from the context, not the
	// client timeout, so the engine's step timeout stays in charge.
	Client *http.Client

	// UserAgent overrides the default browser user-agent string.
	UserAgent string
}

// NewHTTPFetcher creates a fetcher with its own client.
func NewHTTPFetcher(userAgent string) *HTTPFetcher {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &HTTPFetcher{
		Client:    &http.Client{},
		UserAgent: userAgent,
	}
}

// Fetch implements Fetcher. A page URL is fetched once per kind; the
// cursor is a simple page offset forwarded as a query parameter.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string, kind model.DataKind, cursor string) (*Page, error) {
	target := url
	if cursor != "" {
		sep := "?"
		for i := 0; i < len(url); i++ {
			if url[i] == '?' {
				sep = "&"
				break
			}
		}
		target = url + sep + "page=" + cursor
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, NewError(ErrKindStructural, "building request", err)
	}
	req.Header.Set("User-Agent", f.userAgent())
	req.Header.Set("Accept", "text/html,application/json")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, classifyTransportError(err)
	}

	item := Item{
		Content: string(body),
		Metadata: map[string]string{
			"status":       strconv.Itoa(resp.StatusCode),
			"content_type": resp.Header.Get("Content-Type"),
			"kind":         kind.String(),
		},
		SourceURL: target,
	}

	// One body per step; advance the offset cursor until the source
	// stops serving (handled by status classification above).
	next := "2"
	if cursor != "" {
		n, convErr := strconv.Atoi(cursor)
		if convErr != nil {
			return nil, NewError(ErrKindStructural, fmt.Sprintf("malformed cursor %q", cursor), convErr)
		}
		next = strconv.Itoa(n + 1)
	}

	return &Page{Items: []Item{item}, NextCursor: next}, nil
}

func (f *HTTPFetcher) userAgent() string {
	if f.UserAgent != "" {
		return f.UserAgent
	}
	return defaultUserAgent
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

// classifyStatus maps HTTP status codes onto the error taxonomy.
func classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		return NewError(ErrKindRateLimited, fmt.Sprintf("source returned %d", code), nil)
	case code >= 500:
		// Server-side trouble is worth another attempt.
		return NewError(ErrKindConnReset, fmt.Sprintf("source returned %d", code), nil)
	default:
		// 3xx after redirects, 4xx: the request itself is wrong for
		// this source. Retrying the same request cannot help.
		return NewError(ErrKindStructural, fmt.Sprintf("unexpected status %d", code), nil)
	}
}

// classifyTransportError maps network-level failures onto the taxonomy.
func classifyTransportError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(ErrKindTimeout, "fetch timed out", err)
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, io.ErrUnexpectedEOF):
		return NewError(ErrKindConnReset, "connection reset", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewError(ErrKindTimeout, "fetch timed out", err)
	}

	// Unknown transport failures (DNS flaps, dropped routes) are given
	// the benefit of the doubt and classified transient.
	return NewError(ErrKindConnReset, "transport error", err)
}
