// Copyright (c) 2025 Social Harvest Project
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// DATA KINDS
// =============================================================================

// DataKind identifies the type of content a record holds.
type DataKind string

const (
	KindPost    DataKind = "post"
	KindComment DataKind = "comment"
	KindProfile DataKind = "profile"
	KindLike    DataKind = "like"
	KindShare   DataKind = "share"
)

// AllKinds lists every supported data kind, in display order.
var AllKinds = []DataKind{KindPost, KindComment, KindProfile, KindLike, KindShare}

// Valid reports whether the kind is one of the supported values.
func (k DataKind) Valid() bool {
	switch k {
	case KindPost, KindComment, KindProfile, KindLike, KindShare:
		return true
	}
	return false
}

// String returns the string representation of the data kind.
func (k DataKind) String() string {
	return string(k)
}

// Title returns the kind capitalized for table and sheet names.
func (k DataKind) Title() string {
	s := string(k)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// =============================================================================
// TASK CONFIG
// =============================================================================

// Config holds the extraction settings for a single task.
//
// Ranges are validated at task creation time; out-of-range values never
// reach the engine.
type Config struct {
	// DataKinds are the content types to extract, in order
	DataKinds []DataKind

	// MaxItems bounds the total number of items extracted (0 = no limit)
	MaxItems int

	// DelayMin / DelayMax bound the randomized pause before each fetch
	DelayMin time.Duration
	DelayMax time.Duration

	// Timeout bounds a single fetch before it is classified as a
	// transient timeout error
	Timeout time.Duration

	// MaxRetries is the retry budget for transient fetch errors
	MaxRetries int

	// Headless controls whether the browser-backed fetcher runs
	// without a display
	Headless bool
}

// DefaultConfig returns the extraction settings used when the caller
// supplies none. Values mirror the defaults of the remote-source
// scraping service this engine drives.
func DefaultConfig() Config {
	return Config{
		DataKinds:  []DataKind{KindPost, KindComment},
		MaxItems:   100,
		DelayMin:   1 * time.Second,
		DelayMax:   3 * time.Second,
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		Headless:   true,
	}
}

// Validate checks all configured ranges. It returns the first violation
// found; a nil return means the config is safe to admit.
func (c Config) Validate() error {
	if len(c.DataKinds) == 0 {
		return fmt.Errorf("config: at least one data kind is required")
	}
	seen := make(map[DataKind]bool, len(c.DataKinds))
	for _, k := range c.DataKinds {
		if !k.Valid() {
			return fmt.Errorf("config: unknown data kind %q", k)
		}
		if seen[k] {
			return fmt.Errorf("config: duplicate data kind %q", k)
		}
		seen[k] = true
	}
	if c.MaxItems < 0 {
		return fmt.Errorf("config: max items cannot be negative")
	}
	if c.DelayMin <= 0 {
		return fmt.Errorf("config: delay min must be positive")
	}
	if c.DelayMax < c.DelayMin {
		return fmt.Errorf("config: delay max must be >= delay min")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("config: timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("config: max retries cannot be negative")
	}
	return nil
}

// clone returns a copy with its own kinds slice.
func (c Config) clone() Config {
	out := c
	out.DataKinds = append([]DataKind(nil), c.DataKinds...)
	return out
}
