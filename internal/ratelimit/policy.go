// Copyright (c) 2025 Social Harvest Project
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ratelimit holds the pure delay/retry policy applied to each
// remote operation, plus the process-wide pacer shared by all workers.
package ratelimit

import (
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/socialharvest/harvester/internal/model"
	"github.com/socialharvest/harvester/internal/scrape"
)

// =============================================================================
// RETRY POLICY
// =============================================================================

// maxBackoff caps the multiplicative backoff so a long retry chain
// cannot stall a worker indefinitely.
const maxBackoff = 60 * time.Second

// Policy computes the delay before each remote operation and decides
// whether a failed attempt is retried. It is a pure function of the
// task config and the attempt count; the only internal state is the
// randomness source used for jitter.
type Policy struct {
	delayMin   time.Duration
	delayMax   time.Duration
	maxRetries int

	// rng jitters the baseline delay so the request cadence is not a
	// detectable fixed interval
	rng *rand.Rand
	mu  sync.Mutex
}

// NewPolicy builds a policy from a validated task config.
func NewPolicy(cfg model.Config) *Policy {
	return &Policy{
		delayMin:   cfg.DelayMin,
		delayMax:   cfg.DelayMax,
		maxRetries: cfg.MaxRetries,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NextDelay returns the pause before the given 1-based attempt.
// Attempt 1 draws uniformly from [delay-min, delay-max]; each further
// attempt doubles the draw, capped at maxBackoff.
func (p *Policy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := p.baseline()
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

// baseline draws a random delay within the configured bounds.
func (p *Policy) baseline() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	span := p.delayMax - p.delayMin
	if span <= 0 {
		return p.delayMin
	}
	return p.delayMin + time.Duration(p.rng.Int63n(int64(span)+1))
}

// ShouldRetry reports whether the given failed attempt (1-based) should
// be retried. True only while retry budget remains and the error is
// classified transient; structural errors never consume budget because
// retrying them cannot help.
func (p *Policy) ShouldRetry(attempt int, err error) bool {
	if err == nil {
		return false
	}
	if attempt > p.maxRetries {
		return false
	}
	return scrape.Transient(err)
}

// MaxRetries returns the configured retry budget.
func (p *Policy) MaxRetries() int {
	return p.maxRetries
}

// =============================================================================
// SHARED PACER
// =============================================================================

// NewPacer builds the process-wide limiter that bounds the aggregate
// request rate against the remote source across all workers. Zero or
// negative requestsPerSecond means unpaced.
func NewPacer(requestsPerSecond float64, burst int) *rate.Limiter {
	if requestsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}
