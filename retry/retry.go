/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package retry provides bounded exponential backoff for transient platform
// and network failures. Retries are per operation; callers decide what happens
// when the budget is exhausted.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/chainguard-dev/clog"
)

// Config bounds the retry loop. The zero value is not useful; start from
// DefaultConfig.
type Config struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int
	// BaseBackoff is the delay before the first retry; it doubles each
	// attempt up to MaxBackoff.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// MaxJitter is the maximum random addition to each backoff, to avoid
	// synchronized retries across workers.
	MaxJitter time.Duration

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultConfig retries transient failures up to three times total before
// giving up on the operation.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseBackoff: time.Second,
		MaxBackoff:  30 * time.Second,
		MaxJitter:   500 * time.Millisecond,
	}
}

// Validate checks the configuration bounds.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return errors.New("max attempts must be at least 1")
	}
	if c.BaseBackoff < 0 || c.MaxBackoff < 0 || c.MaxJitter < 0 {
		return errors.New("backoff durations cannot be negative")
	}
	return nil
}

// WithSleep returns a copy of the config using the given sleep function.
func (c Config) WithSleep(sleep func(ctx context.Context, d time.Duration) error) Config {
	c.sleep = sleep
	return c
}

// Do runs fn until it succeeds, returns a non-retryable error, or the attempt
// budget is exhausted. Only errors accepted by retryable are retried; all
// others propagate immediately.
func Do[T any](ctx context.Context, cfg Config, op string, retryable func(error) bool, fn func() (T, error)) (T, error) {
	var zero T
	sleep := cfg.sleep
	if sleep == nil {
		sleep = defaultSleep
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		if !retryable(err) {
			return zero, err
		}
		lastErr = err

		if attempt == cfg.MaxAttempts {
			break
		}

		delay := min(cfg.BaseBackoff<<(attempt-1), cfg.MaxBackoff) + jitter(cfg.MaxJitter)
		clog.FromContext(ctx).With("operation", op).
			With("attempt", attempt).
			With("max_attempts", cfg.MaxAttempts).
			With("backoff", delay).
			With("error", err.Error()).
			Warn("transient failure, retrying")

		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
	return zero, fmt.Errorf("%s failed after %d attempts: %w", op, cfg.MaxAttempts, lastErr)
}

func defaultSleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0
	}
	return time.Duration(n.Int64())
}
