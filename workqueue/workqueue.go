/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package workqueue

import (
	"context"
	"time"
)

// Options modify how a key is queued.
type Options struct {
	// Priority orders the queue; higher drains first.
	Priority int64
	// NotBefore delays the key's eligibility for processing.
	NotBefore time.Time
}

// Interface is the queue contract.
type Interface interface {
	// Queue adds the named key to the queue. Queueing an already-queued key
	// coalesces with the existing entry, keeping the higher priority and the
	// earlier not-before time.
	Queue(ctx context.Context, key string, opts Options) error

	// Enumerate returns the keys observed in progress, the queued keys in
	// drain order, and the dead-lettered keys.
	Enumerate(ctx context.Context) ([]ObservedInProgressKey, []QueuedKey, []DeadLetteredKey, error)
}

// Key is the common surface of a queue entry.
type Key interface {
	Name() string
	Priority() int64
}

// QueuedKey is a key waiting for a worker.
type QueuedKey interface {
	Key

	// Start claims the key, moving it to in-progress ownership of the caller.
	Start(ctx context.Context) (OwnedInProgressKey, error)
}

// ObservedInProgressKey is another worker's in-progress key as seen by the
// dispatcher.
type ObservedInProgressKey interface {
	Key

	// IsOrphaned reports whether the owning worker is gone.
	IsOrphaned() bool

	// Requeue returns the key to the queue.
	Requeue(ctx context.Context) error
}

// OwnedInProgressKey is an in-progress key held by this worker.
type OwnedInProgressKey interface {
	Key

	// Context is cancelled if ownership is lost.
	Context() context.Context

	// GetAttempts returns how many times this key has previously failed.
	GetAttempts() int

	// Complete removes the key from the queue.
	Complete(ctx context.Context) error

	// Requeue returns the key for another attempt.
	Requeue(ctx context.Context) error

	// Deadletter parks the key out of rotation after repeated failures.
	Deadletter(ctx context.Context) error
}

// DeadLetteredKey is a key parked after exhausting its retry budget.
type DeadLetteredKey interface {
	Key
}
