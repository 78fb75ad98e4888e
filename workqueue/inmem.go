/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package workqueue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type itemState int

const (
	stateQueued itemState = iota
	stateInProgress
	stateDead
)

type item struct {
	name       string
	state      itemState
	priority   int64
	notBefore  time.Time
	attempts   int
	leaseUntil time.Time
	cancel     context.CancelFunc

	// epoch increments on every ownership change so a displaced owner's
	// cleanup cannot affect a reclaimed key.
	epoch int
}

// InMem is a single-process queue. In-progress keys carry a lease; a key
// whose lease lapsed (a crashed or hung worker goroutine) is observed as
// orphaned and can be requeued.
type InMem struct {
	mu       sync.Mutex
	items    map[string]*item
	leaseTTL time.Duration
	now      func() time.Time
}

var _ Interface = (*InMem)(nil)

// InMemOption configures an InMem queue.
type InMemOption func(*InMem)

// WithLeaseTTL sets how long a started key stays owned without completing.
func WithLeaseTTL(d time.Duration) InMemOption {
	return func(q *InMem) { q.leaseTTL = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) InMemOption {
	return func(q *InMem) { q.now = now }
}

// NewInMem constructs an empty queue.
func NewInMem(opts ...InMemOption) *InMem {
	q := &InMem{
		items:    map[string]*item{},
		leaseTTL: 30 * time.Minute,
		now:      time.Now,
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

func (q *InMem) Queue(_ context.Context, key string, opts Options) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if it, ok := q.items[key]; ok && it.state == stateQueued {
		// Coalesce: keep the higher priority and the earlier eligibility.
		if opts.Priority > it.priority {
			it.priority = opts.Priority
		}
		if opts.NotBefore.Before(it.notBefore) {
			it.notBefore = opts.NotBefore
		}
		return nil
	}
	if it, ok := q.items[key]; ok && it.state != stateQueued {
		// In progress or dead-lettered; the live entry wins.
		return nil
	}
	q.items[key] = &item{
		name:      key,
		state:     stateQueued,
		priority:  opts.Priority,
		notBefore: opts.NotBefore,
	}
	return nil
}

func (q *InMem) Enumerate(_ context.Context) ([]ObservedInProgressKey, []QueuedKey, []DeadLetteredKey, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var (
		wip    []ObservedInProgressKey
		queued []QueuedKey
		dead   []DeadLetteredKey
	)
	for _, it := range q.items {
		switch it.state {
		case stateInProgress:
			wip = append(wip, &observedKey{q: q, name: it.name, orphaned: it.leaseUntil.Before(now)})
		case stateQueued:
			if !it.notBefore.After(now) {
				queued = append(queued, &queuedKey{q: q, name: it.name, priority: it.priority})
			}
		case stateDead:
			dead = append(dead, &deadKey{name: it.name, priority: it.priority})
		}
	}
	sort.Slice(queued, func(i, j int) bool {
		if queued[i].Priority() != queued[j].Priority() {
			return queued[i].Priority() > queued[j].Priority()
		}
		return queued[i].Name() < queued[j].Name()
	})
	return wip, queued, dead, nil
}

// Pending reports how many keys are queued or in progress, including
// delay-queued keys not yet eligible to start. Dead-lettered keys do not
// count.
func (q *InMem) Pending(context.Context) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, it := range q.items {
		if it.state != stateDead {
			n++
		}
	}
	return n
}

type queuedKey struct {
	q        *InMem
	name     string
	priority int64
}

func (k *queuedKey) Name() string    { return k.name }
func (k *queuedKey) Priority() int64 { return k.priority }

func (k *queuedKey) Start(ctx context.Context) (OwnedInProgressKey, error) {
	k.q.mu.Lock()
	defer k.q.mu.Unlock()

	it, ok := k.q.items[k.name]
	if !ok || it.state != stateQueued {
		return nil, fmt.Errorf("key %q is no longer queued", k.name)
	}
	ownedCtx, cancel := context.WithCancel(ctx)
	it.state = stateInProgress
	it.leaseUntil = k.q.now().Add(k.q.leaseTTL)
	it.cancel = cancel
	it.epoch++
	return &ownedKey{q: k.q, name: k.name, priority: it.priority, attempts: it.attempts, epoch: it.epoch, ctx: ownedCtx}, nil
}

type observedKey struct {
	q        *InMem
	name     string
	orphaned bool
}

func (k *observedKey) Name() string     { return k.name }
func (k *observedKey) Priority() int64  { return 0 }
func (k *observedKey) IsOrphaned() bool { return k.orphaned }

func (k *observedKey) Requeue(context.Context) error {
	k.q.mu.Lock()
	defer k.q.mu.Unlock()

	it, ok := k.q.items[k.name]
	if !ok || it.state != stateInProgress {
		return nil
	}
	if it.cancel != nil {
		it.cancel()
		it.cancel = nil
	}
	it.state = stateQueued
	it.attempts++
	it.notBefore = time.Time{}
	return nil
}

type ownedKey struct {
	q        *InMem
	name     string
	priority int64
	attempts int
	epoch    int
	ctx      context.Context
}

func (k *ownedKey) Name() string             { return k.name }
func (k *ownedKey) Priority() int64          { return k.priority }
func (k *ownedKey) Context() context.Context { return k.ctx }
func (k *ownedKey) GetAttempts() int         { return k.attempts }

func (k *ownedKey) Complete(context.Context) error {
	k.q.mu.Lock()
	defer k.q.mu.Unlock()

	it, ok := k.q.items[k.name]
	if !ok || it.state != stateInProgress || it.epoch != k.epoch {
		return nil
	}
	if it.cancel != nil {
		it.cancel()
	}
	delete(k.q.items, k.name)
	return nil
}

func (k *ownedKey) Requeue(context.Context) error {
	k.q.mu.Lock()
	defer k.q.mu.Unlock()

	it, ok := k.q.items[k.name]
	if !ok || it.state != stateInProgress || it.epoch != k.epoch {
		return nil
	}
	if it.cancel != nil {
		it.cancel()
		it.cancel = nil
	}
	it.state = stateQueued
	it.attempts++
	it.notBefore = time.Time{}
	return nil
}

func (k *ownedKey) Deadletter(context.Context) error {
	k.q.mu.Lock()
	defer k.q.mu.Unlock()

	it, ok := k.q.items[k.name]
	if !ok || it.state != stateInProgress || it.epoch != k.epoch {
		return nil
	}
	if it.cancel != nil {
		it.cancel()
		it.cancel = nil
	}
	it.state = stateDead
	return nil
}

type deadKey struct {
	name     string
	priority int64
}

func (k *deadKey) Name() string    { return k.name }
func (k *deadKey) Priority() int64 { return k.priority }
