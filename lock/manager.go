/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chainguard.dev/reviewflow/statestore"
	"github.com/chainguard-dev/clog"
	"github.com/google/uuid"
)

// ErrHeld is returned by Acquire when another holder owns a live lease.
var ErrHeld = errors.New("lock held by another worker")

// ErrNotHeld is returned by Renew and Release when the caller's token no
// longer matches the stored lease.
var ErrNotHeld = errors.New("lock not held with this token")

// Manager hands out exclusive per-PR leases backed by the state store's
// compare-and-swap lock records.
type Manager struct {
	store  statestore.Store
	holder string
	ttl    time.Duration
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithTTL overrides the lease duration.
func WithTTL(d time.Duration) Option {
	return func(m *Manager) { m.ttl = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager constructs a Manager identifying itself as holder.
func NewManager(store statestore.Store, holder string, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		holder: holder,
		ttl:    5 * time.Minute,
		now:    time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Acquire takes the lease for key, returning the token that authorizes renew
// and release. A live lease owned by someone else yields ErrHeld; an expired
// lease is taken over.
func (m *Manager) Acquire(ctx context.Context, key string) (string, error) {
	log := clog.FromContext(ctx).With("key", key)
	now := m.now()

	prev := ""
	cur, err := m.store.Lock(ctx, key)
	switch {
	case errors.Is(err, statestore.ErrNotFound):
		// No lease, create one.
	case err != nil:
		return "", fmt.Errorf("reading lock for %q: %w", key, err)
	case cur.ExpiresAt.After(now):
		return "", fmt.Errorf("%w: %s until %s", ErrHeld, cur.Holder, cur.ExpiresAt.Format(time.RFC3339))
	default:
		log.With("prev_holder", cur.Holder).
			With("expired_at", cur.ExpiresAt).
			Warn("taking over expired lock")
		prev = cur.Token
	}

	rec := &statestore.LockRecord{
		PR:         key,
		Token:      uuid.NewString(),
		Holder:     m.holder,
		AcquiredAt: now,
		ExpiresAt:  now.Add(m.ttl),
	}
	if err := m.store.PutLock(ctx, rec, prev); err != nil {
		if errors.Is(err, statestore.ErrLockConflict) {
			return "", ErrHeld
		}
		return "", fmt.Errorf("acquiring lock for %q: %w", key, err)
	}
	return rec.Token, nil
}

// Renew extends the lease identified by token for another TTL.
func (m *Manager) Renew(ctx context.Context, key, token string) error {
	now := m.now()
	rec := &statestore.LockRecord{
		PR:         key,
		Token:      token,
		Holder:     m.holder,
		AcquiredAt: now,
		ExpiresAt:  now.Add(m.ttl),
	}
	if err := m.store.PutLock(ctx, rec, token); err != nil {
		if errors.Is(err, statestore.ErrLockConflict) {
			return ErrNotHeld
		}
		return fmt.Errorf("renewing lock for %q: %w", key, err)
	}
	return nil
}

// Release drops the lease identified by token. Releasing a lease that was
// already taken over returns ErrNotHeld.
func (m *Manager) Release(ctx context.Context, key, token string) error {
	if err := m.store.DeleteLock(ctx, key, token); err != nil {
		if errors.Is(err, statestore.ErrLockConflict) {
			return ErrNotHeld
		}
		return fmt.Errorf("releasing lock for %q: %w", key, err)
	}
	return nil
}
