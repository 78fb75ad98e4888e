/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package statestore

import (
	"context"
	"errors"
	"time"

	"chainguard.dev/reviewflow/review"
)

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrLockConflict is returned by PutLock when the compare-and-swap
// precondition does not hold.
var ErrLockConflict = errors.New("lock record changed concurrently")

// LockRecord is the persisted form of an exclusive PR lock. An expired record
// is eligible for takeover.
type LockRecord struct {
	PR         string    `json:"pr"`
	Token      string    `json:"token"`
	Holder     string    `json:"holder"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Store is the persistence collaborator. All methods are safe for concurrent
// use; records are keyed by the PR key.
type Store interface {
	// PRState returns the lifecycle record for the key, or ErrNotFound.
	PRState(ctx context.Context, key string) (*review.PullRequestState, error)

	// PutPRState upserts the lifecycle record.
	PutPRState(ctx context.Context, st *review.PullRequestState) error

	// NextSnapshotSeq returns the next monotonically increasing snapshot
	// sequence number for the key.
	NextSnapshotSeq(ctx context.Context, key string) (uint64, error)

	// PutSnapshot stores an immutable snapshot. Snapshots are retained for
	// idempotency checks and audit; they are never updated.
	PutSnapshot(ctx context.Context, snap *review.Snapshot) error

	// LatestSnapshot returns the highest-sequence snapshot for the key, or
	// ErrNotFound.
	LatestSnapshot(ctx context.Context, key string) (*review.Snapshot, error)

	// AppendDecision appends to the decision log. Entries are never edited.
	AppendDecision(ctx context.Context, key string, d *review.Decision) error

	// Decisions returns the decision log for the key in append order.
	Decisions(ctx context.Context, key string) ([]review.Decision, error)

	// Lock returns the current lock record for the key, or ErrNotFound.
	Lock(ctx context.Context, key string) (*LockRecord, error)

	// PutLock writes rec if the currently stored token equals prevToken
	// (empty means "no record"). Returns ErrLockConflict otherwise.
	PutLock(ctx context.Context, rec *LockRecord, prevToken string) error

	// DeleteLock removes the lock record if it still carries token.
	DeleteLock(ctx context.Context, key, token string) error
}
