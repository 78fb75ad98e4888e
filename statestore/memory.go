/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"chainguard.dev/reviewflow/review"
)

// Memory is an in-memory Store for tests and single-shot runs. Values are
// deep-copied through JSON so callers cannot alias stored state.
type Memory struct {
	mu        sync.Mutex
	states    map[string][]byte
	snapshots map[string][]*review.Snapshot
	seqs      map[string]uint64
	decisions map[string][]review.Decision
	locks     map[string]*LockRecord
}

var _ Store = (*Memory)(nil)

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		states:    map[string][]byte{},
		snapshots: map[string][]*review.Snapshot{},
		seqs:      map[string]uint64{},
		decisions: map[string][]review.Decision{},
		locks:     map[string]*LockRecord{},
	}
}

func (m *Memory) PRState(_ context.Context, key string) (*review.PullRequestState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.states[key]
	if !ok {
		return nil, ErrNotFound
	}
	var st review.PullRequestState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decoding state for %q: %w", key, err)
	}
	return &st, nil
}

func (m *Memory) PutPRState(_ context.Context, st *review.PullRequestState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encoding state for %q: %w", st.PR.Key(), err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[st.PR.Key()] = raw
	return nil
}

func (m *Memory) NextSnapshotSeq(_ context.Context, key string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seqs[key]++
	return m.seqs[key], nil
}

func (m *Memory) PutSnapshot(_ context.Context, snap *review.Snapshot) error {
	cp := *snap
	cp.ThreadHashes = make(map[string]string, len(snap.ThreadHashes))
	for k, v := range snap.ThreadHashes {
		cp.ThreadHashes[k] = v
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[snap.PR] = append(m.snapshots[snap.PR], &cp)
	return nil
}

func (m *Memory) LatestSnapshot(_ context.Context, key string) (*review.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snaps := m.snapshots[key]
	if len(snaps) == 0 {
		return nil, ErrNotFound
	}
	latest := snaps[0]
	for _, s := range snaps[1:] {
		if s.Seq > latest.Seq {
			latest = s
		}
	}
	cp := *latest
	return &cp, nil
}

func (m *Memory) AppendDecision(_ context.Context, key string, d *review.Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions[key] = append(m.decisions[key], *d)
	return nil
}

func (m *Memory) Decisions(_ context.Context, key string) ([]review.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]review.Decision{}, m.decisions[key]...), nil
}

func (m *Memory) Lock(_ context.Context, key string) (*LockRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.locks[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *Memory) PutLock(_ context.Context, rec *LockRecord, prevToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.locks[rec.PR]
	switch {
	case !ok && prevToken != "":
		return ErrLockConflict
	case ok && current.Token != prevToken:
		return ErrLockConflict
	}
	cp := *rec
	m.locks[rec.PR] = &cp
	return nil
}

func (m *Memory) DeleteLock(_ context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.locks[key]
	if !ok || current.Token != token {
		return ErrLockConflict
	}
	delete(m.locks, key)
	return nil
}
