/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package statestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chainguard.dev/reviewflow/review"
	_ "github.com/mattn/go-sqlite3"
)

// SQLite is a sqlite-backed Store, durable across process restarts.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (and if needed initializes) a sqlite store at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite store: %w", err)
	}

	for _, q := range []string{
		`CREATE TABLE IF NOT EXISTS pr_state (
			pr TEXT PRIMARY KEY,
			data BLOB NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			pr TEXT NOT NULL,
			seq INTEGER NOT NULL,
			data BLOB NOT NULL,
			PRIMARY KEY (pr, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS snapshot_seqs (
			pr TEXT PRIMARY KEY,
			seq INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS decisions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pr TEXT NOT NULL,
			data BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS locks (
			pr TEXT PRIMARY KEY,
			token TEXT NOT NULL,
			holder TEXT NOT NULL,
			acquired_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP NOT NULL
		)`,
	} {
		if _, err := db.Exec(q); err != nil {
			db.Close()
			return nil, fmt.Errorf("initializing schema: %w", err)
		}
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) PRState(ctx context.Context, key string) (*review.PullRequestState, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM pr_state WHERE pr = ?", key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying state for %q: %w", key, err)
	}
	var st review.PullRequestState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decoding state for %q: %w", key, err)
	}
	return &st, nil
}

func (s *SQLite) PutPRState(ctx context.Context, st *review.PullRequestState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encoding state for %q: %w", st.PR.Key(), err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pr_state (pr, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(pr) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		st.PR.Key(), raw, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("storing state for %q: %w", st.PR.Key(), err)
	}
	return nil
}

func (s *SQLite) NextSnapshotSeq(ctx context.Context, key string) (uint64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO snapshot_seqs (pr, seq) VALUES (?, 1)
		ON CONFLICT(pr) DO UPDATE SET seq = seq + 1`, key); err != nil {
		return 0, fmt.Errorf("advancing snapshot seq for %q: %w", key, err)
	}

	var seq uint64
	if err := tx.QueryRowContext(ctx, "SELECT seq FROM snapshot_seqs WHERE pr = ?", key).Scan(&seq); err != nil {
		return 0, fmt.Errorf("reading snapshot seq for %q: %w", key, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing snapshot seq for %q: %w", key, err)
	}
	return seq, nil
}

func (s *SQLite) PutSnapshot(ctx context.Context, snap *review.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot %d for %q: %w", snap.Seq, snap.PR, err)
	}
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO snapshots (pr, seq, data) VALUES (?, ?, ?)",
		snap.PR, snap.Seq, raw); err != nil {
		return fmt.Errorf("storing snapshot %d for %q: %w", snap.Seq, snap.PR, err)
	}
	return nil
}

func (s *SQLite) LatestSnapshot(ctx context.Context, key string) (*review.Snapshot, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM snapshots WHERE pr = ? ORDER BY seq DESC LIMIT 1", key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest snapshot for %q: %w", key, err)
	}
	var snap review.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decoding snapshot for %q: %w", key, err)
	}
	return &snap, nil
}

func (s *SQLite) AppendDecision(ctx context.Context, key string, d *review.Decision) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encoding decision for %q: %w", key, err)
	}
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO decisions (pr, data) VALUES (?, ?)", key, raw); err != nil {
		return fmt.Errorf("appending decision for %q: %w", key, err)
	}
	return nil
}

func (s *SQLite) Decisions(ctx context.Context, key string) ([]review.Decision, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT data FROM decisions WHERE pr = ? ORDER BY id ASC", key)
	if err != nil {
		return nil, fmt.Errorf("querying decisions for %q: %w", key, err)
	}
	defer rows.Close()

	var out []review.Decision
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning decision for %q: %w", key, err)
		}
		var d review.Decision
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decoding decision for %q: %w", key, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLite) Lock(ctx context.Context, key string) (*LockRecord, error) {
	rec := LockRecord{PR: key}
	err := s.db.QueryRowContext(ctx,
		"SELECT token, holder, acquired_at, expires_at FROM locks WHERE pr = ?", key).
		Scan(&rec.Token, &rec.Holder, &rec.AcquiredAt, &rec.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying lock for %q: %w", key, err)
	}
	return &rec, nil
}

func (s *SQLite) PutLock(ctx context.Context, rec *LockRecord, prevToken string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT token FROM locks WHERE pr = ?", rec.PR).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if prevToken != "" {
			return ErrLockConflict
		}
	case err != nil:
		return fmt.Errorf("querying lock for %q: %w", rec.PR, err)
	case current != prevToken:
		return ErrLockConflict
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO locks (pr, token, holder, acquired_at, expires_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(pr) DO UPDATE SET
			token = excluded.token, holder = excluded.holder,
			acquired_at = excluded.acquired_at, expires_at = excluded.expires_at`,
		rec.PR, rec.Token, rec.Holder, rec.AcquiredAt.UTC(), rec.ExpiresAt.UTC()); err != nil {
		return fmt.Errorf("storing lock for %q: %w", rec.PR, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing lock for %q: %w", rec.PR, err)
	}
	return nil
}

func (s *SQLite) DeleteLock(ctx context.Context, key, token string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM locks WHERE pr = ? AND token = ?", key, token)
	if err != nil {
		return fmt.Errorf("deleting lock for %q: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking lock delete for %q: %w", key, err)
	}
	if n == 0 {
		return ErrLockConflict
	}
	return nil
}
