/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package statestore persists reconciliation state: pull request lifecycle
// records, snapshot history, the append-only decision log, and lock records.
// Two implementations are provided: a sqlite-backed store durable across
// process restarts, and an in-memory store for tests.
package statestore
