/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package reconciler drives one pull request's review lifecycle to a
// terminal phase: collect reviewer feedback, decide each thread, land fixes,
// settle threads, gate on checks, and merge. State is persisted after every
// phase transition so a crashed worker's successor replays from where it
// stopped, never from scratch.
package reconciler
