/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package dispatcher drains a workqueue: it requeues orphaned work, starts
// queued keys up to the concurrency limit, and maps callback results onto the
// key lifecycle (complete, requeue, dead-letter). Cleanup operations run even
// under a cancelled context so shutdown never strands in-progress keys.
package dispatcher
