/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package workqueue defines the keyed work queue the dispatcher drains. Each
// key identifies one PR under management; a key is either queued, in
// progress, or dead-lettered. Keys carry a priority and an optional
// not-before time, and in-progress keys whose owner disappeared are observed
// as orphaned and requeued.
package workqueue
