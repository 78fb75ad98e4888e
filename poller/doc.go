/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package poller watches a pull request for reviewer activity on a fixed
// cadence and captures the observed state as an immutable snapshot. Partial
// collection at the deadline is normal operation, not an error; backoff is
// used only for retrying failed queries, never for the cadence itself.
package poller
