/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package resolver settles decided threads with the platform: it posts the
// decision rationale and marks the thread resolved, or requests human input
// and leaves it open. The platform's resolve call is not assumed idempotent,
// so the thread's own resolved flag is the single source of truth for whether
// resolve was already called.
package resolver
