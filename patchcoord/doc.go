/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package patchcoord turns fix decisions into commits on the PR branch under
// optimistic concurrency control. The branch head observed at snapshot time
// must still hold at apply time; any drift surfaces as a stale error and the
// caller re-collects rather than pushing against a moved head.
package patchcoord
