/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package review defines the data model shared by the review-feedback
// reconciler: pull request lifecycle state, review threads, snapshots,
// decisions, and the collaborator interfaces the reconciler consumes.
//
// All platform payloads are normalized into these types at the boundary;
// nothing below the poller handles raw comment JSON. A ReviewThread is owned
// exclusively by the PullRequestState that contains it and its status moves
// monotonically (open, then applied or escalated, then resolved), never
// backward. The one exception is new platform activity on a resolved thread,
// which reprocesses the same thread id under an incremented revision.
package review
