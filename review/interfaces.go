/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package review

import "context"

// CheckState is the aggregate verification status reported by the platform.
type CheckState string

const (
	CheckPending CheckState = "pending"
	CheckSuccess CheckState = "success"
	CheckFailure CheckState = "failure"
)

// Review is a top-level review posted by a reviewer identity. State follows
// the platform's vocabulary; Terminal reports whether it counts toward the
// poller's stop condition.
type Review struct {
	Author string
	State  string
}

// Terminal reports whether the review is a final verdict rather than a
// comment-only or pending review.
func (r Review) Terminal() bool {
	switch r.State {
	case "APPROVED", "CHANGES_REQUESTED":
		return true
	}
	return false
}

// Platform is the review-hosting collaborator. Implementations must be safe
// for concurrent use across PRs; calls are request/response with no shared
// in-process state between PRs.
type Platform interface {
	// ListThreads returns the PR's current review comments, flattened.
	ListThreads(ctx context.Context, pr PRRef) ([]RawComment, error)

	// ListReviews returns the PR's top-level reviews.
	ListReviews(ctx context.Context, pr PRRef) ([]Review, error)

	// Labels returns the label names on the PR.
	Labels(ctx context.Context, pr PRRef) ([]string, error)

	// PostThreadComment replies to a review thread.
	PostThreadComment(ctx context.Context, pr PRRef, threadID, body string) error

	// PostComment posts a PR-level comment.
	PostComment(ctx context.Context, pr PRRef, body string) error

	// ResolveThread marks a thread resolved. The call is not assumed
	// idempotent; callers track their own resolved flag.
	ResolveThread(ctx context.Context, threadID string) error

	// CheckStatus reports the aggregate state of the PR's verification
	// checks.
	CheckStatus(ctx context.Context, pr PRRef) (CheckState, error)

	// Merge merges the PR using the given strategy (merge, squash, rebase).
	Merge(ctx context.Context, pr PRRef, strategy string) error

	// DeleteBranch deletes the PR's head branch after merge.
	DeleteBranch(ctx context.Context, pr PRRef) error
}

// FileEdit is one whole-file replacement within a patch proposal. BaseHash is
// the sha256 of the file content the edit was computed against; a mismatch at
// apply time is a conflict.
type FileEdit struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	BaseHash string `json:"base_hash"`
}

// PatchProposal is a candidate fix produced by the code-edit collaborator.
// Diff is the unified diff rendering used for risk sizing and audit; Edits
// carry the authoritative file contents.
type PatchProposal struct {
	Summary string     `json:"summary"`
	Diff    string     `json:"diff"`
	Edits   []FileEdit `json:"edits"`
}

// PatchRequest carries the minimal context the code-edit collaborator needs:
// the thread's suggestion plus the current content of the files it touches.
type PatchRequest struct {
	PR         PRRef
	Thread     ReviewThread
	Files      map[string]string
	Guidelines string
}

// Proposer is the code-edit collaborator. A nil proposal with nil error means
// no patch could be produced (distinct from a transient failure).
type Proposer interface {
	ProposePatch(ctx context.Context, req PatchRequest) (*PatchProposal, error)
}

// VCS is the version-control collaborator. Implementations resolve the clone
// for the referenced repository internally; all operations are scoped to the
// PR's head branch.
type VCS interface {
	// Head returns the current remote head of the PR's branch.
	Head(ctx context.Context, pr PRRef) (string, error)

	// ReadFile returns the file content at the current head.
	ReadFile(ctx context.Context, pr PRRef, path string) (string, error)

	// CheckPatch dry-runs the proposal against the current tree and returns
	// ErrConflict if any edit's base no longer matches.
	CheckPatch(ctx context.Context, pr PRRef, p *PatchProposal) error

	// ApplyPatch writes the proposal to the working tree and commits it,
	// returning the commit ref. It does not push.
	ApplyPatch(ctx context.Context, pr PRRef, p *PatchProposal, message string) (string, error)

	// Push pushes the branch to the remote. A rejected push (remote head
	// moved) returns ErrStale. Never force-pushes: the PR branch is shared.
	Push(ctx context.Context, pr PRRef) error
}
