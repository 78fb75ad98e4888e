/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"chainguard.dev/reviewflow/classify"
	"chainguard.dev/reviewflow/lock"
	"chainguard.dev/reviewflow/patchcoord"
	"chainguard.dev/reviewflow/policy"
	"chainguard.dev/reviewflow/poller"
	"chainguard.dev/reviewflow/resolver"
	"chainguard.dev/reviewflow/review"
	"chainguard.dev/reviewflow/review/reviewtest"
	"chainguard.dev/reviewflow/statestore"
	"chainguard.dev/reviewflow/workqueue"
)

var testPR = review.PRRef{Owner: "acme", Repo: "widgets", Number: 7, Branch: "fix/colors"}

type env struct {
	store    *statestore.Memory
	platform *reviewtest.Platform
	vcs      *reviewtest.VCS
	proposer *reviewtest.Proposer
	ctrl     *Controller
}

// approvingPlatform wires the platform fake so collection stops on the first
// observation: the given comments plus one approving review.
func approvingPlatform(comments []review.RawComment) *reviewtest.Platform {
	return &reviewtest.Platform{
		ListThreadsFunc: func(context.Context, review.PRRef) ([]review.RawComment, error) {
			return comments, nil
		},
		ListReviewsFunc: func(context.Context, review.PRRef) ([]review.Review, error) {
			return []review.Review{{Author: "octocat", State: "APPROVED"}}, nil
		},
	}
}

// smallDiff renders a one-line unified diff for the path, small enough to stay
// under the default risk threshold.
func smallDiff(path string) string {
	return fmt.Sprintf("--- a/%s\n+++ b/%s\n@@ -1,1 +1,1 @@\n-old\n+new\n", path, path)
}

// cleanProposer proposes a minimal single-file edit for whatever thread it is
// asked about.
func cleanProposer() *reviewtest.Proposer {
	return &reviewtest.Proposer{
		ProposePatchFunc: func(_ context.Context, req review.PatchRequest) (*review.PatchProposal, error) {
			return &review.PatchProposal{
				Summary: "Apply reviewer suggestion",
				Diff:    smallDiff(req.Thread.File),
				Edits:   []review.FileEdit{{Path: req.Thread.File, Content: "new"}},
			}, nil
		},
	}
}

func newEnv(t *testing.T, pol policy.Policy, platform *reviewtest.Platform, vcs *reviewtest.VCS, opts ...Option) *env {
	t.Helper()
	store := statestore.NewMemory()
	proposer := cleanProposer()
	engine := policy.NewEngine(pol)
	locks := lock.NewManager(store, "worker-1")
	pollr := poller.New(platform, vcs, store, poller.WithInterval(time.Millisecond))
	coord := patchcoord.New(proposer, vcs, engine)
	resv := resolver.New(platform)
	ctrl := New(store, locks, pollr, classify.Rules{}, engine, coord, resv, platform, opts...)
	return &env{store: store, platform: platform, vcs: vcs, proposer: proposer, ctrl: ctrl}
}

func (e *env) state(t *testing.T) *review.PullRequestState {
	t.Helper()
	st, err := e.store.PRState(context.Background(), testPR.Key())
	if err != nil {
		t.Fatalf("PRState() = %v", err)
	}
	return st
}

func TestReconcileHappyPath(t *testing.T) {
	ctx := context.Background()
	comments := []review.RawComment{{
		CommentID: 1, File: "pkg/a.go", Author: "octocat",
		Body:      "This will panic on a nil pointer, guard it.",
		CreatedAt: time.Unix(100, 0),
	}, {
		CommentID: 2, File: "pkg/b.go", Author: "octocat",
		Body:      "FYI this mirrors the helper in util.",
		CreatedAt: time.Unix(101, 0),
	}}
	platform := approvingPlatform(comments)
	vcs := &reviewtest.VCS{
		HeadFunc: func(context.Context, review.PRRef) (string, error) { return "h1", nil },
		ApplyPatchFunc: func(context.Context, review.PRRef, *review.PatchProposal, string) (string, error) {
			return "c1", nil
		},
	}
	e := newEnv(t, policy.Default(), platform, vcs)

	if err := e.ctrl.Reconcile(ctx, testPR.Key()); err != nil {
		t.Fatalf("Reconcile() = %v", err)
	}

	st := e.state(t)
	if st.Phase != review.PhaseCompleted {
		t.Fatalf("Phase = %s, want completed (abort cause %q)", st.Phase, st.AbortCause)
	}

	fix := st.Thread("pkg/a.go:1")
	if fix == nil || fix.Decision != review.ActionFix || fix.Status != review.StatusResolved || fix.CommitRef != "c1" {
		t.Errorf("fix thread = %+v, want resolved fix at c1", fix)
	}
	ign := st.Thread("pkg/b.go:2")
	if ign == nil || ign.Decision != review.ActionIgnore || !ign.Resolved {
		t.Errorf("ignore thread = %+v, want resolved ignore", ign)
	}

	if got := platform.Calls("ResolveThread"); got != 2 {
		t.Errorf("ResolveThread calls = %d, want 2", got)
	}
	if got := platform.Calls("Merge"); got != 1 {
		t.Errorf("Merge calls = %d, want 1", got)
	}
	if got := platform.Calls("DeleteBranch"); got != 1 {
		t.Errorf("DeleteBranch calls = %d, want 1", got)
	}

	decisions, err := e.store.Decisions(ctx, testPR.Key())
	if err != nil {
		t.Fatalf("Decisions() = %v", err)
	}
	if len(decisions) != 2 {
		t.Errorf("decision log has %d entries, want 2", len(decisions))
	}
	for _, d := range decisions {
		if d.Rationale == "" {
			t.Errorf("decision for %s has empty rationale", d.ThreadID)
		}
	}

	if st.LockToken != "" {
		t.Errorf("LockToken = %q, want released", st.LockToken)
	}
	if _, err := e.store.Lock(ctx, testPR.Key()); !errors.Is(err, statestore.ErrNotFound) {
		t.Errorf("Lock() after finish = %v, want ErrNotFound", err)
	}

	// A terminal lifecycle is never re-run.
	if err := e.ctrl.Reconcile(ctx, testPR.Key()); err != nil {
		t.Fatalf("Reconcile(terminal) = %v", err)
	}
	if got := platform.Calls("Merge"); got != 1 {
		t.Errorf("Merge calls after re-reconcile = %d, want still 1", got)
	}
}

func TestReconcileDisallowedPathEscalates(t *testing.T) {
	ctx := context.Background()
	comments := []review.RawComment{{
		CommentID: 1, File: ".github/workflows/ci.yaml", Author: "octocat",
		Body:      "This workflow step is broken.",
		CreatedAt: time.Unix(100, 0),
	}}
	platform := approvingPlatform(comments)
	vcs := &reviewtest.VCS{
		HeadFunc: func(context.Context, review.PRRef) (string, error) { return "h1", nil },
	}
	pol := policy.Default()
	pol.DisallowedPaths = []string{".github/"}
	e := newEnv(t, pol, platform, vcs)

	if err := e.ctrl.Reconcile(ctx, testPR.Key()); err != nil {
		t.Fatalf("Reconcile() = %v", err)
	}

	st := e.state(t)
	if st.Phase != review.PhaseEscalated {
		t.Fatalf("Phase = %s, want escalated", st.Phase)
	}
	th := st.Thread(".github/workflows/ci.yaml:1")
	if th == nil || th.Status != review.StatusEscalated {
		t.Fatalf("thread = %+v, want escalated", th)
	}

	// Escalated threads stay open: a comment asks for human input, the
	// thread is never resolved, and the PR never merges.
	if got := platform.Calls("ResolveThread"); got != 0 {
		t.Errorf("ResolveThread calls = %d, want 0", got)
	}
	if got := platform.Calls("PostThreadComment"); got != 1 {
		t.Errorf("PostThreadComment calls = %d, want 1", got)
	}
	if got := platform.Calls("PostComment"); got != 1 {
		t.Errorf("PostComment calls = %d, want 1", got)
	}
	if got := platform.Calls("Merge"); got != 0 {
		t.Errorf("Merge calls = %d, want 0", got)
	}
}

func TestReconcileStaleHeadRecollects(t *testing.T) {
	ctx := context.Background()
	comments := []review.RawComment{{
		CommentID: 1, File: "pkg/a.go", Author: "octocat",
		Body:      "This is an off-by-one.",
		CreatedAt: time.Unix(100, 0),
	}}
	platform := approvingPlatform(comments)

	// The head moves between the first snapshot and the apply, then holds
	// still: first apply is stale, the re-collected cycle lands the fix.
	var mu sync.Mutex
	heads := []string{"h1", "h2", "h2", "h2"}
	n := 0
	vcs := &reviewtest.VCS{
		HeadFunc: func(context.Context, review.PRRef) (string, error) {
			mu.Lock()
			defer mu.Unlock()
			h := heads[min(n, len(heads)-1)]
			n++
			return h, nil
		},
		ApplyPatchFunc: func(context.Context, review.PRRef, *review.PatchProposal, string) (string, error) {
			return "c1", nil
		},
	}
	e := newEnv(t, policy.Default(), platform, vcs)

	if err := e.ctrl.Reconcile(ctx, testPR.Key()); err != nil {
		t.Fatalf("Reconcile() = %v", err)
	}

	st := e.state(t)
	if st.Phase != review.PhaseCompleted {
		t.Fatalf("Phase = %s, want completed (abort cause %q)", st.Phase, st.AbortCause)
	}
	if st.Cycles != 2 {
		t.Errorf("Cycles = %d, want 2 (one stale re-collection)", st.Cycles)
	}
	if got := e.vcs.Calls("ApplyPatch"); got != 1 {
		t.Errorf("ApplyPatch calls = %d, want 1 (never against a moved head)", got)
	}

	snap, err := e.store.LatestSnapshot(ctx, testPR.Key())
	if err != nil {
		t.Fatalf("LatestSnapshot() = %v", err)
	}
	if snap.Seq != 2 || snap.HeadRef != "h2" {
		t.Errorf("latest snapshot = seq %d head %s, want seq 2 head h2", snap.Seq, snap.HeadRef)
	}
}

func TestReconcileResolveRetriesWithoutReposting(t *testing.T) {
	ctx := context.Background()
	comments := []review.RawComment{{
		CommentID: 1, File: "pkg/a.go", Author: "octocat",
		Body:      "FYI, just context for future readers.",
		CreatedAt: time.Unix(100, 0),
	}}
	platform := approvingPlatform(comments)

	// First resolve call fails after the rationale landed; the retry must
	// resolve without posting the rationale again.
	var mu sync.Mutex
	resolves := 0
	platform.ResolveThreadFunc = func(context.Context, string) error {
		mu.Lock()
		defer mu.Unlock()
		resolves++
		if resolves == 1 {
			return errors.New("api timeout")
		}
		return nil
	}
	vcs := &reviewtest.VCS{
		HeadFunc: func(context.Context, review.PRRef) (string, error) { return "h1", nil },
	}
	e := newEnv(t, policy.Default(), platform, vcs)

	if err := e.ctrl.Reconcile(ctx, testPR.Key()); err != nil {
		t.Fatalf("Reconcile() = %v", err)
	}

	st := e.state(t)
	if st.Phase != review.PhaseCompleted {
		t.Fatalf("Phase = %s, want completed (abort cause %q)", st.Phase, st.AbortCause)
	}
	th := st.Thread("pkg/a.go:1")
	if th == nil || !th.Resolved || th.SettlePending {
		t.Fatalf("thread = %+v, want resolved with no settle pending", th)
	}
	if got := platform.Calls("PostThreadComment"); got != 1 {
		t.Errorf("PostThreadComment calls = %d, want exactly 1", got)
	}
	if got := platform.Calls("ResolveThread"); got != 2 {
		t.Errorf("ResolveThread calls = %d, want 2", got)
	}
}

func TestReconcileApplyFailuresEscalateThread(t *testing.T) {
	ctx := context.Background()
	comments := []review.RawComment{{
		CommentID: 1, File: "pkg/a.go", Author: "octocat",
		Body:      "This will panic on a nil pointer, guard it.",
		CreatedAt: time.Unix(100, 0),
	}}
	platform := approvingPlatform(comments)
	vcs := &reviewtest.VCS{
		ApplyPatchFunc: func(context.Context, review.PRRef, *review.PatchProposal, string) (string, error) {
			return "", errors.New("disk full")
		},
	}
	e := newEnv(t, policy.Default(), platform, vcs)

	// The thread escalates after its apply budget, without aborting the PR.
	if err := e.ctrl.Reconcile(ctx, testPR.Key()); err != nil {
		t.Fatalf("Reconcile() = %v", err)
	}

	st := e.state(t)
	if st.Phase != review.PhaseEscalated {
		t.Fatalf("Phase = %s, want %s", st.Phase, review.PhaseEscalated)
	}
	if got := vcs.Calls("ApplyPatch"); got != 3 {
		t.Errorf("ApplyPatch calls = %d, want 3", got)
	}

	th := st.Thread("pkg/a.go:1")
	if th == nil {
		t.Fatal("thread pkg/a.go:1 missing from state")
	}
	if th.Decision != review.ActionEscalate {
		t.Errorf("Decision = %s, want %s", th.Decision, review.ActionEscalate)
	}
	if th.Status != review.StatusEscalated {
		t.Errorf("Status = %s, want %s", th.Status, review.StatusEscalated)
	}
	if th.CommitRef != "" {
		t.Errorf("CommitRef = %q, want empty", th.CommitRef)
	}
	if got := platform.Calls("PostThreadComment"); got != 1 {
		t.Errorf("PostThreadComment calls = %d, want 1", got)
	}
	if got := platform.Calls("ResolveThread"); got != 0 {
		t.Errorf("ResolveThread calls = %d, want 0 for an escalated thread", got)
	}
	if got := platform.Calls("Merge"); got != 0 {
		t.Errorf("Merge calls = %d, want 0", got)
	}
}

func TestReconcileLockHeldDefers(t *testing.T) {
	ctx := context.Background()
	platform := approvingPlatform(nil)
	vcs := &reviewtest.VCS{}
	e := newEnv(t, policy.Default(), platform, vcs)

	// Another worker already holds the PR.
	other := lock.NewManager(e.store, "worker-2")
	if _, err := other.Acquire(ctx, testPR.Key()); err != nil {
		t.Fatalf("Acquire(other) = %v", err)
	}

	err := e.ctrl.Reconcile(ctx, testPR.Key())
	if _, ok := workqueue.GetRequeueDelay(err); !ok {
		t.Fatalf("Reconcile() = %v, want a requeue-after sentinel", err)
	}
	if got := platform.Calls("ListThreads"); got != 0 {
		t.Errorf("ListThreads calls = %d, want 0 while locked out", got)
	}
}

func TestReconcileSkipLabelDefers(t *testing.T) {
	ctx := context.Background()
	platform := approvingPlatform(nil)
	platform.LabelsFunc = func(context.Context, review.PRRef) ([]string, error) {
		return []string{"enhancement", "skip:reviewflow"}, nil
	}
	vcs := &reviewtest.VCS{}
	e := newEnv(t, policy.Default(), platform, vcs)

	err := e.ctrl.Reconcile(ctx, testPR.Key())
	if _, ok := workqueue.GetRequeueDelay(err); !ok {
		t.Fatalf("Reconcile() = %v, want a requeue-after sentinel", err)
	}
	if got := platform.Calls("ListThreads"); got != 0 {
		t.Errorf("ListThreads calls = %d, want 0 for a skipped PR", got)
	}

	// Removing the label lets the next attempt run to completion.
	platform.LabelsFunc = nil
	if err := e.ctrl.Reconcile(ctx, testPR.Key()); err != nil {
		t.Fatalf("Reconcile() after label removed = %v", err)
	}
	if got := e.state(t).Phase; got != review.PhaseCompleted {
		t.Errorf("Phase = %s, want %s", got, review.PhaseCompleted)
	}
}

func TestReconcileChecksPendingWaits(t *testing.T) {
	ctx := context.Background()
	comments := []review.RawComment{{
		CommentID: 1, File: "pkg/a.go", Author: "octocat",
		Body:      "FYI.",
		CreatedAt: time.Unix(100, 0),
	}}
	platform := approvingPlatform(comments)

	var mu sync.Mutex
	check := review.CheckPending
	platform.CheckStatusFunc = func(context.Context, review.PRRef) (review.CheckState, error) {
		mu.Lock()
		defer mu.Unlock()
		return check, nil
	}
	vcs := &reviewtest.VCS{
		HeadFunc: func(context.Context, review.PRRef) (string, error) { return "h1", nil },
	}
	e := newEnv(t, policy.Default(), platform, vcs, WithChecksDelay(30*time.Second))

	err := e.ctrl.Reconcile(ctx, testPR.Key())
	delay, ok := workqueue.GetRequeueDelay(err)
	if !ok || delay != 30*time.Second {
		t.Fatalf("Reconcile() = %v, want requeue after 30s", err)
	}
	if st := e.state(t); st.Phase != review.PhaseWaitingChecks {
		t.Fatalf("Phase = %s, want waiting-checks", st.Phase)
	}

	// Checks pass; the next reconcile resumes from the persisted phase and
	// merges without repeating earlier work.
	mu.Lock()
	check = review.CheckSuccess
	mu.Unlock()
	if err := e.ctrl.Reconcile(ctx, testPR.Key()); err != nil {
		t.Fatalf("Reconcile(resumed) = %v", err)
	}
	if st := e.state(t); st.Phase != review.PhaseCompleted {
		t.Fatalf("Phase = %s, want completed", st.Phase)
	}
	if got := platform.Calls("ResolveThread"); got != 1 {
		t.Errorf("ResolveThread calls = %d, want 1 (no re-settle on resume)", got)
	}
	if got := platform.Calls("Merge"); got != 1 {
		t.Errorf("Merge calls = %d, want 1", got)
	}
}

func TestReconcileChecksFailureEscalates(t *testing.T) {
	ctx := context.Background()
	comments := []review.RawComment{{
		CommentID: 1, File: "pkg/a.go", Author: "octocat",
		Body:      "FYI.",
		CreatedAt: time.Unix(100, 0),
	}}
	platform := approvingPlatform(comments)
	platform.CheckStatusFunc = func(context.Context, review.PRRef) (review.CheckState, error) {
		return review.CheckFailure, nil
	}
	vcs := &reviewtest.VCS{
		HeadFunc: func(context.Context, review.PRRef) (string, error) { return "h1", nil },
	}
	e := newEnv(t, policy.Default(), platform, vcs)

	if err := e.ctrl.Reconcile(ctx, testPR.Key()); err != nil {
		t.Fatalf("Reconcile() = %v", err)
	}
	st := e.state(t)
	if st.Phase != review.PhaseEscalated {
		t.Fatalf("Phase = %s, want escalated", st.Phase)
	}
	if got := platform.Calls("Merge"); got != 0 {
		t.Errorf("Merge calls = %d, want 0 with failing checks", got)
	}
	if got := platform.Calls("PostComment"); got != 1 {
		t.Errorf("PostComment calls = %d, want 1 summary comment", got)
	}
}

func TestMergeThreadsReopensOnNewContent(t *testing.T) {
	st := review.NewPullRequestState(testPR, time.Unix(100, 0))
	st.Threads["pkg/a.go:1"] = &review.ReviewThread{
		ID:              "pkg/a.go:1",
		File:            "pkg/a.go",
		ContentHash:     "old",
		Status:          review.StatusResolved,
		Decision:        review.ActionFix,
		DecidedHash:     "old",
		CommitRef:       "c1",
		Resolved:        true,
		RationalePosted: true,
	}
	st.Threads["pkg/b.go:2"] = &review.ReviewThread{
		ID:          "pkg/b.go:2",
		ContentHash: "same",
		Status:      review.StatusOpen,
	}

	mergeThreads(st, []review.ReviewThread{
		{ID: "pkg/a.go:1", ContentHash: "new", Body: "actually this is still wrong", Status: review.StatusOpen},
		{ID: "pkg/b.go:2", ContentHash: "same", Status: review.StatusOpen},
		{ID: "pkg/c.go:3", ContentHash: "fresh", Status: review.StatusOpen},
	})

	reopened := st.Thread("pkg/a.go:1")
	if reopened.Revision != 1 || reopened.Status != review.StatusOpen {
		t.Errorf("reopened thread = rev %d status %s, want rev 1 open", reopened.Revision, reopened.Status)
	}
	if reopened.Resolved || reopened.RationalePosted || reopened.Decision != "" || reopened.DecidedHash != "" {
		t.Errorf("reopened thread kept stale bookkeeping: %+v", reopened)
	}
	if unchanged := st.Thread("pkg/b.go:2"); unchanged.Revision != 0 {
		t.Errorf("unchanged thread revision = %d, want 0", unchanged.Revision)
	}
	if st.Thread("pkg/c.go:3") == nil {
		t.Error("new thread was not added")
	}
}

func TestReconcileBadKey(t *testing.T) {
	e := newEnv(t, policy.Default(), approvingPlatform(nil), &reviewtest.VCS{})
	err := e.ctrl.Reconcile(context.Background(), "not-a-key")
	if !workqueue.IsNonRetriable(err) {
		t.Fatalf("Reconcile(bad key) = %v, want non-retriable", err)
	}
}
