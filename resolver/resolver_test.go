/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package resolver

import (
	"context"
	"errors"
	"strings"
	"testing"

	"chainguard.dev/reviewflow/review"
	"chainguard.dev/reviewflow/review/reviewtest"
)

var pr = review.PRRef{Owner: "o", Repo: "r", Number: 1, Branch: "feature"}

func TestSettleFixPostsRationaleThenResolves(t *testing.T) {
	var posted []string
	platform := &reviewtest.Platform{
		PostThreadCommentFunc: func(_ context.Context, _ review.PRRef, _, body string) error {
			posted = append(posted, body)
			return nil
		},
	}
	r := New(platform)

	thread := &review.ReviewThread{ID: "T1", Decision: review.ActionFix, Status: review.StatusApplied, CommitRef: "abc123"}
	d := &review.Decision{ThreadID: "T1", Action: review.ActionFix, Rationale: "Fixed the nil check."}

	if err := r.Settle(context.Background(), pr, thread, d); err != nil {
		t.Fatalf("Settle() = %v", err)
	}
	if !thread.Resolved || thread.Status != review.StatusResolved {
		t.Errorf("thread = %+v, want resolved", thread)
	}
	if len(posted) != 1 || !strings.Contains(posted[0], "abc123") {
		t.Errorf("rationale %q does not reference the commit", posted)
	}
	if platform.Calls("ResolveThread") != 1 {
		t.Errorf("ResolveThread called %d times, want 1", platform.Calls("ResolveThread"))
	}
}

func TestSettleEscalateLeavesThreadOpen(t *testing.T) {
	platform := &reviewtest.Platform{}
	r := New(platform)

	thread := &review.ReviewThread{ID: "T1", Decision: review.ActionEscalate, Status: review.StatusOpen}
	d := &review.Decision{ThreadID: "T1", Action: review.ActionEscalate, Rationale: "Needs a human."}

	if err := r.Settle(context.Background(), pr, thread, d); err != nil {
		t.Fatalf("Settle() = %v", err)
	}
	if thread.Status != review.StatusEscalated {
		t.Errorf("status = %q, want escalated", thread.Status)
	}
	if thread.Resolved {
		t.Error("escalated thread was resolved")
	}
	if platform.Calls("ResolveThread") != 0 {
		t.Error("ResolveThread called for an escalation")
	}
	if platform.Calls("PostThreadComment") != 1 {
		t.Errorf("PostThreadComment called %d times, want 1", platform.Calls("PostThreadComment"))
	}
}

func TestSettleRetriesOnlyResolveAfterResolveFailure(t *testing.T) {
	resolveErr := errors.New("503")
	platform := &reviewtest.Platform{
		ResolveThreadFunc: func(context.Context, string) error { return resolveErr },
	}
	r := New(platform)

	thread := &review.ReviewThread{ID: "T1", Decision: review.ActionIgnore, Status: review.StatusOpen}
	d := &review.Decision{ThreadID: "T1", Action: review.ActionIgnore, Rationale: "Acknowledged."}

	// First attempt: rationale lands, resolve fails.
	if err := r.Settle(context.Background(), pr, thread, d); !errors.Is(err, resolveErr) {
		t.Fatalf("Settle() = %v, want resolve failure", err)
	}
	if !thread.RationalePosted || thread.Resolved || !thread.SettlePending {
		t.Errorf("thread = %+v, want rationale posted, unresolved, settle pending", thread)
	}

	// Retry: the rationale is not reposted, only resolve is retried.
	platform.ResolveThreadFunc = nil
	if err := r.Settle(context.Background(), pr, thread, d); err != nil {
		t.Fatalf("Settle(retry) = %v", err)
	}
	if platform.Calls("PostThreadComment") != 1 {
		t.Errorf("PostThreadComment called %d times across retries, want 1", platform.Calls("PostThreadComment"))
	}
	if !thread.Resolved || thread.SettlePending {
		t.Errorf("thread = %+v, want resolved with settle complete", thread)
	}
}

func TestSettleNeverResolvesTwice(t *testing.T) {
	platform := &reviewtest.Platform{}
	r := New(platform)

	thread := &review.ReviewThread{ID: "T1", Decision: review.ActionIgnore, Status: review.StatusOpen}
	d := &review.Decision{ThreadID: "T1", Action: review.ActionIgnore, Rationale: "Acknowledged."}

	for i := 0; i < 3; i++ {
		if err := r.Settle(context.Background(), pr, thread, d); err != nil {
			t.Fatalf("Settle() attempt %d = %v", i, err)
		}
	}
	if got := platform.Calls("ResolveThread"); got != 1 {
		t.Errorf("ResolveThread called %d times, want exactly 1", got)
	}
}
