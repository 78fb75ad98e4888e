/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package normalize

import (
	"testing"
	"time"

	"chainguard.dev/reviewflow/review"
	"github.com/google/go-cmp/cmp"
)

func at(sec int64) time.Time { return time.Unix(sec, 0).UTC() }

func TestThreadsGroupsByNativeID(t *testing.T) {
	raw := []review.RawComment{
		{ThreadID: "T1", CommentID: 2, File: "a.go", StartLine: 10, EndLine: 12, Author: "bob", Body: "agreed", CreatedAt: at(20)},
		{ThreadID: "T1", CommentID: 1, File: "a.go", StartLine: 10, EndLine: 12, Author: "alice", Body: "rename this", CreatedAt: at(10)},
	}

	got := Threads(raw)
	if len(got) != 1 {
		t.Fatalf("Threads() produced %d threads, want 1", len(got))
	}
	th := got[0]
	if th.ID != "T1" || th.Author != "alice" {
		t.Errorf("thread = %q by %q, want T1 by alice", th.ID, th.Author)
	}
	wantBody := "alice: rename this\n\nbob: agreed"
	if th.Body != wantBody {
		t.Errorf("Body = %q, want %q", th.Body, wantBody)
	}
	if th.Status != review.StatusOpen {
		t.Errorf("Status = %q, want %q", th.Status, review.StatusOpen)
	}
}

func TestThreadsGroupsByOverlappingRange(t *testing.T) {
	raw := []review.RawComment{
		{CommentID: 1, File: "a.go", StartLine: 10, EndLine: 15, Author: "alice", Body: "first", CreatedAt: at(10)},
		{CommentID: 2, File: "a.go", StartLine: 14, EndLine: 14, Author: "bob", Body: "second", CreatedAt: at(20)},
		{CommentID: 3, File: "a.go", StartLine: 40, EndLine: 41, Author: "carol", Body: "elsewhere", CreatedAt: at(30)},
		{CommentID: 4, File: "b.go", StartLine: 10, EndLine: 15, Author: "dave", Body: "other file", CreatedAt: at(40)},
	}

	got := Threads(raw)
	if len(got) != 3 {
		t.Fatalf("Threads() produced %d threads, want 3", len(got))
	}

	ids := []string{got[0].ID, got[1].ID, got[2].ID}
	want := []string{"a.go:1", "a.go:3", "b.go:4"}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Errorf("thread ids mismatch (-want +got):\n%s", diff)
	}
}

func TestThreadsIsDeterministic(t *testing.T) {
	raw := []review.RawComment{
		{ThreadID: "T2", CommentID: 5, File: "b.go", StartLine: 3, EndLine: 3, Author: "bob", Body: "b", CreatedAt: at(5)},
		{ThreadID: "T1", CommentID: 1, File: "a.go", StartLine: 1, EndLine: 1, Author: "alice", Body: "a", CreatedAt: at(1)},
		{ThreadID: "T1", CommentID: 2, File: "a.go", StartLine: 1, EndLine: 1, Author: "carol", Body: "c", CreatedAt: at(2)},
	}
	shuffled := []review.RawComment{raw[2], raw[0], raw[1]}

	a, b := Threads(raw), Threads(shuffled)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("input order changed output (-first +second):\n%s", diff)
	}
	for i := range a {
		if a[i].ContentHash == "" {
			t.Errorf("thread %q has empty content hash", a[i].ID)
		}
	}
}

func TestContentHashChangesWithNewActivity(t *testing.T) {
	base := []review.RawComment{
		{ThreadID: "T1", CommentID: 1, File: "a.go", StartLine: 1, EndLine: 1, Author: "alice", Body: "fix this", CreatedAt: at(1)},
	}
	extended := append(append([]review.RawComment{}, base...), review.RawComment{
		ThreadID: "T1", CommentID: 2, File: "a.go", StartLine: 1, EndLine: 1, Author: "alice", Body: "still broken", CreatedAt: at(2),
	})

	h1 := Threads(base)[0].ContentHash
	h2 := Threads(extended)[0].ContentHash
	if h1 == h2 {
		t.Error("content hash unchanged after new comment")
	}
}

func TestExtractSuggestion(t *testing.T) {
	for _, tc := range []struct {
		name, body, want string
	}{{
		name: "simple fence",
		body: "Use the helper instead:\n```suggestion\nreturn helper(x)\n```\nthanks",
		want: "return helper(x)",
	}, {
		name: "multi-line",
		body: "```suggestion\nif err != nil {\n\treturn err\n}\n```",
		want: "if err != nil {\n\treturn err\n}",
	}, {
		name: "no fence",
		body: "looks wrong to me",
		want: "",
	}, {
		name: "unterminated fence",
		body: "```suggestion\nincomplete",
		want: "",
	}, {
		name: "empty suggestion deletes the line",
		body: "```suggestion\n```",
		want: "",
	}} {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractSuggestion(tc.body); got != tc.want {
				t.Errorf("ExtractSuggestion() = %q, want %q", got, tc.want)
			}
		})
	}
}
