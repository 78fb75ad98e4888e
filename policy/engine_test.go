/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package policy

import (
	"strings"
	"testing"
	"time"

	"chainguard.dev/reviewflow/review"
	"github.com/google/go-cmp/cmp"
)

func TestDecideBySeverity(t *testing.T) {
	e := NewEngine(Default())
	now := time.Unix(1700000000, 0).UTC()

	for _, tc := range []struct {
		name   string
		thread review.ReviewThread
		want   review.Action
	}{{
		name:   "critical fixes",
		thread: review.ReviewThread{ID: "T1", File: "main.go", Severity: review.SeverityCritical, Category: review.CategorySecurity, Author: "alice"},
		want:   review.ActionFix,
	}, {
		name:   "recommended fixes",
		thread: review.ReviewThread{ID: "T2", File: "main.go", Severity: review.SeverityRecommended, Category: review.CategoryBug, Author: "bob"},
		want:   review.ActionFix,
	}, {
		name:   "informational acknowledges",
		thread: review.ReviewThread{ID: "T3", File: "main.go", Severity: review.SeverityInformational, Category: review.CategoryInformational, Author: "carol"},
		want:   review.ActionIgnore,
	}, {
		name:   "unmapped severity escalates",
		thread: review.ReviewThread{ID: "T4", File: "main.go", Severity: "made-up", Author: "dave"},
		want:   review.ActionEscalate,
	}} {
		t.Run(tc.name, func(t *testing.T) {
			d := e.Decide(tc.thread, 7, now)
			if d.Action != tc.want {
				t.Errorf("Decide().Action = %q, want %q", d.Action, tc.want)
			}
			if d.Rationale == "" {
				t.Error("Decide() produced empty rationale")
			}
			if d.SnapshotSeq != 7 {
				t.Errorf("Decide().SnapshotSeq = %d, want 7", d.SnapshotSeq)
			}
		})
	}
}

func TestDecideIsPure(t *testing.T) {
	e := NewEngine(Default())
	now := time.Unix(1700000000, 0).UTC()
	thread := review.ReviewThread{
		ID: "T1", Revision: 2, File: "a.go",
		Severity: review.SeverityRecommended, Category: review.CategoryBug,
		Author: "alice", ContentHash: "abc123",
	}

	first := e.Decide(thread, 3, now)
	second := e.Decide(thread, 3, now)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("repeated Decide() differed (-first +second):\n%s", diff)
	}
}

func TestDecideDisallowedPathEscalates(t *testing.T) {
	p := Default()
	p.DisallowedPaths = []string{"release/"}
	e := NewEngine(p)

	d := e.Decide(review.ReviewThread{
		ID: "T1", File: "release/pipeline.yaml",
		Severity: review.SeverityCritical, Author: "alice",
	}, 1, time.Unix(0, 0))
	if d.Action != review.ActionEscalate {
		t.Errorf("Decide().Action = %q, want escalate", d.Action)
	}
	if !strings.Contains(d.Rationale, "release/") {
		t.Errorf("rationale %q does not name the protected path", d.Rationale)
	}
}

const smallDiff = `diff --git a/main.go b/main.go
--- a/main.go
+++ b/main.go
@@ -1,3 +1,3 @@
 package main
-var x = 1
+var x = 2
`

const workflowDiff = `diff --git a/.github/workflows/ci.yaml b/.github/workflows/ci.yaml
--- a/.github/workflows/ci.yaml
+++ b/.github/workflows/ci.yaml
@@ -1,2 +1,2 @@
 name: ci
-on: push
+on: pull_request
`

func TestAssessDiff(t *testing.T) {
	p := Default()
	p.Risk.MaxPatchLines = 10
	p.Risk.MaxPatchFiles = 2
	e := NewEngine(p)

	t.Run("small diff is low risk", func(t *testing.T) {
		risk, a, err := e.AssessDiff(smallDiff)
		if err != nil {
			t.Fatalf("AssessDiff() = %v", err)
		}
		if risk != review.RiskLow {
			t.Errorf("risk = %q (%s), want low", risk, a)
		}
		if a.Lines != 2 || a.Files != 1 {
			t.Errorf("assessment = %+v, want 2 lines in 1 file", a)
		}
	})

	t.Run("sensitive path is elevated", func(t *testing.T) {
		risk, a, err := e.AssessDiff(workflowDiff)
		if err != nil {
			t.Fatalf("AssessDiff() = %v", err)
		}
		if risk != review.RiskElevated {
			t.Errorf("risk = %q (%s), want elevated", risk, a)
		}
		if len(a.SensitivePaths) != 1 {
			t.Errorf("sensitive paths = %v, want one entry", a.SensitivePaths)
		}
	})

	t.Run("line budget overflow is elevated", func(t *testing.T) {
		var sb strings.Builder
		sb.WriteString("diff --git a/big.go b/big.go\n--- a/big.go\n+++ b/big.go\n@@ -1,1 +1,12 @@\n context\n")
		for i := 0; i < 11; i++ {
			sb.WriteString("+added line\n")
		}
		risk, _, err := e.AssessDiff(sb.String())
		if err != nil {
			t.Fatalf("AssessDiff() = %v", err)
		}
		if risk != review.RiskElevated {
			t.Errorf("risk = %q, want elevated", risk)
		}
	})
}
