/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package policy

import (
	"fmt"
	"time"

	"chainguard.dev/reviewflow/review"
	"github.com/waigani/diffparser"
)

// Engine converts classified threads into decisions under a fixed policy.
// Decide is pure: the same thread and snapshot always produce the same
// decision, which makes recomputation on an unchanged snapshot a no-op.
type Engine struct {
	policy Policy
}

// NewEngine constructs an Engine for the policy.
func NewEngine(p Policy) *Engine {
	return &Engine{policy: p}
}

// Policy returns the engine's configuration.
func (e *Engine) Policy() Policy { return e.policy }

// Decide produces the decision for a classified thread computed against the
// given snapshot. Every decision carries a human-readable rationale, including
// ignore and escalate: the rationale feeds the resolution comment and the
// audit trail.
func (e *Engine) Decide(t review.ReviewThread, snapSeq uint64, now time.Time) review.Decision {
	d := review.Decision{
		ThreadID:    t.ID,
		Revision:    t.Revision,
		Risk:        review.RiskLow,
		SnapshotSeq: snapSeq,
		ContentHash: t.ContentHash,
		CreatedAt:   now,
	}

	if rule, disallowed := e.policy.PathDisallowed(t.File); disallowed {
		d.Action = review.ActionEscalate
		d.Rationale = fmt.Sprintf(
			"Escalating to a human: %s is under the protected path %q, which this automation is not permitted to edit.",
			t.File, rule)
		return d
	}

	switch e.policy.RuleFor(t.Severity) {
	case RuleAutoFix, RuleAutoFixLowRisk:
		d.Action = review.ActionFix
		d.Rationale = fmt.Sprintf(
			"Addressing %s %s feedback from @%s on %s with an automated fix.",
			t.Severity, t.Category, t.Author, t.File)
	case RuleAcknowledge:
		d.Action = review.ActionIgnore
		d.Rationale = fmt.Sprintf(
			"Acknowledging informational feedback from @%s; no code change is required.",
			t.Author)
	default:
		d.Action = review.ActionEscalate
		d.Rationale = fmt.Sprintf(
			"Escalating %s %s feedback from @%s for human judgment per policy.",
			t.Severity, t.Category, t.Author)
	}
	return d
}

// Assessment is the structural breakdown behind a risk tag.
type Assessment struct {
	Lines          int
	Files          int
	SensitivePaths []string
}

func (a Assessment) String() string {
	s := fmt.Sprintf("%d lines across %d files", a.Lines, a.Files)
	if len(a.SensitivePaths) > 0 {
		s += fmt.Sprintf(", touching sensitive paths %v", a.SensitivePaths)
	}
	return s
}

// AssessDiff sizes a unified diff against the risk threshold. Risk is
// elevated when the patch exceeds the configured line or file budget or
// touches a sensitive path.
func (e *Engine) AssessDiff(diff string) (review.RiskTag, Assessment, error) {
	parsed, err := diffparser.Parse(diff)
	if err != nil {
		return "", Assessment{}, fmt.Errorf("parsing diff: %w", err)
	}

	var a Assessment
	a.Files = len(parsed.Files)
	for _, f := range parsed.Files {
		path := f.NewName
		if path == "" {
			path = f.OrigName
		}
		if e.policy.PathSensitive(path) {
			a.SensitivePaths = append(a.SensitivePaths, path)
		}
		for _, h := range f.Hunks {
			for _, l := range h.NewRange.Lines {
				if l.Mode == diffparser.ADDED {
					a.Lines++
				}
			}
			for _, l := range h.OrigRange.Lines {
				if l.Mode == diffparser.REMOVED {
					a.Lines++
				}
			}
		}
	}

	risk := review.RiskLow
	if a.Lines > e.policy.Risk.MaxPatchLines ||
		a.Files > e.policy.Risk.MaxPatchFiles ||
		len(a.SensitivePaths) > 0 {
		risk = review.RiskElevated
	}
	return risk, a, nil
}
