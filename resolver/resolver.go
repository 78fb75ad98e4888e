/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package resolver

import (
	"context"
	"fmt"

	"chainguard.dev/reviewflow/review"
	"github.com/chainguard-dev/clog"
)

// Resolver settles decided threads through the platform collaborator.
type Resolver struct {
	platform review.Platform
}

// New constructs a Resolver.
func New(platform review.Platform) *Resolver {
	return &Resolver{platform: platform}
}

// Settle performs one settle attempt for a decided thread, mutating its
// bookkeeping flags in place. Escalations post a request for human input and
// leave the thread open; fix and ignore decisions post the rationale and then
// resolve. A failed resolve leaves the thread decided-but-unresolved with
// SettlePending set, to be retried next cycle without reposting the
// rationale.
func (r *Resolver) Settle(ctx context.Context, pr review.PRRef, t *review.ReviewThread, d *review.Decision) error {
	log := clog.FromContext(ctx).With("pr", pr.String()).With("thread", t.ID)

	if t.Resolved {
		// Resolve already succeeded in an earlier cycle; nothing to do.
		return nil
	}

	switch d.Action {
	case review.ActionEscalate:
		if !t.RationalePosted {
			body := fmt.Sprintf("%s\n\nThis thread needs human attention and is intentionally left open.", d.Rationale)
			if err := r.platform.PostThreadComment(ctx, pr, t.ID, body); err != nil {
				t.SettlePending = true
				return fmt.Errorf("posting escalation on thread %s: %w", t.ID, err)
			}
			t.RationalePosted = true
		}
		t.Status = review.StatusEscalated
		t.SettlePending = false
		return nil

	case review.ActionFix, review.ActionIgnore:
		if !t.RationalePosted {
			if err := r.platform.PostThreadComment(ctx, pr, t.ID, rationaleBody(t, d)); err != nil {
				t.SettlePending = true
				return fmt.Errorf("posting rationale on thread %s: %w", t.ID, err)
			}
			t.RationalePosted = true
		}
		if err := r.platform.ResolveThread(ctx, t.ID); err != nil {
			// Rationale landed but resolve did not: keep the thread in its
			// decided-unresolved sub-state and retry only the resolve call.
			t.SettlePending = true
			log.With("error", err.Error()).Warn("resolve failed, will retry next cycle")
			return fmt.Errorf("resolving thread %s: %w", t.ID, err)
		}
		t.Resolved = true
		t.SettlePending = false
		t.Status = review.StatusResolved
		return nil

	default:
		return fmt.Errorf("thread %s has no actionable decision %q", t.ID, d.Action)
	}
}

func rationaleBody(t *review.ReviewThread, d *review.Decision) string {
	if d.Action == review.ActionFix && t.CommitRef != "" {
		return fmt.Sprintf("%s\n\nAddressed in %s.", d.Rationale, t.CommitRef)
	}
	return d.Rationale
}
