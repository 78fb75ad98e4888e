/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package patchcoord

import (
	"context"
	"errors"
	"fmt"

	"chainguard.dev/reviewflow/policy"
	"chainguard.dev/reviewflow/review"
	"github.com/chainguard-dev/clog"
)

// Granularity fixes how fixes land on the branch. It is a deployment-time
// choice, never varied per call, so downstream audit tooling can rely on it.
type Granularity string

const (
	// CommitPerThread lands one commit per processed thread.
	CommitPerThread Granularity = "per-thread"
	// CommitPerCycle batches all of a cycle's fixes into one commit.
	CommitPerCycle Granularity = "per-cycle"
)

// Outcome is the terminal disposition of one thread's apply attempt.
type Outcome string

const (
	// OutcomeApplied means the fix was committed.
	OutcomeApplied Outcome = "applied"
	// OutcomeEscalate means no safe automated fix exists for the thread.
	OutcomeEscalate Outcome = "escalate"
	// OutcomeFailed means a contained per-thread error; the thread stays
	// open for the next cycle.
	OutcomeFailed Outcome = "failed"
)

// Result is the per-thread outcome of an apply pass. Escalations carry a
// human-readable reason destined for the thread comment.
type Result struct {
	ThreadID  string
	Outcome   Outcome
	CommitRef string
	Reason    string
	Err       error

	proposal *review.PatchProposal
}

// Coordinator requests patches and lands them on the PR branch.
type Coordinator struct {
	proposer    review.Proposer
	vcs         review.VCS
	engine      *policy.Engine
	granularity Granularity
	guidelines  string
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithGranularity sets the commit granularity.
func WithGranularity(g Granularity) Option {
	return func(c *Coordinator) { c.granularity = g }
}

// WithGuidelines attaches project guidelines to every patch request.
func WithGuidelines(g string) Option {
	return func(c *Coordinator) { c.guidelines = g }
}

// New constructs a Coordinator. The default granularity is one commit per
// thread.
func New(proposer review.Proposer, vcs review.VCS, engine *policy.Engine, opts ...Option) *Coordinator {
	c := &Coordinator{
		proposer:    proposer,
		vcs:         vcs,
		engine:      engine,
		granularity: CommitPerThread,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Apply processes every fix-decided thread against the snapshot's head.
// Returns review.ErrStale the moment the branch head is found to have moved;
// per-thread failures are contained in the results and never abort siblings.
func (c *Coordinator) Apply(ctx context.Context, pr review.PRRef, snap *review.Snapshot, threads []*review.ReviewThread) ([]Result, error) {
	if err := c.checkHead(ctx, pr, snap.HeadRef); err != nil {
		return nil, err
	}
	if c.granularity == CommitPerCycle {
		return c.applyBatched(ctx, pr, snap, threads)
	}
	return c.applyPerThread(ctx, pr, snap, threads)
}

func (c *Coordinator) applyPerThread(ctx context.Context, pr review.PRRef, snap *review.Snapshot, threads []*review.ReviewThread) ([]Result, error) {
	results := make([]Result, 0, len(threads))
	// After our own push the remote head is legitimately ours; only foreign
	// movement is stale.
	pushed := false
	for _, t := range threads {
		if pushed {
			if err := c.checkOwnHead(ctx, pr, results); err != nil {
				return results, err
			}
		}

		res := c.produce(ctx, pr, t)
		if res.Outcome != OutcomeApplied {
			results = append(results, res)
			continue
		}

		ref, err := c.commit(ctx, pr, res.proposal, commitMessage(t, res.proposal))
		if err != nil {
			results = append(results, c.commitFailure(t.ID, err))
			continue
		}
		if err := c.vcs.Push(ctx, pr); err != nil {
			if errors.Is(err, review.ErrStale) {
				return results, review.ErrStale
			}
			results = append(results, Result{ThreadID: t.ID, Outcome: OutcomeFailed, Err: err})
			continue
		}
		pushed = true
		res.CommitRef = ref
		results = append(results, res)
	}
	return results, nil
}

func (c *Coordinator) applyBatched(ctx context.Context, pr review.PRRef, snap *review.Snapshot, threads []*review.ReviewThread) ([]Result, error) {
	results := make([]Result, 0, len(threads))
	var (
		batch   review.PatchProposal
		touched = map[string]string{} // path -> thread that claimed it
		applied []int                 // indexes into results pending a commit ref
	)
	for _, t := range threads {
		res := c.produce(ctx, pr, t)
		if res.Outcome == OutcomeApplied {
			if path, clash := overlap(res.proposal, touched); clash {
				res = Result{
					ThreadID: t.ID,
					Outcome:  OutcomeEscalate,
					Reason: fmt.Sprintf(
						"Another thread's fix in this cycle already edits %s; deferring to a human to combine them.", path),
				}
			} else {
				for _, e := range res.proposal.Edits {
					touched[e.Path] = t.ID
				}
				batch.Edits = append(batch.Edits, res.proposal.Edits...)
				batch.Diff += res.proposal.Diff
				if batch.Summary != "" {
					batch.Summary += "; "
				}
				batch.Summary += res.proposal.Summary
				applied = append(applied, len(results))
			}
		}
		results = append(results, res)
	}

	if len(applied) == 0 {
		return results, nil
	}

	ref, err := c.commit(ctx, pr, &batch, fmt.Sprintf("Address review feedback\n\n%s", batch.Summary))
	if err != nil {
		for _, i := range applied {
			results[i] = c.commitFailure(results[i].ThreadID, err)
		}
		return results, nil
	}
	if err := c.vcs.Push(ctx, pr); err != nil {
		if errors.Is(err, review.ErrStale) {
			return results, review.ErrStale
		}
		for _, i := range applied {
			results[i] = Result{ThreadID: results[i].ThreadID, Outcome: OutcomeFailed, Err: err}
		}
		return results, nil
	}
	for _, i := range applied {
		results[i].CommitRef = ref
	}
	return results, nil
}

// produce requests and vets a patch for one thread. The proposal rides along
// on the result until commit time.
func (c *Coordinator) produce(ctx context.Context, pr review.PRRef, t *review.ReviewThread) Result {
	log := clog.FromContext(ctx).With("thread", t.ID)

	content, err := c.vcs.ReadFile(ctx, pr, t.File)
	if err != nil {
		return Result{ThreadID: t.ID, Outcome: OutcomeFailed, Err: fmt.Errorf("reading %s: %w", t.File, err)}
	}

	prop, err := c.proposer.ProposePatch(ctx, review.PatchRequest{
		PR:         pr,
		Thread:     *t,
		Files:      map[string]string{t.File: content},
		Guidelines: c.guidelines,
	})
	if err != nil {
		return Result{ThreadID: t.ID, Outcome: OutcomeFailed, Err: fmt.Errorf("proposing patch: %w", err)}
	}
	if prop == nil {
		return Result{
			ThreadID: t.ID,
			Outcome:  OutcomeEscalate,
			Reason:   "No safe automated fix could be produced for this feedback; deferring to a human.",
		}
	}

	for _, e := range prop.Edits {
		if rule, disallowed := c.engine.Policy().PathDisallowed(e.Path); disallowed {
			return Result{
				ThreadID: t.ID,
				Outcome:  OutcomeEscalate,
				Reason: fmt.Sprintf(
					"The proposed fix edits %s under the protected path %q; deferring to a human.", e.Path, rule),
				Err: &review.PolicyViolationError{Path: e.Path, Rule: rule},
			}
		}
	}

	risk, assessment, err := c.engine.AssessDiff(prop.Diff)
	if err != nil {
		log.With("error", err.Error()).Warn("diff did not parse, treating risk as elevated")
		risk = review.RiskElevated
		assessment = policy.Assessment{}
	}
	if risk == review.RiskElevated {
		return Result{
			ThreadID: t.ID,
			Outcome:  OutcomeEscalate,
			Reason: fmt.Sprintf(
				"The proposed fix is above the automatic-apply risk threshold (%s); deferring to a human.", assessment),
		}
	}

	return Result{ThreadID: t.ID, Outcome: OutcomeApplied, proposal: prop}
}

func (c *Coordinator) commit(ctx context.Context, pr review.PRRef, prop *review.PatchProposal, message string) (string, error) {
	if err := c.vcs.CheckPatch(ctx, pr, prop); err != nil {
		return "", err
	}
	return c.vcs.ApplyPatch(ctx, pr, prop, message)
}

// commitFailure maps a commit-stage error to its thread outcome: conflicts
// escalate, everything else stays open for the next cycle.
func (c *Coordinator) commitFailure(threadID string, err error) Result {
	if errors.Is(err, review.ErrConflict) {
		return Result{
			ThreadID: threadID,
			Outcome:  OutcomeEscalate,
			Reason:   "The proposed fix no longer applies cleanly to the branch; deferring to a human.",
			Err:      err,
		}
	}
	return Result{ThreadID: threadID, Outcome: OutcomeFailed, Err: err}
}

func (c *Coordinator) checkHead(ctx context.Context, pr review.PRRef, want string) error {
	head, err := c.vcs.Head(ctx, pr)
	if err != nil {
		return fmt.Errorf("reading head for %s: %w", pr, err)
	}
	if head != want {
		clog.FromContext(ctx).With("pr", pr.String()).
			With("snapshot_head", want).
			With("current_head", head).
			Info("branch head moved since snapshot")
		return review.ErrStale
	}
	return nil
}

// checkOwnHead verifies the remote head is the commit we last pushed.
func (c *Coordinator) checkOwnHead(ctx context.Context, pr review.PRRef, results []Result) error {
	var last string
	for _, r := range results {
		if r.CommitRef != "" {
			last = r.CommitRef
		}
	}
	if last == "" {
		return nil
	}
	return c.checkHead(ctx, pr, last)
}

// overlap reports whether the proposal edits a path already claimed by an
// earlier thread in the same batch.
func overlap(prop *review.PatchProposal, touched map[string]string) (string, bool) {
	for _, e := range prop.Edits {
		if _, ok := touched[e.Path]; ok {
			return e.Path, true
		}
	}
	return "", false
}

func commitMessage(t *review.ReviewThread, prop *review.PatchProposal) string {
	summary := prop.Summary
	if summary == "" {
		summary = fmt.Sprintf("Address review feedback on %s", t.File)
	}
	return fmt.Sprintf("%s\n\nRequested by @%s on %s.", summary, t.Author, t.File)
}
