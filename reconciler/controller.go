/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chainguard.dev/reviewflow/classify"
	"chainguard.dev/reviewflow/lock"
	"chainguard.dev/reviewflow/metrics"
	"chainguard.dev/reviewflow/patchcoord"
	"chainguard.dev/reviewflow/policy"
	"chainguard.dev/reviewflow/poller"
	"chainguard.dev/reviewflow/resolver"
	"chainguard.dev/reviewflow/review"
	"chainguard.dev/reviewflow/statestore"
	"chainguard.dev/reviewflow/workqueue"
	"github.com/chainguard-dev/clog"
)

// Controller sequences one PR's lifecycle. It is the workqueue callback: each
// invocation advances the PR as far as it can, then completes, requeues with
// a delay, or errors for a retry.
type Controller struct {
	store       statestore.Store
	locks       *lock.Manager
	poller      *poller.Poller
	classifier  classify.Interface
	engine      *policy.Engine
	coordinator *patchcoord.Coordinator
	resolver    *resolver.Resolver
	platform    review.Platform

	pollWindow    time.Duration
	checksDelay   time.Duration
	maxTransient  int
	maxCycles     int
	maxApplyFails int
	skipLabel     string

	now func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithPollWindow bounds each collection phase.
func WithPollWindow(d time.Duration) Option {
	return func(c *Controller) { c.pollWindow = d }
}

// WithChecksDelay sets how long to wait between check-status polls.
func WithChecksDelay(d time.Duration) Option {
	return func(c *Controller) { c.checksDelay = d }
}

// WithMaxTransient sets the consecutive-transient-failure ceiling beyond
// which the lifecycle aborts.
func WithMaxTransient(n int) Option {
	return func(c *Controller) { c.maxTransient = n }
}

// WithMaxCycles caps collect/decide/patch/resolve cycles per PR.
func WithMaxCycles(n int) Option {
	return func(c *Controller) { c.maxCycles = n }
}

// WithMaxApplyFails caps contained apply failures per thread before the
// thread's decision is superseded by an escalation. Zero disables the cap.
func WithMaxApplyFails(n int) Option {
	return func(c *Controller) { c.maxApplyFails = n }
}

// WithSkipLabel sets the label that opts a PR out of automation. Empty
// disables the check.
func WithSkipLabel(label string) Option {
	return func(c *Controller) { c.skipLabel = label }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// New constructs a Controller.
func New(
	store statestore.Store,
	locks *lock.Manager,
	p *poller.Poller,
	classifier classify.Interface,
	engine *policy.Engine,
	coordinator *patchcoord.Coordinator,
	r *resolver.Resolver,
	platform review.Platform,
	opts ...Option,
) *Controller {
	c := &Controller{
		store:        store,
		locks:        locks,
		poller:       p,
		classifier:   classify.Conservative{Delegate: classifier},
		engine:       engine,
		coordinator:  coordinator,
		resolver:     r,
		platform:     platform,
		pollWindow:   5 * time.Minute,
		checksDelay:  time.Minute,
		maxTransient:  5,
		maxCycles:     10,
		maxApplyFails: 3,
		skipLabel:     "skip:reviewflow",
		now:          time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Reconcile advances the PR identified by key. A nil return means the key is
// done for now (terminal, or nothing to do); the workqueue sentinels schedule
// bounded waits; any other error requeues the key.
func (c *Controller) Reconcile(ctx context.Context, key string) error {
	pr, err := review.ParseKey(key)
	if err != nil {
		return workqueue.NonRetriableError(err, "unparseable key")
	}
	log := clog.FromContext(ctx).With("pr", pr.String()).With("branch", pr.Branch)
	ctx = clog.WithLogger(ctx, log)

	st, err := c.store.PRState(ctx, key)
	switch {
	case errors.Is(err, statestore.ErrNotFound):
		st = review.NewPullRequestState(pr, c.now())
	case err != nil:
		return fmt.Errorf("loading state for %s: %w", pr, err)
	}
	if st.Phase.Terminal() {
		log.With("phase", st.Phase).Info("lifecycle already terminal")
		return nil
	}

	if skip, err := c.skipped(ctx, pr); err != nil {
		return err
	} else if skip {
		log.With("label", c.skipLabel).Info("skip label present, leaving PR alone")
		return workqueue.RequeueAfter(c.pollWindow)
	}

	if err := c.hold(ctx, st); err != nil {
		if errors.Is(err, lock.ErrHeld) {
			// Another worker owns this PR; its lease expiry makes the key
			// eligible again.
			return workqueue.RequeueAfter(c.checksDelay)
		}
		return err
	}

	return c.run(ctx, st)
}

// skipped reports whether the PR carries the opt-out label.
func (c *Controller) skipped(ctx context.Context, pr review.PRRef) (bool, error) {
	if c.skipLabel == "" {
		return false, nil
	}
	labels, err := c.platform.Labels(ctx, pr)
	if err != nil {
		return false, fmt.Errorf("listing labels for %s: %w", pr, err)
	}
	for _, l := range labels {
		if l == c.skipLabel {
			return true, nil
		}
	}
	return false, nil
}

// hold acquires or renews the PR lock, recording the token on the state.
func (c *Controller) hold(ctx context.Context, st *review.PullRequestState) error {
	key := st.PR.Key()
	if st.LockToken != "" {
		if err := c.locks.Renew(ctx, key, st.LockToken); err == nil {
			return nil
		} else if !errors.Is(err, lock.ErrNotHeld) {
			return err
		}
		// The previous lease lapsed or was taken over and released; acquire
		// a fresh one and resume from the persisted state.
	}
	token, err := c.locks.Acquire(ctx, key)
	if err != nil {
		return err
	}
	st.LockToken = token
	return c.persist(ctx, st)
}

// run loops the state machine until a terminal phase, a bounded wait, or an
// error. Cancellation is honored at phase boundaries only, so an in-flight
// apply or resolve always records its side effects.
func (c *Controller) run(ctx context.Context, st *review.PullRequestState) error {
	log := clog.FromContext(ctx)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		log.With("phase", st.Phase).Info("advancing lifecycle")

		var err error
		switch st.Phase {
		case review.PhaseCreated:
			st.Phase = review.PhaseWaitingForReviews
			err = c.persist(ctx, st)

		case review.PhaseWaitingForReviews, review.PhaseCollecting:
			err = c.collect(ctx, st)

		case review.PhaseDeciding:
			err = c.decide(ctx, st)

		case review.PhasePatching:
			err = c.patch(ctx, st)

		case review.PhaseResolving:
			err = c.resolve(ctx, st)

		case review.PhaseWaitingChecks:
			done, werr := c.gate(ctx, st)
			if werr != nil {
				err = werr
			} else if !done {
				if perr := c.persist(ctx, st); perr != nil {
					return perr
				}
				return workqueue.RequeueAfter(c.checksDelay)
			}

		case review.PhaseMerging:
			err = c.merge(ctx, st)

		default:
			return c.abort(ctx, st, fmt.Sprintf("unknown phase %q", st.Phase), nil)
		}

		if err != nil {
			if ferr := c.classifyFailure(ctx, st, err); ferr != nil {
				return ferr
			}
			continue
		}
		if st.Phase.Terminal() {
			return c.finish(ctx, st)
		}
	}
}

// classifyFailure routes a phase error: transient failures count toward the
// fatal ceiling and requeue the key; fatal failures abort the lifecycle.
func (c *Controller) classifyFailure(ctx context.Context, st *review.PullRequestState, err error) error {
	switch {
	case review.IsFatal(err):
		return c.abort(ctx, st, err.Error(), err)
	case review.IsTransient(err):
		st.Transient++
		if st.Transient >= c.maxTransient {
			return c.abort(ctx, st,
				fmt.Sprintf("%d consecutive transient failures", st.Transient), err)
		}
		st.Retries++
		if perr := c.persist(ctx, st); perr != nil {
			return perr
		}
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return c.abort(ctx, st, err.Error(), err)
	}
}

func (c *Controller) collect(ctx context.Context, st *review.PullRequestState) error {
	snap, threads, err := c.poller.Collect(ctx, st.PR, c.now().Add(c.pollWindow))
	if err != nil {
		return err
	}
	st.Transient = 0
	st.Cycles++
	metrics.RecordCycle(st.PR.String())
	if c.maxCycles > 0 && st.Cycles > c.maxCycles {
		return review.Fatal(fmt.Sprintf("exceeded %d reconciliation cycles", c.maxCycles), nil)
	}

	mergeThreads(st, threads)
	st.HeadRef = snap.HeadRef
	st.SnapshotSeq = snap.Seq
	st.Phase = review.PhaseDeciding
	return c.persist(ctx, st)
}

// mergeThreads folds freshly normalized threads into the durable state. A
// resolved thread with new content re-opens under an incremented revision and
// is processed as a new logical thread.
func mergeThreads(st *review.PullRequestState, threads []review.ReviewThread) {
	for _, fresh := range threads {
		cur, ok := st.Threads[fresh.ID]
		if !ok {
			t := fresh
			st.Threads[fresh.ID] = &t
			continue
		}
		if cur.ContentHash == fresh.ContentHash {
			continue
		}
		cur.Body = fresh.Body
		cur.Suggestion = fresh.Suggestion
		cur.ContentHash = fresh.ContentHash
		cur.StartLine = fresh.StartLine
		cur.EndLine = fresh.EndLine
		if cur.Status == review.StatusResolved || cur.Status == review.StatusEscalated {
			cur.Revision++
			cur.Status = review.StatusOpen
			cur.Decision = ""
			cur.DecidedHash = ""
			cur.CommitRef = ""
			cur.Resolved = false
			cur.RationalePosted = false
			cur.SettlePending = false
			cur.ApplyAttempts = 0
		}
	}
}

func (c *Controller) decide(ctx context.Context, st *review.PullRequestState) error {
	log := clog.FromContext(ctx)
	snap, err := c.store.LatestSnapshot(ctx, st.PR.Key())
	if err != nil {
		return fmt.Errorf("loading snapshot for %s: %w", st.PR, err)
	}

	for _, t := range st.Threads {
		if t.Status != review.StatusOpen {
			continue
		}
		if t.DecidedHash == t.ContentHash && t.Decision != "" {
			// Unchanged since the last decision: recomputing is a no-op and
			// must not re-trigger side effects.
			continue
		}

		cat, sev, err := c.classifier.Classify(ctx, *t)
		if err != nil {
			// Conservative wrapper never errors; belt and suspenders.
			cat, sev = review.CategoryUnknown, review.SeverityRecommended
		}
		t.Category = cat
		t.Severity = sev

		d := c.engine.Decide(*t, snap.Seq, snap.TakenAt)
		if err := c.store.AppendDecision(ctx, st.PR.Key(), &d); err != nil {
			return fmt.Errorf("recording decision for thread %s: %w", t.ID, err)
		}
		t.Decision = d.Action
		t.DecidedHash = t.ContentHash
		t.ApplyAttempts = 0
		metrics.RecordDecision(st.PR.String(), string(d.Action))
		log.With("thread", t.ID).
			With("category", cat).
			With("severity", sev).
			With("action", d.Action).
			Info("thread decided")
	}

	if st.FixesOutstanding() {
		st.Phase = review.PhasePatching
	} else {
		st.Phase = review.PhaseResolving
	}
	return c.persist(ctx, st)
}

func (c *Controller) patch(ctx context.Context, st *review.PullRequestState) error {
	log := clog.FromContext(ctx)
	snap, err := c.store.LatestSnapshot(ctx, st.PR.Key())
	if err != nil {
		return fmt.Errorf("loading snapshot for %s: %w", st.PR, err)
	}

	var fixes []*review.ReviewThread
	for _, t := range st.Threads {
		if t.Decision == review.ActionFix && t.Status == review.StatusOpen {
			fixes = append(fixes, t)
		}
	}

	results, err := c.coordinator.Apply(ctx, st.PR, snap, fixes)
	if errors.Is(err, review.ErrStale) {
		// The branch moved under us. Never retry the same patch against a
		// moved head; re-collect and re-decide against a fresh snapshot.
		metrics.RecordStale(st.PR.String())
		log.Info("stale apply, re-collecting")
		c.applyResults(ctx, st, results)
		st.Phase = review.PhaseCollecting
		return c.persist(ctx, st)
	}
	if err != nil {
		return err
	}

	c.applyResults(ctx, st, results)
	st.Phase = review.PhaseResolving
	return c.persist(ctx, st)
}

// applyResults folds per-thread apply outcomes into the state. Failures are
// contained to their thread and never block siblings.
func (c *Controller) applyResults(ctx context.Context, st *review.PullRequestState, results []patchcoord.Result) {
	log := clog.FromContext(ctx)
	for _, res := range results {
		t := st.Thread(res.ThreadID)
		if t == nil {
			continue
		}
		switch res.Outcome {
		case patchcoord.OutcomeApplied:
			t.Status = review.StatusApplied
			t.CommitRef = res.CommitRef
			st.HeadRef = res.CommitRef
		case patchcoord.OutcomeEscalate:
			c.supersede(ctx, st, t, res.Reason)
		case patchcoord.OutcomeFailed:
			st.Retries++
			t.ApplyAttempts++
			if c.maxApplyFails > 0 && t.ApplyAttempts >= c.maxApplyFails {
				log.With("thread", res.ThreadID).
					With("error", res.Err.Error()).
					Warn("apply retry budget exhausted, escalating thread")
				c.supersede(ctx, st, t, fmt.Sprintf(
					"Automated fix failed %d times (last error: %v); deferring to a human.",
					t.ApplyAttempts, res.Err))
				continue
			}
			log.With("thread", res.ThreadID).
				With("error", res.Err.Error()).
				Warn("apply failed, thread stays open for next cycle")
		}
	}
}

// supersede replaces a thread's decision with an escalation, recording the
// superseding entry in the decision log.
func (c *Controller) supersede(ctx context.Context, st *review.PullRequestState, t *review.ReviewThread, reason string) {
	d := review.Decision{
		ThreadID:    t.ID,
		Revision:    t.Revision,
		Action:      review.ActionEscalate,
		Rationale:   reason,
		Risk:        review.RiskElevated,
		SnapshotSeq: st.SnapshotSeq,
		ContentHash: t.ContentHash,
		CreatedAt:   c.now(),
	}
	if err := c.store.AppendDecision(ctx, st.PR.Key(), &d); err != nil {
		clog.FromContext(ctx).With("thread", t.ID).
			With("error", err.Error()).
			Error("recording superseding escalation")
	}
	t.Decision = review.ActionEscalate
	metrics.RecordDecision(st.PR.String(), string(review.ActionEscalate))
}

func (c *Controller) resolve(ctx context.Context, st *review.PullRequestState) error {
	log := clog.FromContext(ctx)
	decisions, err := c.latestDecisions(ctx, st)
	if err != nil {
		return err
	}

	for _, t := range st.Threads {
		if t.Decision == "" || t.Resolved {
			continue
		}
		if t.Status == review.StatusEscalated && !t.SettlePending {
			continue
		}
		if t.Decision == review.ActionFix && t.Status == review.StatusOpen {
			// The fix never landed; resolving would close the thread over an
			// unaddressed comment. It retries on the next cycle.
			continue
		}
		d, ok := decisions[t.ID]
		if !ok {
			log.With("thread", t.ID).Warn("decided thread missing from decision log")
			continue
		}
		if err := c.resolver.Settle(ctx, st.PR, t, d); err != nil {
			// Contained: the thread keeps its settle-pending flag and is
			// retried next cycle.
			st.Retries++
			log.With("thread", t.ID).With("error", err.Error()).Warn("settle attempt failed")
		}
	}

	st.Phase = review.PhaseWaitingChecks
	return c.persist(ctx, st)
}

// latestDecisions returns each thread's most recent decision matching its
// current revision.
func (c *Controller) latestDecisions(ctx context.Context, st *review.PullRequestState) (map[string]*review.Decision, error) {
	all, err := c.store.Decisions(ctx, st.PR.Key())
	if err != nil {
		return nil, fmt.Errorf("loading decision log for %s: %w", st.PR, err)
	}
	out := map[string]*review.Decision{}
	for i := range all {
		d := &all[i]
		t := st.Thread(d.ThreadID)
		if t == nil || d.Revision != t.Revision {
			continue
		}
		out[d.ThreadID] = d
	}
	return out, nil
}

// gate blocks merging until checks pass, no escalation is open, and every
// required reviewer has signed off. It returns done=false for a bounded wait.
func (c *Controller) gate(ctx context.Context, st *review.PullRequestState) (bool, error) {
	log := clog.FromContext(ctx)

	if st.SettlesOutstanding() {
		// A settle retry is owed before gating; run another cycle.
		st.Phase = review.PhaseCollecting
		return true, c.persist(ctx, st)
	}

	state, err := c.platform.CheckStatus(ctx, st.PR)
	if err != nil {
		return false, err
	}
	switch state {
	case review.CheckPending:
		log.Info("checks pending")
		return false, nil
	case review.CheckFailure:
		// A failed check after our fixes is not retried blindly; a human
		// (or the next triage pass) owns the follow-up.
		st.Phase = review.PhaseEscalated
		st.AbortCause = "verification checks failed after applying fixes"
		c.postSummaryComment(ctx, st, "Verification checks failed after automated fixes were applied; leaving this PR for human follow-up.")
		return true, c.persist(ctx, st)
	}

	if st.OpenEscalations() {
		st.Phase = review.PhaseEscalated
		st.AbortCause = "threads escalated for human input"
		c.postSummaryComment(ctx, st, "Some review threads need human input before this PR can merge; see the open threads above.")
		return true, c.persist(ctx, st)
	}

	if outstanding, err := c.reviewerOutstanding(ctx, st); err != nil {
		return false, err
	} else if outstanding {
		log.Info("required reviewer approval outstanding")
		return false, nil
	}

	st.Phase = review.PhaseMerging
	return true, c.persist(ctx, st)
}

// reviewerOutstanding reports whether a required reviewer has yet to post a
// terminal review.
func (c *Controller) reviewerOutstanding(ctx context.Context, st *review.PullRequestState) (bool, error) {
	required := c.engine.Policy().RequiredReviewers
	if len(required) == 0 {
		return false, nil
	}
	reviews, err := c.platform.ListReviews(ctx, st.PR)
	if err != nil {
		return false, err
	}
	terminal := map[string]bool{}
	for _, r := range reviews {
		if r.Terminal() {
			terminal[r.Author] = true
		}
	}
	for _, login := range required {
		if !terminal[login] {
			return true, nil
		}
	}
	return false, nil
}

func (c *Controller) merge(ctx context.Context, st *review.PullRequestState) error {
	log := clog.FromContext(ctx)
	if err := c.platform.Merge(ctx, st.PR, c.engine.Policy().MergeStrategy); err != nil {
		return err
	}
	if err := c.platform.DeleteBranch(ctx, st.PR); err != nil {
		// The merge landed; a leftover branch is worth a warning, not an
		// abort.
		log.With("error", err.Error()).Warn("deleting merged branch")
	}
	st.Phase = review.PhaseCompleted
	return c.persist(ctx, st)
}

// abort moves the lifecycle to Aborted, persists full diagnostic state, and
// releases the lock. The abort is the handling, so the key completes.
func (c *Controller) abort(ctx context.Context, st *review.PullRequestState, cause string, err error) error {
	log := clog.FromContext(ctx)
	if err != nil {
		log = log.With("error", err.Error())
	}
	log.With("cause", cause).Error("aborting lifecycle")

	st.Phase = review.PhaseAborted
	st.AbortCause = cause
	if perr := c.finish(ctx, st); perr != nil {
		log.With("error", perr.Error()).Error("persisting aborted state")
	}
	return nil
}

// finish persists a terminal state, emits the run summary, and releases the
// lock.
func (c *Controller) finish(ctx context.Context, st *review.PullRequestState) error {
	log := clog.FromContext(ctx)

	summary := review.Summarize(st, c.now())
	log.With("outcome", summary.Outcome).
		With("fixed", summary.Fixed).
		With("ignored", summary.Ignored).
		With("escalated", summary.Escalated).
		With("resolved", summary.Resolved).
		With("retries", summary.Retries).
		With("cycles", summary.Cycles).
		With("elapsed", summary.Elapsed).
		Info("lifecycle finished")
	metrics.RecordOutcome(st.PR.String(), string(st.Phase), summary.Elapsed)

	token := st.LockToken
	st.LockToken = ""
	if err := c.persist(ctx, st); err != nil {
		return err
	}
	if token != "" {
		if err := c.locks.Release(ctx, st.PR.Key(), token); err != nil {
			log.With("error", err.Error()).Warn("releasing lock")
		}
	}
	return nil
}

func (c *Controller) postSummaryComment(ctx context.Context, st *review.PullRequestState, body string) {
	if err := c.platform.PostComment(ctx, st.PR, body); err != nil {
		clog.FromContext(ctx).With("error", err.Error()).Warn("posting summary comment")
	}
}

func (c *Controller) persist(ctx context.Context, st *review.PullRequestState) error {
	st.UpdatedAt = c.now()
	if err := c.store.PutPRState(ctx, st); err != nil {
		return review.Fatal("persisting state", err)
	}
	return nil
}
