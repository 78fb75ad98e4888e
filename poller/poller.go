/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package poller

import (
	"context"
	"fmt"
	"time"

	"chainguard.dev/reviewflow/normalize"
	"chainguard.dev/reviewflow/retry"
	"chainguard.dev/reviewflow/review"
	"chainguard.dev/reviewflow/statestore"
	"github.com/chainguard-dev/clog"
)

// Poller collects review activity for one PR at a time.
type Poller struct {
	platform review.Platform
	vcs      review.VCS
	store    statestore.Store

	interval  time.Duration
	reviewers []string
	retryCfg  retry.Config

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Poller.
type Option func(*Poller)

// WithInterval sets the polling cadence.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) { p.interval = d }
}

// WithRequiredReviewers sets the logins whose terminal reviews satisfy the
// stop condition. With none configured, any terminal review satisfies it.
func WithRequiredReviewers(logins []string) Option {
	return func(p *Poller) { p.reviewers = logins }
}

// WithRetryConfig sets the retry policy for failed platform queries.
func WithRetryConfig(cfg retry.Config) Option {
	return func(p *Poller) { p.retryCfg = cfg }
}

// WithClock overrides the time source and sleeper.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Poller) {
		p.now = now
		p.sleep = sleep
	}
}

// New constructs a Poller.
func New(platform review.Platform, vcs review.VCS, store statestore.Store, opts ...Option) *Poller {
	p := &Poller{
		platform: platform,
		vcs:      vcs,
		store:    store,
		interval: 15 * time.Second,
		retryCfg: retry.DefaultConfig(),
		now:      time.Now,
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

type observation struct {
	head    string
	threads []review.ReviewThread
	stopped bool
}

// Collect polls the platform until the stop condition holds or the deadline
// elapses, then persists and returns the last observed state as a snapshot
// under a fresh sequence number. The returned threads are the normalized view
// behind the snapshot's content hashes.
func (p *Poller) Collect(ctx context.Context, pr review.PRRef, deadline time.Time) (*review.Snapshot, []review.ReviewThread, error) {
	log := clog.FromContext(ctx).With("pr", pr.String())

	var last *observation
	for {
		obs, err := p.observe(ctx, pr)
		if err != nil {
			// A failed query past its retry budget ends collection; partial
			// state from earlier rounds is still usable.
			if last != nil {
				log.With("error", err.Error()).Warn("query failed, keeping last observation")
				break
			}
			return nil, nil, err
		}
		last = obs

		if obs.stopped {
			log.Info("stop condition met, ending collection")
			break
		}
		remaining := deadline.Sub(p.now())
		if remaining <= 0 {
			log.Info("poll deadline elapsed, returning partial collection")
			break
		}
		if err := p.sleep(ctx, min(p.interval, remaining)); err != nil {
			return nil, nil, err
		}
	}

	seq, err := p.store.NextSnapshotSeq(ctx, pr.Key())
	if err != nil {
		return nil, nil, fmt.Errorf("allocating snapshot seq for %s: %w", pr, err)
	}
	snap := &review.Snapshot{
		PR:           pr.Key(),
		Seq:          seq,
		HeadRef:      last.head,
		ThreadHashes: make(map[string]string, len(last.threads)),
		TakenAt:      p.now(),
	}
	for _, t := range last.threads {
		snap.ThreadHashes[t.ID] = t.ContentHash
	}
	if err := p.store.PutSnapshot(ctx, snap); err != nil {
		return nil, nil, fmt.Errorf("persisting snapshot %d for %s: %w", seq, pr, err)
	}

	log.With("seq", seq).
		With("head", snap.HeadRef).
		With("threads", len(last.threads)).
		Info("snapshot captured")
	return snap, last.threads, nil
}

func (p *Poller) observe(ctx context.Context, pr review.PRRef) (*observation, error) {
	raw, err := retry.Do(ctx, p.retryCfg, "list threads", review.IsTransient, func() ([]review.RawComment, error) {
		return p.platform.ListThreads(ctx, pr)
	})
	if err != nil {
		return nil, err
	}
	reviews, err := retry.Do(ctx, p.retryCfg, "list reviews", review.IsTransient, func() ([]review.Review, error) {
		return p.platform.ListReviews(ctx, pr)
	})
	if err != nil {
		return nil, err
	}
	head, err := retry.Do(ctx, p.retryCfg, "get head", review.IsTransient, func() (string, error) {
		return p.vcs.Head(ctx, pr)
	})
	if err != nil {
		return nil, err
	}

	return &observation{
		head:    head,
		threads: normalize.Threads(raw),
		stopped: p.stopConditionMet(reviews),
	}, nil
}

// stopConditionMet reports whether every required reviewer has posted at
// least one terminal review.
func (p *Poller) stopConditionMet(reviews []review.Review) bool {
	if len(p.reviewers) == 0 {
		for _, r := range reviews {
			if r.Terminal() {
				return true
			}
		}
		return false
	}
	terminal := map[string]bool{}
	for _, r := range reviews {
		if r.Terminal() {
			terminal[r.Author] = true
		}
	}
	for _, login := range p.reviewers {
		if !terminal[login] {
			return false
		}
	}
	return true
}
