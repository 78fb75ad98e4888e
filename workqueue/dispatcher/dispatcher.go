/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package dispatcher

import (
	"context"
	"fmt"
	"time"

	"chainguard.dev/reviewflow/workqueue"
	"github.com/chainguard-dev/clog"
	"golang.org/x/sync/errgroup"
)

// Callback processes one key. Returning nil completes the key; the sentinel
// errors in the workqueue package queue follow-up keys or delay a requeue;
// any other error requeues the key until maxRetry is exhausted.
type Callback func(ctx context.Context, key string, opts workqueue.Options) error

// HandleAsync performs one dispatch round and returns a future resolving when
// every launched key has finished. Up to concurrency keys run at once;
// maxLaunch (when non-zero) additionally caps how many new keys one round may
// start; maxRetry (when non-zero) dead-letters keys that failed that many
// times before.
func HandleAsync(ctx context.Context, q workqueue.Interface, concurrency, maxLaunch int, cb Callback, maxRetry int) func() error {
	log := clog.FromContext(ctx)

	wip, queued, _, err := q.Enumerate(ctx)
	if err != nil {
		return func() error { return fmt.Errorf("enumerate() = %w", err) }
	}

	// Cleanup must succeed during shutdown, after ctx is cancelled.
	cleanupCtx := context.WithoutCancel(ctx)

	active := 0
	for _, k := range wip {
		if !k.IsOrphaned() {
			active++
			continue
		}
		log.With("key", k.Name()).Info("requeueing orphaned work")
		if err := k.Requeue(cleanupCtx); err != nil {
			return func() error { return fmt.Errorf("requeueing orphan %q: %w", k.Name(), err) }
		}
	}

	slots := concurrency - active
	if slots <= 0 {
		return func() error { return nil }
	}
	if maxLaunch > 0 && slots > maxLaunch {
		slots = maxLaunch
	}
	if slots > len(queued) {
		slots = len(queued)
	}

	eg := &errgroup.Group{}
	for _, k := range queued[:slots] {
		eg.Go(func() error {
			owned, err := k.Start(ctx)
			if err != nil {
				// Someone else claimed it between enumerate and start.
				log.With("key", k.Name()).With("error", err.Error()).Warn("could not start key")
				return nil
			}
			process(ctx, cleanupCtx, q, owned, cb, maxRetry)
			return nil
		})
	}
	return eg.Wait
}

func process(ctx, cleanupCtx context.Context, q workqueue.Interface, owned workqueue.OwnedInProgressKey, cb Callback, maxRetry int) {
	log := clog.FromContext(ctx).With("key", owned.Name())

	err := cb(ctx, owned.Name(), workqueue.Options{Priority: owned.Priority()})

	switch {
	case err == nil:
		if cerr := owned.Complete(cleanupCtx); cerr != nil {
			log.With("error", cerr.Error()).Error("completing key")
		}

	case workqueue.IsNonRetriable(err):
		log.With("error", err.Error()).Warn("non-retriable failure, completing key")
		if cerr := owned.Complete(cleanupCtx); cerr != nil {
			log.With("error", cerr.Error()).Error("completing key")
		}

	case isSentinel(err):
		if !queueFollowUps(cleanupCtx, q, owned, err) {
			if rerr := owned.Requeue(cleanupCtx); rerr != nil {
				log.With("error", rerr.Error()).Error("requeueing key")
			}
			return
		}
		if cerr := owned.Complete(cleanupCtx); cerr != nil {
			log.With("error", cerr.Error()).Error("completing key")
		}

	default:
		if maxRetry > 0 && owned.GetAttempts() >= maxRetry {
			log.With("error", err.Error()).
				With("attempts", owned.GetAttempts()).
				Error("retry budget exhausted, dead-lettering key")
			if derr := owned.Deadletter(cleanupCtx); derr != nil {
				log.With("error", derr.Error()).Error("dead-lettering key")
			}
			return
		}
		log.With("error", err.Error()).Warn("callback failed, requeueing key")
		if rerr := owned.Requeue(cleanupCtx); rerr != nil {
			log.With("error", rerr.Error()).Error("requeueing key")
		}
	}
}

func isSentinel(err error) bool {
	if _, ok := workqueue.GetRequeueDelay(err); ok {
		return true
	}
	return workqueue.GetQueueKeys(err) != nil
}

// queueFollowUps queues the keys named by a sentinel error, reporting whether
// every queue operation succeeded.
func queueFollowUps(ctx context.Context, q workqueue.Interface, owned workqueue.OwnedInProgressKey, err error) bool {
	log := clog.FromContext(ctx).With("key", owned.Name())

	keys := workqueue.GetQueueKeys(err)
	if delay, ok := workqueue.GetRequeueDelay(err); ok {
		keys = append(keys, workqueue.QueueKey{
			Key:          owned.Name(),
			Priority:     owned.Priority(),
			DelaySeconds: int64(delay / time.Second),
		})
	}
	for _, qk := range keys {
		opts := workqueue.Options{Priority: qk.Priority}
		if qk.DelaySeconds > 0 {
			opts.NotBefore = time.Now().Add(time.Duration(qk.DelaySeconds) * time.Second)
		}
		if qerr := q.Queue(ctx, qk.Key, opts); qerr != nil {
			log.With("child", qk.Key).With("error", qerr.Error()).Error("queueing follow-up key")
			return false
		}
	}
	return true
}
