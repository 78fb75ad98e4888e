/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package workqueue

import (
	"errors"
	"fmt"
	"time"
)

// nonRetriableError marks a callback failure that must not be retried; the
// dispatcher completes the key instead of requeueing it.
type nonRetriableError struct {
	err    error
	reason string
}

func (e *nonRetriableError) Error() string {
	return fmt.Sprintf("%s: %v", e.reason, e.err)
}

func (e *nonRetriableError) Unwrap() error { return e.err }

// NonRetriableError wraps err so the dispatcher treats the failure as final.
func NonRetriableError(err error, reason string) error {
	return &nonRetriableError{err: err, reason: reason}
}

// IsNonRetriable reports whether err carries the non-retriable marker.
func IsNonRetriable(err error) bool {
	var nre *nonRetriableError
	return errors.As(err, &nre)
}

// QueueKey names a key for the dispatcher to queue on the callback's behalf.
type QueueKey struct {
	Key          string
	Priority     int64
	DelaySeconds int64
}

// queueKeysError is the sentinel a callback returns to have the dispatcher
// queue follow-up keys before completing the current one.
type queueKeysError struct {
	keys []QueueKey
}

func (e *queueKeysError) Error() string {
	return fmt.Sprintf("queue %d follow-up keys", len(e.keys))
}

// QueueKeys returns a sentinel instructing the dispatcher to queue the given
// keys and then complete the current key. With no keys it returns nil, which
// is plain success.
func QueueKeys(keys ...QueueKey) error {
	if len(keys) == 0 {
		return nil
	}
	return &queueKeysError{keys: keys}
}

// GetQueueKeys extracts the keys from a QueueKeys sentinel, or nil.
func GetQueueKeys(err error) []QueueKey {
	var qke *queueKeysError
	if errors.As(err, &qke) {
		return qke.keys
	}
	return nil
}

// requeueAfterError is the sentinel a callback returns to have its own key
// requeued after a delay. Used for bounded waits (e.g. polling CI checks).
type requeueAfterError struct {
	delay time.Duration
}

func (e *requeueAfterError) Error() string {
	return fmt.Sprintf("requeue after %v", e.delay)
}

// RequeueAfter returns a sentinel that completes the current key and queues
// it again no earlier than the given delay from now.
func RequeueAfter(delay time.Duration) error {
	return &requeueAfterError{delay: delay}
}

// GetRequeueDelay extracts the delay from a RequeueAfter sentinel.
func GetRequeueDelay(err error) (time.Duration, bool) {
	var rae *requeueAfterError
	if errors.As(err, &rae) {
		return rae.delay, true
	}
	return 0, false
}
