/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package review

import (
	"errors"
	"fmt"
)

// ErrStale signals concurrency drift: the branch head assumed at decision
// time no longer matches the head at apply time. The caller must re-collect
// and re-decide, never retry the same operation.
var ErrStale = errors.New("branch head moved since snapshot")

// ErrConflict signals that a patch cannot be applied against the current
// tree. Conflicts map to escalation for the affected thread, never to blind
// retries.
var ErrConflict = errors.New("patch does not apply cleanly")

// ErrNoPatch signals that the code-edit collaborator declined to produce a
// patch for a fix-decided thread.
var ErrNoPatch = errors.New("no patch produced")

// TransientError wraps a network or API failure that is safe to retry with
// bounded backoff. Repeated consecutive transient failures beyond the
// configured ceiling become fatal for the whole lifecycle.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError for the named operation.
func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// PolicyViolationError marks a decision that would touch a disallowed path or
// action. It hard-fails the affected thread to escalation with no override.
type PolicyViolationError struct {
	Path string
	Rule string
}

func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("policy violation: path %q disallowed by rule %q", e.Path, e.Rule)
}

// IsPolicyViolation reports whether err is (or wraps) a PolicyViolationError.
func IsPolicyViolation(err error) bool {
	var pe *PolicyViolationError
	return errors.As(err, &pe)
}

// FatalError aborts the whole PR lifecycle: lock expiry conflicts,
// persistence corruption, or transient failures past the ceiling. The lock is
// released and full state persisted for inspection.
type FatalError struct {
	Cause string
	Err   error
}

func (e *FatalError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fatal: %s", e.Cause)
	}
	return fmt.Sprintf("fatal: %s: %v", e.Cause, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps err as a FatalError with the given cause.
func Fatal(cause string, err error) error {
	return &FatalError{Cause: cause, Err: err}
}

// IsFatal reports whether err is (or wraps) a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
