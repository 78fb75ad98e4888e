/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package review

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Phase is the top-level lifecycle state of a pull request under
// reconciliation.
type Phase string

const (
	PhaseCreated           Phase = "created"
	PhaseWaitingForReviews Phase = "waiting-for-reviews"
	PhaseCollecting        Phase = "collecting"
	PhaseDeciding          Phase = "deciding"
	PhasePatching          Phase = "patching"
	PhaseResolving         Phase = "resolving"
	PhaseWaitingChecks     Phase = "waiting-checks"
	PhaseMerging           Phase = "merging"
	PhaseCompleted         Phase = "completed"
	PhaseAborted           Phase = "aborted"
	PhaseEscalated         Phase = "escalated"
)

// Terminal reports whether the phase ends the lifecycle. Terminal states
// archive the PullRequestState; it is never mutated again.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseCompleted, PhaseAborted, PhaseEscalated:
		return true
	}
	return false
}

// Severity classifies how strongly a thread's feedback should be acted on.
type Severity string

const (
	SeverityCritical      Severity = "critical"
	SeverityRecommended   Severity = "recommended"
	SeverityMinor         Severity = "minor"
	SeverityInformational Severity = "informational"
)

// Category is a coarse topic label for a thread. CategoryUnknown is the
// conservative default when classification fails.
type Category string

const (
	CategoryBug           Category = "bug"
	CategorySecurity      Category = "security"
	CategoryStyle         Category = "style"
	CategoryPerformance   Category = "performance"
	CategoryQuestion      Category = "question"
	CategoryInformational Category = "informational"
	CategoryUnknown       Category = "unknown"
)

// Action is the decided disposition for a thread.
type Action string

const (
	ActionFix      Action = "fix"
	ActionIgnore   Action = "ignore"
	ActionEscalate Action = "escalate"
)

// ThreadStatus tracks a thread's progress through the cycle.
type ThreadStatus string

const (
	StatusOpen      ThreadStatus = "open"
	StatusApplied   ThreadStatus = "applied"
	StatusEscalated ThreadStatus = "escalated"
	StatusResolved  ThreadStatus = "resolved"
)

// RiskTag is the structural risk assessment attached to a Decision.
type RiskTag string

const (
	RiskLow      RiskTag = "low"
	RiskElevated RiskTag = "elevated"
)

// PRRef identifies a pull request and the branch it proposes.
type PRRef struct {
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Number int    `json:"number"`
	Branch string `json:"branch"`
}

// Key renders the reference as a workqueue key of the form
// "{owner}/{repo}#{number}@{branch}".
func (r PRRef) Key() string {
	return fmt.Sprintf("%s/%s#%d@%s", r.Owner, r.Repo, r.Number, r.Branch)
}

func (r PRRef) String() string {
	return fmt.Sprintf("%s/%s#%d", r.Owner, r.Repo, r.Number)
}

// ParseKey parses a key produced by PRRef.Key.
func ParseKey(key string) (PRRef, error) {
	rest, branch, ok := strings.Cut(key, "@")
	if !ok {
		return PRRef{}, fmt.Errorf("key %q missing branch component", key)
	}
	repoPart, numPart, ok := strings.Cut(rest, "#")
	if !ok {
		return PRRef{}, fmt.Errorf("key %q missing PR number", key)
	}
	owner, repo, ok := strings.Cut(repoPart, "/")
	if !ok || owner == "" || repo == "" {
		return PRRef{}, fmt.Errorf("key %q missing owner/repo", key)
	}
	n, err := strconv.Atoi(numPart)
	if err != nil || n <= 0 {
		return PRRef{}, fmt.Errorf("key %q has invalid PR number %q", key, numPart)
	}
	return PRRef{Owner: owner, Repo: repo, Number: n, Branch: branch}, nil
}

// RawComment is a single platform comment before normalization. ThreadID is
// the platform-native thread identifier when the platform has one.
type RawComment struct {
	ThreadID  string
	CommentID int64
	File      string
	StartLine int
	EndLine   int
	Author    string
	Body      string
	CreatedAt time.Time
	Resolved  bool
}

// ReviewThread is one grouped reviewer conversation attached to a file and
// line range.
type ReviewThread struct {
	ID        string `json:"id"`
	Revision  int    `json:"revision"`
	File      string `json:"file"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Author    string `json:"author"`

	// Body is the chronological concatenation of the thread's comments.
	// Suggestion holds the contents of a ```suggestion fence, if any.
	Body       string `json:"body"`
	Suggestion string `json:"suggestion,omitempty"`

	ContentHash string `json:"content_hash"`

	Category Category `json:"category"`
	Severity Severity `json:"severity"`

	// Decision bookkeeping. DecidedHash records the content hash the current
	// decision was computed from; a differing ContentHash re-triggers
	// classification and decision on the next cycle.
	Decision    Action `json:"decision,omitempty"`
	DecidedHash string `json:"decided_hash,omitempty"`

	Status    ThreadStatus `json:"status"`
	CommitRef string       `json:"commit_ref,omitempty"`

	// ApplyAttempts counts contained apply failures for the current decision.
	// It resets whenever the thread is re-decided or re-opened.
	ApplyAttempts int `json:"apply_attempts,omitempty"`

	// Resolved is our own record of a successful resolveThread call. The
	// platform call is not assumed idempotent, so this flag is the single
	// source of truth for "did we already call resolve".
	Resolved bool `json:"resolved"`

	// RationalePosted records that the rationale comment landed, so a failed
	// resolve call retried on a later cycle does not repost it.
	RationalePosted bool `json:"rationale_posted"`

	// SettlePending marks a decided thread whose settle attempt failed and
	// must be retried next cycle.
	SettlePending bool `json:"settle_pending"`
}

// Snapshot is an immutable point-in-time capture of branch head and thread
// content hashes, used for drift detection. Snapshots are superseded, never
// mutated.
type Snapshot struct {
	PR           string            `json:"pr"`
	Seq          uint64            `json:"seq"`
	HeadRef      string            `json:"head_ref"`
	ThreadHashes map[string]string `json:"thread_hashes"`
	TakenAt      time.Time         `json:"taken_at"`
}

// Changed reports whether the given thread content differs from what this
// snapshot recorded (or is absent from it).
func (s *Snapshot) Changed(threadID, contentHash string) bool {
	h, ok := s.ThreadHashes[threadID]
	return !ok || h != contentHash
}

// Decision is an append-only record of a per-thread disposition. Decisions
// are never edited; a re-opened thread gets a superseding Decision under a
// higher revision.
type Decision struct {
	ThreadID    string    `json:"thread_id"`
	Revision    int       `json:"revision"`
	Action      Action    `json:"action"`
	Rationale   string    `json:"rationale"`
	Risk        RiskTag   `json:"risk"`
	SnapshotSeq uint64    `json:"snapshot_seq"`
	ContentHash string    `json:"content_hash"`
	CreatedAt   time.Time `json:"created_at"`
}

// PullRequestState is the durable lifecycle record for one PR under
// management. It is mutated only by the lifecycle controller and persisted
// after every phase transition.
type PullRequestState struct {
	PR          PRRef                    `json:"pr"`
	Phase       Phase                    `json:"phase"`
	HeadRef     string                   `json:"head_ref"`
	SnapshotSeq uint64                   `json:"snapshot_seq"`
	Threads     map[string]*ReviewThread `json:"threads"`

	Retries    int    `json:"retries"`
	Transient  int    `json:"transient"` // consecutive transient failures
	Cycles     int    `json:"cycles"`
	AbortCause string `json:"abort_cause,omitempty"`

	LockToken string    `json:"lock_token,omitempty"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewPullRequestState creates the initial record for a freshly sighted PR.
func NewPullRequestState(pr PRRef, now time.Time) *PullRequestState {
	return &PullRequestState{
		PR:        pr,
		Phase:     PhaseCreated,
		Threads:   map[string]*ReviewThread{},
		StartedAt: now,
		UpdatedAt: now,
	}
}

// Thread returns the thread with the given id, or nil.
func (st *PullRequestState) Thread(id string) *ReviewThread {
	return st.Threads[id]
}

// FixesOutstanding reports whether any fix-decided thread has not yet been
// applied or terminally failed.
func (st *PullRequestState) FixesOutstanding() bool {
	for _, t := range st.Threads {
		if t.Decision == ActionFix && t.Status == StatusOpen {
			return true
		}
	}
	return false
}

// SettlesOutstanding reports whether any decided thread still needs a settle
// attempt (including retries of failed resolve calls).
func (st *PullRequestState) SettlesOutstanding() bool {
	for _, t := range st.Threads {
		if t.Decision == "" {
			continue
		}
		if t.SettlePending {
			return true
		}
		if !t.Resolved && t.Status != StatusEscalated {
			return true
		}
	}
	return false
}

// OpenEscalations reports whether any thread was escalated and is still
// awaiting human input. Escalated threads block merging.
func (st *PullRequestState) OpenEscalations() bool {
	for _, t := range st.Threads {
		if t.Status == StatusEscalated {
			return true
		}
	}
	return false
}

// Summary is the run-level record emitted once per lifecycle completion or
// abort.
type Summary struct {
	PR        string        `json:"pr"`
	Outcome   Phase         `json:"outcome"`
	Fixed     int           `json:"fixed"`
	Ignored   int           `json:"ignored"`
	Escalated int           `json:"escalated"`
	Resolved  int           `json:"resolved"`
	Retries   int           `json:"retries"`
	Cycles    int           `json:"cycles"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Summarize computes the run summary for a state record.
func Summarize(st *PullRequestState, now time.Time) Summary {
	s := Summary{
		PR:      st.PR.Key(),
		Outcome: st.Phase,
		Retries: st.Retries,
		Cycles:  st.Cycles,
		Elapsed: now.Sub(st.StartedAt),
	}
	for _, t := range st.Threads {
		switch t.Decision {
		case ActionFix:
			s.Fixed++
		case ActionIgnore:
			s.Ignored++
		case ActionEscalate:
			s.Escalated++
		}
		if t.Resolved {
			s.Resolved++
		}
	}
	return s
}
