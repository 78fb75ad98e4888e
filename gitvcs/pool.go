/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package gitvcs implements the version-control collaborator over go-git.
// Each repository gets one long-lived clone; operations serialize per clone
// and always target the PR's head branch. Pushes are never forced: the PR
// branch is shared with humans, and a rejected push is the staleness signal
// the lifecycle depends on.
package gitvcs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"chainguard.dev/reviewflow/review"
	"github.com/chainguard-dev/clog"
	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"golang.org/x/oauth2"
)

const cloneDirPrefix = "reviewflow-clone-"

// Pool owns one clone per repository, keyed by owner/repo. Clones are created
// lazily on first use and reused across reconciliation cycles.
type Pool struct {
	tokens   oauth2.TokenSource
	identity string
	remote   func(pr review.PRRef) string
	now      func() time.Time

	mu     sync.Mutex
	clones map[string]*repoClone
}

var _ review.VCS = (*Pool)(nil)

// Option configures a Pool.
type Option func(*Pool)

// WithRemoteURL overrides remote URL resolution, letting tests point at
// local filesystem repositories.
func WithRemoteURL(fn func(pr review.PRRef) string) Option {
	return func(p *Pool) { p.remote = fn }
}

// WithClock overrides the commit timestamp source.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// New constructs a Pool. The token source authenticates clones and pushes; a
// nil source is allowed for unauthenticated (local) remotes. Identity is the
// commit author name, suffixed with @chainguard.dev when it lacks a domain.
func New(tokens oauth2.TokenSource, identity string, opts ...Option) (*Pool, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, errors.New("identity cannot be empty")
	}
	p := &Pool{
		tokens:   tokens,
		identity: identity,
		remote: func(pr review.PRRef) string {
			return fmt.Sprintf("https://github.com/%s/%s", pr.Owner, pr.Repo)
		},
		now:    time.Now,
		clones: map[string]*repoClone{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type repoClone struct {
	mu     sync.Mutex
	path   string
	repo   *git.Repository
	branch string

	// ahead marks local commits that have not been pushed yet. While ahead,
	// the working tree is not reset to the remote so committed-but-unpushed
	// edits survive between operations.
	ahead bool
}

func (p *Pool) clone(ctx context.Context, pr review.PRRef) (*repoClone, error) {
	key := pr.Owner + "/" + pr.Repo
	p.mu.Lock()
	cl, ok := p.clones[key]
	if !ok {
		cl = &repoClone{branch: pr.Branch}
		p.clones[key] = cl
	}
	p.mu.Unlock()

	cl.mu.Lock()
	if cl.repo == nil {
		if err := p.materialize(ctx, cl, pr); err != nil {
			cl.mu.Unlock()
			p.mu.Lock()
			delete(p.clones, key)
			p.mu.Unlock()
			return nil, err
		}
	}
	return cl, nil
}

// materialize clones the repository into a temp dir, single-branch on the
// PR's head branch. Caller holds cl.mu.
func (p *Pool) materialize(ctx context.Context, cl *repoClone, pr review.PRRef) error {
	dir, err := os.MkdirTemp("", cloneDirPrefix)
	if err != nil {
		return fmt.Errorf("creating temp dir: %w", err)
	}

	remote := p.remote(pr)
	clog.FromContext(ctx).With("remote", remote).With("branch", pr.Branch).Info("cloning repository")

	auth, err := p.auth()
	if err != nil {
		os.RemoveAll(dir)
		return err
	}
	repo, err := git.PlainClone(dir, false, &git.CloneOptions{
		URL:           remote,
		ReferenceName: plumbing.NewBranchReferenceName(pr.Branch),
		SingleBranch:  true,
		Auth:          auth,
	})
	if err != nil {
		os.RemoveAll(dir)
		return review.Transient("cloning repository", err)
	}
	cl.path = dir
	cl.repo = repo
	cl.branch = pr.Branch
	return nil
}

func (p *Pool) auth() (*githttp.BasicAuth, error) {
	if p.tokens == nil {
		return nil, nil
	}
	tok, err := p.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("getting token: %w", err)
	}
	return &githttp.BasicAuth{
		Username: "unused-when-using-access-tokens",
		Password: tok.AccessToken,
	}, nil
}

// fetch refreshes the remote tracking ref for the clone's branch. Caller
// holds cl.mu.
func (p *Pool) fetch(cl *repoClone) error {
	auth, err := p.auth()
	if err != nil {
		return err
	}
	spec := gitconfig.RefSpec(fmt.Sprintf("+refs/heads/%s:refs/remotes/origin/%s", cl.branch, cl.branch))
	if err := cl.repo.Fetch(&git.FetchOptions{
		RefSpecs: []gitconfig.RefSpec{spec},
		Auth:     auth,
	}); err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return review.Transient("fetching branch", err)
	}
	return nil
}

func (p *Pool) remoteHead(cl *repoClone) (plumbing.Hash, error) {
	ref, err := cl.repo.Reference(plumbing.NewRemoteReferenceName("origin", cl.branch), true)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("reading remote ref for %s: %w", cl.branch, err)
	}
	return ref.Hash(), nil
}

// Head returns the current remote head of the PR's branch. It always fetches
// so foreign movement is observed promptly.
func (p *Pool) Head(ctx context.Context, pr review.PRRef) (string, error) {
	cl, err := p.clone(ctx, pr)
	if err != nil {
		return "", err
	}
	defer cl.mu.Unlock()

	if err := p.fetch(cl); err != nil {
		return "", err
	}
	h, err := p.remoteHead(cl)
	if err != nil {
		return "", err
	}
	return h.String(), nil
}

// checkout hard-resets the working tree to the remote head, unless local
// commits are waiting to be pushed. Caller holds cl.mu.
func (p *Pool) checkout(cl *repoClone) error {
	if cl.ahead {
		return nil
	}
	if err := p.fetch(cl); err != nil {
		return err
	}
	h, err := p.remoteHead(cl)
	if err != nil {
		return err
	}
	wt, err := cl.repo.Worktree()
	if err != nil {
		return fmt.Errorf("getting worktree: %w", err)
	}
	if err := wt.Reset(&git.ResetOptions{Commit: h, Mode: git.HardReset}); err != nil {
		return fmt.Errorf("resetting worktree to %s: %w", h, err)
	}
	if err := wt.Clean(&git.CleanOptions{Dir: true}); err != nil {
		return fmt.Errorf("cleaning worktree: %w", err)
	}
	return nil
}

// ReadFile returns the file's content at the branch head.
func (p *Pool) ReadFile(ctx context.Context, pr review.PRRef, path string) (string, error) {
	cl, err := p.clone(ctx, pr)
	if err != nil {
		return "", err
	}
	defer cl.mu.Unlock()

	if err := p.checkout(cl); err != nil {
		return "", err
	}
	raw, err := os.ReadFile(filepath.Join(cl.path, filepath.FromSlash(path)))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(raw), nil
}

// CheckPatch dry-runs the proposal: every edit's base hash must match the
// file currently in the tree. A mismatch means the file changed since the
// proposal was computed, which is a conflict, not a retry.
func (p *Pool) CheckPatch(ctx context.Context, pr review.PRRef, prop *review.PatchProposal) error {
	cl, err := p.clone(ctx, pr)
	if err != nil {
		return err
	}
	defer cl.mu.Unlock()

	if err := p.checkout(cl); err != nil {
		return err
	}
	for _, e := range prop.Edits {
		if e.BaseHash == "" {
			// New file; nothing to compare against.
			continue
		}
		raw, err := os.ReadFile(filepath.Join(cl.path, filepath.FromSlash(e.Path)))
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("%s was deleted since the proposal: %w", e.Path, review.ErrConflict)
			}
			return fmt.Errorf("reading %s: %w", e.Path, err)
		}
		if HashContent(string(raw)) != e.BaseHash {
			return fmt.Errorf("%s changed since the proposal: %w", e.Path, review.ErrConflict)
		}
	}
	return nil
}

// ApplyPatch writes the proposal's edits, stages them, and commits. The
// commit stays local until Push.
func (p *Pool) ApplyPatch(ctx context.Context, pr review.PRRef, prop *review.PatchProposal, message string) (string, error) {
	cl, err := p.clone(ctx, pr)
	if err != nil {
		return "", err
	}
	defer cl.mu.Unlock()

	if err := p.checkout(cl); err != nil {
		return "", err
	}
	wt, err := cl.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("getting worktree: %w", err)
	}
	for _, e := range prop.Edits {
		rel := filepath.FromSlash(e.Path)
		abs := filepath.Join(cl.path, rel)
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return "", fmt.Errorf("creating directory for %s: %w", e.Path, err)
		}
		if err := os.WriteFile(abs, []byte(e.Content), 0o644); err != nil {
			return "", fmt.Errorf("writing %s: %w", e.Path, err)
		}
		if _, err := wt.Add(e.Path); err != nil {
			return "", fmt.Errorf("staging %s: %w", e.Path, err)
		}
	}

	email := p.identity
	if !strings.Contains(email, "@") {
		email = fmt.Sprintf("%s@chainguard.dev", email)
	}
	h, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  p.identity,
			Email: email,
			When:  p.now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("committing: %w", err)
	}
	cl.ahead = true
	return h.String(), nil
}

// Push pushes the branch without force. A rejected non-fast-forward push
// means someone else moved the branch, which surfaces as ErrStale; the local
// clone is rolled back to the remote so the next cycle starts clean.
func (p *Pool) Push(ctx context.Context, pr review.PRRef) error {
	cl, err := p.clone(ctx, pr)
	if err != nil {
		return err
	}
	defer cl.mu.Unlock()

	auth, err := p.auth()
	if err != nil {
		return err
	}
	spec := gitconfig.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", cl.branch, cl.branch))
	err = cl.repo.Push(&git.PushOptions{
		RemoteName: "origin",
		RefSpecs:   []gitconfig.RefSpec{spec},
		Auth:       auth,
	})
	switch {
	case err == nil, errors.Is(err, git.NoErrAlreadyUpToDate):
		cl.ahead = false
		return nil
	case isNonFastForward(err):
		clog.FromContext(ctx).With("pr", pr.String()).Info("push rejected, branch moved remotely")
		cl.ahead = false
		if rerr := p.checkout(cl); rerr != nil {
			clog.FromContext(ctx).With("error", rerr.Error()).Warn("rolling back clone after rejected push")
		}
		return review.ErrStale
	default:
		// Discard the unpushed commit too. Keeping it would stack the next
		// thread's commit on top, and a later push would land both with only
		// one recorded on a thread.
		cl.ahead = false
		if rerr := p.checkout(cl); rerr != nil {
			clog.FromContext(ctx).With("error", rerr.Error()).Warn("rolling back clone after failed push")
		}
		return review.Transient("pushing branch", err)
	}
}

func isNonFastForward(err error) bool {
	return errors.Is(err, git.ErrNonFastForwardUpdate) ||
		strings.Contains(err.Error(), "non-fast-forward")
}

// HashContent returns the content hash used for patch base verification.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
