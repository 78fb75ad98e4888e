/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package reviewtest provides func-field fakes for the collaborator
// interfaces. Unset fields return zero values so tests only wire what they
// exercise.
package reviewtest

import (
	"context"
	"sync"

	"chainguard.dev/reviewflow/review"
)

// Platform is a fake review.Platform. Calls are recorded under the methods'
// names for assertion; handlers are optional.
type Platform struct {
	mu    sync.Mutex
	calls map[string]int

	ListThreadsFunc       func(ctx context.Context, pr review.PRRef) ([]review.RawComment, error)
	ListReviewsFunc       func(ctx context.Context, pr review.PRRef) ([]review.Review, error)
	LabelsFunc            func(ctx context.Context, pr review.PRRef) ([]string, error)
	PostThreadCommentFunc func(ctx context.Context, pr review.PRRef, threadID, body string) error
	PostCommentFunc       func(ctx context.Context, pr review.PRRef, body string) error
	ResolveThreadFunc     func(ctx context.Context, threadID string) error
	CheckStatusFunc       func(ctx context.Context, pr review.PRRef) (review.CheckState, error)
	MergeFunc             func(ctx context.Context, pr review.PRRef, strategy string) error
	DeleteBranchFunc      func(ctx context.Context, pr review.PRRef) error
}

var _ review.Platform = (*Platform)(nil)

func (p *Platform) record(method string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls == nil {
		p.calls = map[string]int{}
	}
	p.calls[method]++
}

// Calls returns how many times the named method was invoked.
func (p *Platform) Calls(method string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[method]
}

func (p *Platform) ListThreads(ctx context.Context, pr review.PRRef) ([]review.RawComment, error) {
	p.record("ListThreads")
	if p.ListThreadsFunc == nil {
		return nil, nil
	}
	return p.ListThreadsFunc(ctx, pr)
}

func (p *Platform) ListReviews(ctx context.Context, pr review.PRRef) ([]review.Review, error) {
	p.record("ListReviews")
	if p.ListReviewsFunc == nil {
		return nil, nil
	}
	return p.ListReviewsFunc(ctx, pr)
}

func (p *Platform) Labels(ctx context.Context, pr review.PRRef) ([]string, error) {
	p.record("Labels")
	if p.LabelsFunc == nil {
		return nil, nil
	}
	return p.LabelsFunc(ctx, pr)
}

func (p *Platform) PostThreadComment(ctx context.Context, pr review.PRRef, threadID, body string) error {
	p.record("PostThreadComment")
	if p.PostThreadCommentFunc == nil {
		return nil
	}
	return p.PostThreadCommentFunc(ctx, pr, threadID, body)
}

func (p *Platform) PostComment(ctx context.Context, pr review.PRRef, body string) error {
	p.record("PostComment")
	if p.PostCommentFunc == nil {
		return nil
	}
	return p.PostCommentFunc(ctx, pr, body)
}

func (p *Platform) ResolveThread(ctx context.Context, threadID string) error {
	p.record("ResolveThread")
	if p.ResolveThreadFunc == nil {
		return nil
	}
	return p.ResolveThreadFunc(ctx, threadID)
}

func (p *Platform) CheckStatus(ctx context.Context, pr review.PRRef) (review.CheckState, error) {
	p.record("CheckStatus")
	if p.CheckStatusFunc == nil {
		return review.CheckSuccess, nil
	}
	return p.CheckStatusFunc(ctx, pr)
}

func (p *Platform) Merge(ctx context.Context, pr review.PRRef, strategy string) error {
	p.record("Merge")
	if p.MergeFunc == nil {
		return nil
	}
	return p.MergeFunc(ctx, pr, strategy)
}

func (p *Platform) DeleteBranch(ctx context.Context, pr review.PRRef) error {
	p.record("DeleteBranch")
	if p.DeleteBranchFunc == nil {
		return nil
	}
	return p.DeleteBranchFunc(ctx, pr)
}

// VCS is a fake review.VCS.
type VCS struct {
	mu    sync.Mutex
	calls map[string]int

	HeadFunc       func(ctx context.Context, pr review.PRRef) (string, error)
	ReadFileFunc   func(ctx context.Context, pr review.PRRef, path string) (string, error)
	CheckPatchFunc func(ctx context.Context, pr review.PRRef, p *review.PatchProposal) error
	ApplyPatchFunc func(ctx context.Context, pr review.PRRef, p *review.PatchProposal, message string) (string, error)
	PushFunc       func(ctx context.Context, pr review.PRRef) error
}

var _ review.VCS = (*VCS)(nil)

func (v *VCS) record(method string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.calls == nil {
		v.calls = map[string]int{}
	}
	v.calls[method]++
}

// Calls returns how many times the named method was invoked.
func (v *VCS) Calls(method string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls[method]
}

func (v *VCS) Head(ctx context.Context, pr review.PRRef) (string, error) {
	v.record("Head")
	if v.HeadFunc == nil {
		return "", nil
	}
	return v.HeadFunc(ctx, pr)
}

func (v *VCS) ReadFile(ctx context.Context, pr review.PRRef, path string) (string, error) {
	v.record("ReadFile")
	if v.ReadFileFunc == nil {
		return "", nil
	}
	return v.ReadFileFunc(ctx, pr, path)
}

func (v *VCS) CheckPatch(ctx context.Context, pr review.PRRef, p *review.PatchProposal) error {
	v.record("CheckPatch")
	if v.CheckPatchFunc == nil {
		return nil
	}
	return v.CheckPatchFunc(ctx, pr, p)
}

func (v *VCS) ApplyPatch(ctx context.Context, pr review.PRRef, p *review.PatchProposal, message string) (string, error) {
	v.record("ApplyPatch")
	if v.ApplyPatchFunc == nil {
		return "", nil
	}
	return v.ApplyPatchFunc(ctx, pr, p, message)
}

func (v *VCS) Push(ctx context.Context, pr review.PRRef) error {
	v.record("Push")
	if v.PushFunc == nil {
		return nil
	}
	return v.PushFunc(ctx, pr)
}

// Proposer is a fake review.Proposer.
type Proposer struct {
	ProposePatchFunc func(ctx context.Context, req review.PatchRequest) (*review.PatchProposal, error)
}

var _ review.Proposer = (*Proposer)(nil)

func (p *Proposer) ProposePatch(ctx context.Context, req review.PatchRequest) (*review.PatchProposal, error) {
	if p.ProposePatchFunc == nil {
		return nil, nil
	}
	return p.ProposePatchFunc(ctx, req)
}
