/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package agent

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"

	"chainguard.dev/reviewflow/review"
	"github.com/chainguard-dev/clog"
)

const proposeSystem = `You produce minimal code fixes for review feedback. You
are given the current content of the files a review thread touches and the
reviewer's conversation. Return the complete new content of every file you
change. Change as little as possible: address exactly the feedback, preserve
formatting and style, and never edit files you were not given. If the
feedback cannot be addressed with a safe mechanical change, decline.`

type proposal struct {
	Declined bool   `json:"declined" jsonschema:"description=True when no safe fix can be produced"`
	Reason   string `json:"reason" jsonschema:"description=Why the fix was declined, when declined"`
	Summary  string `json:"summary" jsonschema:"description=One-line description of the change"`
	Diff     string `json:"diff" jsonschema:"description=Unified diff of the change"`
	Files    []struct {
		Path    string `json:"path" jsonschema:"required"`
		Content string `json:"content" jsonschema:"required,description=Complete new file content"`
	} `json:"files"`
}

// Proposer delegates patch production to the model.
type Proposer struct {
	client *Client
}

var _ review.Proposer = (*Proposer)(nil)

// NewProposer wraps the client as the code-edit collaborator.
func NewProposer(client *Client) *Proposer {
	return &Proposer{client: client}
}

// ProposePatch asks the model for a fix. A declined proposal returns
// (nil, nil): no patch is a normal outcome, not a failure.
func (p *Proposer) ProposePatch(ctx context.Context, req review.PatchRequest) (*review.PatchProposal, error) {
	log := clog.FromContext(ctx).With("thread", req.Thread.ID)

	schema, err := schemaBlock[proposal]()
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Review thread on %s (lines %d-%d):\n\n%s\n\n",
		req.Thread.File, req.Thread.StartLine, req.Thread.EndLine, req.Thread.Body)
	if req.Thread.Suggestion != "" {
		fmt.Fprintf(&sb, "The reviewer suggested this replacement:\n```\n%s\n```\n\n", req.Thread.Suggestion)
	}
	if req.Guidelines != "" {
		fmt.Fprintf(&sb, "Project guidelines:\n%s\n\n", req.Guidelines)
	}
	for _, path := range sortedPaths(req.Files) {
		fmt.Fprintf(&sb, "=== %s ===\n%s\n\n", path, req.Files[path])
	}
	sb.WriteString(schema)

	text, err := p.client.Complete(ctx, proposeSystem, sb.String())
	if err != nil {
		return nil, fmt.Errorf("proposing patch for thread %s: %w", req.Thread.ID, err)
	}
	parsed, err := Decode[proposal](text)
	if err != nil {
		return nil, fmt.Errorf("parsing proposal for thread %s: %w", req.Thread.ID, err)
	}

	if parsed.Declined || len(parsed.Files) == 0 {
		log.With("reason", parsed.Reason).Info("model declined to produce a patch")
		return nil, nil
	}

	out := &review.PatchProposal{
		Summary: parsed.Summary,
		Diff:    parsed.Diff,
	}
	for _, f := range parsed.Files {
		base, ok := req.Files[f.Path]
		if !ok {
			// The model edited a file it was never given. Treat the whole
			// proposal as declined rather than apply an unreviewed edit.
			log.With("path", f.Path).Warn("proposal touched a file outside the request, discarding")
			return nil, nil
		}
		out.Edits = append(out.Edits, review.FileEdit{
			Path:     f.Path,
			Content:  f.Content,
			BaseHash: HashContent(base),
		})
	}
	return out, nil
}

// HashContent is the base-content hash recorded on file edits for conflict
// detection at apply time.
func HashContent(content string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(content)))
}

func sortedPaths(files map[string]string) []string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
