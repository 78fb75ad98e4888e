/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package normalize

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"

	"chainguard.dev/reviewflow/review"
)

// Threads groups raw comments into review threads. Comments sharing a
// platform-native thread id form one thread; comments without one are grouped
// by file and overlapping line range. Bodies are concatenated in chronological
// order with author attribution so the decision rationale sees the whole
// conversation.
func Threads(raw []review.RawComment) []review.ReviewThread {
	// Sort up front so grouping and concatenation order never depend on the
	// platform's response ordering.
	sorted := append([]review.RawComment(nil), raw...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].CommentID < sorted[j].CommentID
	})

	var groups []*group
	byID := map[string]*group{}
	for i := range sorted {
		c := &sorted[i]
		g := findGroup(byID, groups, c)
		if g == nil {
			g = &group{
				id:    c.ThreadID,
				file:  c.File,
				start: c.StartLine,
				end:   c.EndLine,
			}
			if g.id == "" {
				g.id = fmt.Sprintf("%s:%d", c.File, c.CommentID)
			}
			if g.end < g.start {
				g.end = g.start
			}
			groups = append(groups, g)
			if c.ThreadID != "" {
				byID[c.ThreadID] = g
			}
		}
		g.add(c)
	}

	out := make([]review.ReviewThread, 0, len(groups))
	for _, g := range groups {
		out = append(out, g.thread())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type group struct {
	id         string
	file       string
	start, end int
	author     string
	comments   []string
}

func findGroup(byID map[string]*group, groups []*group, c *review.RawComment) *group {
	if c.ThreadID != "" {
		return byID[c.ThreadID]
	}
	for _, g := range groups {
		if g.file == c.File && overlaps(g.start, g.end, c.StartLine, c.EndLine) {
			return g
		}
	}
	return nil
}

func overlaps(aStart, aEnd, bStart, bEnd int) bool {
	if bEnd < bStart {
		bEnd = bStart
	}
	return aStart <= bEnd && bStart <= aEnd
}

func (g *group) add(c *review.RawComment) {
	if g.author == "" {
		g.author = c.Author
	}
	if c.StartLine != 0 && (g.start == 0 || c.StartLine < g.start) {
		g.start = c.StartLine
	}
	if c.EndLine > g.end {
		g.end = c.EndLine
	}
	g.comments = append(g.comments, fmt.Sprintf("%s: %s", c.Author, strings.TrimSpace(c.Body)))
}

func (g *group) thread() review.ReviewThread {
	body := strings.Join(g.comments, "\n\n")
	return review.ReviewThread{
		ID:          g.id,
		File:        g.file,
		StartLine:   g.start,
		EndLine:     g.end,
		Author:      g.author,
		Body:        body,
		Suggestion:  ExtractSuggestion(body),
		ContentHash: ContentHash(g.id, body),
		Status:      review.StatusOpen,
	}
}

// ContentHash is the drift-detection hash for a thread's conversation.
func ContentHash(id, body string) string {
	h := sha256.Sum256([]byte(id + "\x00" + body))
	return fmt.Sprintf("%x", h)
}

// ExtractSuggestion returns the contents of the first ```suggestion fence in
// body, or "" when the thread carries no concrete suggestion.
func ExtractSuggestion(body string) string {
	const fence = "```suggestion"
	i := strings.Index(body, fence)
	if i < 0 {
		return ""
	}
	rest := body[i+len(fence):]
	// The fence marker ends at the first newline; anything between it and the
	// closing fence is the suggested replacement.
	if j := strings.Index(rest, "\n"); j >= 0 {
		rest = rest[j+1:]
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return ""
	}
	return strings.TrimRight(rest[:end], "\n")
}
