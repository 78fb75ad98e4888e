/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package githubplatform

import (
	"context"
	"time"

	"chainguard.dev/reviewflow/review"
	"github.com/shurcooL/githubv4"
)

// ListThreads pages through the PR's review threads, flattening each thread's
// comments. The GraphQL thread node ID becomes the RawComment ThreadID, which
// is what the resolve mutation later needs.
func (c *Client) ListThreads(ctx context.Context, pr review.PRRef) ([]review.RawComment, error) {
	var q struct {
		Repository struct {
			PullRequest struct {
				ReviewThreads struct {
					Nodes []struct {
						ID         string
						IsResolved bool
						Path       string
						Line       *int
						StartLine  *int
						Comments   struct {
							Nodes []struct {
								DatabaseID int64
								Author     struct{ Login string }
								Body       string
								CreatedAt  time.Time
							}
						} `graphql:"comments(first: 100)"`
					}
					PageInfo struct {
						HasNextPage bool
						EndCursor   githubv4.String
					}
				} `graphql:"reviewThreads(first: 50, after: $cursor)"`
			} `graphql:"pullRequest(number: $number)"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}

	variables := map[string]any{
		"owner":  githubv4.String(pr.Owner),
		"name":   githubv4.String(pr.Repo),
		"number": githubv4.Int(pr.Number),
		"cursor": (*githubv4.String)(nil),
	}

	var out []review.RawComment
	for {
		if err := c.gql.Query(ctx, &q, variables); err != nil {
			return nil, wrap("listing review threads", err)
		}
		for _, th := range q.Repository.PullRequest.ReviewThreads.Nodes {
			line, start := 0, 0
			if th.Line != nil {
				line = *th.Line
			}
			if th.StartLine != nil {
				start = *th.StartLine
			} else {
				start = line
			}
			for _, cm := range th.Comments.Nodes {
				out = append(out, review.RawComment{
					ThreadID:  th.ID,
					CommentID: cm.DatabaseID,
					File:      th.Path,
					StartLine: start,
					EndLine:   line,
					Author:    cm.Author.Login,
					Body:      cm.Body,
					CreatedAt: cm.CreatedAt,
					Resolved:  th.IsResolved,
				})
			}
		}
		page := q.Repository.PullRequest.ReviewThreads.PageInfo
		if !page.HasNextPage {
			break
		}
		variables["cursor"] = githubv4.NewString(page.EndCursor)
	}
	return out, nil
}

func (c *Client) PostThreadComment(ctx context.Context, _ review.PRRef, threadID, body string) error {
	var m struct {
		AddPullRequestReviewThreadReply struct {
			Comment struct{ ID string }
		} `graphql:"addPullRequestReviewThreadReply(input: $input)"`
	}
	input := githubv4.AddPullRequestReviewThreadReplyInput{
		PullRequestReviewThreadID: githubv4.ID(threadID),
		Body:                      githubv4.String(body),
	}
	return wrap("replying to thread", c.gql.Mutate(ctx, &m, input, nil))
}

func (c *Client) ResolveThread(ctx context.Context, threadID string) error {
	var m struct {
		ResolveReviewThread struct {
			Thread struct{ IsResolved bool }
		} `graphql:"resolveReviewThread(input: $input)"`
	}
	input := githubv4.ResolveReviewThreadInput{
		ThreadID: githubv4.ID(threadID),
	}
	return wrap("resolving thread", c.gql.Mutate(ctx, &m, input, nil))
}

// CheckStatus reads the status check rollup on the PR's head commit. A PR
// with no checks configured reports success, not pending: there is nothing
// to wait for.
func (c *Client) CheckStatus(ctx context.Context, pr review.PRRef) (review.CheckState, error) {
	var q struct {
		Repository struct {
			PullRequest struct {
				Commits struct {
					Nodes []struct {
						Commit struct {
							StatusCheckRollup *struct {
								State string
							}
						}
					}
				} `graphql:"commits(last: 1)"`
			} `graphql:"pullRequest(number: $number)"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}
	variables := map[string]any{
		"owner":  githubv4.String(pr.Owner),
		"name":   githubv4.String(pr.Repo),
		"number": githubv4.Int(pr.Number),
	}
	if err := c.gql.Query(ctx, &q, variables); err != nil {
		return "", wrap("reading check rollup", err)
	}

	nodes := q.Repository.PullRequest.Commits.Nodes
	if len(nodes) == 0 || nodes[0].Commit.StatusCheckRollup == nil {
		return review.CheckSuccess, nil
	}
	return rollupState(nodes[0].Commit.StatusCheckRollup.State), nil
}

// rollupState maps GitHub's rollup vocabulary onto the three states the
// lifecycle cares about.
func rollupState(state string) review.CheckState {
	switch state {
	case "SUCCESS":
		return review.CheckSuccess
	case "PENDING", "EXPECTED":
		return review.CheckPending
	default:
		// ERROR and FAILURE both gate the merge.
		return review.CheckFailure
	}
}
