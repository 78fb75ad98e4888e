/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package githubplatform

import (
	"context"
	"net/http"

	"chainguard.dev/reviewflow/review"
	"github.com/google/go-github/v75/github"
	"github.com/shurcooL/githubv4"
)

// Client is the GitHub-backed review platform. It is stateless between calls
// and safe for concurrent use across PRs.
type Client struct {
	rest *github.Client
	gql  *githubv4.Client
}

var _ review.Platform = (*Client)(nil)

// New constructs a Client over an authenticated HTTP client. Both the REST
// and GraphQL clients share the transport, so one credential covers both.
func New(hc *http.Client) *Client {
	return &Client{
		rest: github.NewClient(hc),
		gql:  githubv4.NewClient(hc),
	}
}

func (c *Client) ListReviews(ctx context.Context, pr review.PRRef) ([]review.Review, error) {
	var out []review.Review
	opt := &github.ListOptions{PerPage: 100}
	for {
		reviews, resp, err := c.rest.PullRequests.ListReviews(ctx, pr.Owner, pr.Repo, pr.Number, opt)
		if err != nil {
			return nil, wrap("listing reviews", err)
		}
		for _, r := range reviews {
			out = append(out, review.Review{
				Author: r.GetUser().GetLogin(),
				State:  r.GetState(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}
	return out, nil
}

func (c *Client) Labels(ctx context.Context, pr review.PRRef) ([]string, error) {
	var out []string
	opt := &github.ListOptions{PerPage: 100}
	for {
		labels, resp, err := c.rest.Issues.ListLabelsByIssue(ctx, pr.Owner, pr.Repo, pr.Number, opt)
		if err != nil {
			return nil, wrap("listing labels", err)
		}
		for _, l := range labels {
			out = append(out, l.GetName())
		}
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}
	return out, nil
}

func (c *Client) PostComment(ctx context.Context, pr review.PRRef, body string) error {
	_, _, err := c.rest.Issues.CreateComment(ctx, pr.Owner, pr.Repo, pr.Number, &github.IssueComment{
		Body: github.Ptr(body),
	})
	return wrap("posting comment", err)
}

func (c *Client) Merge(ctx context.Context, pr review.PRRef, strategy string) error {
	_, _, err := c.rest.PullRequests.Merge(ctx, pr.Owner, pr.Repo, pr.Number, "", &github.PullRequestOptions{
		MergeMethod: strategy,
	})
	return wrap("merging", err)
}

func (c *Client) DeleteBranch(ctx context.Context, pr review.PRRef) error {
	_, err := c.rest.Git.DeleteRef(ctx, pr.Owner, pr.Repo, "heads/"+pr.Branch)
	return wrap("deleting branch", err)
}
