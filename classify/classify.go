/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package classify

import (
	"context"
	"strings"

	"chainguard.dev/reviewflow/review"
	"github.com/chainguard-dev/clog"
)

// Interface is the classification contract: a pure function of thread content
// plus static configuration.
type Interface interface {
	Classify(ctx context.Context, t review.ReviewThread) (review.Category, review.Severity, error)
}

// Rules is a keyword-matching classifier. It is deterministic and needs no
// network, which makes it the default for deployments without a model
// collaborator.
type Rules struct{}

var _ Interface = Rules{}

// Patterns are checked in priority order; the first category whose keywords
// match wins. Security outranks bug so "SQL injection bug" classifies as
// security.
var patterns = []struct {
	category review.Category
	severity review.Severity
	keywords []string
}{
	{review.CategorySecurity, review.SeverityCritical, []string{
		"security", "vulnerab", "injection", "xss", "csrf", "secret", "credential",
		"password", "token leak", "privilege", "sanitiz", "unsafe",
	}},
	{review.CategoryBug, review.SeverityRecommended, []string{
		"bug", "race", "deadlock", "nil pointer", "null pointer", "panic", "crash",
		"overflow", "off-by-one", "leak", "incorrect", "broken", "wrong",
	}},
	{review.CategoryPerformance, review.SeverityMinor, []string{
		"slow", "performance", "allocat", "o(n", "quadratic", "inefficient", "cache",
	}},
	{review.CategoryStyle, review.SeverityMinor, []string{
		"typo", "naming", "rename", "style", "gofmt", "lint", "comment", "doc",
		"readab", "indent",
	}},
}

// Classify matches the thread body against the keyword table. Threads with no
// actionable content classify as informational; bare questions classify as
// question with minor severity so they surface for acknowledgment.
func (Rules) Classify(_ context.Context, t review.ReviewThread) (review.Category, review.Severity, error) {
	body := strings.ToLower(t.Body)

	for _, p := range patterns {
		for _, kw := range p.keywords {
			if strings.Contains(body, kw) {
				return p.category, p.severity, nil
			}
		}
	}

	if t.Suggestion != "" {
		// A concrete suggestion with no matched topic is still actionable.
		return review.CategoryStyle, review.SeverityMinor, nil
	}
	if strings.Contains(t.Body, "?") {
		return review.CategoryQuestion, review.SeverityMinor, nil
	}
	return review.CategoryInformational, review.SeverityInformational, nil
}

// Conservative wraps a classifier so that failures degrade to a safe default
// instead of propagating. Decisions must never crash on classification.
type Conservative struct {
	Delegate Interface
}

var _ Interface = Conservative{}

func (c Conservative) Classify(ctx context.Context, t review.ReviewThread) (review.Category, review.Severity, error) {
	cat, sev, err := c.Delegate.Classify(ctx, t)
	if err != nil {
		clog.FromContext(ctx).With("thread", t.ID).
			With("error", err.Error()).
			Warn("classification failed, using conservative default")
		return review.CategoryUnknown, review.SeverityRecommended, nil
	}
	return cat, sev, nil
}
