/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package agent

import (
	"context"
	"fmt"

	"chainguard.dev/reviewflow/classify"
	"chainguard.dev/reviewflow/review"
)

const classifySystem = `You triage code review feedback for an automated
reconciler. Classify each thread by topic and by how strongly it should be
acted on. Severity vocabulary: critical (must fix before merge), recommended
(should fix), minor (nice to fix), informational (no action needed). Category
vocabulary: bug, security, style, performance, question, informational.`

type classification struct {
	Category string `json:"category" jsonschema:"required,description=One of: bug security style performance question informational"`
	Severity string `json:"severity" jsonschema:"required,description=One of: critical recommended minor informational"`
	Reason   string `json:"reason" jsonschema:"description=One sentence explaining the classification"`
}

// Classifier delegates thread classification to the model. Wrap it in
// classify.Conservative so API failures degrade instead of blocking.
type Classifier struct {
	client *Client
}

var _ classify.Interface = (*Classifier)(nil)

// NewClassifier wraps the client as a classifier.
func NewClassifier(client *Client) *Classifier {
	return &Classifier{client: client}
}

func (c *Classifier) Classify(ctx context.Context, t review.ReviewThread) (review.Category, review.Severity, error) {
	schema, err := schemaBlock[classification]()
	if err != nil {
		return "", "", err
	}

	prompt := fmt.Sprintf(
		"Review thread on %s (lines %d-%d), opened by %s:\n\n%s\n\n%s",
		t.File, t.StartLine, t.EndLine, t.Author, t.Body, schema)

	text, err := c.client.Complete(ctx, classifySystem, prompt)
	if err != nil {
		return "", "", fmt.Errorf("classifying thread %s: %w", t.ID, err)
	}
	parsed, err := Decode[classification](text)
	if err != nil {
		return "", "", fmt.Errorf("parsing classification for thread %s: %w", t.ID, err)
	}

	cat, ok := validCategory(parsed.Category)
	if !ok {
		return "", "", fmt.Errorf("model returned unknown category %q for thread %s", parsed.Category, t.ID)
	}
	sev, ok := validSeverity(parsed.Severity)
	if !ok {
		return "", "", fmt.Errorf("model returned unknown severity %q for thread %s", parsed.Severity, t.ID)
	}
	return cat, sev, nil
}

func validCategory(s string) (review.Category, bool) {
	switch c := review.Category(s); c {
	case review.CategoryBug, review.CategorySecurity, review.CategoryStyle,
		review.CategoryPerformance, review.CategoryQuestion, review.CategoryInformational:
		return c, true
	}
	return "", false
}

func validSeverity(s string) (review.Severity, bool) {
	switch sev := review.Severity(s); sev {
	case review.SeverityCritical, review.SeverityRecommended,
		review.SeverityMinor, review.SeverityInformational:
		return sev, true
	}
	return "", false
}
