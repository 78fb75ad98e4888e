/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"chainguard.dev/reviewflow/retry"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/chainguard-dev/clog"
	"github.com/invopop/jsonschema"
)

// Client is a thin completion wrapper around the Anthropic SDK: one prompt
// in, one structured response out. The reconciler's conversation state lives
// in our own types, not in the model session.
type Client struct {
	api         anthropic.Client
	model       string
	maxTokens   int64
	temperature float64
	retryCfg    retry.Config
}

// Option configures a Client.
type Option func(*Client)

// WithModel overrides the model name.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithMaxTokens overrides the response token budget.
func WithMaxTokens(n int64) Option {
	return func(c *Client) { c.maxTokens = n }
}

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *Client) { c.temperature = t }
}

// WithRetryConfig overrides the retry policy for transient API errors.
func WithRetryConfig(cfg retry.Config) Option {
	return func(c *Client) { c.retryCfg = cfg }
}

// NewClient wraps an Anthropic API client.
func NewClient(api anthropic.Client, opts ...Option) *Client {
	c := &Client{
		api:         api,
		model:       "claude-sonnet-4@20250514",
		maxTokens:   8192,
		temperature: 0.1,
		retryCfg:    retry.DefaultConfig(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// isRetryable reports whether the API error is a rate limit or transient
// server error worth retrying.
func isRetryable(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 503, 504, 529:
			return true
		}
	}
	return false
}

// Complete sends one prompt and returns the text of the model's reply.
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	log := clog.FromContext(ctx)
	log.With("model", c.model).
		With("prompt_length", len(prompt)).
		Info("requesting completion")

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{{
			Role: anthropic.MessageParamRoleUser,
			Content: []anthropic.ContentBlockParamUnion{
				anthropic.NewTextBlock(prompt),
			},
		}},
	}
	params.Temperature = anthropic.Float(c.temperature)
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	message, err := retry.Do(ctx, c.retryCfg, "complete", isRetryable, func() (*anthropic.Message, error) {
		return c.api.Messages.New(ctx, params)
	})
	if err != nil {
		return "", fmt.Errorf("completion failed: %w", err)
	}

	var text string
	for _, content := range message.Content {
		if content.Type == "text" {
			text += content.Text
		}
	}
	if text == "" {
		return "", errors.New("no text content in model response")
	}
	return text, nil
}

// schemaBlock renders the JSON schema for T as a prompt fragment so the model
// knows the exact response shape expected.
func schemaBlock[T any]() (string, error) {
	r := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	var zero T
	raw, err := json.MarshalIndent(r.Reflect(&zero), "", "  ")
	if err != nil {
		return "", fmt.Errorf("rendering response schema: %w", err)
	}
	return fmt.Sprintf("Respond with a single JSON object matching this schema, inside a ```json fence:\n%s", raw), nil
}
