/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package agent

import (
	"encoding/json"
	"strings"
)

// ExtractJSON pulls the JSON payload out of a model response that may wrap it
// in a markdown code fence. A fenced ```json block wins; otherwise the
// trimmed response is returned as-is.
func ExtractJSON(text string) string {
	var (
		buf     strings.Builder
		inBlock bool
		found   bool
	)
	for _, line := range strings.Split(text, "\n") {
		switch {
		case !inBlock && line == "```json":
			inBlock = true
			found = true
		case inBlock && line == "```":
			return strings.TrimSpace(buf.String())
		case inBlock:
			if buf.Len() > 0 {
				buf.WriteString("\n")
			}
			buf.WriteString(line)
		}
	}
	if found {
		return strings.TrimSpace(buf.String())
	}

	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// Decode extracts the JSON payload from text and unmarshals it into T.
func Decode[T any](text string) (T, error) {
	var out T
	if err := json.Unmarshal([]byte(ExtractJSON(text)), &out); err != nil {
		return out, err
	}
	return out, nil
}
