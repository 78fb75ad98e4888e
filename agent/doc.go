/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package agent wraps the Claude API as the model-delegated classifier and
// the code-edit collaborator. Responses are structured JSON constrained by a
// reflected schema; transient API failures retry with bounded backoff.
package agent
