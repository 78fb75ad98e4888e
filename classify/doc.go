/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package classify assigns a category and severity to review threads.
// Implementations are swappable behind one contract: a keyword rule engine
// and a model-delegated classifier both satisfy Interface. Classification is
// best-effort; the Conservative wrapper guarantees the pipeline never blocks
// on it.
package classify
