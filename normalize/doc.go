/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package normalize turns the platform's raw comment payloads into the typed
// thread model at the boundary. Grouping and hashing are deterministic: the
// same raw input always yields the same thread ids and content hashes, which
// downstream drift detection depends on.
package normalize
