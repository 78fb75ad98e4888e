/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package policy converts classified threads into decisions. The policy is an
// explicit, enumerable configuration mapping severity to a handling rule, plus
// a structural risk threshold over patch size and sensitive paths. Risk is
// assessed structurally, never semantically.
package policy
