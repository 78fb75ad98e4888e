/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package githubplatform implements the review platform against GitHub.
// Thread-level operations (listing review threads, replying, resolving) go
// through the GraphQL API, which is the only surface that exposes thread
// identity and resolution; everything else uses REST.
package githubplatform
