/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package githubplatform

import (
	"errors"
	"fmt"
	"net"

	"chainguard.dev/reviewflow/review"
	"github.com/google/go-github/v75/github"
)

// wrap classifies a GitHub API failure. Rate limits, server-side errors, and
// network failures are transient; everything else (404s, permission errors,
// validation failures) is not worth retrying.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}

	var rle *github.RateLimitError
	var arle *github.AbuseRateLimitError
	if errors.As(err, &rle) || errors.As(err, &arle) {
		return review.Transient(op, err)
	}

	var ghe *github.ErrorResponse
	if errors.As(err, &ghe) && ghe.Response != nil && ghe.Response.StatusCode >= 500 {
		return review.Transient(op, err)
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return review.Transient(op, err)
	}

	return fmt.Errorf("%s: %w", op, err)
}
