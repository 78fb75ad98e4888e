/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package githubplatform

import (
	"errors"
	"net/http"
	"testing"

	"chainguard.dev/reviewflow/review"
	"github.com/google/go-github/v75/github"
)

func TestWrapClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{{
		name: "nil stays nil",
		err:  nil,
	}, {
		name:      "rate limit is transient",
		err:       &github.RateLimitError{Message: "rate limited"},
		transient: true,
	}, {
		name:      "abuse rate limit is transient",
		err:       &github.AbuseRateLimitError{Message: "secondary limit"},
		transient: true,
	}, {
		name: "server error is transient",
		err: &github.ErrorResponse{
			Response: &http.Response{StatusCode: http.StatusBadGateway},
		},
		transient: true,
	}, {
		name: "not found is permanent",
		err: &github.ErrorResponse{
			Response: &http.Response{StatusCode: http.StatusNotFound},
		},
	}, {
		name: "arbitrary error is permanent",
		err:  errors.New("validation failed"),
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := wrap("op", tt.err)
			if tt.err == nil {
				if got != nil {
					t.Fatalf("wrap(nil) = %v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("wrap() = nil, want error")
			}
			if review.IsTransient(got) != tt.transient {
				t.Errorf("IsTransient(%v) = %v, want %v", got, !tt.transient, tt.transient)
			}
			if !errors.Is(got, tt.err) && !wrapsSame(got, tt.err) {
				t.Errorf("wrap() lost the underlying error: %v", got)
			}
		})
	}
}

// wrapsSame reports whether target is reachable via errors.As with its own
// concrete type, for error types that do not implement Is.
func wrapsSame(err, target error) bool {
	switch target.(type) {
	case *github.RateLimitError:
		var e *github.RateLimitError
		return errors.As(err, &e)
	case *github.AbuseRateLimitError:
		var e *github.AbuseRateLimitError
		return errors.As(err, &e)
	case *github.ErrorResponse:
		var e *github.ErrorResponse
		return errors.As(err, &e)
	}
	return false
}

func TestRollupState(t *testing.T) {
	tests := []struct {
		state string
		want  review.CheckState
	}{
		{"SUCCESS", review.CheckSuccess},
		{"PENDING", review.CheckPending},
		{"EXPECTED", review.CheckPending},
		{"FAILURE", review.CheckFailure},
		{"ERROR", review.CheckFailure},
	}
	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			if got := rollupState(tt.state); got != tt.want {
				t.Errorf("rollupState(%s) = %s, want %s", tt.state, got, tt.want)
			}
		})
	}
}
