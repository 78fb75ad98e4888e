/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package githubplatform

import (
	"context"
	"fmt"
	"net/http"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"golang.org/x/oauth2"
)

// NewTokenHTTPClient returns an HTTP client authenticating with a personal
// access token. Suitable for development and single-repo deployments.
func NewTokenHTTPClient(ctx context.Context, token string) *http.Client {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return oauth2.NewClient(ctx, src)
}

// NewAppHTTPClient returns an HTTP client authenticating as a GitHub App
// installation, minting and refreshing installation tokens as needed.
func NewAppHTTPClient(appID, installationID int64, keyPath string) (*http.Client, error) {
	tr, err := ghinstallation.NewKeyFromFile(http.DefaultTransport, appID, installationID, keyPath)
	if err != nil {
		return nil, fmt.Errorf("loading app key %q: %w", keyPath, err)
	}
	return &http.Client{Transport: tr}, nil
}

// TokenSource exposes the installation token for callers that need raw
// credentials, such as authenticated git pushes over HTTPS.
func TokenSource(ctx context.Context, hc *http.Client) oauth2.TokenSource {
	if tr, ok := hc.Transport.(*ghinstallation.Transport); ok {
		return oauth2.ReuseTokenSource(nil, installationTokenSource{ctx: ctx, tr: tr})
	}
	if tr, ok := hc.Transport.(*oauth2.Transport); ok {
		return tr.Source
	}
	return nil
}

type installationTokenSource struct {
	ctx context.Context
	tr  *ghinstallation.Transport
}

func (s installationTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.tr.Token(s.ctx)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: tok}, nil
}
