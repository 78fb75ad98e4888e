/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// The reviewflow command drives pull requests through automated review
// triage: it polls reviewer feedback, decides and applies fixes, settles
// threads, and merges once checks pass. It runs the configured PRs to a
// terminal phase and prints a per-PR audit summary.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"chainguard.dev/reviewflow/agent"
	"chainguard.dev/reviewflow/classify"
	"chainguard.dev/reviewflow/githubplatform"
	"chainguard.dev/reviewflow/gitvcs"
	"chainguard.dev/reviewflow/lock"
	"chainguard.dev/reviewflow/patchcoord"
	"chainguard.dev/reviewflow/policy"
	"chainguard.dev/reviewflow/poller"
	"chainguard.dev/reviewflow/reconciler"
	"chainguard.dev/reviewflow/resolver"
	"chainguard.dev/reviewflow/review"
	"chainguard.dev/reviewflow/statestore"
	"chainguard.dev/reviewflow/workqueue"
	"chainguard.dev/reviewflow/workqueue/dispatcher"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/chainguard-dev/clog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sethvargo/go-envconfig"
)

type config struct {
	// PullRequests lists the PRs to manage as
	// "{owner}/{repo}#{number}@{branch}" keys, comma separated.
	PullRequests []string `env:"PULL_REQUESTS,required"`

	StatePath  string `env:"STATE_PATH,default=reviewflow.db"`
	PolicyPath string `env:"POLICY_PATH"`

	MetricsPort int `env:"METRICS_PORT,default=2112"`

	// GitHub authentication: a personal access token, or a GitHub App
	// installation.
	GitHubToken       string `env:"GITHUB_TOKEN"`
	AppID             int64  `env:"GITHUB_APP_ID"`
	AppInstallationID int64  `env:"GITHUB_APP_INSTALLATION_ID"`
	AppKeyPath        string `env:"GITHUB_APP_KEY_PATH"`

	// AnthropicAPIKey enables the model classifier and patch proposer.
	// Without it, classification falls back to keyword rules and every
	// fix-decided thread escalates.
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`
	Model           string `env:"MODEL"`

	GitIdentity string `env:"GIT_IDENTITY,default=reviewflow-bot"`
	Guidelines  string `env:"GUIDELINES"`

	PollWindow       time.Duration `env:"POLL_WINDOW,default=5m"`
	ChecksDelay      time.Duration `env:"CHECKS_DELAY,default=1m"`
	DispatchInterval time.Duration `env:"DISPATCH_INTERVAL,default=5s"`
	Concurrency      int           `env:"CONCURRENCY,default=4"`
	MaxRetry         int           `env:"MAX_RETRY,default=10"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		clog.FatalContextf(ctx, "processing config: %v", err)
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(fmt.Sprintf(":%d", cfg.MetricsPort), mux); err != nil {
			clog.ErrorContextf(ctx, "metrics server: %v", err)
		}
	}()

	hc, err := githubClient(ctx, &cfg)
	if err != nil {
		clog.FatalContextf(ctx, "configuring GitHub auth: %v", err)
	}
	platform := githubplatform.New(hc)

	vcs, err := gitvcs.New(githubplatform.TokenSource(ctx, hc), cfg.GitIdentity)
	if err != nil {
		clog.FatalContextf(ctx, "creating clone pool: %v", err)
	}

	store, err := statestore.OpenSQLite(cfg.StatePath)
	if err != nil {
		clog.FatalContextf(ctx, "opening state store at %s: %v", cfg.StatePath, err)
	}

	pol := policy.Default()
	if cfg.PolicyPath != "" {
		if pol, err = policy.Load(cfg.PolicyPath); err != nil {
			clog.FatalContextf(ctx, "loading policy: %v", err)
		}
	}
	engine := policy.NewEngine(pol)

	classifier, proposer := collaborators(&cfg)

	host, _ := os.Hostname()
	locks := lock.NewManager(store, fmt.Sprintf("%s-%d", host, os.Getpid()))

	granularity := patchcoord.CommitPerCycle
	if pol.CommitPerThread {
		granularity = patchcoord.CommitPerThread
	}
	ctrl := reconciler.New(
		store,
		locks,
		poller.New(platform, vcs, store, poller.WithRequiredReviewers(pol.RequiredReviewers)),
		classifier,
		engine,
		patchcoord.New(proposer, vcs, engine,
			patchcoord.WithGranularity(granularity),
			patchcoord.WithGuidelines(cfg.Guidelines)),
		resolver.New(platform),
		platform,
		reconciler.WithPollWindow(cfg.PollWindow),
		reconciler.WithChecksDelay(cfg.ChecksDelay),
	)

	q := workqueue.NewInMem()
	for _, key := range cfg.PullRequests {
		key = strings.TrimSpace(key)
		if _, err := review.ParseKey(key); err != nil {
			clog.FatalContextf(ctx, "bad PULL_REQUESTS entry: %v", err)
		}
		if err := q.Queue(ctx, key, workqueue.Options{}); err != nil {
			clog.FatalContextf(ctx, "queueing %s: %v", key, err)
		}
	}

	cb := func(ctx context.Context, key string, _ workqueue.Options) error {
		return ctrl.Reconcile(ctx, key)
	}

	clog.InfoContextf(ctx, "managing %d pull requests", len(cfg.PullRequests))
	ticker := time.NewTicker(cfg.DispatchInterval)
	defer ticker.Stop()
	for {
		if err := dispatcher.HandleAsync(ctx, q, cfg.Concurrency, 0, cb, cfg.MaxRetry)(); err != nil {
			clog.ErrorContextf(ctx, "dispatch round: %v", err)
		}

		if drained(ctx, q) {
			break
		}
		select {
		case <-ctx.Done():
			clog.InfoContext(ctx, "shutting down")
			return
		case <-ticker.C:
		}
	}

	for _, key := range cfg.PullRequests {
		st, err := store.PRState(ctx, strings.TrimSpace(key))
		if err != nil {
			clog.ErrorContextf(ctx, "loading final state for %s: %v", key, err)
			continue
		}
		fmt.Println(reconciler.RenderSummary(st, review.Summarize(st, time.Now())))
	}
}

// drained reports whether no keys remain queued or in flight. Delay-queued
// keys (waiting on CI) still count as pending.
func drained(ctx context.Context, q *workqueue.InMem) bool {
	return q.Pending(ctx) == 0
}

// githubClient builds the authenticated HTTP client from whichever credential
// the config carries, preferring the App installation.
func githubClient(ctx context.Context, cfg *config) (*http.Client, error) {
	if cfg.AppID != 0 {
		return githubplatform.NewAppHTTPClient(cfg.AppID, cfg.AppInstallationID, cfg.AppKeyPath)
	}
	if cfg.GitHubToken != "" {
		return githubplatform.NewTokenHTTPClient(ctx, cfg.GitHubToken), nil
	}
	return nil, fmt.Errorf("one of GITHUB_TOKEN or GITHUB_APP_ID is required")
}

// collaborators picks the classifier and proposer implementations based on
// whether a model credential is configured.
func collaborators(cfg *config) (classify.Interface, review.Proposer) {
	if cfg.AnthropicAPIKey == "" {
		return classify.Rules{}, noProposer{}
	}
	opts := []agent.Option{}
	if cfg.Model != "" {
		opts = append(opts, agent.WithModel(cfg.Model))
	}
	client := agent.NewClient(anthropic.NewClient(option.WithAPIKey(cfg.AnthropicAPIKey)), opts...)
	return agent.NewClassifier(client), agent.NewProposer(client)
}

// noProposer declines every patch request, which routes fix decisions to
// escalation.
type noProposer struct{}

func (noProposer) ProposePatch(context.Context, review.PatchRequest) (*review.PatchProposal, error) {
	return nil, nil
}
