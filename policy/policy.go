/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package policy

import (
	"fmt"
	"os"
	"strings"

	"chainguard.dev/reviewflow/review"
	"gopkg.in/yaml.v3"
)

// Rule is the configured handling for one severity band.
type Rule string

const (
	// RuleAutoFix fixes whenever a clean patch can be produced.
	RuleAutoFix Rule = "auto-fix-if-clean-apply"
	// RuleAutoFixLowRisk fixes only when the patch stays under the risk
	// threshold; elevated-risk patches escalate.
	RuleAutoFixLowRisk Rule = "auto-fix-if-low-risk"
	// RuleAcknowledge posts a rationale and resolves without changing code.
	RuleAcknowledge Rule = "acknowledge-only"
	// RuleEscalate always defers to a human.
	RuleEscalate Rule = "escalate"
)

// Risk bounds the structural size of an auto-applied patch.
type Risk struct {
	// MaxPatchLines is the most added-plus-removed lines a low-risk patch
	// may carry.
	MaxPatchLines int `yaml:"max_patch_lines"`
	// MaxPatchFiles is the most files a low-risk patch may touch.
	MaxPatchFiles int `yaml:"max_patch_files"`
	// SensitivePaths lists path prefixes whose edits are always elevated
	// risk (security, config, CI definitions).
	SensitivePaths []string `yaml:"sensitive_paths"`
}

// Policy is the deployment-time decision configuration.
type Policy struct {
	Severities map[review.Severity]Rule `yaml:"severities"`
	Risk       Risk                     `yaml:"risk"`

	// DisallowedPaths are path prefixes the automation must never edit.
	// A fix-decided thread on one of these hard-fails to escalate.
	DisallowedPaths []string `yaml:"disallowed_paths"`

	// RequiredReviewers are the reviewer logins whose terminal reviews the
	// poller's stop condition waits for.
	RequiredReviewers []string `yaml:"required_reviewers"`

	// MergeStrategy is passed to the platform merge call.
	MergeStrategy string `yaml:"merge_strategy"`

	// CommitPerThread selects one commit per processed thread; false batches
	// one commit per cycle. Fixed per deployment so downstream audit tooling
	// can rely on the granularity.
	CommitPerThread bool `yaml:"commit_per_thread"`
}

// Default is the stock policy: fix what reviewers flag, escalate anything
// large or sensitive.
func Default() Policy {
	return Policy{
		Severities: map[review.Severity]Rule{
			review.SeverityCritical:      RuleAutoFix,
			review.SeverityRecommended:   RuleAutoFixLowRisk,
			review.SeverityMinor:         RuleAutoFixLowRisk,
			review.SeverityInformational: RuleAcknowledge,
		},
		Risk: Risk{
			MaxPatchLines: 80,
			MaxPatchFiles: 4,
			SensitivePaths: []string{
				".github/",
				"security/",
			},
		},
		MergeStrategy:   "squash",
		CommitPerThread: true,
	}
}

// Load reads a policy file, layering it over the defaults.
func Load(path string) (Policy, error) {
	p := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("reading policy %q: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Policy{}, fmt.Errorf("parsing policy %q: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, fmt.Errorf("policy %q: %w", path, err)
	}
	return p, nil
}

// Validate checks that every severity maps to a known rule.
func (p Policy) Validate() error {
	for sev, rule := range p.Severities {
		switch rule {
		case RuleAutoFix, RuleAutoFixLowRisk, RuleAcknowledge, RuleEscalate:
		default:
			return fmt.Errorf("severity %q maps to unknown rule %q", sev, rule)
		}
	}
	if p.Risk.MaxPatchLines < 0 || p.Risk.MaxPatchFiles < 0 {
		return fmt.Errorf("risk thresholds cannot be negative")
	}
	return nil
}

// RuleFor returns the handling rule for the severity. Unknown severities
// escalate: the conservative classifier default maps to recommended, so an
// unmapped severity means misconfiguration.
func (p Policy) RuleFor(sev review.Severity) Rule {
	if r, ok := p.Severities[sev]; ok {
		return r
	}
	return RuleEscalate
}

// PathDisallowed reports whether the automation is forbidden from editing
// path, returning the matching rule prefix.
func (p Policy) PathDisallowed(path string) (string, bool) {
	for _, prefix := range p.DisallowedPaths {
		if strings.HasPrefix(path, prefix) {
			return prefix, true
		}
	}
	return "", false
}

// PathSensitive reports whether path falls under a sensitive prefix.
func (p Policy) PathSensitive(path string) bool {
	for _, prefix := range p.Risk.SensitivePaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
