// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/cap-rp/oidc/internal/strutils"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
)

// Level classifies a failed config rule. Errors block the config, warnings
// are logged and the config is still used.
type Level int

const (
	LevelNone Level = iota
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return "none"
	}
}

// RuleResult is the outcome of one config rule: Pass, or Fail with a level
// and messages.
type RuleResult struct {
	Passed   bool
	Level    Level
	Messages []string
}

// Pass is a successful rule outcome.
func Pass() RuleResult {
	return RuleResult{Passed: true, Level: LevelNone}
}

// Fail is a failed rule outcome.
func Fail(level Level, messages ...string) RuleResult {
	return RuleResult{Level: level, Messages: messages}
}

// ConfigRule checks a single config.
type ConfigRule func(c *Config) RuleResult

// ConfigsRule checks the whole set of configs held by a process.
type ConfigsRule func(cs []*Config) RuleResult

// configRules are evaluated in order for every config.
var configRules = []ConfigRule{
	ensureAuthority,
	ensureClientID,
	ensureRedirectURL,
	ensureSilentRenewURLWhenNoRefreshTokenUsed,
	useOfflineScopeWithSilentRenew,
}

// configsRules are evaluated in order across all configs.
var configsRules = []ConfigsRule{
	ensureConfigIDs,
	ensureUniqueConfigIDs,
	ensureNoDuplicatedConfigs,
}

func ensureAuthority(c *Config) RuleResult {
	if c.Authority == "" {
		return Fail(LevelError, "the authority URL must be provided in the configuration")
	}
	return Pass()
}

func ensureClientID(c *Config) RuleResult {
	if c.ClientID == "" {
		return Fail(LevelError, "the clientId is required and missing from the configuration")
	}
	return Pass()
}

func ensureRedirectURL(c *Config) RuleResult {
	if c.RedirectURL == "" {
		return Fail(LevelError, "the redirectUrl is required and missing from the configuration")
	}
	return Pass()
}

func ensureSilentRenewURLWhenNoRefreshTokenUsed(c *Config) RuleResult {
	if c.SilentRenew && !c.UseRefreshToken && c.SilentRenewURL == "" {
		return Fail(LevelError, "a silent renew URL is required when using silent renew without refresh tokens")
	}
	return Pass()
}

func useOfflineScopeWithSilentRenew(c *Config) RuleResult {
	if c.SilentRenew && c.UseRefreshToken && !strutils.StrListContains(strutils.SplitScope(c.Scope), oidc.ScopeOfflineAccess) {
		return Fail(LevelWarning, fmt.Sprintf("when using silent renew and refresh tokens, set the %q scope", oidc.ScopeOfflineAccess))
	}
	return Pass()
}

func ensureConfigIDs(cs []*Config) RuleResult {
	for _, c := range cs {
		if c.ConfigID == "" {
			return Fail(LevelError, "every config must have a config id")
		}
	}
	return Pass()
}

// ensureUniqueConfigIDs fails when configs share a config id, since the id
// keys their storage.
func ensureUniqueConfigIDs(cs []*Config) RuleResult {
	seen := make(map[string]bool, len(cs))
	var dups []string
	for _, c := range cs {
		if c.ConfigID == "" {
			continue
		}
		if seen[c.ConfigID] {
			dups = append(dups, c.ConfigID)
			continue
		}
		seen[c.ConfigID] = true
	}
	if len(dups) > 0 {
		return Fail(LevelError, fmt.Sprintf("config ids must be unique, repeated: %s", strings.Join(dups, ", ")))
	}
	return Pass()
}

func ensureNoDuplicatedConfigs(cs []*Config) RuleResult {
	seen := make(map[string]bool, len(cs))
	var dups []string
	for _, c := range cs {
		key := strings.Join([]string{c.Authority, c.ClientID, c.Scope}, "\x00")
		if seen[key] {
			dups = append(dups, c.ConfigID)
			continue
		}
		seen[key] = true
	}
	if len(dups) > 0 {
		return Fail(LevelWarning, fmt.Sprintf("multiple configs share the same authority, clientId and scope: %s", strings.Join(dups, ", ")))
	}
	return Pass()
}

// ConfigValidator runs the config rules. Errors are returned, warnings are
// logged.
type ConfigValidator struct {
	logger hclog.Logger
}

// NewConfigValidator creates a ConfigValidator.
// Supported options:
//   - WithLogger
func NewConfigValidator(opt ...Option) *ConfigValidator {
	opts := getComponentOpts(opt...)
	return &ConfigValidator{logger: opts.withLogger}
}

// ValidateConfigs validates every config and then the set as a whole. All
// error level failures are returned together, each wrapping
// ErrInvalidConfig.
func (v *ConfigValidator) ValidateConfigs(configs []*Config) error {
	const op = "ConfigValidator.ValidateConfigs"
	if len(configs) == 0 {
		return fmt.Errorf("%s: no configs provided: %w", op, ErrInvalidConfig)
	}
	var result *multierror.Error
	for _, c := range configs {
		if c == nil {
			result = multierror.Append(result, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter))
			continue
		}
		if err := v.ValidateConfig(c); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if result.ErrorOrNil() != nil {
		return result.ErrorOrNil()
	}
	results := make([]RuleResult, 0, len(configsRules))
	for _, rule := range configsRules {
		results = append(results, rule(configs))
	}
	return v.processResults(op, "", results)
}

// ValidateConfig validates a single config.
func (v *ConfigValidator) ValidateConfig(c *Config) error {
	const op = "ConfigValidator.ValidateConfig"
	if c == nil {
		return fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	results := make([]RuleResult, 0, len(configRules))
	for _, rule := range configRules {
		results = append(results, rule(c))
	}
	return v.processResults(op, c.ConfigID, results)
}

func (v *ConfigValidator) processResults(op, id string, results []RuleResult) error {
	var result *multierror.Error
	for _, r := range results {
		if r.Passed {
			continue
		}
		for _, m := range r.Messages {
			switch r.Level {
			case LevelError:
				v.logger.Error("invalid configuration", "config_id", id, "reason", m)
				result = multierror.Append(result, fmt.Errorf("%s: %s: %w", op, m, ErrInvalidConfig))
			default:
				v.logger.Warn("configuration warning", "config_id", id, "reason", m)
			}
		}
	}
	return result.ErrorOrNil()
}
