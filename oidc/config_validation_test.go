// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"errors"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testValidConfig(id string) *Config {
	return &Config{
		ConfigID:     id,
		Authority:    "https://idp.test/realms/main",
		ClientID:     "client-" + id,
		RedirectURL:  "https://app.test/callback",
		Scope:        DefaultScope,
		ResponseType: ResponseTypeCode,
	}
}

func TestConfigRules(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		rule      ConfigRule
		config    func() *Config
		wantPass  bool
		wantLevel Level
	}{
		{
			name:     "authority-present",
			rule:     ensureAuthority,
			config:   func() *Config { return testValidConfig("a") },
			wantPass: true,
		},
		{
			name:      "authority-missing",
			rule:      ensureAuthority,
			config:    func() *Config { c := testValidConfig("a"); c.Authority = ""; return c },
			wantLevel: LevelError,
		},
		{
			name:      "client-id-missing",
			rule:      ensureClientID,
			config:    func() *Config { c := testValidConfig("a"); c.ClientID = ""; return c },
			wantLevel: LevelError,
		},
		{
			name:      "redirect-missing",
			rule:      ensureRedirectURL,
			config:    func() *Config { c := testValidConfig("a"); c.RedirectURL = ""; return c },
			wantLevel: LevelError,
		},
		{
			name: "silent-renew-url-missing",
			rule: ensureSilentRenewURLWhenNoRefreshTokenUsed,
			config: func() *Config {
				c := testValidConfig("a")
				c.SilentRenew = true
				return c
			},
			wantLevel: LevelError,
		},
		{
			name: "silent-renew-with-refresh-tokens",
			rule: ensureSilentRenewURLWhenNoRefreshTokenUsed,
			config: func() *Config {
				c := testValidConfig("a")
				c.SilentRenew = true
				c.UseRefreshToken = true
				return c
			},
			wantPass: true,
		},
		{
			name: "silent-renew-with-url",
			rule: ensureSilentRenewURLWhenNoRefreshTokenUsed,
			config: func() *Config {
				c := testValidConfig("a")
				c.SilentRenew = true
				c.SilentRenewURL = "https://app.test/silent-renew.html"
				return c
			},
			wantPass: true,
		},
		{
			name: "offline-access-missing",
			rule: useOfflineScopeWithSilentRenew,
			config: func() *Config {
				c := testValidConfig("a")
				c.SilentRenew = true
				c.UseRefreshToken = true
				return c
			},
			wantLevel: LevelWarning,
		},
		{
			name: "offline-access-present",
			rule: useOfflineScopeWithSilentRenew,
			config: func() *Config {
				c := testValidConfig("a")
				c.SilentRenew = true
				c.UseRefreshToken = true
				c.Scope = "openid offline_access"
				return c
			},
			wantPass: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert := assert.New(t)
			got := tt.rule(tt.config())
			assert.Equal(tt.wantPass, got.Passed)
			if !tt.wantPass {
				assert.Equal(tt.wantLevel, got.Level)
				assert.NotEmpty(got.Messages)
			}
		})
	}
}

func TestConfigValidator_ValidateConfigs(t *testing.T) {
	t.Parallel()
	t.Run("valid", func(t *testing.T) {
		require.NoError(t, NewConfigValidator().ValidateConfigs([]*Config{testValidConfig("a"), testValidConfig("b")}))
	})
	t.Run("empty", func(t *testing.T) {
		assert.ErrorIs(t, NewConfigValidator().ValidateConfigs(nil), ErrInvalidConfig)
	})
	t.Run("aggregates-errors", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		a := testValidConfig("a")
		a.Authority = ""
		b := testValidConfig("b")
		b.ClientID = ""
		b.RedirectURL = ""
		err := NewConfigValidator().ValidateConfigs([]*Config{a, b})
		require.Error(err)
		assert.ErrorIs(err, ErrInvalidConfig)
		var merr *multierror.Error
		require.True(errors.As(err, &merr))
		assert.Len(merr.Errors, 3)
	})
	t.Run("missing-config-id", func(t *testing.T) {
		err := NewConfigValidator().ValidateConfigs([]*Config{testValidConfig("")})
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
	t.Run("repeated-config-id", func(t *testing.T) {
		assert := assert.New(t)
		other := &Config{
			ConfigID:     "a",
			Authority:    "https://other.test",
			ClientID:     "other",
			RedirectURL:  "https://app.test/callback",
			Scope:        DefaultScope,
			ResponseType: ResponseTypeCode,
		}
		err := NewConfigValidator().ValidateConfigs([]*Config{testValidConfig("a"), other})
		assert.ErrorIs(err, ErrInvalidConfig)
		assert.Contains(err.Error(), "config ids must be unique")

		_, err = PrepareConfigs([]*Config{testValidConfig("a"), other})
		assert.ErrorIs(err, ErrInvalidConfig)
	})
	t.Run("duplicates-warn", func(t *testing.T) {
		assert := assert.New(t)
		var buf bytes.Buffer
		v := NewConfigValidator(WithLogger(hclog.New(&hclog.LoggerOptions{Output: &buf})))
		a := testValidConfig("a")
		b := testValidConfig("b")
		b.ClientID = a.ClientID
		assert.NoError(v.ValidateConfigs([]*Config{a, b}))
		assert.Contains(buf.String(), "multiple configs share the same authority")
	})
	t.Run("warning-does-not-block", func(t *testing.T) {
		assert := assert.New(t)
		var buf bytes.Buffer
		v := NewConfigValidator(WithLogger(hclog.New(&hclog.LoggerOptions{Output: &buf})))
		c := testValidConfig("a")
		c.SilentRenew = true
		c.UseRefreshToken = true
		assert.NoError(v.ValidateConfig(c))
		assert.Contains(buf.String(), "offline_access")
	})
}
