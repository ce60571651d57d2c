// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-cleanhttp"
)

// Response types of the supported flows.
const (
	ResponseTypeCode              = "code"
	ResponseTypeIDToken           = "id_token"
	ResponseTypeIDTokenAndToken   = "id_token token"
	DefaultScope                  = "openid email profile"
	DefaultSilentRenewTimeout     = 20
	DefaultMaxIDTokenIatOffset    = 120
	DefaultRenewTimeBeforeExpires = 0
)

// Config is the configuration of one logical relationship with an identity
// provider. ConfigID is unique across the configs held by a process and never
// changes once assigned.
type Config struct {
	// ConfigID identifies the config. PrepareConfigs assigns
	// "<index>-<ClientID>" when it's empty.
	ConfigID string

	// Authority is the issuer URL of the identity provider.
	Authority string

	// AuthWellKnownEndpointsURL overrides the discovery document URL derived
	// from Authority.
	AuthWellKnownEndpointsURL string

	// AuthWellKnownEndpoints are merged on top of the discovered endpoints,
	// taking precedence over the fetched document.
	AuthWellKnownEndpoints *AuthWellKnownEndpoints

	// StrictIssuerValidationOnWellKnownRetrievalOff accepts a discovery
	// document whose issuer does not match the discovery URL.
	StrictIssuerValidationOnWellKnownRetrievalOff bool

	ClientID              string
	Scope                 string
	ResponseType          string
	RedirectURL           string
	PostLogoutRedirectURI string

	// SilentRenew enables renewal without a full page redirect, either with
	// refresh tokens (UseRefreshToken) or through SilentRenewURL.
	SilentRenew                 bool
	SilentRenewURL              string
	SilentRenewTimeoutInSeconds int
	UseRefreshToken             bool

	// AllowUnsafeReuseRefreshToken lets RefreshToken fall back to the last
	// refresh token the provider returned when the current auth result holds
	// none.
	AllowUnsafeReuseRefreshToken bool

	// AutoCleanStateAfterAuthentication clears the auth-state-control value
	// once a callback has been validated.
	AutoCleanStateAfterAuthentication bool

	TriggerRefreshWhenIDTokenExpired     bool
	RenewTimeBeforeTokenExpiresInSeconds int
	MaxIDTokenIatOffsetAllowedInSeconds  int

	IssValidationOff                        bool
	DisableIDTokenValidation                bool
	DisableIatOffsetValidation              bool
	DisableRefreshIDTokenAuthTimeValidation bool
	IgnoreNonceAfterRefresh                 bool

	// AutoUserInfo requests the userinfo endpoint after authentication.
	// When off, the decoded id_token claims are stored as user data.
	AutoUserInfo bool

	CustomParamsAuthRequest         map[string]string
	CustomParamsCodeRequest         map[string]string
	CustomParamsRefreshTokenRequest map[string]string

	// ProviderCA is an optional CA cert to use when sending requests to the
	// provider.
	ProviderCA string
}

// NewConfig composes a new config with the defaults applied.
// Supported options:
//   - WithConfigID
//   - WithScope
//   - WithResponseType
//   - WithProviderCA
//   - WithSilentRenew
//   - WithRefreshTokens
//   - WithAuthWellKnownEndpoints
func NewConfig(authority, clientID, redirectURL string, opt ...Option) (*Config, error) {
	const op = "oidc.NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		ConfigID:                             opts.withConfigID,
		Authority:                            authority,
		AuthWellKnownEndpoints:               opts.withAuthWellKnownEndpoints,
		ClientID:                             clientID,
		Scope:                                opts.withScope,
		ResponseType:                         opts.withResponseType,
		RedirectURL:                          redirectURL,
		SilentRenew:                          opts.withSilentRenew,
		SilentRenewURL:                       opts.withSilentRenewURL,
		SilentRenewTimeoutInSeconds:          DefaultSilentRenewTimeout,
		UseRefreshToken:                      opts.withUseRefreshToken,
		AutoCleanStateAfterAuthentication:    true,
		TriggerRefreshWhenIDTokenExpired:     true,
		RenewTimeBeforeTokenExpiresInSeconds: DefaultRenewTimeBeforeExpires,
		MaxIDTokenIatOffsetAllowedInSeconds:  DefaultMaxIDTokenIatOffset,
		ProviderCA:                           opts.withProviderCA,
	}
	if err := NewConfigValidator().ValidateConfig(c); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

// PrepareConfigs validates configs, assigns missing config ids and fills in
// empty values with the defaults. Configs are updated in place. Boolean
// settings are left as they are; use NewConfig for the full set of defaults.
// Supported options:
//   - WithLogger
func PrepareConfigs(configs []*Config, opt ...Option) ([]*Config, error) {
	const op = "oidc.PrepareConfigs"
	for i, c := range configs {
		if c == nil {
			return nil, fmt.Errorf("%s: config %d is nil: %w", op, i, ErrNilParameter)
		}
		if c.ConfigID == "" {
			c.ConfigID = strconv.Itoa(i) + "-" + c.ClientID
		}
		c.setDefaults()
	}
	if err := NewConfigValidator(opt...).ValidateConfigs(configs); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return configs, nil
}

func (c *Config) setDefaults() {
	if c.Scope == "" {
		c.Scope = DefaultScope
	}
	if c.ResponseType == "" {
		c.ResponseType = ResponseTypeCode
	}
	if c.SilentRenewTimeoutInSeconds == 0 {
		c.SilentRenewTimeoutInSeconds = DefaultSilentRenewTimeout
	}
	if c.MaxIDTokenIatOffsetAllowedInSeconds == 0 {
		c.MaxIDTokenIatOffsetAllowedInSeconds = DefaultMaxIDTokenIatOffset
	}
}

// SilentRenewTimeout is SilentRenewTimeoutInSeconds as a duration.
func (c *Config) SilentRenewTimeout() time.Duration {
	return time.Duration(c.SilentRenewTimeoutInSeconds) * time.Second
}

// HTTPClient is a helper function that creates a new http client for the
// provider configured. It uses the optional ProviderCA, otherwise the system
// CA chain.
func (c *Config) HTTPClient() (*http.Client, error) {
	const op = "Config.HTTPClient"
	tr := cleanhttp.DefaultPooledTransport()
	if c.ProviderCA != "" {
		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM([]byte(c.ProviderCA)); !ok {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidCACert)
		}
		tr.TLSClientConfig = &tls.Config{
			RootCAs:    certPool,
			MinVersion: tls.VersionTLS12,
		}
	}
	return &http.Client{
		Transport: tr,
	}, nil
}

// HTTPClientContext is a helper function that returns a new Context that
// carries the provided HTTP client. This method sets the same context key used
// by the github.com/coreos/go-oidc and golang.org/x/oauth2 packages, so the
// returned context works for those packages as well.
func HTTPClientContext(ctx context.Context, client *http.Client) context.Context {
	// simple to implement as a wrapper for the coreos package
	return oidc.ClientContext(ctx, client)
}

// configID is nil safe for logging.
func configID(c *Config) string {
	if c == nil {
		return ""
	}
	return c.ConfigID
}

// configOptions is the set of available options for NewConfig.
type configOptions struct {
	withConfigID               string
	withScope                  string
	withResponseType           string
	withProviderCA             string
	withSilentRenew            bool
	withSilentRenewURL         string
	withUseRefreshToken        bool
	withAuthWellKnownEndpoints *AuthWellKnownEndpoints
}

// configDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func configDefaults() configOptions {
	return configOptions{
		withScope:        DefaultScope,
		withResponseType: ResponseTypeCode,
	}
}

// getConfigOpts gets the defaults and applies the opt overrides passed in.
func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithConfigID provides an optional config id.
func WithConfigID(id string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withConfigID = id
		}
	}
}

// WithScope provides an optional, space delimited scope.
func WithScope(scope string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withScope = scope
		}
	}
}

// WithResponseType provides an optional response type, selecting the flow.
func WithResponseType(responseType string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withResponseType = responseType
		}
	}
}

// WithProviderCA provides an optional CA cert for the provider's config
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withProviderCA = cert
		}
	}
}

// WithSilentRenew enables silent renew. The silentRenewURL may be empty when
// refresh tokens are used.
func WithSilentRenew(silentRenewURL string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withSilentRenew = true
			o.withSilentRenewURL = silentRenewURL
		}
	}
}

// WithRefreshTokens enables the refresh token grant for renewals.
func WithRefreshTokens() Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withUseRefreshToken = true
		}
	}
}

// WithAuthWellKnownEndpoints provides optional endpoint overrides.
func WithAuthWellKnownEndpoints(e *AuthWellKnownEndpoints) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withAuthWellKnownEndpoints = e
		}
	}
}
