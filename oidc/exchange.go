// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/cap-rp/oidc/internal/strutils"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"
)

// TokenClient calls the token endpoint of a config for the code exchange and
// the refresh token grant.
type TokenClient struct {
	wellKnown *WellKnownService
	logger    hclog.Logger
	client    *http.Client
	now       func() time.Time
}

// NewTokenClient creates a TokenClient.
// Supported options:
//   - WithLogger
//   - WithHTTPClient
//   - WithNow
func NewTokenClient(wellKnown *WellKnownService, opt ...Option) (*TokenClient, error) {
	const op = "oidc.NewTokenClient"
	if wellKnown == nil {
		return nil, fmt.Errorf("%s: well-known service is nil: %w", op, ErrNilParameter)
	}
	opts := getComponentOpts(opt...)
	return &TokenClient{
		wellKnown: wellKnown,
		logger:    opts.withLogger,
		client:    opts.withHTTPClient,
		now:       opts.withNowFunc,
	}, nil
}

func (t *TokenClient) oauth2Config(ctx context.Context, c *Config) (*oauth2.Config, *http.Client, error) {
	endpoints, err := t.wellKnown.Endpoints(ctx, c)
	if err != nil {
		return nil, nil, err
	}
	if endpoints.TokenEndpoint == "" {
		return nil, nil, fmt.Errorf("no token endpoint for %s: %w", c.ConfigID, ErrNotFound)
	}
	client := t.client
	if client == nil {
		if client, err = c.HTTPClient(); err != nil {
			return nil, nil, err
		}
	}
	return &oauth2.Config{
		ClientID:    c.ClientID,
		RedirectURL: c.RedirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:   endpoints.AuthorizationEndpoint,
			TokenURL:  endpoints.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: strutils.SplitScope(c.Scope),
	}, client, nil
}

// ExchangeCode exchanges an authorization code, with the PKCE verifier when
// there is one. An error response of the provider is returned in the
// AuthResult, not as an error.
func (t *TokenClient) ExchangeCode(ctx context.Context, c *Config, code, verifier string) (*AuthResult, error) {
	const op = "TokenClient.ExchangeCode"
	switch {
	case c == nil:
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	case code == "":
		return nil, fmt.Errorf("%s: code is empty: %w", op, ErrInvalidParameter)
	}
	oauth2Config, client, err := t.oauth2Config(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var opts []oauth2.AuthCodeOption
	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}
	opts = append(opts, customParamOpts(c.CustomParamsCodeRequest)...)

	tk, err := oauth2Config.Exchange(HTTPClientContext(ctx, client), code, opts...)
	if err != nil {
		if r, ok := providerError(err); ok {
			t.logger.Warn("code exchange rejected by the provider", "config_id", c.ConfigID, "error", r.Error)
			return r, nil
		}
		return nil, fmt.Errorf("%s: unable to exchange auth code with provider: %v: %w", op, err, ErrExchangeFailed)
	}
	return t.authResult(tk), nil
}

// Refresh runs a refresh token grant. Config.CustomParamsRefreshTokenRequest
// is added to the request. An error response of the provider is returned in
// the AuthResult, not as an error.
func (t *TokenClient) Refresh(ctx context.Context, c *Config, refreshToken string) (*AuthResult, error) {
	const op = "TokenClient.Refresh"
	switch {
	case c == nil:
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	case refreshToken == "":
		return nil, fmt.Errorf("%s: refresh token is empty: %w", op, ErrInvalidParameter)
	}
	oauth2Config, client, err := t.oauth2Config(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(c.CustomParamsRefreshTokenRequest) > 0 {
		client = withFormParams(client, c.CustomParamsRefreshTokenRequest)
	}
	ts := oauth2Config.TokenSource(HTTPClientContext(ctx, client), &oauth2.Token{RefreshToken: refreshToken})
	tk, err := ts.Token()
	if err != nil {
		if r, ok := providerError(err); ok {
			t.logger.Warn("refresh token grant rejected by the provider", "config_id", c.ConfigID, "error", r.Error)
			return r, nil
		}
		return nil, fmt.Errorf("%s: unable to refresh tokens with provider: %v: %w", op, err, ErrExchangeFailed)
	}
	return t.authResult(tk), nil
}

// providerError maps an oauth2 error response of the token endpoint.
func providerError(err error) (*AuthResult, bool) {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) || re.ErrorCode == "" {
		return nil, false
	}
	return &AuthResult{Error: re.ErrorCode, ErrorDescription: re.ErrorDescription}, true
}

func (t *TokenClient) authResult(tk *oauth2.Token) *AuthResult {
	r := &AuthResult{
		AccessToken:  tk.AccessToken,
		RefreshToken: tk.RefreshToken,
		TokenType:    tk.TokenType,
		ExpiresIn:    tk.ExpiresIn,
	}
	if r.ExpiresIn == 0 && !tk.Expiry.IsZero() {
		r.ExpiresIn = int64(tk.Expiry.Sub(t.now()).Round(time.Second) / time.Second)
	}
	if s, ok := tk.Extra("id_token").(string); ok {
		r.IDToken = s
	}
	if s, ok := tk.Extra("scope").(string); ok {
		r.Scope = s
	}
	if s, ok := tk.Extra("session_state").(string); ok {
		r.SessionState = s
	}
	return r
}

// formParamsTransport adds params to the form body of every POST.
type formParamsTransport struct {
	base   http.RoundTripper
	params map[string]string
}

func withFormParams(client *http.Client, params map[string]string) *http.Client {
	c := *client
	base := c.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	c.Transport = &formParamsTransport{base: base, params: params}
	return &c
}

func (f *formParamsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodPost || req.Body == nil {
		return f.base.RoundTrip(req)
	}
	body, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, err
	}
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, err
	}
	for k, v := range f.params {
		form.Set(k, v)
	}
	encoded := form.Encode()
	r := req.Clone(req.Context())
	r.Body = io.NopCloser(bytes.NewBufferString(encoded))
	r.ContentLength = int64(len(encoded))
	r.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewBufferString(encoded)), nil
	}
	return f.base.RoundTrip(r)
}
