// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTokenClient(t *testing.T) (*TokenClient, *StoragePersistence) {
	t.Helper()
	require := require.New(t)
	p, _ := testStoragePersistence(t)
	events := NewPublicEvents()
	t.Cleanup(events.Close)
	w, err := NewWellKnownService(p, events)
	require.NoError(err)
	tc, err := NewTokenClient(w)
	require.NoError(err)
	return tc, p
}

func TestNewTokenClient(t *testing.T) {
	t.Parallel()
	_, err := NewTokenClient(nil)
	assert.ErrorIs(t, err, ErrNilParameter)
}

func TestTokenClient_ExchangeCode(t *testing.T) {
	ctx := context.Background()

	t.Run("valid", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		tc, _ := testTokenClient(t)
		c := tp.TestConfig()
		tp.SetExpectedAuthCode("code-1")
		tp.SetExpectedCodeVerifier("verifier-1")
		tp.SetExpectedAuthNonce("n_1")
		tp.SetRefreshTokens("", "rt_1")

		r, err := tc.ExchangeCode(ctx, c, "code-1", "verifier-1")
		require.NoError(err)
		assert.False(r.HasError())
		assert.Equal(tp.LastAccessToken(), r.AccessToken)
		assert.Equal("Bearer", r.TokenType)
		assert.Equal("rt_1", r.RefreshToken)
		assert.InDelta(300, r.ExpiresIn, 2)

		claims, err := DecodeIDTokenClaims(r.IDToken)
		require.NoError(err)
		assert.Equal("n_1", claims.Nonce)
		assert.Equal(tp.Subject(), claims.Subject)
	})
	t.Run("provider-errors", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		tc, _ := testTokenClient(t)
		c := tp.TestConfig()
		tp.SetExpectedAuthCode("code-1")
		tp.SetExpectedCodeVerifier("verifier-1")

		r, err := tc.ExchangeCode(ctx, c, "not-the-code", "verifier-1")
		require.NoError(err)
		assert.Equal("invalid_grant", r.Error)
		assert.Equal("unexpected auth code", r.ErrorDescription)

		r, err = tc.ExchangeCode(ctx, c, "code-1", "not-the-verifier")
		require.NoError(err)
		assert.Equal("invalid_grant", r.Error)

		tp.SetTokenError("temporarily_unavailable")
		r, err = tc.ExchangeCode(ctx, c, "code-1", "verifier-1")
		require.NoError(err)
		assert.Equal("temporarily_unavailable", r.Error)
	})
	t.Run("transport-error", func(t *testing.T) {
		require := require.New(t)
		tp := StartTestProvider(t)
		tc, p := testTokenClient(t)
		c := tp.TestConfig()
		require.NoError(p.Write(KeyAuthWellKnownEndPoints, &AuthWellKnownEndpoints{Issuer: tp.Addr(), TokenEndpoint: tp.Addr() + "/token"}, c))
		tp.Stop()

		_, err := tc.ExchangeCode(ctx, c, "code-1", "")
		require.Error(err)
		assert.ErrorIs(t, err, ErrExchangeFailed)
	})
	t.Run("parameters", func(t *testing.T) {
		tc, _ := testTokenClient(t)
		_, err := tc.ExchangeCode(ctx, nil, "code", "")
		assert.ErrorIs(t, err, ErrNilParameter)
		_, err = tc.ExchangeCode(ctx, testValidConfig("a"), "", "")
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})
	t.Run("no-token-endpoint", func(t *testing.T) {
		tc, p := testTokenClient(t)
		c := testValidConfig("a")
		require.NoError(t, p.Write(KeyAuthWellKnownEndPoints, &AuthWellKnownEndpoints{Issuer: c.Authority}, c))
		_, err := tc.ExchangeCode(ctx, c, "code", "")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestTokenClient_Refresh(t *testing.T) {
	ctx := context.Background()
	assert, require := assert.New(t), require.New(t)
	tp := StartTestProvider(t)
	tc, _ := testTokenClient(t)
	c := tp.TestConfig(WithSilentRenew(""), WithRefreshTokens())
	c.CustomParamsRefreshTokenRequest = map[string]string{"audience": "api"}
	tp.SetRefreshTokens("rt_1", "rt_2")

	r, err := tc.Refresh(ctx, c, "rt_1")
	require.NoError(err)
	assert.Equal("rt_2", r.RefreshToken)
	assert.Equal(tp.LastAccessToken(), r.AccessToken)
	assert.NotEmpty(r.IDToken)

	r, err = tc.Refresh(ctx, c, "rt_unknown")
	require.NoError(err)
	assert.Equal("invalid_grant", r.Error)

	_, err = tc.Refresh(ctx, c, "")
	assert.ErrorIs(err, ErrInvalidParameter)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func TestFormParamsTransport(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)

	var got url.Values
	var gotLength int64
	base := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		b, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		got, err = url.ParseQuery(string(b))
		gotLength = req.ContentLength
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("")), Request: req}, err
	})
	client := withFormParams(&http.Client{Transport: base}, map[string]string{"audience": "api"})

	body := url.Values{"grant_type": {"refresh_token"}, "refresh_token": {"rt_1"}}.Encode()
	req, err := http.NewRequest(http.MethodPost, "https://idp.test/token", strings.NewReader(body))
	require.NoError(err)
	resp, err := client.Do(req)
	require.NoError(err)
	resp.Body.Close()

	assert.Equal("api", got.Get("audience"))
	assert.Equal("rt_1", got.Get("refresh_token"))
	assert.Equal(int64(len(got.Encode())), gotLength)
}

func TestTokenClient_UserInfo(t *testing.T) {
	ctx := context.Background()

	t.Run("valid", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		tc, _ := testTokenClient(t)
		c := tp.TestConfig()

		claims, err := tc.UserInfo(ctx, c, "at_1", tp.Subject())
		require.NoError(err)
		assert.Equal(tp.Subject(), claims["sub"])
		assert.Equal("red", claims["color"])
	})
	t.Run("sub-mismatch", func(t *testing.T) {
		tp := StartTestProvider(t)
		tc, _ := testTokenClient(t)
		_, err := tc.UserInfo(ctx, tp.TestConfig(), "at_1", "someone-else")
		assert.ErrorIs(t, err, ErrInvalidUserInfo)
	})
	t.Run("no-endpoint", func(t *testing.T) {
		tp := StartTestProvider(t)
		tp.DisableUserInfo()
		tc, _ := testTokenClient(t)
		_, err := tc.UserInfo(ctx, tp.TestConfig(), "at_1", tp.Subject())
		assert.ErrorIs(t, err, ErrNotFound)
	})
	t.Run("no-access-token", func(t *testing.T) {
		tc, _ := testTokenClient(t)
		_, err := tc.UserInfo(ctx, testValidConfig("a"), "", "alice")
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})
}
