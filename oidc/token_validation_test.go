// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"testing"
	"time"

	josejwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/hashicorp/cap-rp/jwt"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClaims(t *testing.T, payload string) *IDTokenClaims {
	t.Helper()
	var c IDTokenClaims
	require.NoError(t, json.Unmarshal([]byte(payload), &c))
	return &c
}

func testLoggedValidator(now time.Time) (*TokenValidator, *bytes.Buffer) {
	var buf bytes.Buffer
	l := hclog.New(&hclog.LoggerOptions{Output: &buf, Level: hclog.Trace})
	return NewTokenValidator(WithLogger(l), WithNow(func() time.Time { return now })), &buf
}

func TestTokenValidator_RequiredClaimsPresent(t *testing.T) {
	t.Parallel()
	v := NewTokenValidator()
	tests := []struct {
		name    string
		payload string
		want    bool
	}{
		{name: "all", payload: `{"iss":"i","sub":"s","aud":"a","exp":1,"iat":1}`, want: true},
		{name: "present-but-empty", payload: `{"iss":"","sub":"","aud":[],"exp":0,"iat":0}`, want: true},
		{name: "no-iss", payload: `{"sub":"s","aud":"a","exp":1,"iat":1}`},
		{name: "no-sub", payload: `{"iss":"i","aud":"a","exp":1,"iat":1}`},
		{name: "no-aud", payload: `{"iss":"i","sub":"s","exp":1,"iat":1}`},
		{name: "no-exp", payload: `{"iss":"i","sub":"s","aud":"a","iat":1}`},
		{name: "no-iat", payload: `{"iss":"i","sub":"s","aud":"a","exp":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, v.RequiredClaimsPresent(nil, testClaims(t, tt.payload)))
		})
	}
	assert.False(t, v.RequiredClaimsPresent(nil, nil))
}

func TestTokenValidator_IssuerMatches(t *testing.T) {
	t.Parallel()
	v := NewTokenValidator()
	const issuer = "https://idp.test/realms/main"
	tests := []struct {
		name string
		iss  string
		want bool
	}{
		{name: "exact", iss: issuer, want: true},
		{name: "trailing-slash", iss: issuer + "/"},
		{name: "case", iss: "https://IDP.test/realms/main"},
		{name: "other", iss: "https://malicious.test/realms/main"},
		{name: "empty", iss: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, v.IssuerMatches(nil, &IDTokenClaims{Issuer: tt.iss}, issuer))
		})
	}
	assert.False(t, v.IssuerMatches(nil, nil, issuer))
}

func TestTokenValidator_AudienceMatches(t *testing.T) {
	t.Parallel()
	v := NewTokenValidator()
	tests := []struct {
		name    string
		payload string
		want    bool
	}{
		{name: "scalar-equal", payload: `{"aud":"client-a"}`, want: true},
		{name: "scalar-different", payload: `{"aud":"client-b"}`},
		{name: "array-contains", payload: `{"aud":["client-b","client-a"]}`, want: true},
		{name: "array-missing", payload: `{"aud":["client-b","client-c"]}`},
		{name: "absent", payload: `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, v.AudienceMatches(nil, testClaims(t, tt.payload), "client-a"))
		})
	}
}

func TestTokenValidator_Azp(t *testing.T) {
	t.Parallel()
	v := NewTokenValidator()
	tests := []struct {
		name         string
		payload      string
		wantRequired bool
		wantValid    bool
	}{
		{name: "single-aud-no-azp", payload: `{"aud":"client-a"}`, wantRequired: true, wantValid: true},
		{name: "single-aud-array-no-azp", payload: `{"aud":["client-a"]}`, wantRequired: true, wantValid: true},
		{name: "multi-aud-no-azp", payload: `{"aud":["client-a","client-b"]}`, wantRequired: false, wantValid: true},
		{name: "multi-aud-azp", payload: `{"aud":["client-a","client-b"],"azp":"client-a"}`, wantRequired: true, wantValid: true},
		{name: "multi-aud-wrong-azp", payload: `{"aud":["client-a","client-b"],"azp":"client-b"}`, wantRequired: true, wantValid: false},
		{name: "single-aud-wrong-azp", payload: `{"aud":"client-a","azp":"client-x"}`, wantRequired: true, wantValid: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert := assert.New(t)
			claims := testClaims(t, tt.payload)
			assert.Equal(tt.wantRequired, v.AzpRequiredIfMultipleAudiences(nil, claims))
			assert.Equal(tt.wantValid, v.AzpValidIfPresent(nil, claims, "client-a"))
		})
	}
	t.Run("nil-claims", func(t *testing.T) {
		assert.False(t, v.AzpRequiredIfMultipleAudiences(nil, nil))
	})
}

func TestTokenValidator_NonceValid(t *testing.T) {
	t.Parallel()
	v := NewTokenValidator()
	tests := []struct {
		name        string
		payload     string
		localNonce  string
		ignoreAfter bool
		want        bool
	}{
		{name: "equal", payload: `{"nonce":"n1"}`, localNonce: "n1", want: true},
		{name: "different", payload: `{"nonce":"n1"}`, localNonce: "n2"},
		{name: "absent", payload: `{}`, localNonce: "n1"},
		{name: "absent-empty-local", payload: `{}`, localNonce: ""},
		{name: "refresh-absent", payload: `{}`, localNonce: RefreshTokenNoncePlaceholder, want: true},
		{name: "refresh-present", payload: `{"nonce":"n1"}`, localNonce: RefreshTokenNoncePlaceholder},
		{name: "refresh-present-ignored", payload: `{"nonce":"n1"}`, localNonce: RefreshTokenNoncePlaceholder, ignoreAfter: true, want: true},
		{name: "ignore-without-refresh", payload: `{"nonce":"n1"}`, localNonce: "n2", ignoreAfter: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert := assert.New(t)
			claims := testClaims(t, tt.payload)
			got := v.NonceValid(nil, claims, tt.localNonce, tt.ignoreAfter)
			assert.Equal(tt.want, got)
			assert.Equal(got, v.NonceValid(nil, claims, tt.localNonce, tt.ignoreAfter))
		})
	}
}

func TestTokenValidator_IatWithinOffset(t *testing.T) {
	t.Parallel()
	t.Run("fixed-iat", func(t *testing.T) {
		assert := assert.New(t)
		v := NewTokenValidator()
		claims := testClaims(t, `{"iat":1589206486}`)
		assert.True(v.IatWithinOffset(nil, claims, 500000000000, false))
		assert.False(v.IatWithinOffset(nil, claims, 5, false))
		assert.True(v.IatWithinOffset(nil, claims, 5, true))
	})
	now := time.Unix(1700000000, 0)
	v, buf := testLoggedValidator(now)
	tests := []struct {
		name    string
		payload string
		offset  int64
		want    bool
	}{
		{name: "now", payload: `{"iat":1700000000}`, offset: 1, want: true},
		{name: "past-within", payload: `{"iat":1699999890}`, offset: 120, want: true},
		{name: "future-within", payload: `{"iat":1700000110}`, offset: 120, want: true},
		{name: "past-exact-offset", payload: `{"iat":1699999880}`, offset: 120},
		{name: "future-beyond", payload: `{"iat":1700000121}`, offset: 120},
		{name: "missing", payload: `{}`, offset: 120},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, v.IatWithinOffset(&Config{ConfigID: "a"}, testClaims(t, tt.payload), tt.offset, false))
		})
	}
	assert.Contains(t, buf.String(), "config_id=a")
}

func TestTokenValidator_IDTokenNotExpired(t *testing.T) {
	t.Parallel()
	now := time.Unix(1700000000, 500*int64(time.Millisecond))
	v := NewTokenValidator(WithNow(func() time.Time { return now }))
	tests := []struct {
		name    string
		payload string
		offset  int64
		disable bool
		want    bool
	}{
		{name: "future", payload: `{"exp":1700000060}`, want: true},
		{name: "past", payload: `{"exp":1699999999}`},
		{name: "now", payload: `{"exp":1700000000}`},
		{name: "absent", payload: `{}`},
		{name: "absent-negative-offset", payload: `{}`, offset: -1, want: true},
		{name: "offset-rejects", payload: `{"exp":1700000060}`, offset: 60},
		{name: "offset-within", payload: `{"exp":1700000060}`, offset: 59, want: true},
		{name: "disabled", payload: `{"exp":1}`, disable: true, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, v.IDTokenNotExpired(nil, testClaims(t, tt.payload), tt.offset, tt.disable))
		})
	}
	assert.False(t, v.IDTokenNotExpired(nil, nil, 0, false))
}

func TestTokenValidator_HasIDTokenExpired(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	now := time.Now()
	v := NewTokenValidator(WithNow(func() time.Time { return now }))
	k := TestGenerateKeys(t)

	valid := TestSignJWT(t, k, josejwt.Claims{Expiry: josejwt.NewNumericDate(now.Add(time.Minute))})
	expired, err := v.HasIDTokenExpired(nil, valid, 0, false)
	require.NoError(err)
	assert.False(expired)

	expired, err = v.HasIDTokenExpired(nil, valid, 120, false)
	require.NoError(err)
	assert.True(expired)

	_, err = v.HasIDTokenExpired(nil, "nope", 0, false)
	assert.ErrorIs(err, ErrMalformedToken)
}

func TestTokenValidator_AccessTokenNotExpired(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	now := time.Unix(1700000000, 0)
	v := NewTokenValidator(WithNow(func() time.Time { return now }))
	assert.True(v.AccessTokenNotExpired(nil, time.Time{}, 0))
	assert.True(v.AccessTokenNotExpired(nil, now.Add(time.Minute), 0))
	assert.False(v.AccessTokenNotExpired(nil, now.Add(time.Minute), 60))
	assert.False(v.AccessTokenNotExpired(nil, now.Add(-time.Second), 0))
}

func TestTokenValidator_AtHashValid(t *testing.T) {
	t.Parallel()
	v := NewTokenValidator()
	const accessToken = "jHkWEdUXMU1BwAsC4vtUsZwnNvTIxEl0z9K3vx5KF0Y"
	encoded := url.PathEscape("a token/with spaces")
	tests := []struct {
		name        string
		accessToken string
		atHash      string
		alg         jwt.Alg
		want        bool
	}{
		{name: "rs256", accessToken: accessToken, atHash: "77QmUPtjPfzWtF2AnpK9RQ", alg: jwt.RS256, want: true},
		{name: "wrong-hash", accessToken: accessToken, atHash: "nope", alg: jwt.RS256},
		{name: "es384", accessToken: accessToken, atHash: TestAtHash(t, accessToken, jwt.ES384), alg: jwt.ES384, want: true},
		{name: "rs512", accessToken: accessToken, atHash: TestAtHash(t, accessToken, jwt.RS512), alg: jwt.RS512, want: true},
		{name: "alg-mismatch", accessToken: accessToken, atHash: TestAtHash(t, accessToken, jwt.RS512), alg: jwt.RS256},
		{name: "percent-decoded-retry", accessToken: encoded, atHash: TestAtHash(t, "a token/with spaces", jwt.RS256), alg: jwt.RS256, want: true},
		{name: "bad-escape", accessToken: "%zz", atHash: "nope", alg: jwt.RS256},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, v.AtHashValid(nil, tt.accessToken, tt.atHash, tt.alg))
		})
	}
}

func TestTokenValidator_StateMatches(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	v := NewTokenValidator()
	assert.True(v.StateMatches(nil, "s1", "s1"))
	assert.False(v.StateMatches(nil, "s1", "s2"))
	assert.False(v.StateMatches(nil, "", "s1"))
	assert.False(v.StateMatches(nil, "s1", ""))
	assert.False(v.StateMatches(nil, "", ""))
}

func TestTokenValidator_SignatureValid(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	v := NewTokenValidator()
	k := TestGenerateKeys(t)
	other := TestGenerateKeys(t)
	tk := TestSignJWT(t, k, map[string]interface{}{"sub": "alice"})

	ok, err := v.SignatureValid(ctx, nil, tk, TestJWKS(t, k))
	require.NoError(err)
	assert.True(ok)

	ok, err = v.SignatureValid(ctx, nil, tk, TestJWKS(t, other))
	require.NoError(err)
	assert.False(ok)

	_, err = v.SignatureValid(ctx, nil, "a.b", TestJWKS(t, k))
	assert.ErrorIs(err, ErrMalformedToken)
}
