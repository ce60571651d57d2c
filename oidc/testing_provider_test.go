// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProviderGet(t *testing.T, tp *TestProvider, path string) *http.Response {
	t.Helper()
	c := tp.TestConfig()
	client, err := c.HTTPClient()
	require.NoError(t, err)
	resp, err := client.Get(tp.Addr() + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func testProviderToken(t *testing.T, tp *TestProvider, form url.Values) (int, map[string]interface{}) {
	t.Helper()
	require := require.New(t)
	client, err := tp.TestConfig().HTTPClient()
	require.NoError(err)
	resp, err := client.PostForm(tp.Addr()+"/token", form)
	require.NoError(err)
	defer resp.Body.Close()
	body := map[string]interface{}{}
	require.NoError(json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func Test_StartTestProvider(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	tp := StartTestProvider(t)
	assert.True(strings.HasPrefix(tp.Addr(), "https://"))
	assert.NotEmpty(tp.CACert())
	assert.Equal("test-client-id", tp.ClientID())

	c := tp.TestConfig()
	assert.Equal("test", c.ConfigID)
	assert.Equal(tp.Addr(), c.Authority)
	assert.Equal(tp.CACert(), c.ProviderCA)

	resp := testProviderGet(t, tp, WellKnownSuffix)
	require.Equal(http.StatusOK, resp.StatusCode)
	var doc discoveryDocument
	require.NoError(json.NewDecoder(resp.Body).Decode(&doc))
	assert.Equal(tp.Addr(), doc.Issuer)
	assert.Equal(tp.Addr()+"/certs", doc.JwksURI)
	assert.Equal(1, tp.DiscoveryRequests())
}

func TestTestProvider_SetIssuer(t *testing.T) {
	t.Parallel()
	tp := StartTestProvider(t)
	tp.SetIssuer("https://issuer.test")
	var doc discoveryDocument
	require.NoError(t, json.NewDecoder(testProviderGet(t, tp, WellKnownSuffix).Body).Decode(&doc))
	assert.Equal(t, "https://issuer.test", doc.Issuer)
}

func TestTestProvider_SetDiscoveryFailures(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	tp := StartTestProvider(t)
	tp.SetDiscoveryFailures(1)
	assert.Equal(http.StatusServiceUnavailable, testProviderGet(t, tp, WellKnownSuffix).StatusCode)
	assert.Equal(http.StatusOK, testProviderGet(t, tp, WellKnownSuffix).StatusCode)
	assert.Equal(2, tp.DiscoveryRequests())
}

func TestTestProvider_Certs(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	tp := StartTestProvider(t)
	var ks struct {
		Keys []map[string]interface{} `json:"keys"`
	}
	require.NoError(json.NewDecoder(testProviderGet(t, tp, "/certs").Body).Decode(&ks))
	require.Len(ks.Keys, 1)
	assert.Equal(tp.SigningKeys().KeyID, ks.Keys[0]["kid"])
	assert.Equal(http.StatusNotFound, testProviderGet(t, tp, "/certs_missing").StatusCode)
}

func TestTestProvider_Token(t *testing.T) {
	t.Parallel()
	tp := StartTestProvider(t)
	code := func() url.Values {
		return url.Values{
			"grant_type":    {"authorization_code"},
			"client_id":     {tp.ClientID()},
			"redirect_uri":  {"https://example.com/callback"},
			"code":          {"code-1"},
			"code_verifier": {"verifier-1"},
		}
	}

	t.Run("authorization-code", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp.SetExpectedAuthCode("code-1")
		tp.SetExpectedCodeVerifier("verifier-1")
		tp.SetExpectedAuthNonce("n_1")
		tp.SetCustomClaims(map[string]interface{}{"tenant": "t1", ClaimAuthTime: nil})
		tp.SetCustomAudience("aud-1", "aud-2")
		defer tp.SetCustomClaims(nil)
		defer tp.SetCustomAudience()

		status, body := testProviderToken(t, tp, code())
		require.Equal(http.StatusOK, status)
		assert.Equal(tp.LastAccessToken(), body["access_token"])
		assert.Equal("Bearer", body["token_type"])

		claims, err := DecodeIDTokenClaims(body["id_token"].(string))
		require.NoError(err)
		assert.Equal("n_1", claims.Nonce)
		assert.Equal("t1", claims.Extra["tenant"])
		assert.False(claims.Has(ClaimAuthTime))
		assert.ElementsMatch([]string{"aud-1", "aud-2"}, []string(claims.Audience))
		assert.Equal(TestAtHash(t, tp.LastAccessToken(), tp.SigningKeys().Alg), claims.AccessTokenHash)
	})
	t.Run("rejections", func(t *testing.T) {
		assert := assert.New(t)
		tp.SetExpectedAuthCode("code-1")
		tp.SetExpectedCodeVerifier("verifier-1")

		f := code()
		f.Set("client_id", "someone-else")
		status, body := testProviderToken(t, tp, f)
		assert.Equal(http.StatusUnauthorized, status)
		assert.Equal("invalid_client", body["error"])

		f = code()
		f.Set("redirect_uri", "https://evil.test/callback")
		_, body = testProviderToken(t, tp, f)
		assert.Equal("invalid_request", body["error"])

		f = code()
		f.Set("code_verifier", "not-the-verifier")
		_, body = testProviderToken(t, tp, f)
		assert.Equal("invalid_grant", body["error"])

		f = code()
		f.Set("grant_type", "password")
		_, body = testProviderToken(t, tp, f)
		assert.Equal("invalid_request", body["error"])
	})
	t.Run("refresh-token", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp.SetRefreshTokens("rt_1", "rt_2")
		tp.OmitIDTokens()
		status, body := testProviderToken(t, tp, url.Values{
			"grant_type":    {"refresh_token"},
			"client_id":     {tp.ClientID()},
			"refresh_token": {"rt_1"},
		})
		require.Equal(http.StatusOK, status)
		assert.Equal("rt_2", body["refresh_token"])
		assert.NotContains(body, "id_token")
	})
}

func TestTestProvider_UserInfo(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	tp := StartTestProvider(t)
	body := map[string]interface{}{}
	require.NoError(json.NewDecoder(testProviderGet(t, tp, "/userinfo").Body).Decode(&body))
	assert.Equal(tp.Subject(), body["sub"])
	assert.Equal("umami", body["flavor"])

	tp.DisableUserInfo()
	assert.Equal(http.StatusNotFound, testProviderGet(t, tp, "/userinfo").StatusCode)
}

func TestTestProvider_writeTokenErrorResponse(t *testing.T) {
	tp := StartTestProvider(t)
	type body struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}
	t.Run("include-desc", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		rr := httptest.NewRecorder()
		err := tp.writeTokenErrorResponse(rr, 401, "error_code", "error_message")
		require.NoError(err)
		var errBody body
		err = json.Unmarshal(rr.Body.Bytes(), &errBody)
		require.NoError(err)
		assert.Equal(401, rr.Code)
		assert.Equal("error_code", errBody.Code)
		assert.Equal("error_message", errBody.Desc)
	})
	t.Run("no-desc", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		rr := httptest.NewRecorder()
		err := tp.writeTokenErrorResponse(rr, 401, "error_code", "")
		require.NoError(err)
		var errBody body
		err = json.Unmarshal(rr.Body.Bytes(), &errBody)
		require.NoError(err)
		assert.Equal("error_code", errBody.Code)
		assert.Empty(errBody.Desc)
	})
}
