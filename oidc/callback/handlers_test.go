// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/hashicorp/cap-rp/oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthCode(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		target     func(c *oidc.Config, state string) string
		nilService bool
		wantStatus int
		wantError  string
	}{
		{
			name:       "valid",
			target:     func(c *oidc.Config, state string) string { return testCallbackURL(c, "code-1", state) },
			wantStatus: http.StatusOK,
		},
		{
			name:       "provider-error",
			target:     func(c *oidc.Config, state string) string { return c.RedirectURL + "?error=access_denied&state=" + state },
			wantStatus: http.StatusUnauthorized,
			wantError:  "access_denied",
		},
		{
			name:       "bad-code",
			target:     func(c *oidc.Config, state string) string { return testCallbackURL(c, "not-the-code", state) },
			wantStatus: http.StatusInternalServerError,
			wantError:  "internal-callback-error",
		},
		{
			name:       "nil-service",
			target:     func(c *oidc.Config, state string) string { return testCallbackURL(c, "code-1", state) },
			nilService: true,
			wantStatus: http.StatusInternalServerError,
			wantError:  "internal-callback-error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			tp := oidc.StartTestProvider(t)
			c := tp.TestConfig()
			s := testNewService(t, c)
			state := testStartLogin(t, s, tp, c, "code-1")

			svc := s
			if tt.nilService {
				svc = nil
			}
			h := AuthCode(ctx, svc, c, testSuccessFn, testFailFn)
			w := httptest.NewRecorder()
			h(w, httptest.NewRequest(http.MethodGet, tt.target(c, state), nil))

			resp := w.Result()
			assert.Equal(tt.wantStatus, resp.StatusCode)
			body, err := io.ReadAll(resp.Body)
			require.NoError(err)
			if tt.wantError == "" {
				assert.Equal("login successful", string(body))
				assert.True(s.AuthState().IsAuthenticated(c))
				return
			}
			var got AuthenErrorResponse
			require.NoError(json.Unmarshal(body, &got))
			assert.Equal(tt.wantError, got.Error)
			assert.False(s.AuthState().IsAuthenticated(c))
		})
	}
}

func TestImplicit(t *testing.T) {
	ctx := context.Background()
	assert, require := assert.New(t), require.New(t)
	tp := oidc.StartTestProvider(t)
	c := tp.TestConfig(oidc.WithResponseType(oidc.ResponseTypeIDTokenAndToken))
	s := testNewService(t, c)

	h := Implicit(ctx, s, c, testSuccessFn, testFailFn)

	form := url.Values{}
	form.Set("error", "login_required")
	form.Set("error_description", "user must log in")
	form.Set("state", "st_1")
	req := httptest.NewRequest(http.MethodPost, c.RedirectURL, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	h(w, req)

	resp := w.Result()
	assert.Equal(http.StatusUnauthorized, resp.StatusCode)
	var got AuthenErrorResponse
	require.NoError(json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(AuthenErrorResponse{Error: "login_required", Description: "user must log in"}, got)

	e := testLastEvent(t, s)
	assert.Equal(oidc.AuthStateResult{ValidationResult: oidc.LoginRequired, ConfigID: c.ConfigID}, e.Value)

	form = url.Values{}
	form.Set("state", "st_1")
	form.Set("id_token", "not-a-token")
	req = httptest.NewRequest(http.MethodPost, c.RedirectURL, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = httptest.NewRecorder()
	h(w, req)
	assert.Equal(http.StatusInternalServerError, w.Result().StatusCode)
}
