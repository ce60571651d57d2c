// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/hashicorp/cap-rp/oidc"
	"github.com/stretchr/testify/require"
)

// testSuccessFn is a test SuccessResponseFunc
func testSuccessFn(state string, r *oidc.StateValidationResult, w http.ResponseWriter, req *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("login successful"))
}

// testFailFn is a test ErrorResponseFunc
func testFailFn(state string, r *AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request) {
	if e != nil {
		w.WriteHeader(http.StatusInternalServerError)
		j, _ := json.Marshal(&AuthenErrorResponse{
			Error:       "internal-callback-error",
			Description: e.Error(),
		})
		_, _ = w.Write(j)
		return
	}
	if r != nil {
		w.WriteHeader(http.StatusUnauthorized)
		j, _ := json.Marshal(r)
		_, _ = w.Write(j)
		return
	}
	w.WriteHeader(http.StatusInternalServerError)
	j, _ := json.Marshal(&AuthenErrorResponse{
		Error: "unknown-callback-error",
	})
	_, _ = w.Write(j)
}

// testNewService creates a Service with in memory storage for the configs.
func testNewService(t *testing.T, configs ...*oidc.Config) *Service {
	t.Helper()
	s, err := NewService(configs, oidc.NewMemoryStorage())
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

// testStartLogin creates the auth URL of c and prepares the TestProvider to
// accept the code for it. It returns the state of the request.
func testStartLogin(t *testing.T, s *Service, tp *oidc.TestProvider, c *oidc.Config, code string) string {
	t.Helper()
	require := require.New(t)
	authURL, err := s.AuthURL(context.Background(), c)
	require.NoError(err)
	u, err := url.Parse(authURL)
	require.NoError(err)
	q := u.Query()
	require.NotEmpty(q.Get("state"))
	require.NotEmpty(q.Get("nonce"))

	tp.SetExpectedAuthCode(code)
	tp.SetExpectedAuthNonce(q.Get("nonce"))
	tp.SetExpectedCodeVerifier(s.Flows().CodeVerifier(c))
	return q.Get("state")
}

// testCallbackURL is the redirect of the TestProvider for code and state.
func testCallbackURL(c *oidc.Config, code, state string) string {
	v := url.Values{}
	v.Set("code", code)
	v.Set("state", state)
	v.Set("session_state", "session-1")
	return c.RedirectURL + "?" + v.Encode()
}

// testLastEvent returns the most recent public event.
func testLastEvent(t *testing.T, s *Service) oidc.Event {
	t.Helper()
	ch, cancel := s.Events().Subscribe()
	defer cancel()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		require.FailNow(t, "no public event")
		return oidc.Event{}
	}
}
