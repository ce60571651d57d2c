// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"encoding/json"
	"encoding/pem"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/cap-rp/jwt"
	"github.com/hashicorp/cap-rp/oidc/internal/strutils"
	"github.com/stretchr/testify/require"
)

// TestProvider is a local TLS server with the provider endpoints used by the
// client: discovery, certs, token and userinfo. Tokens it issues are signed
// with an ES256 key published at its certs endpoint.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string
	keys       *TestKeys

	mu                   sync.Mutex
	clientID             string
	allowedRedirectURIs  []string
	replySubject         string
	replyUserinfo        map[string]interface{}
	issuer               string
	expectedAuthCode     string
	expectedCodeVerifier string
	expectedAuthNonce    string
	expectedRefreshToken string
	nextRefreshToken     string
	customClaims         map[string]interface{}
	customAudience       []string
	omitIDToken          bool
	disableUserInfo      bool
	tokenError           string
	discoveryFailures    int
	discoveryRequests    int
	authTime             time.Time
	lastAccessToken      string

	t *testing.T
}

// StartTestProvider creates a disposable TestProvider. It's stopped when the
// test completes.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		clientID: "test-client-id",
		allowedRedirectURIs: []string{
			"https://example.com/callback",
		},
		replySubject: "r3qXcK2bix9eFECzsU3Sbmh0K16fatW6@clients",
		replyUserinfo: map[string]interface{}{
			"color":       "red",
			"temperature": "76",
			"flavor":      "umami",
		},
		authTime: time.Now().Add(-time.Minute).Truncate(time.Second),
		t:        t,
	}
	p.keys = TestGenerateKeys(t)

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: p.httpServer.Certificate().Raw})
	require.NoError(err)
	p.caCert = buf.String()
	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// Addr is the provider's URL, which is also its issuer.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the PEM of the provider's TLS certificate.
func (p *TestProvider) CACert() string { return p.caCert }

// SigningKeys returns the key pair the provider signs id_tokens with.
func (p *TestProvider) SigningKeys() *TestKeys { return p.keys }

// ClientID is the client id the provider issues tokens for.
func (p *TestProvider) ClientID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clientID
}

// TestConfig returns a config of the client registered at the provider,
// using the code flow and trusting the provider's certificate.
func (p *TestProvider) TestConfig(opt ...Option) *Config {
	p.t.Helper()
	opts := append([]Option{WithConfigID("test"), WithProviderCA(p.caCert)}, opt...)
	c, err := NewConfig(p.Addr(), p.ClientID(), p.allowedRedirectURIs[0], opts...)
	require.NoError(p.t, err)
	return c
}

// SetClientID sets the client id of the registered client.
func (p *TestProvider) SetClientID(clientID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
}

// SetIssuer sets the issuer of the discovery document and of issued
// id_tokens. By default it's Addr().
func (p *TestProvider) SetIssuer(issuer string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.issuer = issuer
}

// SetExpectedAuthCode sets the code the token endpoint accepts.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
}

// SetExpectedCodeVerifier makes the token endpoint require this PKCE code
// verifier.
func (p *TestProvider) SetExpectedCodeVerifier(verifier string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedCodeVerifier = verifier
}

// SetExpectedAuthNonce sets the nonce claim of id_tokens issued for a code.
func (p *TestProvider) SetExpectedAuthNonce(nonce string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthNonce = nonce
}

// SetRefreshTokens sets the refresh token the token endpoint accepts and the
// one it issues next.
func (p *TestProvider) SetRefreshTokens(expected, next string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedRefreshToken = expected
	p.nextRefreshToken = next
}

// SetCustomClaims sets claims added to issued id_tokens. A nil value
// removes the claim.
func (p *TestProvider) SetCustomClaims(customClaims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = customClaims
}

// SetCustomAudience sets the aud of issued id_tokens.
func (p *TestProvider) SetCustomAudience(aud ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customAudience = aud
}

// OmitIDTokens makes the token endpoint reply without an id_token.
func (p *TestProvider) OmitIDTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// DisableUserInfo removes the userinfo endpoint.
func (p *TestProvider) DisableUserInfo() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableUserInfo = true
}

// SetTokenError makes the token endpoint reply with the oauth2 error code.
// An empty code restores normal replies.
func (p *TestProvider) SetTokenError(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenError = code
}

// SetDiscoveryFailures makes the next n discovery requests fail.
func (p *TestProvider) SetDiscoveryFailures(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.discoveryFailures = n
}

// DiscoveryRequests is the number of discovery requests served, failed ones
// included.
func (p *TestProvider) DiscoveryRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.discoveryRequests
}

// Subject is the sub of issued id_tokens and userinfo replies.
func (p *TestProvider) Subject() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.replySubject
}

// AuthTime is the auth_time claim of issued id_tokens.
func (p *TestProvider) AuthTime() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.authTime
}

// LastAccessToken is the access token of the last token reply.
func (p *TestProvider) LastAccessToken() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastAccessToken
}

func (p *TestProvider) issuerLocked() string {
	if p.issuer != "" {
		return p.issuer
	}
	return p.Addr()
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) error {
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) error {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}
	w.WriteHeader(statusCode)
	return p.writeJSON(w, &body)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")

	switch req.URL.Path {
	case WellKnownSuffix:
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.discoveryRequests++
		if p.discoveryFailures > 0 {
			p.discoveryFailures--
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		reply := discoveryDocument{
			Issuer:                p.issuerLocked(),
			AuthorizationEndpoint: p.Addr() + "/auth",
			TokenEndpoint:         p.Addr() + "/token",
			JwksURI:               p.Addr() + "/certs",
			UserInfoEndpoint:      p.Addr() + "/userinfo",
			EndSessionEndpoint:    p.Addr() + "/logout",
			RevocationEndpoint:    p.Addr() + "/revoke",
		}
		if p.disableUserInfo {
			reply.UserInfoEndpoint = ""
		}
		_ = p.writeJSON(w, &reply)

	case "/certs":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = p.writeJSON(w, TestJWKS(p.t, p.keys))

	case "/certs_missing":
		w.WriteHeader(http.StatusNotFound)

	case "/certs_invalid":
		_, _ = w.Write([]byte("It's not a keyset!"))

	case "/token":
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.serveToken(w, req)

	case "/userinfo":
		if p.disableUserInfo {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		reply := map[string]interface{}{"sub": p.replySubject}
		for k, v := range p.replyUserinfo {
			reply[k] = v
		}
		_ = p.writeJSON(w, reply)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (p *TestProvider) serveToken(w http.ResponseWriter, req *http.Request) {
	if p.tokenError != "" {
		_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, p.tokenError, "")
		return
	}
	if req.FormValue("client_id") != p.clientID {
		_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "unknown client_id")
		return
	}

	var nonce string
	switch req.FormValue("grant_type") {
	case "authorization_code":
		switch {
		case !strutils.StrListContains(p.allowedRedirectURIs, req.FormValue("redirect_uri")):
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "redirect_uri is not allowed")
			return
		case p.expectedAuthCode == "" || req.FormValue("code") != p.expectedAuthCode:
			_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_grant", "unexpected auth code")
			return
		case p.expectedCodeVerifier != "" && req.FormValue("code_verifier") != p.expectedCodeVerifier:
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "code_verifier does not match")
			return
		}
		nonce = p.expectedAuthNonce
	case "refresh_token":
		if p.expectedRefreshToken == "" || req.FormValue("refresh_token") != p.expectedRefreshToken {
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "unexpected refresh token")
			return
		}
	default:
		_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "bad grant_type")
		return
	}

	accessToken, err := NewID(WithPrefix("at"))
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	p.lastAccessToken = accessToken

	reply := struct {
		AccessToken  string `json:"access_token"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int64  `json:"expires_in"`
		RefreshToken string `json:"refresh_token,omitempty"`
		IDToken      string `json:"id_token,omitempty"`
	}{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    300,
		RefreshToken: p.nextRefreshToken,
	}
	if !p.omitIDToken {
		reply.IDToken = TestSignJWT(p.t, p.keys, p.idTokenClaims(accessToken, nonce))
	}
	_ = p.writeJSON(w, &reply)
}

func (p *TestProvider) idTokenClaims(accessToken, nonce string) map[string]interface{} {
	now := time.Now()
	claims := map[string]interface{}{
		ClaimIssuer:          p.issuerLocked(),
		ClaimSubject:         p.replySubject,
		ClaimAudience:        []string{p.clientID},
		ClaimIssuedAt:        now.Unix(),
		ClaimNotBefore:       now.Add(-5 * time.Second).Unix(),
		ClaimExpiry:          now.Add(5 * time.Minute).Unix(),
		ClaimAuthTime:        p.authTime.Unix(),
		ClaimAccessTokenHash: TestAtHash(p.t, accessToken, jwt.ES256),
	}
	if len(p.customAudience) > 0 {
		claims[ClaimAudience] = p.customAudience
	}
	if nonce != "" {
		claims[ClaimNonce] = nonce
	}
	for k, v := range p.customClaims {
		if v == nil {
			delete(claims, k)
			continue
		}
		claims[k] = v
	}
	return claims
}
