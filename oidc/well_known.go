// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/cap-rp/jwt"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sync/singleflight"
)

// WellKnownSuffix is appended to the authority to get the discovery URL.
const WellKnownSuffix = "/.well-known/openid-configuration"

// discoveryAttempts is the number of tries of a discovery request. Retries
// back off exponentially between the two waits.
const (
	discoveryAttempts     = 3
	discoveryRetryWaitMin = 100 * time.Millisecond
	discoveryRetryWaitMax = 2 * time.Second
)

// AuthWellKnownEndpoints is the subset of a provider's discovery document
// used by the client.
type AuthWellKnownEndpoints struct {
	Issuer                             string `json:"issuer,omitempty"`
	JwksURI                            string `json:"jwksUri,omitempty"`
	AuthorizationEndpoint              string `json:"authorizationEndpoint,omitempty"`
	TokenEndpoint                      string `json:"tokenEndpoint,omitempty"`
	UserInfoEndpoint                   string `json:"userInfoEndpoint,omitempty"`
	EndSessionEndpoint                 string `json:"endSessionEndpoint,omitempty"`
	CheckSessionIframe                 string `json:"checkSessionIframe,omitempty"`
	RevocationEndpoint                 string `json:"revocationEndpoint,omitempty"`
	IntrospectionEndpoint              string `json:"introspectionEndpoint,omitempty"`
	PushedAuthorizationRequestEndpoint string `json:"parEndpoint,omitempty"`
}

// discoveryDocument is the wire form of the discovery document.
type discoveryDocument struct {
	Issuer                             string `json:"issuer"`
	JwksURI                            string `json:"jwks_uri"`
	AuthorizationEndpoint              string `json:"authorization_endpoint"`
	TokenEndpoint                      string `json:"token_endpoint"`
	UserInfoEndpoint                   string `json:"userinfo_endpoint"`
	EndSessionEndpoint                 string `json:"end_session_endpoint"`
	CheckSessionIframe                 string `json:"check_session_iframe"`
	RevocationEndpoint                 string `json:"revocation_endpoint"`
	IntrospectionEndpoint              string `json:"introspection_endpoint"`
	PushedAuthorizationRequestEndpoint string `json:"pushed_authorization_request_endpoint"`
}

func (d *discoveryDocument) endpoints() *AuthWellKnownEndpoints {
	return &AuthWellKnownEndpoints{
		Issuer:                             d.Issuer,
		JwksURI:                            d.JwksURI,
		AuthorizationEndpoint:              d.AuthorizationEndpoint,
		TokenEndpoint:                      d.TokenEndpoint,
		UserInfoEndpoint:                   d.UserInfoEndpoint,
		EndSessionEndpoint:                 d.EndSessionEndpoint,
		CheckSessionIframe:                 d.CheckSessionIframe,
		RevocationEndpoint:                 d.RevocationEndpoint,
		IntrospectionEndpoint:              d.IntrospectionEndpoint,
		PushedAuthorizationRequestEndpoint: d.PushedAuthorizationRequestEndpoint,
	}
}

// Merge returns a copy of e where every non-empty field of overrides takes
// precedence.
func (e *AuthWellKnownEndpoints) Merge(overrides *AuthWellKnownEndpoints) *AuthWellKnownEndpoints {
	var m AuthWellKnownEndpoints
	if e != nil {
		m = *e
	}
	if overrides == nil {
		return &m
	}
	set := func(dst *string, src string) {
		if src != "" {
			*dst = src
		}
	}
	set(&m.Issuer, overrides.Issuer)
	set(&m.JwksURI, overrides.JwksURI)
	set(&m.AuthorizationEndpoint, overrides.AuthorizationEndpoint)
	set(&m.TokenEndpoint, overrides.TokenEndpoint)
	set(&m.UserInfoEndpoint, overrides.UserInfoEndpoint)
	set(&m.EndSessionEndpoint, overrides.EndSessionEndpoint)
	set(&m.CheckSessionIframe, overrides.CheckSessionIframe)
	set(&m.RevocationEndpoint, overrides.RevocationEndpoint)
	set(&m.IntrospectionEndpoint, overrides.IntrospectionEndpoint)
	set(&m.PushedAuthorizationRequestEndpoint, overrides.PushedAuthorizationRequestEndpoint)
	return &m
}

// WellKnownURL returns the discovery URL of authority. The suffix, which
// defaults to WellKnownSuffix, is appended unless it already occurs in the
// URL. A trailing slash of authority is dropped first.
func WellKnownURL(authority, suffix string) string {
	if suffix == "" {
		suffix = WellKnownSuffix
	}
	if strings.Contains(authority, suffix) {
		return authority
	}
	return strings.TrimSuffix(authority, "/") + suffix
}

// discoveryURL is the discovery URL of c.
func discoveryURL(c *Config) string {
	if c.AuthWellKnownEndpointsURL != "" {
		return WellKnownURL(c.AuthWellKnownEndpointsURL, "")
	}
	return WellKnownURL(c.Authority, "")
}

// ValidateWellKnownIssuer checks that issuer is the discovery URL without its
// well-known suffix. A single trailing slash on either side is tolerated.
// With strictOff a mismatch is accepted.
func ValidateWellKnownIssuer(wellKnownURL, issuer string, strictOff bool) error {
	const op = "oidc.ValidateWellKnownIssuer"
	if strictOff {
		return nil
	}
	expected := strings.TrimSuffix(wellKnownURL, WellKnownSuffix)
	if strings.TrimSuffix(expected, "/") != strings.TrimSuffix(issuer, "/") {
		return fmt.Errorf("%s: Issuer mismatch. Expected: %s, Actual: %s: %w", op, expected, issuer, ErrIssuerMismatch)
	}
	return nil
}

// WellKnownService retrieves and caches the discovery document and signing
// keys of a config.
type WellKnownService struct {
	storage *StoragePersistence
	events  *PublicEvents
	logger  hclog.Logger
	client  *http.Client
	group   singleflight.Group
}

// NewWellKnownService creates a WellKnownService.
// Supported options:
//   - WithLogger
//   - WithHTTPClient
func NewWellKnownService(s *StoragePersistence, events *PublicEvents, opt ...Option) (*WellKnownService, error) {
	const op = "oidc.NewWellKnownService"
	switch {
	case s == nil:
		return nil, fmt.Errorf("%s: storage persistence is nil: %w", op, ErrNilParameter)
	case events == nil:
		return nil, fmt.Errorf("%s: public events are nil: %w", op, ErrNilParameter)
	}
	opts := getComponentOpts(opt...)
	return &WellKnownService{
		storage: s,
		events:  events,
		logger:  opts.withLogger,
		client:  opts.withHTTPClient,
	}, nil
}

func (w *WellKnownService) httpClient(c *Config) (*http.Client, error) {
	if w.client != nil {
		return w.client, nil
	}
	return c.HTTPClient()
}

// Endpoints returns the stored endpoints of c, discovering them when none are
// stored.
func (w *WellKnownService) Endpoints(ctx context.Context, c *Config) (*AuthWellKnownEndpoints, error) {
	const op = "WellKnownService.Endpoints"
	if c == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	if e := w.storage.WellKnownEndpoints(c); e != nil {
		return e, nil
	}
	e, err := w.Discover(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return e, nil
}

// Discover fetches the discovery document of c, checks its issuer and merges
// the config overrides on top. The result is stored for c. Concurrent calls
// for a config share one request. A failure fires EventConfigLoadingFailed.
func (w *WellKnownService) Discover(ctx context.Context, c *Config) (*AuthWellKnownEndpoints, error) {
	const op = "WellKnownService.Discover"
	if c == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	v, err, _ := w.group.Do(c.ConfigID, func() (interface{}, error) {
		return w.discover(ctx, c)
	})
	if err != nil {
		w.logger.Error("well-known endpoint discovery failed", "config_id", c.ConfigID, "error", err)
		w.events.Fire(EventConfigLoadingFailed, c.ConfigID)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	e := v.(*AuthWellKnownEndpoints)
	w.events.Fire(EventConfigLoaded, c.ConfigID)
	return e, nil
}

func (w *WellKnownService) discover(ctx context.Context, c *Config) (*AuthWellKnownEndpoints, error) {
	if c.Authority == "" && c.AuthWellKnownEndpointsURL == "" {
		return nil, fmt.Errorf("no authority for %s: %w", c.ConfigID, ErrNoAuthority)
	}
	wellKnownURL := discoveryURL(c)
	doc, err := w.fetch(ctx, c, wellKnownURL)
	if err != nil {
		return nil, err
	}
	if err := ValidateWellKnownIssuer(wellKnownURL, doc.Issuer, c.StrictIssuerValidationOnWellKnownRetrievalOff); err != nil {
		return nil, err
	}
	e := doc.endpoints().Merge(c.AuthWellKnownEndpoints)
	if err := w.storage.Write(KeyAuthWellKnownEndPoints, e, c); err != nil {
		return nil, err
	}
	return e, nil
}

func (w *WellKnownService) fetch(ctx context.Context, c *Config, wellKnownURL string) (*discoveryDocument, error) {
	client, err := w.httpClient(c)
	if err != nil {
		return nil, err
	}
	// connection errors, 429 and 5xx responses are retried.
	rc := &retryablehttp.Client{
		HTTPClient:   client,
		Logger:       w.logger.With("config_id", c.ConfigID),
		RetryWaitMin: discoveryRetryWaitMin,
		RetryWaitMax: discoveryRetryWaitMax,
		RetryMax:     discoveryAttempts - 1,
		CheckRetry:   retryablehttp.DefaultRetryPolicy,
		Backoff:      retryablehttp.DefaultBackoff,
		ErrorHandler: retryablehttp.PassthroughErrorHandler,
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, wellKnownURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrDiscoveryFailed)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := rc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrDiscoveryFailed)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("unable to read response body: %v: %w", err, ErrDiscoveryFailed)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: %s: %w", resp.Status, body, ErrDiscoveryFailed)
	}
	var doc discoveryDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("unable to decode the discovery document: %v: %w", err, ErrDiscoveryFailed)
	}
	return &doc, nil
}

// SigningKeys fetches the key set at the jwks_uri of c and stores it. When
// the fetch fails the previously stored key set is returned.
func (w *WellKnownService) SigningKeys(ctx context.Context, c *Config) (*jwt.KeySet, error) {
	const op = "WellKnownService.SigningKeys"
	e, err := w.Endpoints(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if e.JwksURI == "" {
		return nil, fmt.Errorf("%s: no jwks_uri for %s: %w", op, c.ConfigID, ErrNotFound)
	}
	client, err := w.httpClient(c)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ks, fetchErr := jwt.FetchKeySet(ctx, client, e.JwksURI, jwt.WithLogger(w.logger))
	if fetchErr == nil {
		if err := w.storage.Write(KeyJWTKeys, ks, c); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return ks, nil
	}
	if stored := w.storage.SigningKeys(c); stored != nil {
		w.logger.Warn("unable to fetch signing keys, using the stored keys", "config_id", c.ConfigID, "error", fetchErr)
		return stored, nil
	}
	if errors.Is(fetchErr, jwt.ErrInvalidKeySet) {
		return nil, fmt.Errorf("%s: %w", op, fetchErr)
	}
	return nil, fmt.Errorf("%s: %v: %w", op, fetchErr, ErrNotFound)
}
