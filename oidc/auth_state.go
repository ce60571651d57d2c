// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
)

// AuthStateStore tracks the authenticated state of every config from the
// tokens in storage, and publishes its changes.
type AuthStateStore struct {
	storage       *StoragePersistence
	validator     *TokenValidator
	events        *PublicEvents
	authenticated *AuthenticatedEvents
	logger        hclog.Logger
	now           func() time.Time
}

// NewAuthStateStore creates an AuthStateStore.
// Supported options:
//   - WithLogger
//   - WithNow
func NewAuthStateStore(s *StoragePersistence, events *PublicEvents, opt ...Option) (*AuthStateStore, error) {
	const op = "oidc.NewAuthStateStore"
	switch {
	case s == nil:
		return nil, fmt.Errorf("%s: storage persistence is nil: %w", op, ErrNilParameter)
	case events == nil:
		return nil, fmt.Errorf("%s: public events are nil: %w", op, ErrNilParameter)
	}
	opts := getComponentOpts(opt...)
	return &AuthStateStore{
		storage:       s,
		validator:     NewTokenValidator(opt...),
		events:        events,
		authenticated: NewAuthenticatedEvents(opt...),
		logger:        opts.withLogger,
		now:           opts.withNowFunc,
	}, nil
}

// Authenticated returns the authenticated channel.
func (a *AuthStateStore) Authenticated() *AuthenticatedEvents {
	return a.authenticated
}

// IsAuthenticated reports whether c has both an access token and an id_token
// in storage.
func (a *AuthStateStore) IsAuthenticated(c *Config) bool {
	return a.storage.AccessToken(c) != "" && a.storage.IDToken(c) != ""
}

// SetAuthenticatedAndFireEvent computes the authenticated flag of every
// config and publishes the result on the authenticated channel.
func (a *AuthStateStore) SetAuthenticatedAndFireEvent(allConfigs []*Config) AuthenticatedResult {
	r := AuthenticatedResult{
		IsAuthenticated:         len(allConfigs) > 0,
		AllConfigsAuthenticated: make([]ConfigAuthenticated, 0, len(allConfigs)),
	}
	for _, c := range allConfigs {
		ok := a.IsAuthenticated(c)
		r.AllConfigsAuthenticated = append(r.AllConfigsAuthenticated, ConfigAuthenticated{ConfigID: configID(c), IsAuthenticated: ok})
		r.IsAuthenticated = r.IsAuthenticated && ok
	}
	a.authenticated.publish(r)
	return r
}

// SetUnauthenticatedAndFireEvent removes the stored tokens of current, then
// recomputes and publishes the authenticated state of all configs.
func (a *AuthStateStore) SetUnauthenticatedAndFireEvent(current *Config, allConfigs []*Config) (AuthenticatedResult, error) {
	const op = "AuthStateStore.SetUnauthenticatedAndFireEvent"
	if err := a.storage.ResetAuthStateInStorage(current); err != nil {
		return AuthenticatedResult{}, fmt.Errorf("%s: %w", op, err)
	}
	return a.SetAuthenticatedAndFireEvent(allConfigs), nil
}

// UpdateAndPublishAuthState fires an EventNewAuthenticationResult.
func (a *AuthStateStore) UpdateAndPublishAuthState(r AuthStateResult) {
	a.events.Fire(EventNewAuthenticationResult, r)
}

// SetAuthorizationData stores the access token and, when authResult has an
// expires_in, the absolute access token expiry. Then the authenticated state
// is recomputed and published. A nil authResult only stores the token.
func (a *AuthStateStore) SetAuthorizationData(accessToken string, authResult *AuthResult, current *Config, allConfigs []*Config) (AuthenticatedResult, error) {
	const op = "AuthStateStore.SetAuthorizationData"
	a.logger.Debug("storing the access token", "config_id", configID(current))
	if err := a.storage.Write(KeyAuthzData, accessToken, current); err != nil {
		return AuthenticatedResult{}, fmt.Errorf("%s: %w", op, err)
	}
	if authResult != nil && authResult.ExpiresIn != 0 {
		expiresAt := a.now().UTC().Truncate(time.Second).Add(time.Duration(authResult.ExpiresIn) * time.Second)
		if err := a.storage.SetAccessTokenExpiresAt(current, expiresAt); err != nil {
			return AuthenticatedResult{}, fmt.Errorf("%s: %w", op, err)
		}
	}
	return a.SetAuthenticatedAndFireEvent(allConfigs), nil
}

// AccessToken returns the access token of c, or "" when c isn't
// authenticated.
func (a *AuthStateStore) AccessToken(c *Config) AccessToken {
	if !a.IsAuthenticated(c) {
		return ""
	}
	return AccessToken(a.storage.AccessToken(c))
}

// IDToken returns the id_token of c, or "" when c isn't authenticated.
func (a *AuthStateStore) IDToken(c *Config) IDToken {
	if !a.IsAuthenticated(c) {
		return ""
	}
	return IDToken(a.storage.IDToken(c))
}

// RefreshToken returns the refresh token of c, or "" when c isn't
// authenticated.
func (a *AuthStateStore) RefreshToken(c *Config) RefreshToken {
	if !a.IsAuthenticated(c) {
		return ""
	}
	return RefreshToken(a.storage.RefreshToken(c))
}

// AuthenticationResult returns the stored auth result of c, or nil when c
// isn't authenticated.
func (a *AuthStateStore) AuthenticationResult(c *Config) *AuthResult {
	if !a.IsAuthenticated(c) {
		return nil
	}
	return a.storage.AuthenticationResult(c)
}

// AreAuthStorageTokensValid reports whether c is authenticated with tokens
// that have not expired.
func (a *AuthStateStore) AreAuthStorageTokensValid(c *Config) bool {
	if !a.IsAuthenticated(c) {
		return false
	}
	if a.HasIDTokenExpiredAndRenewCheckIsEnabled(c) {
		a.logger.Debug("persisted id_token is expired", "config_id", configID(c))
		return false
	}
	if a.HasAccessTokenExpiredIfExpiryExists(c) {
		a.logger.Debug("persisted access_token is expired", "config_id", configID(c))
		return false
	}
	return true
}

// HasIDTokenExpiredAndRenewCheckIsEnabled checks the stored id_token of c
// against RenewTimeBeforeTokenExpiresInSeconds. It only checks when
// TriggerRefreshWhenIDTokenExpired is set and id_token validation is
// enabled. An EventIDTokenExpired is fired when the token has expired.
func (a *AuthStateStore) HasIDTokenExpiredAndRenewCheckIsEnabled(c *Config) bool {
	if c == nil || !c.TriggerRefreshWhenIDTokenExpired || c.DisableIDTokenValidation {
		return false
	}
	token := a.storage.IDToken(c)
	expired, err := a.validator.HasIDTokenExpired(c, token, int64(c.RenewTimeBeforeTokenExpiresInSeconds), c.DisableIDTokenValidation)
	if err != nil {
		a.logger.Warn("unable to decode the stored id_token, treating it as expired", "config_id", configID(c), "error", err)
		expired = true
	}
	if expired {
		a.events.Fire(EventIDTokenExpired, expired)
	}
	return expired
}

// HasAccessTokenExpiredIfExpiryExists checks the stored access token expiry
// of c against RenewTimeBeforeTokenExpiresInSeconds. Without a stored expiry
// the token has not expired. An EventTokenExpired is fired when the token has
// expired.
func (a *AuthStateStore) HasAccessTokenExpiredIfExpiryExists(c *Config) bool {
	if c == nil {
		return false
	}
	expiresAt := a.storage.AccessTokenExpiresAt(c)
	expired := !a.validator.AccessTokenNotExpired(c, expiresAt, int64(c.RenewTimeBeforeTokenExpiresInSeconds))
	if expired {
		a.events.Fire(EventTokenExpired, expired)
	}
	return expired
}
