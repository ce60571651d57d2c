// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/hashicorp/cap-rp/oidc"
)

// loginRequired is the error of a provider that needs user interaction.
const loginRequired = "login_required"

// CodeFlow completes an authorization code flow from the callback URL of the
// redirect. The URL must carry state and code. The code is exchanged with the
// stored PKCE verifier and the response goes through the callback chain.
func (s *Service) CodeFlow(ctx context.Context, c *oidc.Config, callbackURL string) (*oidc.CallbackContext, error) {
	const op = "Service.CodeFlow"
	if c == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, oidc.ErrNilParameter)
	}
	u, err := url.Parse(callbackURL)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to parse the callback url: %v: %w", op, err, oidc.ErrInvalidParameter)
	}
	q := u.Query()
	cc := &oidc.CallbackContext{
		Code:           q.Get("code"),
		State:          q.Get("state"),
		SessionState:   q.Get("session_state"),
		IsRenewProcess: s.flows.IsSilentRenewRunning(c),
	}
	if e := q.Get("error"); e != "" {
		cc.AuthResult = &oidc.AuthResult{State: cc.State, Error: e, ErrorDescription: q.Get("error_description")}
		return cc, fmt.Errorf("%s: %w", op, s.providerError(c, cc))
	}
	switch {
	case cc.State == "":
		return nil, fmt.Errorf("%s: no state in the callback url: %w", op, oidc.ErrInvalidParameter)
	case cc.Code == "":
		return nil, fmt.Errorf("%s: no code in the callback url: %w", op, oidc.ErrInvalidParameter)
	}
	if err := s.codeRequest(ctx, c, cc); err != nil {
		return cc, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.chain(ctx, c, cc); err != nil {
		return cc, fmt.Errorf("%s: %w", op, err)
	}
	return cc, nil
}

// codeRequest checks the state again and exchanges the code.
func (s *Service) codeRequest(ctx context.Context, c *oidc.Config, cc *oidc.CallbackContext) error {
	if !s.validator.Validator().StateMatches(c, cc.State, s.flows.AuthStateControl(c)) {
		s.logger.Warn("code request with an incorrect state", "config_id", c.ConfigID)
		return s.invalid(c, cc, &oidc.StateValidationResult{State: oidc.StatesDoNotMatch})
	}
	r, err := s.tokens.ExchangeCode(ctx, c, cc.Code, s.flows.CodeVerifier(c))
	if err != nil {
		return s.failed(c, cc, err)
	}
	r.State = cc.State
	if r.SessionState == "" {
		r.SessionState = cc.SessionState
	}
	cc.AuthResult = r
	return nil
}

// Implicit completes an implicit flow from the fragment of the redirect.
func (s *Service) Implicit(ctx context.Context, c *oidc.Config, fragment string) (*oidc.CallbackContext, error) {
	const op = "Service.Implicit"
	if c == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, oidc.ErrNilParameter)
	}
	r, err := oidc.ParseAuthResult(fragment)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	cc := &oidc.CallbackContext{
		State:          r.State,
		SessionState:   r.SessionState,
		AuthResult:     r,
		IsRenewProcess: s.flows.IsSilentRenewRunning(c),
	}
	if err := s.chain(ctx, c, cc); err != nil {
		return cc, fmt.Errorf("%s: %w", op, err)
	}
	return cc, nil
}

// RefreshToken renews the tokens of c with the stored refresh token. Only one
// renew per config runs at a time; it's bounded by the silent renew timeout
// of c. A result that arrives when the renew is no longer current is
// discarded.
func (s *Service) RefreshToken(ctx context.Context, c *oidc.Config) (*oidc.CallbackContext, error) {
	const op = "Service.RefreshToken"
	if c == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, oidc.ErrNilParameter)
	}
	refreshToken := s.storage.RefreshToken(c)
	if refreshToken == "" {
		return nil, fmt.Errorf("%s: no refresh token for %s: %w", op, c.ConfigID, oidc.ErrNotFound)
	}
	ticket, err := s.flows.StartSilentRenew(c)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer s.flows.FinishSilentRenew(c, ticket)

	if err := s.flows.SetNonce(c, oidc.RefreshTokenNoncePlaceholder); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.SilentRenewTimeout())
	defer cancel()

	existingIDToken := s.storage.IDToken(c)
	r, err := s.tokens.Refresh(ctx, c, refreshToken)
	switch {
	case err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
		s.logger.Warn("refresh token grant timed out", "config_id", c.ConfigID, "timeout", c.SilentRenewTimeout())
		s.flows.ResetSilentRenewRunning(c)
		return nil, fmt.Errorf("%s: %v: %w", op, err, oidc.ErrRenewTimeout)
	case err != nil:
		cc := &oidc.CallbackContext{RefreshToken: refreshToken, IsRenewProcess: true}
		return nil, fmt.Errorf("%s: %w", op, s.failed(c, cc, err))
	}
	if !s.flows.IsCurrentRenew(c, ticket) {
		s.logger.Warn("discarding the result of a renew that is no longer current", "config_id", c.ConfigID)
		return nil, fmt.Errorf("%s: %s: %w", op, c.ConfigID, oidc.ErrRenewTimeout)
	}
	if r.State, err = s.flows.ExistingOrCreateAuthStateControl(c); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	cc := &oidc.CallbackContext{
		RefreshToken:    refreshToken,
		AuthResult:      r,
		IsRenewProcess:  true,
		ExistingIDToken: existingIDToken,
	}
	if err := s.chain(ctx, c, cc); err != nil {
		return cc, fmt.Errorf("%s: %w", op, err)
	}
	return cc, nil
}

// chain runs a token response through storage, signing key retrieval, state
// validation, the auth state and the user data.
func (s *Service) chain(ctx context.Context, c *oidc.Config, cc *oidc.CallbackContext) error {
	if cc.AuthResult.HasError() {
		return s.providerError(c, cc)
	}
	if err := s.storeAuthResult(c, cc); err != nil {
		return s.failed(c, cc, err)
	}

	keys, err := s.wellKnown.SigningKeys(ctx, c)
	if err != nil {
		return s.failed(c, cc, err)
	}
	cc.JWTKeys = keys

	r, err := s.validator.Validate(ctx, cc, c)
	if err != nil {
		return s.failed(c, cc, err)
	}
	cc.ValidationResult = r
	if !r.AuthResponseIsValid {
		return s.invalid(c, cc, r)
	}
	if _, err := s.authState.SetAuthorizationData(string(r.AccessToken), cc.AuthResult, c, s.configs); err != nil {
		return s.failed(c, cc, err)
	}

	if err := s.updateUserData(ctx, c, cc); err != nil {
		return s.failed(c, cc, err)
	}
	if !cc.IsRenewProcess && cc.SessionState != "" {
		if err := s.flows.SetSessionState(c, cc.SessionState); err != nil {
			return s.failed(c, cc, err)
		}
	}
	if err := s.flows.ResetCodeFlowInProgress(c); err != nil {
		return s.failed(c, cc, err)
	}
	s.authState.UpdateAndPublishAuthState(oidc.AuthStateResult{
		IsAuthenticated:  true,
		ValidationResult: r.State,
		IsRenewProcess:   cc.IsRenewProcess,
		ConfigID:         c.ConfigID,
	})
	s.logger.Debug("authentication completed", "config_id", c.ConfigID, "renew", cc.IsRenewProcess)
	return nil
}

// storeAuthResult stores the token response. A response without an id_token
// keeps the stored one.
func (s *Service) storeAuthResult(c *oidc.Config, cc *oidc.CallbackContext) error {
	r := *cc.AuthResult
	if r.IDToken == "" {
		if stored := s.storage.AuthenticationResult(c); stored != nil {
			r.IDToken = stored.IDToken
		}
	}
	if err := s.storage.Write(oidc.KeyAuthnResult, &r, c); err != nil {
		return err
	}
	if c.AllowUnsafeReuseRefreshToken && r.RefreshToken != "" {
		if err := s.storage.Write(oidc.KeyReusableRefreshToken, r.RefreshToken, c); err != nil {
			return err
		}
	}
	return nil
}

// updateUserData stores the user data of a new authentication, or of a renew
// when there's none yet, and fires EventUserDataChanged.
func (s *Service) updateUserData(ctx context.Context, c *oidc.Config, cc *oidc.CallbackContext) error {
	r := cc.ValidationResult
	if cc.IsRenewProcess && s.storage.UserData(c) != nil {
		return nil
	}
	if r.DecodedIDToken == nil {
		return nil
	}
	var userData map[string]interface{}
	if c.AutoUserInfo {
		var err error
		if userData, err = s.tokens.UserInfo(ctx, c, string(r.AccessToken), r.DecodedIDToken.Subject); err != nil {
			return err
		}
	} else {
		userData = r.DecodedIDToken.Map()
	}
	if err := s.storage.Write(oidc.KeyUserData, userData, c); err != nil {
		return err
	}
	s.events.Fire(oidc.EventUserDataChanged, oidc.UserDataResult{ConfigID: c.ConfigID, UserData: userData})
	return nil
}

// providerError handles an error response of the provider.
func (s *Service) providerError(c *oidc.Config, cc *oidc.CallbackContext) error {
	ar := cc.AuthResult
	state := oidc.SecureTokenServerError
	if ar.Error == loginRequired {
		state = oidc.LoginRequired
	}
	s.logger.Warn("authorization response with an error", "config_id", c.ConfigID, "error", ar.Error, "error_description", ar.ErrorDescription)
	s.authState.UpdateAndPublishAuthState(oidc.AuthStateResult{
		IsAuthenticated:  false,
		ValidationResult: state,
		IsRenewProcess:   cc.IsRenewProcess,
		ConfigID:         c.ConfigID,
	})
	if _, err := s.authState.SetUnauthenticatedAndFireEvent(c, s.configs); err != nil {
		s.logger.Error("unable to reset the authorization data", "config_id", c.ConfigID, "error", err)
	}
	if err := s.flows.SetNonce(c, ""); err != nil {
		s.logger.Error("unable to clear the nonce", "config_id", c.ConfigID, "error", err)
	}
	return fmt.Errorf("%s: %s: %w", ar.Error, ar.ErrorDescription, oidc.ErrCallbackError)
}

// invalid handles a response that failed state validation.
func (s *Service) invalid(c *oidc.Config, cc *oidc.CallbackContext, r *oidc.StateValidationResult) error {
	cc.ValidationResult = r
	if _, err := s.authState.SetUnauthenticatedAndFireEvent(c, s.configs); err != nil {
		s.logger.Error("unable to reset the authorization data", "config_id", c.ConfigID, "error", err)
	}
	if err := s.flows.SetNonce(c, ""); err != nil {
		s.logger.Error("unable to clear the nonce", "config_id", c.ConfigID, "error", err)
	}
	s.authState.UpdateAndPublishAuthState(oidc.AuthStateResult{
		IsAuthenticated:  false,
		ValidationResult: r.State,
		IsRenewProcess:   cc.IsRenewProcess,
		ConfigID:         c.ConfigID,
	})
	return fmt.Errorf("%s: %w", r.State, oidc.ErrValidationFailed)
}

// failed handles an error of the chain itself, such as a transport failure.
func (s *Service) failed(c *oidc.Config, cc *oidc.CallbackContext, err error) error {
	s.logger.Error("callback failed", "config_id", c.ConfigID, "error", err)
	if _, resetErr := s.authState.SetUnauthenticatedAndFireEvent(c, s.configs); resetErr != nil {
		s.logger.Error("unable to reset the authorization data", "config_id", c.ConfigID, "error", resetErr)
	}
	if nonceErr := s.flows.SetNonce(c, ""); nonceErr != nil {
		s.logger.Error("unable to clear the nonce", "config_id", c.ConfigID, "error", nonceErr)
	}
	s.authState.UpdateAndPublishAuthState(oidc.AuthStateResult{
		IsAuthenticated:  false,
		ValidationResult: oidc.NotSet,
		IsRenewProcess:   cc.IsRenewProcess,
		ConfigID:         c.ConfigID,
	})
	return err
}
