// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"

	"github.com/hashicorp/cap-rp/jwt"
	"github.com/hashicorp/go-hclog"
)

// StateValidator validates the response of one callback or refresh cycle.
// The checks run in a fixed order and the first failing check decides the
// result.
type StateValidator struct {
	validator *TokenValidator
	storage   *StoragePersistence
	flows     *FlowsData
	logger    hclog.Logger
}

// NewStateValidator creates a StateValidator.
// Supported options:
//   - WithLogger
//   - WithNow
func NewStateValidator(s *StoragePersistence, flows *FlowsData, opt ...Option) (*StateValidator, error) {
	const op = "oidc.NewStateValidator"
	switch {
	case s == nil:
		return nil, fmt.Errorf("%s: storage persistence is nil: %w", op, ErrNilParameter)
	case flows == nil:
		return nil, fmt.Errorf("%s: flows data is nil: %w", op, ErrNilParameter)
	}
	opts := getComponentOpts(opt...)
	return &StateValidator{
		validator: NewTokenValidator(opt...),
		storage:   s,
		flows:     flows,
		logger:    opts.withLogger,
	}, nil
}

// Validator returns the claim rules used by the StateValidator.
func (v *StateValidator) Validator() *TokenValidator {
	return v.validator
}

// Validate runs the state validation of cc for c. Validation failures are
// reported through the result; an error is only returned for malformed input
// such as an id_token that can't be decoded. The stored nonce is cleared on
// every path, the auth state control too when c.AutoCleanStateAfterAuthentication
// is set.
func (v *StateValidator) Validate(ctx context.Context, cc *CallbackContext, c *Config) (*StateValidationResult, error) {
	const op = "StateValidator.Validate"
	if c == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	r, err := v.validate(ctx, cc, c)
	if cleanErr := v.cleanup(c); cleanErr != nil && err == nil {
		err = cleanErr
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return r, nil
}

func (v *StateValidator) cleanup(c *Config) error {
	if err := v.flows.SetNonce(c, ""); err != nil {
		return err
	}
	if c.AutoCleanStateAfterAuthentication {
		if err := v.flows.SetAuthStateControl(c, ""); err != nil {
			return err
		}
	}
	return nil
}

func invalidResult(state ValidationResult) *StateValidationResult {
	return &StateValidationResult{State: state}
}

func (v *StateValidator) validate(ctx context.Context, cc *CallbackContext, c *Config) (*StateValidationResult, error) {
	if cc == nil || cc.AuthResult == nil {
		v.logger.Warn("no callback context to validate", "config_id", c.ConfigID)
		return invalidResult(NotSet), nil
	}
	ar := cc.AuthResult
	if ar.HasError() {
		v.logger.Warn("authorization response carries an error", "config_id", c.ConfigID, "error", ar.Error, "error_description", ar.ErrorDescription)
		return invalidResult(NotSet), nil
	}
	if !v.validator.StateMatches(c, ar.State, v.flows.AuthStateControl(c)) {
		return invalidResult(StatesDoNotMatch), nil
	}

	r := &StateValidationResult{State: NotSet}
	isCodeFlow := c.IsCodeFlow()
	if c.IsImplicitFlowWithAccessToken() || isCodeFlow {
		r.AccessToken = AccessToken(ar.AccessToken)
	}
	if c.DisableIDTokenValidation {
		v.logger.Debug("id_token validation disabled", "config_id", c.ConfigID)
		return v.ok(r), nil
	}
	isRefresh := cc.IsRefreshTokenFlow()
	if isRefresh && ar.IDToken == "" {
		v.logger.Debug("refresh grant without an id_token", "config_id", c.ConfigID)
		return v.ok(r), nil
	}

	var alg jwt.Alg
	if ar.IDToken != "" {
		claims, err := DecodeIDTokenClaims(ar.IDToken)
		if err != nil {
			return nil, err
		}
		header, err := jwt.Header(ar.IDToken)
		if err != nil {
			return nil, err
		}
		s, _ := header["alg"].(string)
		alg = jwt.Alg(s)
		r.IDToken = IDToken(ar.IDToken)
		r.DecodedIDToken = claims

		if state, err := v.validateIDToken(ctx, cc, c, claims, isRefresh); err != nil || state != Ok {
			if err != nil {
				return nil, err
			}
			return failed(r, state), nil
		}
	}

	if !c.IsImplicitFlowWithAccessToken() && !isCodeFlow {
		return v.ok(r), nil
	}
	if ar.IDToken != "" && !(isCodeFlow && !r.DecodedIDToken.Has(ClaimAccessTokenHash)) {
		if !v.validator.AtHashValid(c, ar.AccessToken, r.DecodedIDToken.AccessTokenHash, alg) || ar.AccessToken == "" {
			v.logger.Warn("state validation failed: at_hash", "config_id", c.ConfigID)
			return failed(r, IncorrectAtHash), nil
		}
	}
	return v.ok(r), nil
}

// validateIDToken runs the id_token checks in order and returns the first
// failing verdict, or Ok.
func (v *StateValidator) validateIDToken(ctx context.Context, cc *CallbackContext, c *Config, claims *IDTokenClaims, isRefresh bool) (ValidationResult, error) {
	token := cc.AuthResult.IDToken
	ok, err := v.validator.SignatureValid(ctx, c, token, cc.JWTKeys)
	if err != nil {
		return NotSet, err
	}
	if !ok {
		return SignatureFailed, nil
	}
	if !v.validator.NonceValid(c, claims, v.flows.Nonce(c), c.IgnoreNonceAfterRefresh) {
		return IncorrectNonce, nil
	}
	if !v.validator.RequiredClaimsPresent(c, claims) {
		return RequiredPropertyMissing, nil
	}
	if !isRefresh && !v.validator.IatWithinOffset(c, claims, int64(c.MaxIDTokenIatOffsetAllowedInSeconds), c.DisableIatOffsetValidation) {
		return MaxOffsetExpired, nil
	}
	endpoints := v.storage.WellKnownEndpoints(c)
	switch {
	case endpoints == nil:
		v.logger.Warn("no well-known endpoints stored, unable to validate the iss claim", "config_id", c.ConfigID)
		return NoAuthWellKnownEndPoints, nil
	case c.IssValidationOff:
		v.logger.Debug("iss validation is turned off, this is not recommended", "config_id", c.ConfigID)
	case !v.validator.IssuerMatches(c, claims, endpoints.Issuer):
		return IssDoesNotMatchIssuer, nil
	}
	if !v.validator.AudienceMatches(c, claims, c.ClientID) {
		return IncorrectAud, nil
	}
	if !v.validator.AzpRequiredIfMultipleAudiences(c, claims) {
		return IncorrectAzp, nil
	}
	if !v.validator.AzpValidIfPresent(c, claims, c.ClientID) {
		return IncorrectAzp, nil
	}
	ok, err = v.validator.RefreshContinuityValid(c, claims, cc.ExistingIDToken)
	if err != nil {
		return NotSet, err
	}
	if !ok {
		return IncorrectIDTokenClaimsAfterRefresh, nil
	}
	if !isRefresh && !v.validator.IDTokenNotExpired(c, claims, int64(c.RenewTimeBeforeTokenExpiresInSeconds), c.DisableIDTokenValidation) {
		return TokenExpired, nil
	}
	return Ok, nil
}

func failed(r *StateValidationResult, state ValidationResult) *StateValidationResult {
	r.State = state
	r.AuthResponseIsValid = false
	return r
}

func (v *StateValidator) ok(r *StateValidationResult) *StateValidationResult {
	r.State = Ok
	r.AuthResponseIsValid = true
	return r
}
