// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/hashicorp/cap-rp/jwt"
	"github.com/hashicorp/go-hclog"
)

// RefreshTokenNoncePlaceholder is stored as the nonce before a refresh token
// grant, when the provider has no nonce to echo.
const RefreshTokenNoncePlaceholder = "--RefreshToken--"

// TokenValidator holds the id_token claim rules. Every rule reports a
// verdict and logs the rule that failed; none of them returns an error for
// an untrusted input that simply fails the rule.
type TokenValidator struct {
	logger   hclog.Logger
	now      func() time.Time
	verifier *jwt.Verifier
}

// NewTokenValidator creates a TokenValidator.
// Supported options:
//   - WithLogger
//   - WithNow
func NewTokenValidator(opt ...Option) *TokenValidator {
	opts := getComponentOpts(opt...)
	return &TokenValidator{
		logger:   opts.withLogger,
		now:      opts.withNowFunc,
		verifier: jwt.NewVerifier(jwt.WithLogger(opts.withLogger)),
	}
}

// nowUTC is the current time truncated to whole seconds.
func (v *TokenValidator) nowUTC() time.Time {
	return v.now().UTC().Truncate(time.Second)
}

// RequiredClaimsPresent checks that iss, sub, aud, exp and iat are all
// present, whatever their values.
func (v *TokenValidator) RequiredClaimsPresent(c *Config, claims *IDTokenClaims) bool {
	for _, name := range RequiredClaims {
		if !claims.Has(name) {
			v.logger.Warn("id_token is missing a required claim", "config_id", configID(c), "claim", name)
			return false
		}
	}
	return true
}

// IssuerMatches compares the iss claim with the issuer of the well-known
// document, exactly.
func (v *TokenValidator) IssuerMatches(c *Config, claims *IDTokenClaims, issuer string) bool {
	if claims == nil || claims.Issuer != issuer {
		v.logger.Warn("iss does not match the well-known issuer", "config_id", configID(c), "issuer", issuer)
		return false
	}
	return true
}

// AudienceMatches checks that clientID is one of the audiences.
func (v *TokenValidator) AudienceMatches(c *Config, claims *IDTokenClaims, clientID string) bool {
	if claims == nil || !claims.Audience.Contains(clientID) {
		v.logger.Warn("aud does not contain the client id", "config_id", configID(c), "client_id", clientID)
		return false
	}
	return true
}

// AzpRequiredIfMultipleAudiences fails when aud has more than one element
// and there's no azp. Nil claims fail.
func (v *TokenValidator) AzpRequiredIfMultipleAudiences(c *Config, claims *IDTokenClaims) bool {
	if claims == nil {
		return false
	}
	if len(claims.Audience) > 1 && claims.AuthorizedParty == "" {
		v.logger.Warn("azp is required when aud has more than one element", "config_id", configID(c))
		return false
	}
	return true
}

// AzpValidIfPresent checks that a non-empty azp equals clientID.
func (v *TokenValidator) AzpValidIfPresent(c *Config, claims *IDTokenClaims, clientID string) bool {
	if claims == nil || claims.AuthorizedParty == "" {
		return true
	}
	if claims.AuthorizedParty != clientID {
		v.logger.Warn("azp does not match the client id", "config_id", configID(c), "client_id", clientID)
		return false
	}
	return true
}

// NonceValid compares the nonce claim with the stored nonce. After a refresh
// the placeholder nonce is accepted when the token has no nonce, or always
// with ignoreNonceAfterRefresh.
func (v *TokenValidator) NonceValid(c *Config, claims *IDTokenClaims, localNonce string, ignoreNonceAfterRefresh bool) bool {
	hasNonce := claims.Has(ClaimNonce)
	if (!hasNonce || ignoreNonceAfterRefresh) && localNonce == RefreshTokenNoncePlaceholder {
		return true
	}
	if claims == nil || !hasNonce || claims.Nonce != localNonce {
		v.logger.Warn("nonce does not match the stored nonce", "config_id", configID(c))
		return false
	}
	return true
}

// IatWithinOffset checks that iat is less than maxOffsetSeconds away from
// now, in either direction.
func (v *TokenValidator) IatWithinOffset(c *Config, claims *IDTokenClaims, maxOffsetSeconds int64, disableIatOffsetValidation bool) bool {
	if disableIatOffsetValidation {
		return true
	}
	if !claims.Has(ClaimIssuedAt) || claims.IssuedAt == nil {
		v.logger.Warn("id_token has no iat", "config_id", configID(c))
		return false
	}
	diff := v.nowUTC().UnixMilli() - claims.IssuedAt.Time().UnixMilli()
	if diff < 0 {
		diff = -diff
	}
	if diff >= maxOffsetSeconds*1000 {
		v.logger.Warn("iat is too far away from the current time", "config_id", configID(c), "offset_ms", diff, "max_offset_seconds", maxOffsetSeconds)
		return false
	}
	return true
}

// IDTokenNotExpired checks that the token expires after now plus
// offsetSeconds. A larger offset makes the token expire earlier.
func (v *TokenValidator) IDTokenNotExpired(c *Config, claims *IDTokenClaims, offsetSeconds int64, disableIDTokenValidation bool) bool {
	if disableIDTokenValidation {
		return true
	}
	if claims == nil {
		v.logger.Warn("id_token expiration can't be computed", "config_id", configID(c))
		return false
	}
	now := v.nowUTC()
	expiresAt := claims.ExpirationDate(now)
	if !v.expiresAfter(expiresAt, now, offsetSeconds) {
		v.logger.Warn("id_token has expired", "config_id", configID(c), "expires_at", expiresAt, "offset_seconds", offsetSeconds)
		return false
	}
	return true
}

// AccessTokenNotExpired applies the IDTokenNotExpired rule to a stored
// access token expiry. The zero time means no expiry was stored and passes.
func (v *TokenValidator) AccessTokenNotExpired(c *Config, expiresAt time.Time, offsetSeconds int64) bool {
	if expiresAt.IsZero() {
		return true
	}
	if !v.expiresAfter(expiresAt, v.nowUTC(), offsetSeconds) {
		v.logger.Debug("access_token has expired", "config_id", configID(c), "expires_at", expiresAt, "offset_seconds", offsetSeconds)
		return false
	}
	return true
}

func (v *TokenValidator) expiresAfter(expiresAt, now time.Time, offsetSeconds int64) bool {
	return expiresAt.UnixMilli() > now.UnixMilli()+offsetSeconds*1000
}

// HasIDTokenExpired decodes idToken and reports whether it fails
// IDTokenNotExpired.
func (v *TokenValidator) HasIDTokenExpired(c *Config, idToken string, offsetSeconds int64, disableIDTokenValidation bool) (bool, error) {
	const op = "TokenValidator.HasIDTokenExpired"
	claims, err := DecodeIDTokenClaims(idToken)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return !v.IDTokenNotExpired(c, claims, offsetSeconds, disableIDTokenValidation), nil
}

// AtHashValid compares atHash with the at_hash computed for accessToken
// using the hash of the id_token alg. A mismatch is retried once with the
// percent-decoded access token.
func (v *TokenValidator) AtHashValid(c *Config, accessToken, atHash string, alg jwt.Alg) bool {
	h, err := jwt.AccessTokenHash(accessToken, alg)
	if err != nil {
		v.logger.Warn("unable to compute at_hash", "config_id", configID(c), "error", err)
		return false
	}
	if h == atHash {
		return true
	}
	if decoded, err := url.PathUnescape(accessToken); err == nil && decoded != accessToken {
		if h, err := jwt.AccessTokenHash(decoded, alg); err == nil && h == atHash {
			return true
		}
	}
	v.logger.Warn("at_hash does not match the access_token", "config_id", configID(c))
	return false
}

// StateMatches compares the state of the callback with the stored auth state
// control. Both must be non-empty.
func (v *TokenValidator) StateMatches(c *Config, state, localState string) bool {
	switch {
	case state == "":
		v.logger.Warn("state of the callback is empty", "config_id", configID(c))
		return false
	case localState == "":
		v.logger.Warn("stored auth state control is empty", "config_id", configID(c))
		return false
	case state != localState:
		v.logger.Warn("state does not match the stored auth state control", "config_id", configID(c))
		return false
	}
	return true
}

// SignatureValid verifies the id_token signature with keys.
func (v *TokenValidator) SignatureValid(ctx context.Context, c *Config, idToken string, keys *jwt.KeySet) (bool, error) {
	const op = "TokenValidator.SignatureValid"
	ok, err := v.verifier.Verify(ctx, idToken, keys)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		v.logger.Warn("id_token signature validation failed", "config_id", configID(c))
	}
	return ok, nil
}
