// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"

	"github.com/hashicorp/cap-rp/oidc/internal/strutils"
)

// RefreshContinuityValid checks that an id_token returned by a refresh token
// grant continues the original authentication (OIDC Core 1.0, section 12.2):
// iss, azp, sub and aud are unchanged, and so is auth_time unless
// DisableRefreshIDTokenAuthTimeValidation is set. It only applies when
// UseRefreshToken is set and there's a previous id_token.
func (v *TokenValidator) RefreshContinuityValid(c *Config, newClaims *IDTokenClaims, existingIDToken string) (bool, error) {
	const op = "TokenValidator.RefreshContinuityValid"
	if c == nil {
		return false, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	if !c.UseRefreshToken || existingIDToken == "" {
		return true, nil
	}
	if newClaims == nil {
		return false, fmt.Errorf("%s: new claims are nil: %w", op, ErrNilParameter)
	}
	prev, err := DecodeIDTokenClaims(existingIDToken)
	if err != nil {
		return false, fmt.Errorf("%s: unable to decode the previous id_token: %w", op, err)
	}
	return v.continuous(c, prev, newClaims), nil
}

func (v *TokenValidator) continuous(c *Config, prev, next *IDTokenClaims) bool {
	fail := func(claim string) bool {
		v.logger.Warn("id_token claims changed after refresh", "config_id", configID(c), "claim", claim)
		return false
	}
	switch {
	case prev.Issuer != next.Issuer:
		return fail(ClaimIssuer)
	case prev.AuthorizedParty != next.AuthorizedParty:
		return fail(ClaimAuthorizedParty)
	case prev.Subject != next.Subject:
		return fail(ClaimSubject)
	case !strutils.EqualSets(prev.Audience, next.Audience):
		return fail(ClaimAudience)
	}
	if c.DisableRefreshIDTokenAuthTimeValidation {
		return true
	}
	if !sameAuthTime(prev, next) {
		return fail(ClaimAuthTime)
	}
	return true
}

func sameAuthTime(prev, next *IDTokenClaims) bool {
	switch {
	case prev.AuthTime == nil && next.AuthTime == nil:
		return true
	case prev.AuthTime == nil || next.AuthTime == nil:
		return false
	default:
		return *prev.AuthTime == *next.AuthTime
	}
}
