// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4/jwt"
	capjwt "github.com/hashicorp/cap-rp/jwt"
)

// Claim names of an id_token.
const (
	ClaimIssuer          = "iss"
	ClaimSubject         = "sub"
	ClaimAudience        = "aud"
	ClaimExpiry          = "exp"
	ClaimIssuedAt        = "iat"
	ClaimNotBefore       = "nbf"
	ClaimNonce           = "nonce"
	ClaimAuthorizedParty = "azp"
	ClaimAccessTokenHash = "at_hash"
	ClaimAuthTime        = "auth_time"
	ClaimSessionID       = "sid"
)

// RequiredClaims must be present in every id_token (OIDC Core 1.0, section 2).
var RequiredClaims = []string{ClaimIssuer, ClaimSubject, ClaimAudience, ClaimExpiry, ClaimIssuedAt}

// IDTokenClaims are the decoded claims of an id_token. Registered claims are
// typed; anything else is kept in Extra. Has reports whether a claim was
// present in the payload, regardless of its value.
type IDTokenClaims struct {
	Issuer          string           `json:"iss,omitempty"`
	Subject         string           `json:"sub,omitempty"`
	Audience        jwt.Audience     `json:"aud,omitempty"`
	Expiry          *jwt.NumericDate `json:"exp,omitempty"`
	IssuedAt        *jwt.NumericDate `json:"iat,omitempty"`
	NotBefore       *jwt.NumericDate `json:"nbf,omitempty"`
	Nonce           string           `json:"nonce,omitempty"`
	AuthorizedParty string           `json:"azp,omitempty"`
	AccessTokenHash string           `json:"at_hash,omitempty"`
	AuthTime        *jwt.NumericDate `json:"auth_time,omitempty"`
	SessionID       string           `json:"sid,omitempty"`

	// Extra holds the claims without a typed field above.
	Extra map[string]interface{} `json:"-"`

	present map[string]bool
}

// registered is used to avoid recursing into IDTokenClaims' json methods.
type registered IDTokenClaims

// UnmarshalJSON decodes the payload of an id_token.
func (c *IDTokenClaims) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var r registered
	if err := json.Unmarshal(b, &r); err != nil {
		return err
	}
	*c = IDTokenClaims(r)
	c.present = make(map[string]bool, len(raw))
	for k, v := range raw {
		c.present[k] = true
		if isRegisteredClaim(k) {
			continue
		}
		var extra interface{}
		if err := json.Unmarshal(v, &extra); err != nil {
			return err
		}
		if c.Extra == nil {
			c.Extra = map[string]interface{}{}
		}
		c.Extra[k] = extra
	}
	return nil
}

// MarshalJSON encodes the registered claims together with Extra. Registered
// claims win over an Extra entry of the same name.
func (c IDTokenClaims) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(registered(c))
	if err != nil {
		return nil, err
	}
	if len(c.Extra) == 0 {
		return b, nil
	}
	m := map[string]interface{}{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	for k, v := range c.Extra {
		if _, ok := m[k]; !ok {
			m[k] = v
		}
	}
	return json.Marshal(m)
}

// Has reports whether claim was part of the decoded payload. Claims built in
// code, rather than decoded, report a registered claim as present when its
// field is set.
func (c *IDTokenClaims) Has(claim string) bool {
	if c == nil {
		return false
	}
	if c.present != nil {
		return c.present[claim]
	}
	if _, ok := c.Extra[claim]; ok {
		return true
	}
	switch claim {
	case ClaimIssuer:
		return c.Issuer != ""
	case ClaimSubject:
		return c.Subject != ""
	case ClaimAudience:
		return len(c.Audience) > 0
	case ClaimExpiry:
		return c.Expiry != nil
	case ClaimIssuedAt:
		return c.IssuedAt != nil
	case ClaimNotBefore:
		return c.NotBefore != nil
	case ClaimNonce:
		return c.Nonce != ""
	case ClaimAuthorizedParty:
		return c.AuthorizedParty != ""
	case ClaimAccessTokenHash:
		return c.AccessTokenHash != ""
	case ClaimAuthTime:
		return c.AuthTime != nil
	case ClaimSessionID:
		return c.SessionID != ""
	default:
		return false
	}
}

// ExpirationDate returns the time of the exp claim. Without one, now is
// returned, which makes the token count as expired for any non-negative
// renew offset.
func (c *IDTokenClaims) ExpirationDate(now time.Time) time.Time {
	if c == nil || c.Expiry == nil {
		return now.Truncate(time.Second)
	}
	return c.Expiry.Time()
}

// Map returns the claims as a generic claim mapping.
func (c *IDTokenClaims) Map() map[string]interface{} {
	m := map[string]interface{}{}
	if c == nil {
		return m
	}
	b, err := json.Marshal(c)
	if err != nil {
		return m
	}
	_ = json.Unmarshal(b, &m)
	return m
}

// DecodeIDTokenClaims decodes the payload of token without verifying it.
func DecodeIDTokenClaims(token string) (*IDTokenClaims, error) {
	const op = "oidc.DecodeIDTokenClaims"
	var c IDTokenClaims
	if err := capjwt.DecodePart(token, capjwt.PayloadPart, &c); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &c, nil
}

func isRegisteredClaim(name string) bool {
	switch name {
	case ClaimIssuer, ClaimSubject, ClaimAudience, ClaimExpiry, ClaimIssuedAt, ClaimNotBefore,
		ClaimNonce, ClaimAuthorizedParty, ClaimAccessTokenHash, ClaimAuthTime, ClaimSessionID:
		return true
	default:
		return false
	}
}
