// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/hashicorp/cap-rp/jwt"
)

// AuthResult is the raw response of the token endpoint, or the parameters of
// an implicit flow fragment.
type AuthResult struct {
	AccessToken      string `json:"access_token,omitempty"`
	IDToken          string `json:"id_token,omitempty"`
	RefreshToken     string `json:"refresh_token,omitempty"`
	TokenType        string `json:"token_type,omitempty"`
	ExpiresIn        int64  `json:"expires_in,omitempty"`
	Scope            string `json:"scope,omitempty"`
	State            string `json:"state,omitempty"`
	SessionState     string `json:"session_state,omitempty"`
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// String redacts the tokens of the result.
func (r *AuthResult) String() string {
	if r == nil {
		return "<nil>"
	}
	return fmt.Sprintf("&{access_token:%s id_token:%s refresh_token:%s token_type:%s expires_in:%d scope:%s error:%s}",
		AccessToken(r.AccessToken), IDToken(r.IDToken), RefreshToken(r.RefreshToken), r.TokenType, r.ExpiresIn, r.Scope, r.Error)
}

// HasError reports whether the provider responded with an error.
func (r *AuthResult) HasError() bool {
	return r != nil && r.Error != ""
}

// ParseAuthResult reads an AuthResult from form encoded parameters, such as
// the fragment of an implicit flow redirect.
func ParseAuthResult(params string) (*AuthResult, error) {
	const op = "oidc.ParseAuthResult"
	v, err := url.ParseQuery(strings.TrimPrefix(params, "#"))
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", op, err, ErrInvalidParameter)
	}
	r := &AuthResult{
		AccessToken:      v.Get("access_token"),
		IDToken:          v.Get("id_token"),
		RefreshToken:     v.Get("refresh_token"),
		TokenType:        v.Get("token_type"),
		Scope:            v.Get("scope"),
		State:            v.Get("state"),
		SessionState:     v.Get("session_state"),
		Error:            v.Get("error"),
		ErrorDescription: v.Get("error_description"),
	}
	if s := v.Get("expires_in"); s != "" {
		if r.ExpiresIn, err = strconv.ParseInt(s, 10, 64); err != nil {
			return nil, fmt.Errorf("%s: expires_in %q is not a number: %w", op, s, ErrInvalidParameter)
		}
	}
	return r, nil
}

// CallbackContext carries one authorization response or refresh cycle
// through the callback chain. It's discarded once validation completes.
type CallbackContext struct {
	Code             string
	RefreshToken     string
	State            string
	SessionState     string
	AuthResult       *AuthResult
	IsRenewProcess   bool
	JWTKeys          *jwt.KeySet
	ValidationResult *StateValidationResult

	// ExistingIDToken is the id_token from before a refresh, it's only used
	// for refresh continuity.
	ExistingIDToken string
}

// IsRefreshTokenFlow reports whether the context is a refresh token renewal.
func (cc *CallbackContext) IsRefreshTokenFlow() bool {
	return cc != nil && cc.IsRenewProcess && cc.RefreshToken != ""
}
