// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

// IsCodeFlow reports whether c uses the authorization code flow.
func (c *Config) IsCodeFlow() bool {
	return c.ResponseType == ResponseTypeCode
}

// IsCodeFlowWithRefreshTokens reports whether c uses the authorization code
// flow and renews with refresh tokens.
func (c *Config) IsCodeFlowWithRefreshTokens() bool {
	return c.IsCodeFlow() && c.UseRefreshToken
}

// IsImplicitFlowWithAccessToken reports whether c uses the implicit flow
// returning an access token alongside the id_token.
func (c *Config) IsImplicitFlowWithAccessToken() bool {
	return c.ResponseType == ResponseTypeIDTokenAndToken
}

// IsImplicitFlowWithoutAccessToken reports whether c uses the implicit flow
// returning only an id_token.
func (c *Config) IsImplicitFlowWithoutAccessToken() bool {
	return c.ResponseType == ResponseTypeIDToken
}

// IsAnyImplicitFlow reports whether c uses either implicit flow.
func (c *Config) IsAnyImplicitFlow() bool {
	return c.IsImplicitFlowWithAccessToken() || c.IsImplicitFlowWithoutAccessToken()
}
