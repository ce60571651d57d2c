// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// UserDataResult is the value of an EventUserDataChanged event.
type UserDataResult struct {
	ConfigID string
	UserData map[string]interface{}
}

// UserInfo requests the claims of the userinfo endpoint of c with
// accessToken. The sub of the reply must equal subject.
func (t *TokenClient) UserInfo(ctx context.Context, c *Config, accessToken, subject string) (map[string]interface{}, error) {
	const op = "TokenClient.UserInfo"
	switch {
	case c == nil:
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	case accessToken == "":
		return nil, fmt.Errorf("%s: access token is empty: %w", op, ErrInvalidParameter)
	}
	endpoints, err := t.wellKnown.Endpoints(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if endpoints.UserInfoEndpoint == "" {
		return nil, fmt.Errorf("%s: no userinfo endpoint for %s: %w", op, c.ConfigID, ErrNotFound)
	}
	client := t.client
	if client == nil {
		if client, err = c.HTTPClient(); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	oidcCtx := HTTPClientContext(ctx, client)

	pc := oidc.ProviderConfig{
		IssuerURL:   endpoints.Issuer,
		AuthURL:     endpoints.AuthorizationEndpoint,
		TokenURL:    endpoints.TokenEndpoint,
		UserInfoURL: endpoints.UserInfoEndpoint,
		JWKSURL:     endpoints.JwksURI,
	}
	provider := pc.NewProvider(oidcCtx)
	userinfo, err := provider.UserInfo(oidcCtx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
	if err != nil {
		return nil, fmt.Errorf("%s: provider UserInfo request failed: %w", op, err)
	}
	if userinfo.Subject != subject {
		return nil, fmt.Errorf("%s: userinfo sub %q does not match the id_token sub %q: %w", op, userinfo.Subject, subject, ErrInvalidUserInfo)
	}
	claims := map[string]interface{}{}
	if err := userinfo.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%s: failed to get UserInfo claims: %w", op, err)
	}
	return claims, nil
}
