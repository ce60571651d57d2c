// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
oidc is a package for the relying party side of OpenID Connect Core 1.0,
for clients that authenticate users with the Authorization Code Flow with
PKCE or the Implicit Flow and that can't keep a client secret.

# Primary types provided by the package

* Config: the configuration of one relationship with an identity provider
(authority, client id, redirect URL, scope, response type, renew and
validation switches). A process may hold several, told apart by ConfigID.

* WellKnownService: discovers the provider's endpoints from its
.well-known/openid-configuration document and fetches its signing keys.

* AuthURLBuilder: creates the authentication request URL of a Config and
stores the nonce, state and PKCE code verifier of the attempt in FlowsData.

* TokenClient: exchanges authorization codes and refresh tokens at the
token endpoint and requests the userinfo endpoint.

* StateValidator: validates an authorization response (state, signature,
nonce, iat, iss, aud, azp, exp, at_hash) and the continuity of id_tokens
across refreshes.

* AuthStateStore: keeps the tokens and the authenticated state of every
Config, publishes the authenticated state and checks token expiry.

* Storage: the per-config persistence of the above. MemoryStorage is the
in memory implementation.

# The oidc/callback package

The callback package composes these into a Service that completes the
authorization code, implicit and refresh token flows, and provides
http.HandlerFuncs for a redirect_uri.

# The jwt package

The jwt package decodes compact JWS tokens, selects keys from a JWKS and
verifies signatures.
*/
package oidc
