// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// cap-rp provides the packages of an OpenID Connect relying party for public
// clients: oidc for configuration, discovery, token validation and state,
// oidc/callback for completing the flows, and jwt for token verification.
package cap
