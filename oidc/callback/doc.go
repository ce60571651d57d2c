// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
Package callback completes the authentication flows of an oidc.Config:
the authorization code callback, the implicit flow fragment and the refresh
token grant. Each one runs the same chain: store the token response, fetch
the signing keys, validate the response, update the authenticated state and
the user data, and publish the result on the public events.

A Service is the composition root of the oidc components; it owns the
storage, flows data, events and auth state shared by every config it serves.

AuthCode and Implicit wrap the flows into http.HandlerFuncs for the
redirect_uri of a web application.
*/
package callback
