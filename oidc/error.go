// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"errors"

	"github.com/hashicorp/cap-rp/jwt"
)

var (
	ErrInvalidParameter     = errors.New("invalid parameter")
	ErrNilParameter         = errors.New("nil parameter")
	ErrInvalidCACert        = errors.New("invalid CA certificate")
	ErrInvalidIssuer        = errors.New("invalid issuer")
	ErrIssuerMismatch       = errors.New("issuer mismatch")
	ErrIDGeneratorFailed    = errors.New("id generation failed")
	ErrInvalidConfig        = errors.New("invalid configuration")
	ErrDiscoveryFailed      = errors.New("well-known endpoint discovery failed")
	ErrNoAuthority          = errors.New("no authority")
	ErrNotFound             = errors.New("not found")
	ErrCallbackError        = errors.New("authorization response carries an error")
	ErrValidationFailed     = errors.New("state validation failed")
	ErrRenewInProgress      = errors.New("silent renew already in progress")
	ErrRenewTimeout         = errors.New("silent renew timed out")
	ErrStorage              = errors.New("storage failure")
	ErrExchangeFailed       = errors.New("token exchange failed")
	ErrInvalidUserInfo      = errors.New("invalid userinfo response")
	ErrMalformedToken       = jwt.ErrMalformedToken
	ErrUnsupportedAlgorithm = jwt.ErrUnsupportedAlgorithm
	ErrInvalidKeySet        = jwt.ErrInvalidKeySet
	ErrNoMatchingKeys       = jwt.ErrNoMatchingKeys
)
