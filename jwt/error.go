// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package jwt

import "errors"

var (
	// ErrMalformedToken is returned when a token is not of the JWS compact
	// serialization form or one of its segments cannot be decoded.
	ErrMalformedToken = errors.New("malformed token")

	// ErrUnsupportedAlgorithm is returned for an alg that cannot be mapped
	// to a key type or verification algorithm.
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")

	// ErrInvalidKeySet is returned when key extraction is given an empty
	// key set.
	ErrInvalidKeySet = errors.New("invalid key set")

	// ErrNoMatchingKeys is returned when no key of a key set satisfies a
	// KeySpec.
	ErrNoMatchingKeys = errors.New("no matching keys")
)
