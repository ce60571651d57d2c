// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package jwt

import (
	_ "crypto/sha256" // registers SHA-256
	_ "crypto/sha512" // registers SHA-384 and SHA-512
	"fmt"
)

// AccessTokenHash computes the at_hash of an access token: the base64url
// encoding of the left-most half of the hash of its ASCII octets, where the
// hash is chosen by the id_token's alg (SHA-256 unless the alg names 384 or
// 512).
//
// See: https://openid.net/specs/openid-connect-core-1_0.html#CodeIDToken
func AccessTokenHash(accessToken string, alg Alg) (string, error) {
	const op = "jwt.AccessTokenHash"
	h := hashForAccessToken(alg)
	if !h.Available() {
		return "", fmt.Errorf("%s: hash %s is not available: %w", op, h, ErrUnsupportedAlgorithm)
	}
	hasher := h.New()
	_, _ = hasher.Write([]byte(accessToken))
	sum := hasher.Sum(nil)
	return EncodeSegment(sum[:len(sum)/2]), nil
}
