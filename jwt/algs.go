// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package jwt

import (
	"crypto"
	"fmt"
	"strings"

	"github.com/go-jose/go-jose/v4"
)

// Alg represents a JWS signing algorithm as it appears in the "alg" header
// parameter of a JWT.
type Alg string

// JOSE signing algorithm values as defined by RFC 7518.
// See: https://tools.ietf.org/html/rfc7518#section-3.1
const (
	HS256 Alg = "HS256" // HMAC using SHA-256
	HS384 Alg = "HS384" // HMAC using SHA-384
	HS512 Alg = "HS512" // HMAC using SHA-512
	RS256 Alg = "RS256" // RSASSA-PKCS-v1.5 using SHA-256
	RS384 Alg = "RS384" // RSASSA-PKCS-v1.5 using SHA-384
	RS512 Alg = "RS512" // RSASSA-PKCS-v1.5 using SHA-512
	ES256 Alg = "ES256" // ECDSA using P-256 and SHA-256
	ES384 Alg = "ES384" // ECDSA using P-384 and SHA-384
	PS256 Alg = "PS256" // RSASSA-PSS using SHA256 and MGF1-SHA256
	PS384 Alg = "PS384" // RSASSA-PSS using SHA384 and MGF1-SHA384
	PS512 Alg = "PS512" // RSASSA-PSS using SHA512 and MGF1-SHA512
)

// JWK key types ("kty") used during key selection.
const (
	KeyTypeRSA = "RSA"
	KeyTypeEC  = "EC"
)

// KeyUseSignature is the JWK "use" value for signature keys.
const KeyUseSignature = "sig"

var supportedAlgorithms = map[Alg]bool{
	HS256: true,
	HS384: true,
	HS512: true,
	RS256: true,
	RS384: true,
	RS512: true,
	ES256: true,
	ES384: true,
	PS256: true,
	PS384: true,
	PS512: true,
}

// SupportedSigningAlgorithm returns an error if any of the given Algs
// are not supported signing algorithms.
func SupportedSigningAlgorithm(algs ...Alg) error {
	for _, a := range algs {
		if !supportedAlgorithms[a] {
			return fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, a)
		}
	}
	return nil
}

// KeyType infers the JWK key type from the first character of the alg: R is
// RSA and E is EC. Any other alg cannot be mapped to a key type.
func KeyType(a Alg) (string, error) {
	const op = "jwt.KeyType"
	switch {
	case strings.HasPrefix(string(a), "R"):
		return KeyTypeRSA, nil
	case strings.HasPrefix(string(a), "E"):
		return KeyTypeEC, nil
	default:
		return "", fmt.Errorf("%s: cannot infer kty from alg %q: %w", op, a, ErrUnsupportedAlgorithm)
	}
}

// verifyAlgorithm describes how a key is imported and a signature verified
// for a given alg.
type verifyAlgorithm struct {
	sigAlg     jose.SignatureAlgorithm
	hash       crypto.Hash
	namedCurve string
}

func verifyAlgorithmFor(a Alg) (verifyAlgorithm, error) {
	const op = "jwt.verifyAlgorithmFor"
	switch a {
	case RS256, PS256:
		return verifyAlgorithm{sigAlg: jose.SignatureAlgorithm(a), hash: crypto.SHA256}, nil
	case RS384, PS384:
		return verifyAlgorithm{sigAlg: jose.SignatureAlgorithm(a), hash: crypto.SHA384}, nil
	case RS512, PS512:
		return verifyAlgorithm{sigAlg: jose.SignatureAlgorithm(a), hash: crypto.SHA512}, nil
	case ES256:
		return verifyAlgorithm{sigAlg: jose.ES256, hash: crypto.SHA256, namedCurve: "P-256"}, nil
	case ES384:
		return verifyAlgorithm{sigAlg: jose.ES384, hash: crypto.SHA384, namedCurve: "P-384"}, nil
	default:
		return verifyAlgorithm{}, fmt.Errorf("%s: no verification algorithm for %q: %w", op, a, ErrUnsupportedAlgorithm)
	}
}

// hashForAccessToken picks the at_hash digest from the id_token alg.
func hashForAccessToken(a Alg) crypto.Hash {
	switch {
	case strings.Contains(string(a), "384"):
		return crypto.SHA384
	case strings.Contains(string(a), "512"):
		return crypto.SHA512
	default:
		return crypto.SHA256
	}
}
