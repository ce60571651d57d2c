// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package jwt

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-jose/go-jose/v4"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-hclog"
)

// KeySet is a JSON Web Key Set (RFC 7517, section 5) as published at a
// provider's jwks_uri.
type KeySet = jose.JSONWebKeySet

// KeySpec narrows the keys of a KeySet. Empty fields match any key.
type KeySpec struct {
	KeyID   string
	KeyType string
	Use     string
}

// ExtractKeys returns the keys that satisfy spec, in key set order. An empty
// key set is an integration error (ErrInvalidKeySet) and is distinguished
// from a key set that simply has no matching keys (ErrNoMatchingKeys).
func ExtractKeys(keys []jose.JSONWebKey, spec KeySpec) ([]jose.JSONWebKey, error) {
	const op = "jwt.ExtractKeys"
	if len(keys) == 0 {
		return nil, fmt.Errorf("%s: key set is empty: %w", op, ErrInvalidKeySet)
	}
	var found []jose.JSONWebKey
	for _, k := range keys {
		if spec.KeyID != "" && k.KeyID != spec.KeyID {
			continue
		}
		if spec.KeyType != "" && keyType(k) != spec.KeyType {
			continue
		}
		if spec.Use != "" && k.Use != spec.Use {
			continue
		}
		found = append(found, k)
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%s: kid %q, kty %q, use %q: %w", op, spec.KeyID, spec.KeyType, spec.Use, ErrNoMatchingKeys)
	}
	return found, nil
}

// keyType derives the "kty" of a parsed JWK from its key material.
func keyType(k jose.JSONWebKey) string {
	switch k.Key.(type) {
	case *rsa.PublicKey, *rsa.PrivateKey:
		return KeyTypeRSA
	case *ecdsa.PublicKey, *ecdsa.PrivateKey:
		return KeyTypeEC
	case ed25519.PublicKey, ed25519.PrivateKey:
		return "OKP"
	case []byte:
		return "oct"
	default:
		return ""
	}
}

// selectKey picks the verification key for a token header. With a kid the
// candidates are {kid, kty, use:sig} then {kid, kty}; without one they're
// {kty, use:sig} then {kty}. The first key of the first non-empty candidate
// list wins.
func selectKey(keys []jose.JSONWebKey, kid, kty string) (jose.JSONWebKey, error) {
	specs := []KeySpec{
		{KeyID: kid, KeyType: kty, Use: KeyUseSignature},
		{KeyID: kid, KeyType: kty},
	}
	var lastErr error
	for _, spec := range specs {
		found, err := ExtractKeys(keys, spec)
		if err != nil {
			if errors.Is(err, ErrInvalidKeySet) {
				return jose.JSONWebKey{}, err
			}
			lastErr = err
			continue
		}
		return found[0], nil
	}
	return jose.JSONWebKey{}, lastErr
}

// Verifier verifies JWT signatures against a KeySet.
type Verifier struct {
	logger hclog.Logger
}

// NewVerifier creates a Verifier.
// Supported options:
//   - WithLogger
func NewVerifier(opt ...Option) *Verifier {
	opts := getConfigOpts(opt...)
	return &Verifier{logger: opts.withLogger}
}

// Verify reports whether the token's signature verifies with a key selected
// from keySet. A key set without keys, an empty header, an alg outside the
// supported set, no matching key, or a signature mismatch all produce false
// without an error. Errors are returned for malformed tokens and for algs
// that can't be mapped to a key type (ErrUnsupportedAlgorithm).
func (v *Verifier) Verify(ctx context.Context, token string, keySet *KeySet) (bool, error) {
	const op = "Verifier.Verify"
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if keySet == nil || keySet.Keys == nil {
		v.logger.Warn("jwt keys are missing, unable to validate the id_token signature")
		return false, nil
	}
	header, err := Header(token)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if len(header) == 0 {
		v.logger.Warn("id_token has no header data")
		return false, nil
	}
	alg, _ := header["alg"].(string)
	if !supportedAlgorithms[Alg(alg)] {
		v.logger.Warn("alg not supported", "alg", alg)
		return false, nil
	}
	kty, err := KeyType(Alg(alg))
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	kid, _ := header["kid"].(string)

	key, err := selectKey(keySet.Keys, kid, kty)
	if err != nil {
		v.logger.Warn("no key found to validate the id_token signature", "kid", kid, "kty", kty, "error", err)
		return false, nil
	}

	va, err := verifyAlgorithmFor(Alg(alg))
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	pub, err := importVerificationKey(key, va)
	if err != nil {
		v.logger.Warn("unable to import verification key", "kid", key.KeyID, "error", err)
		return false, nil
	}

	// the signature segment may be padded; the signing input stays as is.
	compact, err := normalizeSignature(token)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	sig, err := jose.ParseSigned(compact, []jose.SignatureAlgorithm{va.sigAlg})
	if err != nil {
		v.logger.Warn("unable to parse id_token signature", "error", err)
		return false, nil
	}
	if _, err := sig.Verify(pub); err != nil {
		v.logger.Warn("incorrect signature, validation failed for id_token", "kid", key.KeyID)
		return false, nil
	}
	return true, nil
}

// normalizeSignature returns token with its signature segment re-encoded as
// unpadded base64url.
func normalizeSignature(token string) (string, error) {
	input, err := SigningInput(token)
	if err != nil {
		return "", err
	}
	sig, err := Signature(token)
	if err != nil {
		return "", err
	}
	return input + "." + EncodeSegment(sig), nil
}

// importVerificationKey returns the public key of k, checking that it fits
// the verification algorithm.
func importVerificationKey(k jose.JSONWebKey, va verifyAlgorithm) (interface{}, error) {
	if !k.IsPublic() {
		k = k.Public()
	}
	switch pub := k.Key.(type) {
	case *rsa.PublicKey:
		if va.namedCurve != "" {
			return nil, fmt.Errorf("rsa key can't verify %s", va.sigAlg)
		}
		return pub, nil
	case *ecdsa.PublicKey:
		if va.namedCurve == "" {
			return nil, fmt.Errorf("ec key can't verify %s", va.sigAlg)
		}
		if name := pub.Curve.Params().Name; name != va.namedCurve {
			return nil, fmt.Errorf("ec key curve %s does not match %s", name, va.namedCurve)
		}
		return pub, nil
	default:
		return nil, fmt.Errorf("unsupported verification key type %T", k.Key)
	}
}

// ParseKeySet decodes a JWKS document. Keys that can't be parsed, such as
// key types this package doesn't know, are logged and skipped so the rest
// of the set stays usable.
// Supported options:
//   - WithLogger
func ParseKeySet(b []byte, opt ...Option) (*KeySet, error) {
	const op = "jwt.ParseKeySet"
	opts := getConfigOpts(opt...)
	var doc struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("%s: unable to decode keys: %v: %w", op, err, ErrInvalidKeySet)
	}
	ks := &KeySet{}
	for i, raw := range doc.Keys {
		var k jose.JSONWebKey
		if err := k.UnmarshalJSON(raw); err != nil {
			opts.withLogger.Warn("skipping key that can't be parsed", "index", i, "error", err)
			continue
		}
		ks.Keys = append(ks.Keys, k)
	}
	return ks, nil
}

// FetchKeySet retrieves the KeySet at jwksURL. When client is nil a pooled
// cleanhttp client is used.
// Supported options:
//   - WithLogger
func FetchKeySet(ctx context.Context, client *http.Client, jwksURL string, opt ...Option) (*KeySet, error) {
	const op = "jwt.FetchKeySet"
	if jwksURL == "" {
		return nil, fmt.Errorf("%s: jwks url is empty: %w", op, ErrInvalidKeySet)
	}
	if client == nil {
		client = cleanhttp.DefaultPooledClient()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to get keys: %w", op, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read response body: %w", op, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: %s: %s", op, resp.Status, body)
	}
	ks, err := ParseKeySet(body, opt...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ks, nil
}
