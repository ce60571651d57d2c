// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package jwt

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Indexes of the segments of a JWS compact serialization.
const (
	HeaderPart    = 0
	PayloadPart   = 1
	SignaturePart = 2
)

const partsOfToken = 3

// Part returns the encoded (base64url) segment at index of the token,
// verbatim. The token must have exactly three segments.
func Part(token string, index int) (string, error) {
	const op = "jwt.Part"
	parts, err := split(token)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if index < HeaderPart || index > SignaturePart {
		return "", fmt.Errorf("%s: index %d is out of range: %w", op, index, ErrMalformedToken)
	}
	return parts[index], nil
}

// DecodePart base64url-decodes the segment at index of the token and
// unmarshals the resulting JSON into v.
func DecodePart(token string, index int, v interface{}) error {
	const op = "jwt.DecodePart"
	seg, err := Part(token, index)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	raw, err := DecodeSegment(seg)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%s: segment %d is not a json object: %v: %w", op, index, err, ErrMalformedToken)
	}
	return nil
}

// Header returns the decoded JOSE header of the token.
func Header(token string) (map[string]interface{}, error) {
	h := map[string]interface{}{}
	if err := DecodePart(token, HeaderPart, &h); err != nil {
		return nil, err
	}
	return h, nil
}

// Payload returns the decoded claims of the token.
func Payload(token string) (map[string]interface{}, error) {
	p := map[string]interface{}{}
	if err := DecodePart(token, PayloadPart, &p); err != nil {
		return nil, err
	}
	return p, nil
}

// Signature returns the decoded signature bytes of the token.
func Signature(token string) ([]byte, error) {
	const op = "jwt.Signature"
	seg, err := Part(token, SignaturePart)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	sig, err := DecodeSegment(seg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sig, nil
}

// SigningInput returns "header.payload" exactly as it appears in the token.
// It's the byte input of the signature and is never re-encoded.
func SigningInput(token string) (string, error) {
	const op = "jwt.SigningInput"
	parts, err := split(token)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return parts[HeaderPart] + "." + parts[PayloadPart], nil
}

// DecodeSegment decodes a base64url segment. Padding is optional and the
// standard base64 alphabet is tolerated.
func DecodeSegment(seg string) ([]byte, error) {
	const op = "jwt.DecodeSegment"
	s := strings.TrimRight(seg, "=")
	s = strings.NewReplacer("+", "-", "/", "_").Replace(s)
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", op, err, ErrMalformedToken)
	}
	return b, nil
}

// EncodeSegment base64url-encodes b without padding.
func EncodeSegment(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func split(token string) ([]string, error) {
	if token == "" {
		return nil, fmt.Errorf("token is empty: %w", ErrMalformedToken)
	}
	parts := strings.Split(token, ".")
	if len(parts) != partsOfToken {
		return nil, fmt.Errorf("token has %d segments, exactly %d are required: %w", len(parts), partsOfToken, ErrMalformedToken)
	}
	return parts, nil
}
