// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package jwt

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPart(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)

	const tk = "abc.def.ghi"
	h, err := Part(tk, HeaderPart)
	require.NoError(err)
	assert.Equal("abc", h)

	p, err := Part(tk, PayloadPart)
	require.NoError(err)
	assert.Equal("def", p)

	s, err := Part(tk, SignaturePart)
	require.NoError(err)
	assert.Equal("ghi", s)

	_, err = Part(tk, 3)
	assert.ErrorIs(err, ErrMalformedToken)
}

func TestPart_Malformed(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"no-dots", "abcdefghi"},
		{"two-segments", "abc.def"},
		{"four-segments", "abc.def.ghi.jkl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Part(tt.token, HeaderPart)
			require.Error(t, err)
			assert.Truef(t, errors.Is(err, ErrMalformedToken), "wanted \"%s\" but got \"%s\"", ErrMalformedToken, err)
			_, err = SigningInput(tt.token)
			assert.ErrorIs(t, err, ErrMalformedToken)
		})
	}
}

func TestDecodePart_RoundTrip(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)

	header := map[string]interface{}{"alg": "RS256", "kid": "key-1", "typ": "JWT"}
	claims := map[string]interface{}{
		"iss":   "https://idp.test/realms/main",
		"sub":   "alice",
		"aud":   []interface{}{"client-a", "client-b"},
		"iat":   float64(1589206486),
		"name":  "Jürgen",
		"nonce": "n-0S6_WzA2Mj",
	}
	hb, err := json.Marshal(header)
	require.NoError(err)
	cb, err := json.Marshal(claims)
	require.NoError(err)
	encHeader, encClaims := EncodeSegment(hb), EncodeSegment(cb)
	tk := strings.Join([]string{encHeader, encClaims, "c2lnbmF0dXJl"}, ".")

	gotEncClaims, err := Part(tk, PayloadPart)
	require.NoError(err)
	assert.Equal(encClaims, gotEncClaims)

	gotClaims, err := Payload(tk)
	require.NoError(err)
	assert.Equal(claims, gotClaims)

	gotHeader, err := Header(tk)
	require.NoError(err)
	assert.Equal(header, gotHeader)

	input, err := SigningInput(tk)
	require.NoError(err)
	assert.Equal(encHeader+"."+encClaims, input)

	sig, err := Signature(tk)
	require.NoError(err)
	assert.Equal([]byte("signature"), sig)
}

func TestDecodePart_NotJSON(t *testing.T) {
	t.Parallel()
	var v map[string]interface{}
	err := DecodePart("abc.def.ghi", HeaderPart, &v)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedToken)
}

func TestDecodeSegment(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		seg     string
		want    string
		wantErr bool
	}{
		{name: "unpadded", seg: "c3VyZQ", want: "sure"},
		{name: "padded", seg: "c3VyZQ==", want: "sure"},
		{name: "url-alphabet", seg: "-_8", want: "\xfb\xff"},
		{name: "std-alphabet", seg: "+/8", want: "\xfb\xff"},
		{name: "invalid", seg: "a", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := DecodeSegment(tt.seg)
			if tt.wantErr {
				require.Error(err)
				assert.ErrorIs(err, ErrMalformedToken)
				return
			}
			require.NoError(err)
			assert.Equal(tt.want, string(got))
		})
	}
}
