// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/hashicorp/cap-rp/jwt"
	"github.com/stretchr/testify/require"
)

// TestKeys is a signing key pair for tests, with the alg and kid it signs
// with.
type TestKeys struct {
	Alg     jwt.Alg
	KeyID   string
	Private crypto.Signer
	Public  crypto.PublicKey
}

// TestGenerateKeys will generate a test ECDSA P-256 key pair which signs
// with ES256.
func TestGenerateKeys(t *testing.T) *TestKeys {
	t.Helper()
	require := require.New(t)
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(err)
	kid, err := NewID(WithPrefix("es256"))
	require.NoError(err)
	return &TestKeys{Alg: jwt.ES256, KeyID: kid, Private: privateKey, Public: &privateKey.PublicKey}
}

// TestGenerateRSAKeys will generate a test RSA key pair which signs with alg
// (RS256, RS384 or RS512).
func TestGenerateRSAKeys(t *testing.T, alg jwt.Alg) *TestKeys {
	t.Helper()
	require := require.New(t)
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(err)
	kid, err := NewID(WithPrefix("rsa"))
	require.NoError(err)
	return &TestKeys{Alg: alg, KeyID: kid, Private: privateKey, Public: &privateKey.PublicKey}
}

// TestSignJWT will bundle the provided claims into a test signed JWT, with
// the key's kid in the header.
func TestSignJWT(t *testing.T, k *TestKeys, claims interface{}) string {
	t.Helper()
	require := require.New(t)
	require.NotNil(k)
	sig, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.SignatureAlgorithm(k.Alg), Key: k.Private},
		(&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", k.KeyID),
	)
	require.NoError(err)

	raw, err := josejwt.Signed(sig).Claims(claims).Serialize()
	require.NoError(err)
	return raw
}

// TestJWKS returns a key set holding the public keys, marked for signature
// use.
func TestJWKS(t *testing.T, keys ...*TestKeys) *jwt.KeySet {
	t.Helper()
	ks := &jwt.KeySet{}
	for _, k := range keys {
		ks.Keys = append(ks.Keys, jose.JSONWebKey{
			Key:       k.Public,
			KeyID:     k.KeyID,
			Algorithm: string(k.Alg),
			Use:       jwt.KeyUseSignature,
		})
	}
	return ks
}

// TestAtHash computes the at_hash claim of accessToken for alg.
func TestAtHash(t *testing.T, accessToken string, alg jwt.Alg) string {
	t.Helper()
	h, err := jwt.AccessTokenHash(accessToken, alg)
	require.NoError(t, err)
	return h
}

// TestGenerateCA will generate a test x509 CA cert encoded in a PEM format.
func TestGenerateCA(t *testing.T, hosts []string) string {
	t.Helper()
	require := require.New(t)

	priv, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(err)

	// ECDSA, ED25519 and RSA subject keys should have the DigitalSignature
	// KeyUsage bits set in the x509.Certificate template
	keyUsage := x509.KeyUsageDigitalSignature

	validFor := 2 * time.Minute
	notBefore := time.Now()
	notAfter := notBefore.Add(validFor)

	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	require.NoError(err)

	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"Acme Co"},
		},
		NotBefore: notBefore,
		NotAfter:  notAfter,

		KeyUsage:              keyUsage,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	template.IsCA = true
	template.KeyUsage |= x509.KeyUsageCertSign

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	require.NoError(err)

	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes}))
}

// testIDTokenClaims are the claims of a valid id_token issued now by issuer
// for clientID.
func testIDTokenClaims(issuer, clientID, nonce string, now time.Time) map[string]interface{} {
	return map[string]interface{}{
		ClaimIssuer:   issuer,
		ClaimSubject:  "alice@example.com",
		ClaimAudience: []string{clientID},
		ClaimIssuedAt: now.Unix(),
		ClaimExpiry:   now.Add(5 * time.Minute).Unix(),
		ClaimNonce:    nonce,
		ClaimAuthTime: now.Add(-time.Minute).Unix(),
	}
}
