// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/hashicorp/cap-rp/jwt"
	"github.com/hashicorp/go-hclog"
)

// StorageKey names an entry of the per-config storage blob.
type StorageKey string

const (
	KeyAuthzData               StorageKey = "authzData"
	KeyAuthnResult             StorageKey = "authnResult"
	KeyAccessTokenExpiresAt    StorageKey = "access_token_expires_at"
	KeyAuthNonce               StorageKey = "authNonce"
	KeyAuthStateControl        StorageKey = "authStateControl"
	KeyAuthWellKnownEndPoints  StorageKey = "authWellKnownEndPoints"
	KeyReusableRefreshToken    StorageKey = "reusable_refresh_token"
	KeyUserData                StorageKey = "userData"
	KeySessionState            StorageKey = "session_state"
	KeyCodeVerifier            StorageKey = "codeVerifier"
	KeyJWTKeys                 StorageKey = "jwtKeys"
	KeySilentRenewRunning      StorageKey = "storageSilentRenewRunning"
	KeyCodeFlowInProgress      StorageKey = "storageCodeFlowInProgress"
	KeyCustomParamsAuthRequest StorageKey = "storageCustomParamsAuthRequest"
)

// Storage is the key-value backend holding one JSON blob per config id.
// Read returns nil, nil when there's no blob for the config.
type Storage interface {
	Read(configID string) ([]byte, error)
	Write(configID string, blob []byte) error
	Remove(configID string) error
	Clear() error
}

// MemoryStorage is a Storage held in process memory.
type MemoryStorage struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// ensure that MemoryStorage implements the Storage interface
var _ Storage = (*MemoryStorage)(nil)

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{blobs: map[string][]byte{}}
}

// Read implements Storage.
func (m *MemoryStorage) Read(configID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[configID]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), b...), nil
}

// Write implements Storage.
func (m *MemoryStorage) Write(configID string, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[configID] = append([]byte(nil), blob...)
	return nil
}

// Remove implements Storage.
func (m *MemoryStorage) Remove(configID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, configID)
	return nil
}

// Clear implements Storage.
func (m *MemoryStorage) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs = map[string][]byte{}
	return nil
}

// StoragePersistence is the only component touching the raw storage keys.
// It reads and writes entries of the blob of a config, keyed by the
// config's id.
type StoragePersistence struct {
	mu      sync.Mutex
	storage Storage
	logger  hclog.Logger
}

// NewStoragePersistence creates a StoragePersistence over s.
// Supported options:
//   - WithLogger
func NewStoragePersistence(s Storage, opt ...Option) (*StoragePersistence, error) {
	const op = "oidc.NewStoragePersistence"
	if s == nil {
		return nil, fmt.Errorf("%s: storage is nil: %w", op, ErrNilParameter)
	}
	opts := getComponentOpts(opt...)
	return &StoragePersistence{
		storage: s,
		logger:  opts.withLogger,
	}, nil
}

func (p *StoragePersistence) readBlob(c *Config) (map[StorageKey]json.RawMessage, error) {
	const op = "StoragePersistence.readBlob"
	if c == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	raw, err := p.storage.Read(c.ConfigID)
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", op, err, ErrStorage)
	}
	blob := map[StorageKey]json.RawMessage{}
	if len(raw) == 0 {
		return blob, nil
	}
	if err := json.Unmarshal(raw, &blob); err != nil {
		return nil, fmt.Errorf("%s: blob of %q is not json: %v: %w", op, c.ConfigID, err, ErrStorage)
	}
	return blob, nil
}

func (p *StoragePersistence) writeBlob(c *Config, blob map[StorageKey]json.RawMessage) error {
	const op = "StoragePersistence.writeBlob"
	raw, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := p.storage.Write(c.ConfigID, raw); err != nil {
		return fmt.Errorf("%s: %v: %w", op, err, ErrStorage)
	}
	return nil
}

// Read decodes the entry for key into v. It reports false when there's no
// entry.
func (p *StoragePersistence) Read(key StorageKey, c *Config, v interface{}) (bool, error) {
	const op = "StoragePersistence.Read"
	p.mu.Lock()
	defer p.mu.Unlock()
	blob, err := p.readBlob(c)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	raw, ok := blob[key]
	if !ok || string(raw) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("%s: entry %s: %v: %w", op, key, err, ErrStorage)
	}
	return true, nil
}

// Write stores value as the entry for key. A nil value removes the entry.
func (p *StoragePersistence) Write(key StorageKey, value interface{}, c *Config) error {
	const op = "StoragePersistence.Write"
	p.mu.Lock()
	defer p.mu.Unlock()
	blob, err := p.readBlob(c)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if value == nil {
		delete(blob, key)
	} else {
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("%s: entry %s: %w", op, key, err)
		}
		blob[key] = raw
	}
	if err := p.writeBlob(c, blob); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Remove deletes the entries for keys.
func (p *StoragePersistence) Remove(c *Config, keys ...StorageKey) error {
	const op = "StoragePersistence.Remove"
	p.mu.Lock()
	defer p.mu.Unlock()
	blob, err := p.readBlob(c)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	for _, k := range keys {
		delete(blob, k)
	}
	if err := p.writeBlob(c, blob); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Clear removes the blob of c.
func (p *StoragePersistence) Clear(c *Config) error {
	const op = "StoragePersistence.Clear"
	if c == nil {
		return fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.storage.Remove(c.ConfigID); err != nil {
		return fmt.Errorf("%s: %v: %w", op, err, ErrStorage)
	}
	return nil
}

// ResetStorageFlowData removes the per-flow entries.
func (p *StoragePersistence) ResetStorageFlowData(c *Config) error {
	return p.Remove(c,
		KeySessionState,
		KeySilentRenewRunning,
		KeyCodeFlowInProgress,
		KeyCodeVerifier,
		KeyUserData,
		KeyCustomParamsAuthRequest,
		KeyAccessTokenExpiresAt,
		KeyReusableRefreshToken,
	)
}

// ResetAuthStateInStorage removes the stored tokens.
func (p *StoragePersistence) ResetAuthStateInStorage(c *Config) error {
	return p.Remove(c, KeyAuthzData, KeyReusableRefreshToken, KeyAuthnResult)
}

// readString logs and returns "" on a storage failure.
func (p *StoragePersistence) readString(key StorageKey, c *Config) string {
	var s string
	if _, err := p.Read(key, c, &s); err != nil {
		p.logger.Error("unable to read from storage", "config_id", configID(c), "key", key, "error", err)
		return ""
	}
	return s
}

// AuthenticationResult returns the stored token endpoint response, or nil.
func (p *StoragePersistence) AuthenticationResult(c *Config) *AuthResult {
	var r AuthResult
	ok, err := p.Read(KeyAuthnResult, c, &r)
	if err != nil {
		p.logger.Error("unable to read the authentication result", "config_id", configID(c), "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	return &r
}

// AccessToken returns the stored access token, percent-decoded.
func (p *StoragePersistence) AccessToken(c *Config) string {
	return unescapeToken(p.readString(KeyAuthzData, c))
}

// IDToken returns the stored id_token, percent-decoded.
func (p *StoragePersistence) IDToken(c *Config) string {
	r := p.AuthenticationResult(c)
	if r == nil {
		return ""
	}
	return unescapeToken(r.IDToken)
}

// RefreshToken returns the stored refresh token, percent-decoded. With
// AllowUnsafeReuseRefreshToken, the last refresh token returned by the
// provider is the fallback.
func (p *StoragePersistence) RefreshToken(c *Config) string {
	var token string
	if r := p.AuthenticationResult(c); r != nil {
		token = r.RefreshToken
	}
	if token == "" && c != nil && c.AllowUnsafeReuseRefreshToken {
		token = p.readString(KeyReusableRefreshToken, c)
	}
	return unescapeToken(token)
}

// AccessTokenExpiresAt returns the stored access token expiry, or the zero
// time.
func (p *StoragePersistence) AccessTokenExpiresAt(c *Config) time.Time {
	var ms int64
	ok, err := p.Read(KeyAccessTokenExpiresAt, c, &ms)
	if err != nil {
		p.logger.Error("unable to read the access token expiry", "config_id", configID(c), "error", err)
		return time.Time{}
	}
	if !ok {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// SetAccessTokenExpiresAt stores expiresAt as epoch milliseconds.
func (p *StoragePersistence) SetAccessTokenExpiresAt(c *Config, expiresAt time.Time) error {
	return p.Write(KeyAccessTokenExpiresAt, expiresAt.UnixMilli(), c)
}

// WellKnownEndpoints returns the stored discovery result, or nil.
func (p *StoragePersistence) WellKnownEndpoints(c *Config) *AuthWellKnownEndpoints {
	var e AuthWellKnownEndpoints
	ok, err := p.Read(KeyAuthWellKnownEndPoints, c, &e)
	if err != nil {
		p.logger.Error("unable to read the well-known endpoints", "config_id", configID(c), "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	return &e
}

// SigningKeys returns the stored key set, or nil.
func (p *StoragePersistence) SigningKeys(c *Config) *jwt.KeySet {
	var ks jwt.KeySet
	ok, err := p.Read(KeyJWTKeys, c, &ks)
	if err != nil {
		p.logger.Error("unable to read the signing keys", "config_id", configID(c), "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	return &ks
}

// UserData returns the stored user data, or nil.
func (p *StoragePersistence) UserData(c *Config) map[string]interface{} {
	var m map[string]interface{}
	if _, err := p.Read(KeyUserData, c, &m); err != nil {
		p.logger.Error("unable to read the user data", "config_id", configID(c), "error", err)
		return nil
	}
	return m
}

func unescapeToken(s string) string {
	if s == "" {
		return ""
	}
	if d, err := url.PathUnescape(s); err == nil {
		return d
	}
	return s
}
