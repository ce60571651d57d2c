// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"
)

// silentRenewState is the stored value of the silent renew latch.
type silentRenewState struct {
	State                    string    `json:"state"`
	DateOfLaunchedProcessUTC time.Time `json:"dateOfLaunchedProcessUtc"`
	Generation               uint64    `json:"generation"`
}

const silentRenewRunning = "running"

// RenewTicket identifies one silent renew cycle. Results of a cycle are only
// applied while its ticket is still current.
type RenewTicket struct {
	ConfigID   string
	Generation uint64
}

// FlowsData holds the transient values of an authorization flow in storage:
// nonce, auth state control, PKCE code verifier, session state and the
// silent renew latch.
type FlowsData struct {
	mu          sync.Mutex
	storage     *StoragePersistence
	logger      hclog.Logger
	now         func() time.Time
	generations map[string]uint64
}

// NewFlowsData creates a FlowsData backed by s.
// Supported options:
//   - WithLogger
//   - WithNow
func NewFlowsData(s *StoragePersistence, opt ...Option) (*FlowsData, error) {
	const op = "oidc.NewFlowsData"
	if s == nil {
		return nil, fmt.Errorf("%s: storage persistence is nil: %w", op, ErrNilParameter)
	}
	opts := getComponentOpts(opt...)
	return &FlowsData{
		storage:     s,
		logger:      opts.withLogger,
		now:         opts.withNowFunc,
		generations: map[string]uint64{},
	}, nil
}

// CreateNonce generates and stores a new nonce.
func (f *FlowsData) CreateNonce(c *Config) (string, error) {
	const op = "FlowsData.CreateNonce"
	nonce, err := NewID(WithPrefix("n"))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if err := f.SetNonce(c, nonce); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	f.logger.Debug("nonce created", "config_id", configID(c))
	return nonce, nil
}

// SetNonce stores nonce. An empty nonce clears it.
func (f *FlowsData) SetNonce(c *Config, nonce string) error {
	return f.storage.Write(KeyAuthNonce, nonce, c)
}

// Nonce returns the stored nonce.
func (f *FlowsData) Nonce(c *Config) string {
	return f.storage.readString(KeyAuthNonce, c)
}

// AuthStateControl returns the stored auth state control.
func (f *FlowsData) AuthStateControl(c *Config) string {
	return f.storage.readString(KeyAuthStateControl, c)
}

// SetAuthStateControl stores the auth state control. An empty value clears
// it.
func (f *FlowsData) SetAuthStateControl(c *Config, state string) error {
	return f.storage.Write(KeyAuthStateControl, state, c)
}

// ExistingOrCreateAuthStateControl returns the stored auth state control,
// generating and storing one when there's none.
func (f *FlowsData) ExistingOrCreateAuthStateControl(c *Config) (string, error) {
	const op = "FlowsData.ExistingOrCreateAuthStateControl"
	if s := f.AuthStateControl(c); s != "" {
		return s, nil
	}
	s, err := NewID(WithPrefix("st"))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if err := f.SetAuthStateControl(c, s); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return s, nil
}

// SetSessionState stores the session_state of the provider.
func (f *FlowsData) SetSessionState(c *Config, sessionState string) error {
	return f.storage.Write(KeySessionState, sessionState, c)
}

// SessionState returns the stored session_state.
func (f *FlowsData) SessionState(c *Config) string {
	return f.storage.readString(KeySessionState, c)
}

// CreateCodeVerifier generates and stores a PKCE code verifier.
func (f *FlowsData) CreateCodeVerifier(c *Config) (string, error) {
	const op = "FlowsData.CreateCodeVerifier"
	v := oauth2.GenerateVerifier()
	if err := f.storage.Write(KeyCodeVerifier, v, c); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return v, nil
}

// CodeVerifier returns the stored PKCE code verifier.
func (f *FlowsData) CodeVerifier(c *Config) string {
	return f.storage.readString(KeyCodeVerifier, c)
}

// SetCodeFlowInProgress marks a code flow as started.
func (f *FlowsData) SetCodeFlowInProgress(c *Config) error {
	return f.storage.Write(KeyCodeFlowInProgress, true, c)
}

// ResetCodeFlowInProgress clears the code flow marker.
func (f *FlowsData) ResetCodeFlowInProgress(c *Config) error {
	return f.storage.Write(KeyCodeFlowInProgress, nil, c)
}

// IsCodeFlowInProgress reports whether a code flow was started.
func (f *FlowsData) IsCodeFlowInProgress(c *Config) bool {
	var b bool
	if _, err := f.storage.Read(KeyCodeFlowInProgress, c, &b); err != nil {
		f.logger.Error("unable to read the code flow marker", "config_id", configID(c), "error", err)
		return false
	}
	return b
}

// ResetStorageFlowData removes the per-flow entries.
func (f *FlowsData) ResetStorageFlowData(c *Config) error {
	return f.storage.ResetStorageFlowData(c)
}

// IsSilentRenewRunning reports whether a silent renew is in flight for c. A
// renew started longer than the silent renew timeout ago is considered stuck:
// the latch is reset and false is returned.
func (f *FlowsData) IsSilentRenewRunning(c *Config) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.isSilentRenewRunning(c)
}

func (f *FlowsData) isSilentRenewRunning(c *Config) bool {
	var st silentRenewState
	ok, err := f.storage.Read(KeySilentRenewRunning, c, &st)
	if err != nil {
		f.logger.Error("unable to read the silent renew latch", "config_id", configID(c), "error", err)
		return false
	}
	if !ok || st.State != silentRenewRunning {
		return false
	}
	if f.now().UTC().Sub(st.DateOfLaunchedProcessUTC) > c.SilentRenewTimeout() {
		f.logger.Debug("silent renew process is stuck, resetting", "config_id", configID(c), "launched", st.DateOfLaunchedProcessUTC)
		f.resetSilentRenewRunning(c)
		return false
	}
	return true
}

// StartSilentRenew checks and sets the silent renew latch for c. It returns
// ErrRenewInProgress when a renew is already running.
func (f *FlowsData) StartSilentRenew(c *Config) (RenewTicket, error) {
	const op = "FlowsData.StartSilentRenew"
	if c == nil {
		return RenewTicket{}, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.isSilentRenewRunning(c) {
		return RenewTicket{}, fmt.Errorf("%s: %s: %w", op, c.ConfigID, ErrRenewInProgress)
	}
	f.generations[c.ConfigID]++
	st := silentRenewState{
		State:                    silentRenewRunning,
		DateOfLaunchedProcessUTC: f.now().UTC(),
		Generation:               f.generations[c.ConfigID],
	}
	if err := f.storage.Write(KeySilentRenewRunning, st, c); err != nil {
		return RenewTicket{}, fmt.Errorf("%s: %w", op, err)
	}
	return RenewTicket{ConfigID: c.ConfigID, Generation: st.Generation}, nil
}

// IsCurrentRenew reports whether ticket belongs to the silent renew that is
// still running for c. A late result of a timed out or reset renew is not
// current.
func (f *FlowsData) IsCurrentRenew(c *Config, ticket RenewTicket) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.isCurrentRenew(c, ticket)
}

func (f *FlowsData) isCurrentRenew(c *Config, ticket RenewTicket) bool {
	if c == nil || ticket.ConfigID != c.ConfigID || !f.isSilentRenewRunning(c) {
		return false
	}
	var st silentRenewState
	if ok, err := f.storage.Read(KeySilentRenewRunning, c, &st); err != nil || !ok {
		return false
	}
	return st.Generation == ticket.Generation
}

// FinishSilentRenew releases the latch if ticket is still current. It reports
// whether the latch was released.
func (f *FlowsData) FinishSilentRenew(c *Config, ticket RenewTicket) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.isCurrentRenew(c, ticket) {
		return false
	}
	f.resetSilentRenewRunning(c)
	return true
}

// ResetSilentRenewRunning releases the latch whatever cycle holds it.
func (f *FlowsData) ResetSilentRenewRunning(c *Config) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetSilentRenewRunning(c)
}

func (f *FlowsData) resetSilentRenewRunning(c *Config) {
	if err := f.storage.Write(KeySilentRenewRunning, nil, c); err != nil {
		f.logger.Error("unable to reset the silent renew latch", "config_id", configID(c), "error", err)
	}
}
