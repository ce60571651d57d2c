// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClock is a settable now func.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testFlowsData(t *testing.T, clock *testClock) *FlowsData {
	t.Helper()
	p, _ := testStoragePersistence(t)
	f, err := NewFlowsData(p, WithNow(clock.Now))
	require.NoError(t, err)
	return f
}

func TestFlowsData_Values(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	f := testFlowsData(t, &testClock{now: time.Now()})
	c := testValidConfig("a")

	_, err := NewFlowsData(nil)
	assert.ErrorIs(err, ErrNilParameter)

	nonce, err := f.CreateNonce(c)
	require.NoError(err)
	assert.True(strings.HasPrefix(nonce, "n_"))
	assert.Equal(nonce, f.Nonce(c))
	require.NoError(f.SetNonce(c, ""))
	assert.Empty(f.Nonce(c))

	state, err := f.ExistingOrCreateAuthStateControl(c)
	require.NoError(err)
	assert.True(strings.HasPrefix(state, "st_"))
	again, err := f.ExistingOrCreateAuthStateControl(c)
	require.NoError(err)
	assert.Equal(state, again)
	require.NoError(f.SetAuthStateControl(c, ""))
	assert.Empty(f.AuthStateControl(c))

	v, err := f.CreateCodeVerifier(c)
	require.NoError(err)
	assert.Len(v, 43)
	assert.Equal(v, f.CodeVerifier(c))

	assert.False(f.IsCodeFlowInProgress(c))
	require.NoError(f.SetCodeFlowInProgress(c))
	assert.True(f.IsCodeFlowInProgress(c))
	require.NoError(f.ResetCodeFlowInProgress(c))
	assert.False(f.IsCodeFlowInProgress(c))

	require.NoError(f.SetSessionState(c, "session-1"))
	assert.Equal("session-1", f.SessionState(c))
	require.NoError(f.ResetStorageFlowData(c))
	assert.Empty(f.SessionState(c))
	assert.Empty(f.CodeVerifier(c))
}

func TestFlowsData_SilentRenew(t *testing.T) {
	t.Parallel()
	c := testValidConfig("a")
	c.SilentRenewTimeoutInSeconds = 20

	t.Run("latch", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		f := testFlowsData(t, &testClock{now: time.Now()})

		assert.False(f.IsSilentRenewRunning(c))
		ticket, err := f.StartSilentRenew(c)
		require.NoError(err)
		assert.Equal("a", ticket.ConfigID)
		assert.True(f.IsSilentRenewRunning(c))
		assert.True(f.IsCurrentRenew(c, ticket))

		_, err = f.StartSilentRenew(c)
		assert.ErrorIs(err, ErrRenewInProgress)

		// other configs have their own latch
		other := testValidConfig("b")
		assert.False(f.IsSilentRenewRunning(other))
		assert.False(f.IsCurrentRenew(other, ticket))

		assert.True(f.FinishSilentRenew(c, ticket))
		assert.False(f.IsSilentRenewRunning(c))
		assert.False(f.FinishSilentRenew(c, ticket))

		_, err = f.StartSilentRenew(nil)
		assert.ErrorIs(err, ErrNilParameter)
	})
	t.Run("stuck", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		clock := &testClock{now: time.Now()}
		f := testFlowsData(t, clock)

		ticket, err := f.StartSilentRenew(c)
		require.NoError(err)
		clock.Add(19 * time.Second)
		assert.True(f.IsSilentRenewRunning(c))
		clock.Add(2 * time.Second)
		assert.False(f.IsSilentRenewRunning(c))
		assert.False(f.IsCurrentRenew(c, ticket))

		next, err := f.StartSilentRenew(c)
		require.NoError(err)
		assert.Greater(next.Generation, ticket.Generation)
		// the late result of the stuck renew must not release the new one
		assert.False(f.FinishSilentRenew(c, ticket))
		assert.True(f.IsSilentRenewRunning(c))
		assert.True(f.IsCurrentRenew(c, next))
	})
	t.Run("reset", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		f := testFlowsData(t, &testClock{now: time.Now()})
		ticket, err := f.StartSilentRenew(c)
		require.NoError(err)
		f.ResetSilentRenewRunning(c)
		assert.False(f.IsSilentRenewRunning(c))
		assert.False(f.IsCurrentRenew(c, ticket))
	})
}
