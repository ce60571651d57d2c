// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventType_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "ConfigLoaded", EventConfigLoaded.String())
	assert.Equal(t, "IdTokenExpired", EventIDTokenExpired.String())
	assert.Equal(t, "Unknown", EventType(99).String())
}

func TestPublicEvents(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	e := NewPublicEvents()
	t.Cleanup(e.Close)

	early, cancelEarly := e.Subscribe()
	e.Fire(EventConfigLoaded, "a")
	e.Fire(EventUserDataChanged, "b")
	assert.Equal(Event{Type: EventConfigLoaded, Value: "a"}, <-early)
	assert.Equal(Event{Type: EventUserDataChanged, Value: "b"}, <-early)

	// a late subscriber gets the last event first
	late, cancelLate := e.Subscribe()
	assert.Equal(Event{Type: EventUserDataChanged, Value: "b"}, <-late)
	e.Fire(EventTokenExpired, true)
	assert.Equal(Event{Type: EventTokenExpired, Value: true}, <-late)
	assert.Equal(Event{Type: EventTokenExpired, Value: true}, <-early)

	cancelLate()
	cancelLate()
	_, ok := <-late
	assert.False(ok)

	cancelEarly()
	_, ok = <-early
	require.False(ok)
}

func TestPublicEvents_NonBlocking(t *testing.T) {
	t.Parallel()
	e := NewPublicEvents()
	ch, cancel := e.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer+10; i++ {
			e.Fire(EventCheckSessionReceived, i)
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "publishing blocked on a full subscriber")
	}
	assert.Len(t, ch, subscriberBuffer)
	assert.Equal(t, Event{Type: EventCheckSessionReceived, Value: 0}, <-ch)
}

func TestAuthenticatedEvents(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	e := NewAuthenticatedEvents()

	e.publish(AuthenticatedResult{IsAuthenticated: true})
	ch, cancel := e.Subscribe()
	defer cancel()
	// nothing is replayed
	assert.Len(ch, 0)

	want := AuthenticatedResult{AllConfigsAuthenticated: []ConfigAuthenticated{{ConfigID: "a"}}}
	e.publish(want)
	assert.Equal(want, <-ch)

	e.Close()
	_, ok := <-ch
	assert.False(ok)
	// cancel after close is a no-op
	cancel()
}
