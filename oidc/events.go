// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"sync"

	"github.com/hashicorp/go-hclog"
)

// EventType is the type of a public event.
type EventType int

const (
	EventConfigLoaded EventType = iota
	EventConfigLoadingFailed
	EventCheckSessionReceived
	EventUserDataChanged
	EventNewAuthenticationResult
	EventIDTokenExpired
	EventTokenExpired
)

func (t EventType) String() string {
	switch t {
	case EventConfigLoaded:
		return "ConfigLoaded"
	case EventConfigLoadingFailed:
		return "ConfigLoadingFailed"
	case EventCheckSessionReceived:
		return "CheckSessionReceived"
	case EventUserDataChanged:
		return "UserDataChanged"
	case EventNewAuthenticationResult:
		return "NewAuthenticationResult"
	case EventIDTokenExpired:
		return "IdTokenExpired"
	case EventTokenExpired:
		return "TokenExpired"
	default:
		return "Unknown"
	}
}

// Event is published on the public event bus.
type Event struct {
	Type  EventType
	Value interface{}
}

// AuthStateResult is the value of an EventNewAuthenticationResult event.
type AuthStateResult struct {
	IsAuthenticated  bool
	ValidationResult ValidationResult
	IsRenewProcess   bool
	ConfigID         string
}

// ConfigAuthenticated is the authenticated flag of one config.
type ConfigAuthenticated struct {
	ConfigID        string
	IsAuthenticated bool
}

// AuthenticatedResult is published on the authenticated channel whenever the
// authenticated state is recomputed. IsAuthenticated is true only when every
// config is authenticated.
type AuthenticatedResult struct {
	IsAuthenticated         bool
	AllConfigsAuthenticated []ConfigAuthenticated
}

// subscriberBuffer is the channel capacity of a subscriber.
const subscriberBuffer = 100

// broadcaster fans values out to subscribers. Sends never block: a
// subscriber whose buffer is full misses the value. With replayLast a new
// subscriber first receives the most recent value.
type broadcaster[T any] struct {
	mu         sync.Mutex
	name       string
	logger     hclog.Logger
	replayLast bool
	last       *T
	nextID     int
	subs       map[int]chan T
}

func newBroadcaster[T any](name string, replayLast bool, logger hclog.Logger) *broadcaster[T] {
	return &broadcaster[T]{
		name:       name,
		logger:     logger,
		replayLast: replayLast,
		subs:       map[int]chan T{},
	}
}

func (b *broadcaster[T]) subscribe() (<-chan T, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan T, subscriberBuffer)
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	if b.replayLast && b.last != nil {
		ch <- *b.last
	}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
			}
		})
	}
}

func (b *broadcaster[T]) publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.replayLast {
		b.last = &v
	}
	for id, ch := range b.subs {
		select {
		case ch <- v:
		default:
			b.logger.Warn("subscriber blocked, skipping event", "channel", b.name, "subscriber", id)
		}
	}
}

func (b *broadcaster[T]) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// PublicEvents is the public event bus. A new subscriber receives the most
// recent event first, then every later event.
type PublicEvents struct {
	b *broadcaster[Event]
}

// NewPublicEvents creates a PublicEvents bus.
// Supported options:
//   - WithLogger
func NewPublicEvents(opt ...Option) *PublicEvents {
	opts := getComponentOpts(opt...)
	return &PublicEvents{b: newBroadcaster[Event]("public_events", true, opts.withLogger)}
}

// Fire publishes an event.
func (e *PublicEvents) Fire(t EventType, value interface{}) {
	e.b.publish(Event{Type: t, Value: value})
}

// Subscribe returns a channel of events and a func that cancels the
// subscription, closing the channel.
func (e *PublicEvents) Subscribe() (<-chan Event, func()) {
	return e.b.subscribe()
}

// Close closes every subscriber channel.
func (e *PublicEvents) Close() {
	e.b.close()
}

// AuthenticatedEvents is the authenticated channel. Subscribers only receive
// values published after they subscribed.
type AuthenticatedEvents struct {
	b *broadcaster[AuthenticatedResult]
}

// NewAuthenticatedEvents creates an AuthenticatedEvents channel.
// Supported options:
//   - WithLogger
func NewAuthenticatedEvents(opt ...Option) *AuthenticatedEvents {
	opts := getComponentOpts(opt...)
	return &AuthenticatedEvents{b: newBroadcaster[AuthenticatedResult]("authenticated", false, opts.withLogger)}
}

func (e *AuthenticatedEvents) publish(r AuthenticatedResult) {
	e.b.publish(r)
}

// Subscribe returns a channel of authenticated results and a func that
// cancels the subscription, closing the channel.
func (e *AuthenticatedEvents) Subscribe() (<-chan AuthenticatedResult, func()) {
	return e.b.subscribe()
}

// Close closes every subscriber channel.
func (e *AuthenticatedEvents) Close() {
	e.b.close()
}
