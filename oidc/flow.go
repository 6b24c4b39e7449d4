// Copyright (c) Next Identity, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"
	"sync"
	"time"
)

// Flow represents one in-flight authorization redirect for a user.  It
// contains the data needed to uniquely bind the provider callback to the
// redirect that initiated it: the State() is round-tripped through the
// redirect as a CSRF token and the Nonce() is bound into the issued
// id_token's claims as a replay defense.  A Flow must be consumed exactly
// once; see Provider.Exchange.
type Flow struct {
	state      string
	nonce      string
	intent     Intent
	returnTo   string
	expiration time.Time
	nowFunc    func() time.Time
}

// newFlow creates a Flow for the given intent with freshly generated state
// and nonce values.
func newFlow(intent Intent, returnTo string, expireIn time.Duration, nowFunc func() time.Time) (*Flow, error) {
	const op = "oidc.newFlow"
	if err := intent.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if expireIn <= 0 {
		return nil, fmt.Errorf("%s: expireIn not greater than zero: %w", op, ErrInvalidParameter)
	}
	state, err := NewID(WithPrefix("st"))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate a flow's state: %w", op, err)
	}
	nonce, err := NewID(WithPrefix("n"))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate a flow's nonce: %w", op, err)
	}
	f := &Flow{
		state:    state,
		nonce:    nonce,
		intent:   intent,
		returnTo: returnTo,
		nowFunc:  nowFunc,
	}
	f.expiration = f.now().Add(expireIn)
	return f, nil
}

// State is a unique identifier and an opaque value used to maintain state
// between the authorization request and the callback.  It is never equal to
// the Nonce.
func (f *Flow) State() string { return f.state }

// Nonce is a unique value used to associate the flow with the id_token the
// provider issues for it, and to mitigate replay attacks.
func (f *Flow) Nonce() string { return f.nonce }

// Intent is the redirect intent the flow was issued for.
func (f *Flow) Intent() Intent { return f.intent }

// ReturnTo is the originally-requested location to send the user to after
// the callback completes.
func (f *Flow) ReturnTo() string { return f.returnTo }

// IsExpired returns true if the flow's TTL has elapsed.
func (f *Flow) IsExpired() bool {
	return f.expiration.Before(f.now())
}

func (f *Flow) now() time.Time {
	if f.nowFunc != nil {
		return f.nowFunc()
	}
	return time.Now()
}

// flowStore holds the pending flows for a provider, keyed by state token.
// Consumption is an atomic remove-and-return, so two callbacks racing the
// same state token can never both succeed.  Consumed state tokens leave a
// tombstone until the flow would have expired, which lets a replayed
// callback be reported as ErrFlowAlreadyConsumed rather than an unknown
// state.
type flowStore struct {
	mu       sync.Mutex
	pending  map[string]*Flow
	consumed map[string]time.Time
	nowFunc  func() time.Time
}

func newFlowStore(nowFunc func() time.Time) *flowStore {
	return &flowStore{
		pending:  map[string]*Flow{},
		consumed: map[string]time.Time{},
		nowFunc:  nowFunc,
	}
}

// Issue creates and stores a pending Flow.
func (s *flowStore) Issue(intent Intent, returnTo string, expireIn time.Duration) (*Flow, error) {
	const op = "flowStore.Issue"
	f, err := newFlow(intent, returnTo, expireIn, s.nowFunc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune()
	s.pending[f.State()] = f
	return f, nil
}

// Consume removes and returns the pending Flow for the given state token.
// It fails with ErrFlowExpired for a flow past its TTL (even on first use),
// ErrFlowAlreadyConsumed for a second consumption of the same token, and
// ErrFlowNotFound otherwise.
func (s *flowStore) Consume(state string) (*Flow, error) {
	const op = "flowStore.Consume"
	if state == "" {
		return nil, fmt.Errorf("%s: state is empty: %w", op, ErrInvalidParameter)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.pending[state]; ok {
		delete(s.pending, state)
		if f.IsExpired() {
			return nil, fmt.Errorf("%s: %w", op, ErrFlowExpired)
		}
		s.consumed[state] = f.expiration
		return f, nil
	}
	if exp, ok := s.consumed[state]; ok {
		if exp.Before(s.now()) {
			delete(s.consumed, state)
			return nil, fmt.Errorf("%s: %w", op, ErrFlowNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, ErrFlowAlreadyConsumed)
	}
	return nil, fmt.Errorf("%s: %w", op, ErrFlowNotFound)
}

func (s *flowStore) now() time.Time {
	if s.nowFunc != nil {
		return s.nowFunc()
	}
	return time.Now()
}

// prune drops expired pending flows and stale tombstones.  The caller must
// hold s.mu.
func (s *flowStore) prune() {
	now := s.now()
	for state, f := range s.pending {
		if f.expiration.Before(now) {
			delete(s.pending, state)
		}
	}
	for state, exp := range s.consumed {
		if exp.Before(now) {
			delete(s.consumed, state)
		}
	}
}
