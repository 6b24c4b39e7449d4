// Copyright (c) Next Identity, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"sync"

	"github.com/next-identity/oidc-go/oidc"
)

// State is the record a Store holds for one session: at most one Token plus
// the user claims cached alongside it (typically the id_token claims,
// optionally enriched from the userinfo endpoint).
type State struct {
	Token  *oidc.Token
	Claims map[string]interface{}
}

// Store is the injectable session storage contract the gate reads and writes
// through.  Implementations own the backing mechanics (in-memory,
// cookie-encoded, external cache) and must be safe for concurrent use.  Get
// returns (nil, nil) when no record exists for the id.
type Store interface {
	Get(ctx context.Context, id string) (*State, error)
	Set(ctx context.Context, id string, s *State) error
	Delete(ctx context.Context, id string) error
}

// MemStore is an in-memory Store implementation.  It is concurrently safe.
type MemStore struct {
	mu sync.RWMutex
	m  map[string]*State
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		m: map[string]*State{},
	}
}

// Get returns the State for the id, or (nil, nil) when there isn't one.
func (s *MemStore) Get(_ context.Context, id string) (*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.m[id], nil
}

// Set stores the State for the id, replacing any existing record.
func (s *MemStore) Set(_ context.Context, id string, st *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[id] = st
	return nil
}

// Delete removes the State for the id, if there is one.
func (s *MemStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, id)
	return nil
}
