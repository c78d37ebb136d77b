// Package session holds the authenticated client created by init.
package session

import (
	"sync"

	"github.com/rexliu/w3abridge/pkg/sdk"
)

// Holder is the single slot for the session handle. Only the init command
// writes it.
type Holder interface {
	Get() (sdk.Client, bool)
	Set(sdk.Client)
	Clear()
}

// Store is an in-memory Holder. Writes are last-write-wins.
type Store struct {
	mu     sync.RWMutex
	client sdk.Client
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{}
}

func (s *Store) Get() (sdk.Client, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client, s.client != nil
}

// Set replaces the handle. A nil client empties the slot.
func (s *Store) Set(c sdk.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client = c
}

func (s *Store) Clear() {
	s.Set(nil)
}
