// Package tokenstore persists the access/refresh token pair shared by the
// refresher, both realtime channels and plain REST callers.
package tokenstore

import (
	"errors"
	"fmt"
	"sync"
)

type Kind string

const (
	Access  Kind = "access"
	Refresh Kind = "refresh"
)

var ErrUnknownKind = errors.New("unknown token kind")

// Store is pure storage: no validation, no caching on the caller side. Get
// returns "" with a nil error when the token is absent.
type Store interface {
	Get(kind Kind) (string, error)
	Set(kind Kind, value string) error
	Remove(kind Kind) error
}

// Clear removes both tokens. Used by logout and forced session expiry.
func Clear(s Store) error {
	if err := s.Remove(Access); err != nil {
		return err
	}
	return s.Remove(Refresh)
}

func validKind(kind Kind) error {
	switch kind {
	case Access, Refresh:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[Kind]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: map[Kind]string{}}
}

func (m *MemoryStore) Get(kind Kind) (string, error) {
	if err := validKind(kind); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tokens[kind], nil
}

func (m *MemoryStore) Set(kind Kind, value string) error {
	if err := validKind(kind); err != nil {
		return err
	}
	m.mu.Lock()
	m.tokens[kind] = value
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Remove(kind Kind) error {
	if err := validKind(kind); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.tokens, kind)
	m.mu.Unlock()
	return nil
}
