// Package auth holds the signed-in user identity and raises a change event
// when it flips between signed-out and signed-in.
package auth

import (
	"errors"
	"strings"
	"sync"

	"social-realtime/internal/logging"
	"social-realtime/internal/tokenstore"
)

var ErrMissingCredentials = errors.New("user and access token are required")

type State struct {
	tokens tokenstore.Store
	logger *logging.Logger

	mu          sync.Mutex
	user        string
	nextID      int
	subscribers map[int]func(user string)
}

func New(tokens tokenstore.Store, logger *logging.Logger) *State {
	if tokens == nil {
		panic("auth.New: token store must not be nil")
	}
	return &State{tokens: tokens, logger: logger, subscribers: map[int]func(string){}}
}

func (s *State) User() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// Login stores the token pair and then publishes the new user, so listeners
// always find fresh tokens in the store.
func (s *State) Login(user, accessToken, refreshToken string) error {
	user = strings.TrimSpace(user)
	if user == "" || strings.TrimSpace(accessToken) == "" {
		return ErrMissingCredentials
	}
	if err := s.tokens.Set(tokenstore.Access, accessToken); err != nil {
		return err
	}
	if err := s.tokens.Set(tokenstore.Refresh, refreshToken); err != nil {
		return err
	}
	s.logger.Info("user signed in", logging.Field("user", user))
	s.setUser(user)
	return nil
}

// Logout clears the tokens and the user. Calling it while signed out is a
// no-op apart from clearing the store.
func (s *State) Logout() error {
	err := tokenstore.Clear(s.tokens)
	if s.User() != "" {
		s.logger.Info("user signed out")
	}
	s.setUser("")
	return err
}

// SyncFromStore signs the user out when another process has cleared the
// stored access token.
func (s *State) SyncFromStore() {
	access, err := s.tokens.Get(tokenstore.Access)
	if err != nil {
		s.logger.Warn("token store unreadable", logging.Field("error", err))
		return
	}
	if access == "" && s.User() != "" {
		s.logger.Info("tokens cleared externally, signing out")
		s.setUser("")
	}
}

// OnChange registers fn for user changes and returns its unsubscribe.
func (s *State) OnChange(fn func(user string)) func() {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subscribers[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

func (s *State) setUser(user string) {
	s.mu.Lock()
	if s.user == user {
		s.mu.Unlock()
		return
	}
	s.user = user
	listeners := make([]func(string), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(user)
	}
}
