package capability

import (
	"sync"

	"github.com/hearthward/warden/pkg/contracts"
)

// Store holds issued tokens for the runner to resolve by id. It is the
// one shared mutable resource on the execution path: spending a
// single-use token is an atomic compare-and-set so two racing execute
// calls can never both succeed.
type Store struct {
	mu     sync.Mutex
	tokens map[string]*contracts.CapabilityToken
}

// NewStore creates an empty token store.
func NewStore() *Store {
	return &Store{tokens: make(map[string]*contracts.CapabilityToken)}
}

// Register records an issued token. Registering the same id twice is a
// no-op; the original registration wins.
func (s *Store) Register(token *contracts.CapabilityToken) {
	if token == nil || token.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tokens[token.ID]; exists {
		return
	}
	s.tokens[token.ID] = token
}

// Lookup resolves a token by id. The bool is false for unknown ids.
// The returned token is a snapshot copied under the lock: validity
// checks on it never read a field a concurrent Spend is writing, and
// mutating it does not touch the stored token.
func (s *Store) Lookup(id string) (*contracts.CapabilityToken, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok {
		return nil, false
	}
	snapshot := *t
	return &snapshot, true
}

// Spend flips the used flag. For SINGLE_USE tokens this is a
// compare-and-set from "not used" to "used": the first caller wins and
// every later caller observes used == true and gets false back. For
// other scopes Spend records usage and always succeeds.
func (s *Store) Spend(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok {
		return false
	}
	if t.Scope == contracts.ScopeSingleUse {
		if t.Used {
			return false
		}
		t.Used = true
		return true
	}
	t.Used = true
	return true
}

// Prune drops tokens whose expiry precedes cutoff. Token state is
// transient; nothing outlives its TTL.
func (s *Store) Prune(cutoff func(*contracts.CapabilityToken) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, t := range s.tokens {
		if cutoff(t) {
			delete(s.tokens, id)
			removed++
		}
	}
	return removed
}

// Size returns the number of live tokens.
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}
