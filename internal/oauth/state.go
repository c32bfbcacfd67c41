package oauth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// stateTTL bounds how long an authorization redirect may stay pending
const stateTTL = 10 * time.Minute

type stateEntry struct {
	userID  string
	service string
	expires time.Time
}

// stateStore holds pending authorization states. States are random,
// single-use and bound to the (user, service) pair that initiated the
// flow, so the callback can only complete flows this node started.
type stateStore struct {
	mu     sync.Mutex
	states map[string]stateEntry
}

func newStateStore() *stateStore {
	return &stateStore{states: make(map[string]stateEntry)}
}

// Issue mints a new state for (user, service) and remembers it until
// Consume or expiry. Expired entries are dropped on the way.
func (s *stateStore) Issue(userID, service string) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate oauth state: %v", err)
	}
	state := hex.EncodeToString(buf)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for k, entry := range s.states {
		if now.After(entry.expires) {
			delete(s.states, k)
		}
	}
	s.states[state] = stateEntry{
		userID:  userID,
		service: service,
		expires: now.Add(stateTTL),
	}
	return state, nil
}

// Consume redeems a state exactly once. Unknown, already-used and
// expired states all fail the same way.
func (s *stateStore) Consume(state string) (userID, service string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, found := s.states[state]
	if !found {
		return "", "", false
	}
	delete(s.states, state)
	if time.Now().After(entry.expires) {
		return "", "", false
	}
	return entry.userID, entry.service, true
}
