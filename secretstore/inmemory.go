package secretstore

import (
	"context"
	"sync"
)

// InMemory is a mutex-guarded map, the default Store for a single-process
// hub. Equivalent to constructing a Server with secret_keys in the
// original spec.
type InMemory struct {
	mu      sync.RWMutex
	secrets map[string]string
}

// NewInMemory builds an InMemory store pre-populated with the given
// identifier -> secret mapping (may be nil/empty).
func NewInMemory(initial map[string]string) *InMemory {
	secrets := make(map[string]string, len(initial))
	for k, v := range initial {
		secrets[k] = v
	}
	return &InMemory{secrets: secrets}
}

func (s *InMemory) Get(_ context.Context, identifier string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	secret, ok := s.secrets[identifier]
	return secret, ok, nil
}

func (s *InMemory) Set(_ context.Context, identifier, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[identifier] = secret
	return nil
}
