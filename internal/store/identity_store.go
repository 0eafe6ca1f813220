package store

import "cipherkit/internal/domain"

const identityKey = "identity"

// SaveIdentity stores the local identity.
func (s *Store) SaveIdentity(id domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(identityKey, id)
}

// LoadIdentity returns the local identity, if one has been generated.
func (s *Store) LoadIdentity() (domain.Identity, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var id domain.Identity
	ok, err := s.get(identityKey, &id)
	return id, ok, err
}

// Compile-time assertion that Store implements domain.IdentityStore.
var _ domain.IdentityStore = (*Store)(nil)
