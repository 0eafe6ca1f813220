package store

import "cipherkit/internal/domain"

const accountKey = "account"

// SaveAccountProfile records the directory registration.
func (s *Store) SaveAccountProfile(profile domain.AccountProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(accountKey, profile)
}

// LoadAccountProfile returns the directory registration, if any.
func (s *Store) LoadAccountProfile() (domain.AccountProfile, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var p domain.AccountProfile
	ok, err := s.get(accountKey, &p)
	return p, ok, err
}

// Compile-time assertion that Store implements domain.AccountStore.
var _ domain.AccountStore = (*Store)(nil)
