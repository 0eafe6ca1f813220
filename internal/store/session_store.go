package store

import (
	"cipherkit/internal/domain"
)

var sessionIndexKey = makeKey("session", "index")

func sessionKey(peer domain.Address) string { return makeKey("session", peer.String()) }

// SaveSession persists the session with its peer, replacing any previous one.
func (s *Store) SaveSession(session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.put(sessionKey(session.Peer), session); err != nil {
		return err
	}
	return s.indexAdd(sessionIndexKey, session.Peer.String())
}

// LoadSession returns the session with peer, if one exists.
func (s *Store) LoadSession(peer domain.Address) (domain.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sess domain.Session
	ok, err := s.get(sessionKey(peer), &sess)
	return sess, ok, err
}

// DeleteSession removes the session with peer.
func (s *Store) DeleteSession(peer domain.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.del(sessionKey(peer)); err != nil {
		return err
	}
	return s.indexRemove(sessionIndexKey, peer.String())
}

// ListSessions returns the peers we hold sessions with.
func (s *Store) ListSessions() ([]domain.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, err := s.index(sessionIndexKey)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Address, 0, len(ids))
	for _, raw := range ids {
		addr, err := domain.ParseAddress(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

// Compile-time assertion that Store implements domain.SessionStore.
var _ domain.SessionStore = (*Store)(nil)
