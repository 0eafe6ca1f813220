package store

import (
	"cipherkit/internal/domain"
)

var groupIndexKey = makeKey("group", "index")

func groupKey(id domain.GroupID) string { return makeKey("group", string(id)) }

func senderKeyIndexKey(id domain.GroupID) string {
	return makeKey("senderkey", string(id), "index")
}

func senderKeyKey(id domain.GroupID, sender domain.Address) string {
	return makeKey("senderkey", string(id), sender.String())
}

// SaveGroup persists group metadata.
func (s *Store) SaveGroup(group domain.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.put(groupKey(group.ID), group); err != nil {
		return err
	}
	return s.indexAdd(groupIndexKey, string(group.ID))
}

// LoadGroup returns group metadata, if known.
func (s *Store) LoadGroup(id domain.GroupID) (domain.Group, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var g domain.Group
	ok, err := s.get(groupKey(id), &g)
	return g, ok, err
}

// ListGroups returns the ids of all known groups.
func (s *Store) ListGroups() ([]domain.GroupID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, err := s.index(groupIndexKey)
	if err != nil {
		return nil, err
	}
	out := make([]domain.GroupID, len(ids))
	for i, id := range ids {
		out[i] = domain.GroupID(id)
	}
	return out, nil
}

// SaveSenderKey persists one sender's chain for a group.
func (s *Store) SaveSenderKey(state domain.SenderKeyState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.put(senderKeyKey(state.GroupID, state.Sender), state); err != nil {
		return err
	}
	return s.indexAdd(senderKeyIndexKey(state.GroupID), state.Sender.String())
}

// LoadSenderKey returns sender's chain for group, if held.
func (s *Store) LoadSenderKey(group domain.GroupID, sender domain.Address) (domain.SenderKeyState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st domain.SenderKeyState
	ok, err := s.get(senderKeyKey(group, sender), &st)
	return st, ok, err
}

// ListSenderKeys returns every sender chain held for group.
func (s *Store) ListSenderKeys(group domain.GroupID) ([]domain.SenderKeyState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, err := s.index(senderKeyIndexKey(group))
	if err != nil {
		return nil, err
	}
	out := make([]domain.SenderKeyState, 0, len(ids))
	for _, raw := range ids {
		addr, err := domain.ParseAddress(raw)
		if err != nil {
			return nil, err
		}
		var st domain.SenderKeyState
		ok, err := s.get(senderKeyKey(group, addr), &st)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, st)
		}
	}
	return out, nil
}

// DeleteSenderKey forgets sender's chain for group.
func (s *Store) DeleteSenderKey(group domain.GroupID, sender domain.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.del(senderKeyKey(group, sender)); err != nil {
		return err
	}
	return s.indexRemove(senderKeyIndexKey(group), sender.String())
}

// Compile-time assertion that Store implements domain.GroupStore.
var _ domain.GroupStore = (*Store)(nil)
