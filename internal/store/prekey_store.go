package store

import (
	"sort"
	"strconv"

	"github.com/pkg/errors"

	"cipherkit/internal/domain"
)

var (
	spkIndexKey    = makeKey("prekey", "spk", "index")
	opkIndexKey    = makeKey("prekey", "opk", "index")
	prekeyMetaKey  = makeKey("prekey", "meta")
	errBadAllocate = errors.New("allocate: count must be positive")
)

// prekeyMeta holds the allocation cursors. IDs are never reissued.
type prekeyMeta struct {
	CurrentSignedPreKeyID domain.SignedPreKeyID  `json:"current_signed_pre_key_id"`
	HasCurrent            bool                   `json:"has_current"`
	NextSignedPreKeyID    domain.SignedPreKeyID  `json:"next_signed_pre_key_id"`
	NextOneTimePreKeyID   domain.OneTimePreKeyID `json:"next_one_time_pre_key_id"`
}

func spkKey(id domain.SignedPreKeyID) string {
	return makeKey("prekey", "spk", strconv.FormatUint(uint64(id), 10))
}

func opkKey(id domain.OneTimePreKeyID) string {
	return makeKey("prekey", "opk", strconv.FormatUint(uint64(id), 10))
}

func (s *Store) meta() (prekeyMeta, error) {
	m := prekeyMeta{NextSignedPreKeyID: 1, NextOneTimePreKeyID: 1}
	_, err := s.get(prekeyMetaKey, &m)
	return m, err
}

// SaveSignedPreKey stores a signed pre-key by id.
func (s *Store) SaveSignedPreKey(pair domain.SignedPreKeyPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.put(spkKey(pair.ID), pair); err != nil {
		return err
	}
	return s.indexAdd(spkIndexKey, strconv.FormatUint(uint64(pair.ID), 10))
}

// LoadSignedPreKey retrieves a signed pre-key by id.
func (s *Store) LoadSignedPreKey(id domain.SignedPreKeyID) (domain.SignedPreKeyPair, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var p domain.SignedPreKeyPair
	ok, err := s.get(spkKey(id), &p)
	return p, ok, err
}

// ListSignedPreKeys returns all retained signed pre-keys, oldest first.
func (s *Store) ListSignedPreKeys() ([]domain.SignedPreKeyPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, err := s.index(spkIndexKey)
	if err != nil {
		return nil, err
	}
	out := make([]domain.SignedPreKeyPair, 0, len(ids))
	for _, raw := range ids {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "signed prekey index entry %q", raw)
		}
		var p domain.SignedPreKeyPair
		ok, err := s.get(spkKey(domain.SignedPreKeyID(id)), &p)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DeleteSignedPreKey removes a signed pre-key.
func (s *Store) DeleteSignedPreKey(id domain.SignedPreKeyID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.del(spkKey(id)); err != nil {
		return err
	}
	return s.indexRemove(spkIndexKey, strconv.FormatUint(uint64(id), 10))
}

// SetCurrentSignedPreKeyID records which signed pre-key id is current.
func (s *Store) SetCurrentSignedPreKeyID(id domain.SignedPreKeyID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.meta()
	if err != nil {
		return err
	}
	m.CurrentSignedPreKeyID, m.HasCurrent = id, true
	return s.put(prekeyMetaKey, m)
}

// CurrentSignedPreKeyID returns the recorded current signed pre-key id.
func (s *Store) CurrentSignedPreKeyID() (domain.SignedPreKeyID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.meta()
	if err != nil {
		return 0, false, err
	}
	return m.CurrentSignedPreKeyID, m.HasCurrent, nil
}

// AllocateSignedPreKeyID reserves the next signed pre-key id.
func (s *Store) AllocateSignedPreKeyID() (domain.SignedPreKeyID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.meta()
	if err != nil {
		return 0, err
	}
	id := m.NextSignedPreKeyID
	m.NextSignedPreKeyID++
	return id, s.put(prekeyMetaKey, m)
}

// AllocateOneTimePreKeyIDs reserves n consecutive one-time pre-key ids and
// returns the first.
func (s *Store) AllocateOneTimePreKeyIDs(n int) (domain.OneTimePreKeyID, error) {
	if n <= 0 {
		return 0, errBadAllocate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.meta()
	if err != nil {
		return 0, err
	}
	first := m.NextOneTimePreKeyID
	m.NextOneTimePreKeyID += domain.OneTimePreKeyID(n)
	return first, s.put(prekeyMetaKey, m)
}

// NextOneTimePreKeyID returns the allocation cursor. Every id below it has
// been issued at some point.
func (s *Store) NextOneTimePreKeyID() (domain.OneTimePreKeyID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.meta()
	return m.NextOneTimePreKeyID, err
}

// SaveOneTimePreKeys adds the provided one-time pre-key pairs to the pool.
func (s *Store) SaveOneTimePreKeys(pairs []domain.OneTimePreKeyPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, err := s.index(opkIndexKey)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(ids))
	for _, id := range ids {
		have[id] = true
	}
	for _, p := range pairs {
		if err := s.put(opkKey(p.ID), p); err != nil {
			return err
		}
		raw := strconv.FormatUint(uint64(p.ID), 10)
		if !have[raw] {
			ids = append(ids, raw)
			have[raw] = true
		}
	}
	return s.put(opkIndexKey, ids)
}

// LoadOneTimePreKey returns a one-time pre-key without consuming it.
func (s *Store) LoadOneTimePreKey(id domain.OneTimePreKeyID) (domain.OneTimePreKeyPair, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var p domain.OneTimePreKeyPair
	ok, err := s.get(opkKey(id), &p)
	return p, ok, err
}

// ConsumeOneTimePreKey removes and returns a single one-time pre-key by id.
func (s *Store) ConsumeOneTimePreKey(id domain.OneTimePreKeyID) (domain.OneTimePreKeyPair, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var p domain.OneTimePreKeyPair
	ok, err := s.get(opkKey(id), &p)
	if err != nil || !ok {
		return p, false, err
	}
	if err := s.del(opkKey(id)); err != nil {
		return domain.OneTimePreKeyPair{}, false, err
	}
	if err := s.indexRemove(opkIndexKey, strconv.FormatUint(uint64(id), 10)); err != nil {
		return domain.OneTimePreKeyPair{}, false, err
	}
	return p, true, nil
}

// ListOneTimePreKeyPublics exposes only the public halves for bundling.
func (s *Store) ListOneTimePreKeyPublics() ([]domain.OneTimePreKeyPublic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, err := s.index(opkIndexKey)
	if err != nil {
		return nil, err
	}
	out := make([]domain.OneTimePreKeyPublic, 0, len(ids))
	for _, raw := range ids {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "one-time prekey index entry %q", raw)
		}
		var p domain.OneTimePreKeyPair
		ok, err := s.get(opkKey(domain.OneTimePreKeyID(id)), &p)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, domain.OneTimePreKeyPublic{ID: p.ID, Pub: p.Pub})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CountOneTimePreKeys returns the number of unused one-time pre-keys.
func (s *Store) CountOneTimePreKeys() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, err := s.index(opkIndexKey)
	return len(ids), err
}

// Compile-time assertion that Store implements domain.PreKeyStore.
var _ domain.PreKeyStore = (*Store)(nil)
