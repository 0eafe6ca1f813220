package store

import (
	"encoding/json"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"cipherkit/internal/domain"
)

// snapshot is everything a device needs to resume after a reinstall.
type snapshot struct {
	Identity       domain.Identity            `json:"identity"`
	Account        *domain.AccountProfile     `json:"account,omitempty"`
	Meta           prekeyMeta                 `json:"prekey_meta"`
	SignedPreKeys  []domain.SignedPreKeyPair  `json:"signed_pre_keys"`
	OneTimePreKeys []domain.OneTimePreKeyPair `json:"one_time_pre_keys"`
	Sessions       []domain.Session           `json:"sessions"`
	Groups         []domain.Group             `json:"groups"`
	SenderKeys     []domain.SenderKeyState    `json:"sender_keys"`
}

// Export serialises the whole store and encrypts it under passphrase.
func (s *Store) Export(passphrase string) ([]byte, error) {
	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, errors.Wrap(err, "marshal backup")
	}
	return seal(passphrase, raw, defaultScrypt)
}

// ExportFile writes an encrypted backup to path atomically.
func (s *Store) ExportFile(path, passphrase string) error {
	b, err := s.Export(passphrase)
	if err != nil {
		return err
	}
	if err := writeFile(path, b, 0o600); err != nil {
		return err
	}
	jww.INFO.Printf("store: backup written to %s", path)
	return nil
}

// Import decrypts a backup and writes every entry into the store,
// overwriting what is there.
func (s *Store) Import(passphrase string, b []byte) error {
	raw, err := unseal(passphrase, b)
	if err != nil {
		return err
	}
	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return errors.Wrap(err, "parse backup contents")
	}
	return s.restore(snap)
}

// ImportFile reads and imports the backup at path.
func (s *Store) ImportFile(path, passphrase string) error {
	b, err := readFile(path)
	if err != nil {
		return err
	}
	return s.Import(passphrase, b)
}

func (s *Store) snapshot() (snapshot, error) {
	var snap snapshot
	id, ok, err := s.LoadIdentity()
	if err != nil {
		return snap, err
	}
	if !ok {
		return snap, errors.Wrap(domain.ErrNotFound, "backup: no identity")
	}
	snap.Identity = id

	if p, ok, err := s.LoadAccountProfile(); err != nil {
		return snap, err
	} else if ok {
		snap.Account = &p
	}

	s.mu.Lock()
	snap.Meta, err = s.meta()
	s.mu.Unlock()
	if err != nil {
		return snap, err
	}
	if snap.SignedPreKeys, err = s.ListSignedPreKeys(); err != nil {
		return snap, err
	}

	publics, err := s.ListOneTimePreKeyPublics()
	if err != nil {
		return snap, err
	}
	for _, pub := range publics {
		var p domain.OneTimePreKeyPair
		s.mu.Lock()
		ok, err := s.get(opkKey(pub.ID), &p)
		s.mu.Unlock()
		if err != nil {
			return snap, err
		}
		if ok {
			snap.OneTimePreKeys = append(snap.OneTimePreKeys, p)
		}
	}

	peers, err := s.ListSessions()
	if err != nil {
		return snap, err
	}
	for _, peer := range peers {
		sess, ok, err := s.LoadSession(peer)
		if err != nil {
			return snap, err
		}
		if ok {
			snap.Sessions = append(snap.Sessions, sess)
		}
	}

	groups, err := s.ListGroups()
	if err != nil {
		return snap, err
	}
	for _, gid := range groups {
		g, ok, err := s.LoadGroup(gid)
		if err != nil {
			return snap, err
		}
		if ok {
			snap.Groups = append(snap.Groups, g)
		}
		keys, err := s.ListSenderKeys(gid)
		if err != nil {
			return snap, err
		}
		snap.SenderKeys = append(snap.SenderKeys, keys...)
	}
	return snap, nil
}

func (s *Store) restore(snap snapshot) error {
	if err := s.SaveIdentity(snap.Identity); err != nil {
		return err
	}
	if snap.Account != nil {
		if err := s.SaveAccountProfile(*snap.Account); err != nil {
			return err
		}
	}
	s.mu.Lock()
	err := s.put(prekeyMetaKey, snap.Meta)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	for _, p := range snap.SignedPreKeys {
		if err := s.SaveSignedPreKey(p); err != nil {
			return err
		}
	}
	if err := s.SaveOneTimePreKeys(snap.OneTimePreKeys); err != nil {
		return err
	}
	for _, sess := range snap.Sessions {
		if err := s.SaveSession(sess); err != nil {
			return err
		}
	}
	for _, g := range snap.Groups {
		if err := s.SaveGroup(g); err != nil {
			return err
		}
	}
	for _, k := range snap.SenderKeys {
		if err := s.SaveSenderKey(k); err != nil {
			return err
		}
	}
	jww.INFO.Printf("store: restored %d sessions, %d groups", len(snap.Sessions), len(snap.Groups))
	return nil
}
