package store_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"cipherkit/internal/domain"
	"cipherkit/internal/store"
)

var bob = domain.Address{User: "bob", Device: 2}

func TestIdentity_SaveLoad(t *testing.T) {
	s := store.NewMemory()

	_, ok, err := s.LoadIdentity()
	require.NoError(t, err)
	require.False(t, ok)

	id := domain.Identity{
		XPub:   domain.X25519Public{1},
		XPriv:  domain.X25519Private{2},
		EdPub:  domain.Ed25519Public{3},
		EdPriv: domain.Ed25519Private{4},
	}
	require.NoError(t, s.SaveIdentity(id))

	got, ok, err := s.LoadIdentity()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, id, got)
}

func TestFilestore_PersistsAcrossOpen(t *testing.T) {
	dir := t.TempDir()
	s, err := store.Open(dir, "correct horse")
	require.NoError(t, err)
	require.NoError(t, s.SaveIdentity(domain.Identity{XPub: domain.X25519Public{9}}))

	s2, err := store.Open(dir, "correct horse")
	require.NoError(t, err)
	got, ok, err := s2.LoadIdentity()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.X25519Public{9}, got.XPub)
}

func TestPreKeys_AllocateConsume(t *testing.T) {
	s := store.NewMemory()

	first, err := s.AllocateOneTimePreKeyIDs(3)
	require.NoError(t, err)
	require.Equal(t, domain.OneTimePreKeyID(1), first)
	next, err := s.NextOneTimePreKeyID()
	require.NoError(t, err)
	require.Equal(t, domain.OneTimePreKeyID(4), next)

	pairs := []domain.OneTimePreKeyPair{
		{ID: 1, Pub: domain.X25519Public{1}},
		{ID: 2, Pub: domain.X25519Public{2}},
		{ID: 3, Pub: domain.X25519Public{3}},
	}
	require.NoError(t, s.SaveOneTimePreKeys(pairs))
	n, err := s.CountOneTimePreKeys()
	require.NoError(t, err)
	require.Equal(t, 3, n)

	p, ok, err := s.LoadOneTimePreKey(2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, pairs[1], p)
	n, err = s.CountOneTimePreKeys()
	require.NoError(t, err)
	require.Equal(t, 3, n, "loading leaves the key in the pool")

	p, ok, err = s.ConsumeOneTimePreKey(2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, pairs[1], p)

	_, ok, err = s.LoadOneTimePreKey(2)
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = s.ConsumeOneTimePreKey(2)
	require.NoError(t, err)
	require.False(t, ok)

	pubs, err := s.ListOneTimePreKeyPublics()
	require.NoError(t, err)
	require.Len(t, pubs, 2)
	require.Equal(t, domain.OneTimePreKeyID(1), pubs[0].ID)
	require.Equal(t, domain.OneTimePreKeyID(3), pubs[1].ID)
}

func TestSignedPreKeys(t *testing.T) {
	s := store.NewMemory()
	_, ok, err := s.CurrentSignedPreKeyID()
	require.NoError(t, err)
	require.False(t, ok)

	for i := 0; i < 2; i++ {
		id, err := s.AllocateSignedPreKeyID()
		require.NoError(t, err)
		require.Equal(t, domain.SignedPreKeyID(i+1), id)
		require.NoError(t, s.SaveSignedPreKey(domain.SignedPreKeyPair{ID: id, Signature: []byte{byte(i)}}))
		require.NoError(t, s.SetCurrentSignedPreKeyID(id))
	}
	cur, ok, err := s.CurrentSignedPreKeyID()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.SignedPreKeyID(2), cur)

	require.NoError(t, s.DeleteSignedPreKey(1))
	all, err := s.ListSignedPreKeys()
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, domain.SignedPreKeyID(2), all[0].ID)
}

func TestSessions(t *testing.T) {
	s := store.NewMemory()
	sess := domain.Session{Peer: bob, AssociatedData: []byte("ad"), Phase: domain.SessionEstablished}
	require.NoError(t, s.SaveSession(sess))

	got, ok, err := s.LoadSession(bob)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, sess.AssociatedData, got.AssociatedData)

	peers, err := s.ListSessions()
	require.NoError(t, err)
	require.Equal(t, []domain.Address{bob}, peers)

	require.NoError(t, s.DeleteSession(bob))
	_, ok, err = s.LoadSession(bob)
	require.NoError(t, err)
	require.False(t, ok)
	// Deleting twice is fine.
	require.NoError(t, s.DeleteSession(bob))
}

func TestGroupsAndSenderKeys(t *testing.T) {
	s := store.NewMemory()
	g := domain.Group{ID: "g", Epoch: 2, Members: []domain.Address{bob}}
	require.NoError(t, s.SaveGroup(g))
	ids, err := s.ListGroups()
	require.NoError(t, err)
	require.Equal(t, []domain.GroupID{"g"}, ids)

	st := domain.SenderKeyState{GroupID: "g", Sender: bob, Epoch: 2, ChainKey: []byte{1}}
	require.NoError(t, s.SaveSenderKey(st))
	got, ok, err := s.LoadSenderKey("g", bob)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(2), got.Epoch)

	keys, err := s.ListSenderKeys("g")
	require.NoError(t, err)
	require.Len(t, keys, 1)

	require.NoError(t, s.DeleteSenderKey("g", bob))
	keys, err = s.ListSenderKeys("g")
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestBackup_RoundTrip(t *testing.T) {
	src := store.NewMemory()
	id := domain.Identity{XPub: domain.X25519Public{7}, EdPub: domain.Ed25519Public{8}}
	require.NoError(t, src.SaveIdentity(id))
	require.NoError(t, src.SaveSession(domain.Session{Peer: bob}))
	require.NoError(t, src.SaveOneTimePreKeys([]domain.OneTimePreKeyPair{{ID: 5}}))
	_, err := src.AllocateOneTimePreKeyIDs(5)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "backup.json")
	require.NoError(t, src.ExportFile(path, "backup pass"))

	dst := store.NewMemory()
	require.ErrorIs(t, dst.ImportFile(path, "wrong"), store.ErrWrongPassphrase)
	require.NoError(t, dst.ImportFile(path, "backup pass"))

	got, ok, err := dst.LoadIdentity()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, id, got)
	_, ok, err = dst.LoadSession(bob)
	require.NoError(t, err)
	require.True(t, ok)
	next, err := dst.NextOneTimePreKeyID()
	require.NoError(t, err)
	require.Equal(t, domain.OneTimePreKeyID(6), next)
	n, err := dst.CountOneTimePreKeys()
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestBackup_NoIdentity(t *testing.T) {
	_, err := store.NewMemory().Export("pass")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
