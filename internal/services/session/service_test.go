package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cipherkit/internal/directory"
	"cipherkit/internal/domain"
	"cipherkit/internal/services/prekey"
	"cipherkit/internal/services/session"
	"cipherkit/internal/store"
)

type party struct {
	addr domain.Address
	st   *store.Store
	sess *session.Service
}

func newParty(t *testing.T, dir domain.Directory, user string, cfg session.Config) *party {
	t.Helper()
	addr := domain.Address{User: domain.Username(user), Device: 1}
	st := store.NewMemory()
	pcfg := prekey.DefaultConfig()
	pcfg.OneTimePreKeys = 10
	pre := prekey.New(addr, st, st, dir, pcfg)
	_, err := pre.Generate(context.Background())
	require.NoError(t, err)
	return &party{addr: addr, st: st, sess: session.New(addr, st, st, pre, dir, cfg)}
}

func pair(t *testing.T) (*party, *party, *directory.Memory) {
	dir := directory.NewMemory()
	return newParty(t, dir, "alice", session.DefaultConfig()),
		newParty(t, dir, "bob", session.DefaultConfig()), dir
}

func send(t *testing.T, from, to *party, msg string) domain.Envelope {
	t.Helper()
	env, err := from.sess.Encrypt(context.Background(), to.addr, []byte(msg))
	require.NoError(t, err)
	return env
}

func recv(t *testing.T, p *party, env domain.Envelope) string {
	t.Helper()
	pt, err := p.sess.Decrypt(context.Background(), env)
	require.NoError(t, err)
	return string(pt)
}

func TestHandshakeAndReply(t *testing.T) {
	alice, bob, _ := pair(t)

	first := send(t, alice, bob, "hello")
	require.NotNil(t, first.Header.PreKey)
	require.NotNil(t, first.Header.PreKey.OneTimePreKeyID)
	require.Equal(t, "hello", recv(t, bob, first))

	again := send(t, alice, bob, "still waiting")
	require.NotNil(t, again.Header.PreKey, "prekey message repeats until the peer replies")
	require.Equal(t, "still waiting", recv(t, bob, again))

	reply := send(t, bob, alice, "hi")
	require.Nil(t, reply.Header.PreKey)
	require.Equal(t, "hi", recv(t, alice, reply))

	s, ok, err := alice.sess.GetSession(bob.addr)
	require.NoError(t, err)
	require.True(t, ok)
	require.Nil(t, s.PendingPreKey)
	require.Equal(t, domain.SessionRatcheting, s.Phase)

	after := send(t, alice, bob, "ratcheting")
	require.Nil(t, after.Header.PreKey)
	require.Equal(t, "ratcheting", recv(t, bob, after))

	as, _, _ := alice.sess.GetSession(bob.addr)
	bs, _, _ := bob.sess.GetSession(alice.addr)
	require.Equal(t, as.AssociatedData, bs.AssociatedData)
	require.Equal(t, as.BaseKey, bs.BaseKey)
}

func TestFirstMessagesOutOfOrder(t *testing.T) {
	alice, bob, _ := pair(t)
	envs := []domain.Envelope{
		send(t, alice, bob, "m0"),
		send(t, alice, bob, "m1"),
		send(t, alice, bob, "m2"),
	}
	require.Equal(t, "m2", recv(t, bob, envs[2]))
	require.Equal(t, "m0", recv(t, bob, envs[0]))
	require.Equal(t, "m1", recv(t, bob, envs[1]))

	_, err := bob.sess.Decrypt(context.Background(), envs[1])
	require.ErrorIs(t, err, domain.ErrMessageTooOld)
}

func TestOneTimePreKeyCannotBeReused(t *testing.T) {
	alice, bob, _ := pair(t)
	first := send(t, alice, bob, "hello")
	require.Equal(t, "hello", recv(t, bob, first))

	require.NoError(t, bob.sess.Reset(alice.addr))
	_, err := bob.sess.Decrypt(context.Background(), first)
	require.ErrorIs(t, err, domain.ErrPreKeyAlreadyConsumed)
}

func TestCorruptedFirstMessageKeepsOneTimePreKey(t *testing.T) {
	alice, bob, _ := pair(t)
	first := send(t, alice, bob, "hello")
	before, err := bob.st.CountOneTimePreKeys()
	require.NoError(t, err)

	bad := first
	bad.Ciphertext = append([]byte(nil), first.Ciphertext...)
	bad.Ciphertext[0] ^= 1
	_, err = bob.sess.Decrypt(context.Background(), bad)
	require.ErrorIs(t, err, domain.ErrRatchetDecryptFailure)

	after, err := bob.st.CountOneTimePreKeys()
	require.NoError(t, err)
	require.Equal(t, before, after)
	_, ok, err := bob.sess.GetSession(alice.addr)
	require.NoError(t, err)
	require.False(t, ok)

	require.Equal(t, "hello", recv(t, bob, first))
	require.Equal(t, "again", recv(t, bob, send(t, alice, bob, "again")))
	left, err := bob.st.CountOneTimePreKeys()
	require.NoError(t, err)
	require.Equal(t, before-1, left)
}

func TestResetRemovesSession(t *testing.T) {
	alice, bob, _ := pair(t)
	require.Equal(t, "hello", recv(t, bob, send(t, alice, bob, "hello")))
	require.NoError(t, bob.sess.Reset(alice.addr))
	require.NoError(t, bob.sess.Reset(alice.addr))

	ok, err := bob.sess.HasSession(alice.addr)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, alice.sess.Reset(bob.addr))
	require.Equal(t, "fresh", recv(t, bob, send(t, alice, bob, "fresh")))
}

func TestMessageTypeIsAuthenticated(t *testing.T) {
	alice, bob, _ := pair(t)
	env := send(t, alice, bob, "hello")
	env.Type = domain.EnvelopeSenderKey
	_, err := bob.sess.Decrypt(context.Background(), env)
	require.ErrorIs(t, err, domain.ErrRatchetDecryptFailure)
}

func TestDecryptWithoutSession(t *testing.T) {
	alice, bob, _ := pair(t)
	_, err := bob.sess.Decrypt(context.Background(), domain.Envelope{From: alice.addr, To: bob.addr})
	require.ErrorIs(t, err, domain.ErrNoSession)
}

type slowDirectory struct{ *directory.Memory }

func (slowDirectory) FetchBundle(ctx context.Context, _ domain.Address) (domain.PreKeyBundle, error) {
	<-ctx.Done()
	return domain.PreKeyBundle{}, ctx.Err()
}

func TestHandshakeTimeout(t *testing.T) {
	dir := slowDirectory{directory.NewMemory()}
	cfg := session.DefaultConfig()
	cfg.HandshakeTimeout = 20 * time.Millisecond
	alice := newParty(t, dir, "alice", cfg)

	_, err := alice.sess.InitSession(context.Background(), domain.Address{User: "bob", Device: 1})
	require.ErrorIs(t, err, domain.ErrHandshakeTimeout)
	ok, err := alice.sess.HasSession(domain.Address{User: "bob", Device: 1})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCancelledHandshakeLeavesNoSession(t *testing.T) {
	alice, bob, _ := pair(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := alice.sess.Encrypt(ctx, bob.addr, []byte("x"))
	require.ErrorIs(t, err, context.Canceled)
	ok, err := alice.sess.HasSession(bob.addr)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUnknownPeer(t *testing.T) {
	alice, _, _ := pair(t)
	_, err := alice.sess.InitSession(context.Background(), domain.Address{User: "nobody", Device: 1})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAutoResetAfterRepeatedFailures(t *testing.T) {
	alice, bob, _ := pair(t)
	require.Equal(t, "hello", recv(t, bob, send(t, alice, bob, "hello")))
	require.Equal(t, "hi", recv(t, alice, send(t, bob, alice, "hi")))

	bad := send(t, alice, bob, "tampered")
	bad.Ciphertext[0] ^= 0xFF
	for i := 1; i <= 5; i++ {
		_, err := bob.sess.Decrypt(context.Background(), bad)
		require.ErrorIs(t, err, domain.ErrRatchetDecryptFailure)
		s, ok, err := bob.sess.GetSession(alice.addr)
		require.NoError(t, err)
		if i < 5 {
			require.True(t, ok)
			require.Equal(t, i, s.DecryptFailures)
		} else {
			require.False(t, ok, "session reset after too many failures")
		}
	}
}

func TestFailureCounterClearsOnSuccess(t *testing.T) {
	alice, bob, _ := pair(t)
	require.Equal(t, "hello", recv(t, bob, send(t, alice, bob, "hello")))

	good := send(t, alice, bob, "good")
	bad := good
	bad.Ciphertext = append([]byte(nil), good.Ciphertext...)
	bad.Ciphertext[0] ^= 0xFF
	_, err := bob.sess.Decrypt(context.Background(), bad)
	require.ErrorIs(t, err, domain.ErrRatchetDecryptFailure)
	require.Equal(t, "good", recv(t, bob, good))

	s, _, err := bob.sess.GetSession(alice.addr)
	require.NoError(t, err)
	require.Zero(t, s.DecryptFailures)
}

func TestPeerReinstallReplacesSession(t *testing.T) {
	dir := directory.NewMemory()
	alice := newParty(t, dir, "alice", session.DefaultConfig())
	bob := newParty(t, dir, "bob", session.DefaultConfig())
	require.Equal(t, "v1", recv(t, bob, send(t, alice, bob, "v1")))
	old, _, _ := bob.sess.GetSession(alice.addr)

	// Same address, fresh device state and identity.
	alice2 := newParty(t, dir, "alice", session.DefaultConfig())
	require.Equal(t, "v2", recv(t, bob, send(t, alice2, bob, "v2")))

	cur, ok, err := bob.sess.GetSession(alice.addr)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEqual(t, old.PeerIdentity, cur.PeerIdentity)
	require.Equal(t, "back", recv(t, alice2, send(t, bob, alice2, "back")))
}

func TestForgedHandshakeDoesNotReplaceSession(t *testing.T) {
	alice, bob, _ := pair(t)
	require.Equal(t, "hello", recv(t, bob, send(t, alice, bob, "hello")))
	before, _, _ := bob.sess.GetSession(alice.addr)

	forged := send(t, alice, bob, "x")
	forged.Header.PreKey.EphemeralKey[0] ^= 1
	_, err := bob.sess.Decrypt(context.Background(), forged)
	require.Error(t, err)

	after, _, _ := bob.sess.GetSession(alice.addr)
	require.Equal(t, before.BaseKey, after.BaseKey)
}

func TestSimultaneousInitiation(t *testing.T) {
	alice, bob, _ := pair(t)
	fromAlice := send(t, alice, bob, "a1")
	fromBob := send(t, bob, alice, "b1")

	require.Equal(t, "b1", recv(t, alice, fromBob))
	require.Equal(t, "a1", recv(t, bob, fromAlice))

	// Both sides converge on one session and keep talking.
	for i := 0; i < 2; i++ {
		require.Equal(t, "a", recv(t, bob, send(t, alice, bob, "a")))
		require.Equal(t, "b", recv(t, alice, send(t, bob, alice, "b")))
	}
	as, _, _ := alice.sess.GetSession(bob.addr)
	bs, _, _ := bob.sess.GetSession(alice.addr)
	require.Equal(t, as.BaseKey, bs.BaseKey)
}

func TestConcurrentEncrypt(t *testing.T) {
	alice, bob, _ := pair(t)
	const n = 20
	envs := make([]domain.Envelope, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			envs[i], errs[i] = alice.sess.Encrypt(context.Background(), bob.addr, []byte{byte(i)})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	seen := make(map[uint32]bool, n)
	for _, env := range envs {
		require.False(t, seen[env.Header.MessageIndex], "counter reused")
		seen[env.Header.MessageIndex] = true
		_, err := bob.sess.Decrypt(context.Background(), env)
		require.NoError(t, err)
	}
}
