package message_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"cipherkit/internal/directory"
	"cipherkit/internal/domain"
	"cipherkit/internal/protocol/senderkey"
	"cipherkit/internal/services/group"
	"cipherkit/internal/services/message"
	"cipherkit/internal/services/prekey"
	"cipherkit/internal/services/session"
	"cipherkit/internal/store"
)

type device struct {
	addr   domain.Address
	st     *store.Store
	groups *group.Service
	msg    *message.Service
}

func newDevice(t *testing.T, dir *directory.Memory, user string) *device {
	t.Helper()
	addr := domain.Address{User: domain.Username(user), Device: 1}
	st := store.NewMemory()
	cfg := prekey.DefaultConfig()
	cfg.OneTimePreKeys = 4
	cfg.ReplenishThreshold = 3
	pre := prekey.New(addr, st, st, dir, cfg)
	_, err := pre.Generate(context.Background())
	require.NoError(t, err)
	sess := session.New(addr, st, st, pre, dir, session.DefaultConfig())
	groups := group.New(addr, st, sess, senderkey.DefaultLimits)
	return &device{
		addr:   addr,
		st:     st,
		groups: groups,
		msg:    message.New(addr, sess, groups, dir, pre),
	}
}

func texts(msgs []domain.DecryptedMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = string(m.Plaintext)
	}
	return out
}

func TestDirectConversation(t *testing.T) {
	dir := directory.NewMemory()
	alice, bob := newDevice(t, dir, "alice"), newDevice(t, dir, "bob")
	ctx := context.Background()

	_, err := alice.msg.Send(ctx, bob.addr, []byte("hello"))
	require.NoError(t, err)
	_, err = alice.msg.Send(ctx, bob.addr, []byte("are you there"))
	require.NoError(t, err)

	got, err := bob.msg.Receive(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"hello", "are you there"}, texts(got))
	require.Equal(t, alice.addr, got[0].From)

	left, err := dir.FetchEnvelopes(ctx, bob.addr, 0)
	require.NoError(t, err)
	require.Empty(t, left, "processed envelopes are acked")

	_, err = bob.msg.Send(ctx, alice.addr, []byte("yes"))
	require.NoError(t, err)
	got, err = alice.msg.Receive(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"yes"}, texts(got))
}

func TestReceiveReplenishesPreKeys(t *testing.T) {
	dir := directory.NewMemory()
	bob := newDevice(t, dir, "bob")
	ctx := context.Background()
	for _, name := range []string{"alice", "carol"} {
		d := newDevice(t, dir, name)
		_, err := d.msg.Send(ctx, bob.addr, []byte("hi from "+name))
		require.NoError(t, err)
	}
	_, err := bob.msg.Receive(ctx, 0)
	require.NoError(t, err)

	n, err := bob.st.CountOneTimePreKeys()
	require.NoError(t, err)
	require.Equal(t, 4, n)
}

func TestBadEnvelopeIsDropped(t *testing.T) {
	dir := directory.NewMemory()
	alice, bob := newDevice(t, dir, "alice"), newDevice(t, dir, "bob")
	ctx := context.Background()

	env, err := alice.msg.Send(ctx, bob.addr, []byte("hello"))
	require.NoError(t, err)
	forged := env
	forged.ID = "forged"
	forged.Ciphertext = []byte("garbage")
	forged.Header.PreKey = nil
	require.NoError(t, dir.SendEnvelope(ctx, forged))

	got, err := bob.msg.Receive(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"hello"}, texts(got))
	left, err := dir.FetchEnvelopes(ctx, bob.addr, 0)
	require.NoError(t, err)
	require.Empty(t, left)
}

func TestGroupConversation(t *testing.T) {
	dir := directory.NewMemory()
	alice, bob, carol := newDevice(t, dir, "alice"), newDevice(t, dir, "bob"), newDevice(t, dir, "carol")
	ctx := context.Background()
	const gid = domain.GroupID("team")

	_, err := alice.groups.CreateGroup(gid, []domain.Address{bob.addr, carol.addr})
	require.NoError(t, err)

	_, err = alice.msg.SendGroup(ctx, gid, []byte("welcome"))
	require.NoError(t, err)
	missing, err := alice.groups.MissingMembers(gid)
	require.NoError(t, err)
	require.Empty(t, missing)
	pending, err := alice.msg.PendingKeyDeliveries(ctx, gid)
	require.NoError(t, err)
	require.Equal(t, []domain.Address{bob.addr, carol.addr}, pending)

	// The sender key sits in the direct mailbox; ReceiveGroup drains it.
	for _, d := range []*device{bob, carol} {
		got, err := d.msg.ReceiveGroup(ctx, 0)
		require.NoError(t, err)
		require.Equal(t, []string{"welcome"}, texts(got))
		require.Equal(t, gid, got[0].Group)
		require.Equal(t, alice.addr, got[0].From)
	}
	pending, err = alice.msg.PendingKeyDeliveries(ctx, gid)
	require.NoError(t, err)
	require.Empty(t, pending)

	// Bob answers; his key goes out first.
	_, err = bob.msg.SendGroup(ctx, gid, []byte("thanks"))
	require.NoError(t, err)
	_, err = alice.msg.Receive(ctx, 0)
	require.NoError(t, err)
	got, err := alice.msg.ReceiveGroup(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"thanks"}, texts(got))
	got, err = carol.msg.ReceiveGroup(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"thanks"}, texts(got))
}

func TestGroupRemovalAndRetry(t *testing.T) {
	dir := directory.NewMemory()
	alice, bob, carol := newDevice(t, dir, "alice"), newDevice(t, dir, "bob"), newDevice(t, dir, "carol")
	ctx := context.Background()
	const gid = domain.GroupID("team")

	_, err := alice.groups.CreateGroup(gid, []domain.Address{bob.addr, carol.addr})
	require.NoError(t, err)
	_, err = alice.msg.SendGroup(ctx, gid, []byte("v1"))
	require.NoError(t, err)
	for _, d := range []*device{bob, carol} {
		_, err := d.msg.ReceiveGroup(ctx, 0)
		require.NoError(t, err)
	}

	_, err = alice.groups.RemoveMember(gid, carol.addr)
	require.NoError(t, err)
	_, err = alice.msg.SendGroup(ctx, gid, []byte("v2"))
	require.NoError(t, err)

	got, err := bob.msg.ReceiveGroup(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"v2"}, texts(got))

	got, err = carol.msg.ReceiveGroup(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, got, "removed member receives nothing")
}

func TestUndecryptableGroupEnvelopeStaysQueued(t *testing.T) {
	dir := directory.NewMemory()
	alice, bob := newDevice(t, dir, "alice"), newDevice(t, dir, "bob")
	ctx := context.Background()
	const gid = domain.GroupID("team")

	_, err := alice.groups.CreateGroup(gid, []domain.Address{bob.addr})
	require.NoError(t, err)
	_, err = alice.groups.EnsureSenderKey(gid)
	require.NoError(t, err)
	env, err := alice.groups.EncryptGroup(gid, []byte("early"))
	require.NoError(t, err)
	require.NoError(t, dir.SendGroupEnvelope(ctx, env, []domain.Address{bob.addr}))

	got, err := bob.msg.ReceiveGroup(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, got)
	left, err := dir.FetchGroupEnvelopes(ctx, bob.addr, 0)
	require.NoError(t, err)
	require.Len(t, left, 1, "missing key is recoverable, so the envelope is kept")
}

func TestIsRecoverable(t *testing.T) {
	require.True(t, message.IsRecoverable(errors.Wrap(domain.ErrGroupKeyMissing, "x")))
	require.True(t, message.IsRecoverable(domain.ErrMissingMemberKey))
	require.True(t, message.IsRecoverable(domain.ErrHandshakeTimeout))
	require.False(t, message.IsRecoverable(domain.ErrRatchetDecryptFailure))
	require.False(t, message.IsRecoverable(domain.ErrMessageTooOld))
	require.False(t, message.IsRecoverable(domain.ErrBundleSignatureInvalid))
	require.False(t, message.IsRecoverable(nil))
}
