package group_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"cipherkit/internal/directory"
	"cipherkit/internal/domain"
	"cipherkit/internal/protocol/senderkey"
	"cipherkit/internal/services/group"
	"cipherkit/internal/services/prekey"
	"cipherkit/internal/services/session"
	"cipherkit/internal/store"
)

type member struct {
	addr  domain.Address
	group *group.Service
}

func newMember(t *testing.T, dir domain.Directory, user string) *member {
	t.Helper()
	addr := domain.Address{User: domain.Username(user), Device: 1}
	st := store.NewMemory()
	cfg := prekey.DefaultConfig()
	cfg.OneTimePreKeys = 5
	pre := prekey.New(addr, st, st, dir, cfg)
	_, err := pre.Generate(context.Background())
	require.NoError(t, err)
	sess := session.New(addr, st, st, pre, dir, session.DefaultConfig())
	return &member{addr: addr, group: group.New(addr, st, sess, senderkey.DefaultLimits)}
}

func trio(t *testing.T) (a, b, c *member) {
	dir := directory.NewMemory()
	return newMember(t, dir, "alice"), newMember(t, dir, "bob"), newMember(t, dir, "carol")
}

// deliver hands each distribution envelope to its recipient.
func deliver(t *testing.T, envs []domain.Envelope, to ...*member) {
	t.Helper()
	for _, env := range envs {
		for _, m := range to {
			if env.To == m.addr {
				_, err := m.group.ProcessDistribution(context.Background(), env)
				require.NoError(t, err)
			}
		}
	}
}

const gid = domain.GroupID("friends")

func TestCreateGroup(t *testing.T) {
	a, b, c := trio(t)
	_, err := a.group.CreateGroup(gid, nil)
	require.Error(t, err)

	g, err := a.group.CreateGroup(gid, []domain.Address{c.addr, b.addr, b.addr})
	require.NoError(t, err)
	require.Equal(t, []domain.Address{a.addr, b.addr, c.addr}, g.Members)
	require.Equal(t, uint32(1), g.Epoch)

	_, err = a.group.CreateGroup(gid, []domain.Address{b.addr})
	require.Error(t, err)

	missing, err := a.group.MissingMembers(gid)
	require.NoError(t, err)
	require.Equal(t, []domain.Address{b.addr, c.addr}, missing)
}

func TestFanOut(t *testing.T) {
	a, b, c := trio(t)
	ctx := context.Background()
	_, err := a.group.CreateGroup(gid, []domain.Address{b.addr, c.addr})
	require.NoError(t, err)

	_, err = a.group.EncryptGroup(gid, []byte("too early"))
	require.ErrorIs(t, err, domain.ErrGroupKeyMissing)

	envs, err := a.group.DistributeGroupKey(ctx, gid, nil)
	require.NoError(t, err)
	require.Len(t, envs, 2)
	for _, env := range envs {
		require.Equal(t, domain.EnvelopeSenderKey, env.Type)
	}
	deliver(t, envs, b, c)

	gb, ok, err := b.group.GetGroup(gid)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []domain.Address{a.addr, b.addr, c.addr}, gb.Members)

	m1, err := a.group.EncryptGroup(gid, []byte("one"))
	require.NoError(t, err)
	m2, err := a.group.EncryptGroup(gid, []byte("two"))
	require.NoError(t, err)

	for _, r := range []*member{b, c} {
		pt, err := r.group.DecryptGroup(gid, a.addr, m2)
		require.NoError(t, err)
		require.Equal(t, "two", string(pt))
		pt, err = r.group.DecryptGroup(gid, a.addr, m1)
		require.NoError(t, err)
		require.Equal(t, "one", string(pt))

		_, err = r.group.DecryptGroup(gid, a.addr, m1)
		require.ErrorIs(t, err, domain.ErrMessageTooOld)
	}
}

func TestLateDuplicateDistributionKeepsChain(t *testing.T) {
	a, b, _ := trio(t)
	ctx := context.Background()
	_, err := a.group.CreateGroup(gid, []domain.Address{b.addr})
	require.NoError(t, err)
	first, err := a.group.DistributeGroupKey(ctx, gid, nil)
	require.NoError(t, err)
	again, err := a.group.DistributeGroupKey(ctx, gid, nil)
	require.NoError(t, err)
	deliver(t, first, b)

	m0, err := a.group.EncryptGroup(gid, []byte("m0"))
	require.NoError(t, err)
	m1, err := a.group.EncryptGroup(gid, []byte("m1"))
	require.NoError(t, err)
	for _, env := range []domain.GroupEnvelope{m0, m1} {
		_, err := b.group.DecryptGroup(gid, a.addr, env)
		require.NoError(t, err)
	}

	deliver(t, again, b)
	_, err = b.group.DecryptGroup(gid, a.addr, m0)
	require.ErrorIs(t, err, domain.ErrMessageTooOld)

	m2, err := a.group.EncryptGroup(gid, []byte("m2"))
	require.NoError(t, err)
	pt, err := b.group.DecryptGroup(gid, a.addr, m2)
	require.NoError(t, err)
	require.Equal(t, "m2", string(pt))
}

func TestTamperedGroupEnvelope(t *testing.T) {
	a, b, c := trio(t)
	ctx := context.Background()
	_, err := a.group.CreateGroup(gid, []domain.Address{b.addr, c.addr})
	require.NoError(t, err)
	envs, err := a.group.DistributeGroupKey(ctx, gid, nil)
	require.NoError(t, err)
	deliver(t, envs, b)

	env, err := a.group.EncryptGroup(gid, []byte("signed"))
	require.NoError(t, err)
	bad := env
	bad.Ciphertext = append([]byte(nil), env.Ciphertext...)
	bad.Ciphertext[0] ^= 1
	_, err = b.group.DecryptGroup(gid, a.addr, bad)
	require.ErrorIs(t, err, domain.ErrRatchetDecryptFailure)

	pt, err := b.group.DecryptGroup(gid, a.addr, env)
	require.NoError(t, err)
	require.Equal(t, "signed", string(pt))
}

func TestDecryptWithoutSenderKey(t *testing.T) {
	a, b, c := trio(t)
	_, err := a.group.CreateGroup(gid, []domain.Address{b.addr, c.addr})
	require.NoError(t, err)
	_, err = a.group.EnsureSenderKey(gid)
	require.NoError(t, err)
	env, err := a.group.EncryptGroup(gid, []byte("x"))
	require.NoError(t, err)

	_, err = b.group.DecryptGroup(gid, a.addr, env)
	require.ErrorIs(t, err, domain.ErrMissingMemberKey)
}

func TestRemovalRotatesSenderKeys(t *testing.T) {
	a, b, c := trio(t)
	ctx := context.Background()
	_, err := a.group.CreateGroup(gid, []domain.Address{b.addr, c.addr})
	require.NoError(t, err)
	envs, err := a.group.DistributeGroupKey(ctx, gid, nil)
	require.NoError(t, err)
	deliver(t, envs, b, c)

	// Carol also shares her key with Bob.
	_, err = c.group.EnsureSenderKey(gid)
	require.NoError(t, err)
	cenvs, err := c.group.DistributeGroupKey(ctx, gid, []domain.Address{b.addr})
	require.NoError(t, err)
	deliver(t, cenvs, b)

	g, err := a.group.RemoveMember(gid, c.addr)
	require.NoError(t, err)
	require.Equal(t, uint32(2), g.Epoch)
	require.Equal(t, []domain.Address{a.addr, b.addr}, g.Members)

	_, err = a.group.EncryptGroup(gid, []byte("after"))
	require.ErrorIs(t, err, domain.ErrGroupKeyMissing, "old chain is gone")

	envs, err = a.group.DistributeGroupKey(ctx, gid, nil)
	require.NoError(t, err)
	require.Len(t, envs, 1)
	deliver(t, envs, b)

	gb, _, err := b.group.GetGroup(gid)
	require.NoError(t, err)
	require.Equal(t, uint32(2), gb.Epoch)
	require.Equal(t, []domain.Address{a.addr, b.addr}, gb.Members)

	secret, err := a.group.EncryptGroup(gid, []byte("carol cannot read this"))
	require.NoError(t, err)
	require.Equal(t, uint32(2), secret.Epoch)

	pt, err := b.group.DecryptGroup(gid, a.addr, secret)
	require.NoError(t, err)
	require.Equal(t, "carol cannot read this", string(pt))

	_, err = c.group.DecryptGroup(gid, a.addr, secret)
	require.ErrorIs(t, err, domain.ErrMissingMemberKey)

	// Bob forgot Carol's chain and no longer accepts her messages.
	fromCarol, err := c.group.EncryptGroup(gid, []byte("still here?"))
	require.NoError(t, err)
	_, err = b.group.DecryptGroup(gid, c.addr, fromCarol)
	require.ErrorIs(t, err, domain.ErrNotMember)
}

func TestAddMemberStartsNewEpoch(t *testing.T) {
	a, b, c := trio(t)
	_, err := a.group.CreateGroup(gid, []domain.Address{b.addr})
	require.NoError(t, err)
	first, err := a.group.EnsureSenderKey(gid)
	require.NoError(t, err)

	same, err := a.group.AddMember(gid, b.addr)
	require.NoError(t, err)
	require.Equal(t, uint32(1), same.Epoch, "no-op change keeps the epoch")

	g, err := a.group.AddMember(gid, c.addr)
	require.NoError(t, err)
	require.Equal(t, uint32(2), g.Epoch)

	second, err := a.group.EnsureSenderKey(gid)
	require.NoError(t, err)
	require.NotEqual(t, first.DistributionID, second.DistributionID)
	require.Equal(t, uint32(2), second.Epoch)
}

func TestAcknowledge(t *testing.T) {
	a, b, c := trio(t)
	_, err := a.group.CreateGroup(gid, []domain.Address{b.addr, c.addr})
	require.NoError(t, err)
	require.NoError(t, a.group.Acknowledge(gid, b.addr, 1))
	require.NoError(t, a.group.Acknowledge(gid, c.addr, 7), "wrong epoch is ignored")

	missing, err := a.group.MissingMembers(gid)
	require.NoError(t, err)
	require.Equal(t, []domain.Address{c.addr}, missing)

	_, err = a.group.SetMembers(gid, []domain.Address{b.addr, c.addr, {User: "dave", Device: 1}})
	require.NoError(t, err)
	missing, err = a.group.MissingMembers(gid)
	require.NoError(t, err)
	require.Len(t, missing, 3, "a new epoch needs a fresh distribution to everyone")
}

func TestDistributionForNonMember(t *testing.T) {
	a, b, c := trio(t)
	ctx := context.Background()
	_, err := a.group.CreateGroup(gid, []domain.Address{b.addr})
	require.NoError(t, err)
	envs, err := a.group.DistributeGroupKey(ctx, gid, nil)
	require.NoError(t, err)
	require.Len(t, envs, 1)

	_, err = a.group.DistributeGroupKey(ctx, gid, []domain.Address{c.addr})
	require.Error(t, err)
}
