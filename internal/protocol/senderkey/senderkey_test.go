package senderkey_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"cipherkit/internal/domain"
	"cipherkit/internal/protocol/senderkey"
)

var (
	alice = domain.Address{User: "alice", Device: 1}
	bob   = domain.Address{User: "bob", Device: 1}
)

func newPair(t *testing.T) (own, remote domain.SenderKeyState) {
	t.Helper()
	own, err := senderkey.NewState("g1", alice, 3)
	require.NoError(t, err)
	remote, err = senderkey.FromDistribution(alice, senderkey.Distribution(own, []domain.Address{alice, bob}))
	require.NoError(t, err)
	return own, remote
}

func TestSenderKey_RoundTrip(t *testing.T) {
	own, remote := newPair(t)
	for _, msg := range []string{"one", "two", "three"} {
		env, err := senderkey.Encrypt(&own, []byte(msg))
		require.NoError(t, err)
		pt, err := senderkey.Decrypt(&remote, env)
		require.NoError(t, err)
		require.Equal(t, msg, string(pt))
	}
	require.Equal(t, own.Iteration, remote.Iteration)
}

func TestSenderKey_OutOfOrderAndTooOld(t *testing.T) {
	own, remote := newPair(t)
	envs := make([]domain.GroupEnvelope, 4)
	for i := range envs {
		var err error
		envs[i], err = senderkey.Encrypt(&own, []byte{byte(i)})
		require.NoError(t, err)
	}

	pt, err := senderkey.Decrypt(&remote, envs[2])
	require.NoError(t, err)
	require.Equal(t, []byte{2}, pt)

	pt, err = senderkey.Decrypt(&remote, envs[0])
	require.NoError(t, err)
	require.Equal(t, []byte{0}, pt)

	_, err = senderkey.Decrypt(&remote, envs[0])
	require.ErrorIs(t, err, domain.ErrMessageTooOld)
	_, err = senderkey.Decrypt(&remote, envs[2])
	require.ErrorIs(t, err, domain.ErrMessageTooOld)
}

func TestSenderKey_LateJoinerCannotReadEarlier(t *testing.T) {
	own, err := senderkey.NewState("g1", alice, 0)
	require.NoError(t, err)
	early, err := senderkey.Encrypt(&own, []byte("before"))
	require.NoError(t, err)

	remote, err := senderkey.FromDistribution(alice, senderkey.Distribution(own, nil))
	require.NoError(t, err)
	_, err = senderkey.Decrypt(&remote, early)
	require.ErrorIs(t, err, domain.ErrMessageTooOld)
}

func TestSenderKey_EpochMismatch(t *testing.T) {
	own, remote := newPair(t)
	env, err := senderkey.Encrypt(&own, []byte("x"))
	require.NoError(t, err)
	env.Epoch++
	_, err = senderkey.Decrypt(&remote, env)
	require.ErrorIs(t, err, domain.ErrMissingMemberKey)
}

func TestSenderKey_TamperAndForgery(t *testing.T) {
	own, remote := newPair(t)
	env, err := senderkey.Encrypt(&own, []byte("x"))
	require.NoError(t, err)

	bad := env
	bad.Ciphertext = append([]byte(nil), env.Ciphertext...)
	bad.Ciphertext[0] ^= 1
	_, err = senderkey.Decrypt(&remote, bad)
	require.ErrorIs(t, err, domain.ErrRatchetDecryptFailure)
	require.Equal(t, uint32(0), remote.Iteration)

	// A member holding the chain key but not the signing key cannot forge.
	forger := remote.Clone()
	forged, err := senderkey.Encrypt(&forger, []byte("forged"))
	require.Error(t, err)
	require.Empty(t, forged.Ciphertext)

	pt, err := senderkey.Decrypt(&remote, env)
	require.NoError(t, err)
	require.Equal(t, "x", string(pt))
}

func TestSenderKey_JumpLimit(t *testing.T) {
	own, remote := newPair(t)
	l := senderkey.Limits{MaxSkip: 2, MaxJump: 3}
	var last domain.GroupEnvelope
	for i := 0; i < 5; i++ {
		var err error
		last, err = senderkey.Encrypt(&own, []byte("m"))
		require.NoError(t, err)
	}
	_, err := l.Decrypt(&remote, last)
	require.ErrorIs(t, err, domain.ErrTooManySkipped)
}
