package app_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"cipherkit/internal/app"
	"cipherkit/internal/config"
	"cipherkit/internal/directory"
	"cipherkit/internal/domain"
	"cipherkit/internal/services/identity"
	"cipherkit/internal/store"
)

func engine() config.Engine {
	e := config.DefaultEngine()
	e.OneTimePreKeys = 5
	e.ReplenishThreshold = 2
	return e
}

func device(t *testing.T, dir domain.Directory, user string) *app.App {
	t.Helper()
	cfg := app.Config{Self: domain.Address{User: domain.Username(user), Device: 1}, Engine: engine()}
	w, err := app.Assemble(cfg, store.NewMemory(), dir)
	require.NoError(t, err)
	a := app.New(w)
	_, err = a.Init(context.Background())
	require.NoError(t, err)
	return a
}

func TestInitTwice(t *testing.T) {
	a := device(t, directory.NewMemory(), "alice")
	_, err := a.Init(context.Background())
	require.ErrorIs(t, err, identity.ErrIdentityExists)
}

func TestAddressFromProfile(t *testing.T) {
	st := store.NewMemory()
	w, err := app.Assemble(app.Config{Self: domain.Address{User: "alice", Device: 3}, Engine: engine()}, st, nil)
	require.NoError(t, err)
	_, err = app.New(w).Init(context.Background())
	require.NoError(t, err)

	again, err := app.Assemble(app.Config{Engine: engine()}, st, nil)
	require.NoError(t, err)
	require.Equal(t, domain.Address{User: "alice", Device: 3}, again.Self)
}

func TestOffline(t *testing.T) {
	w, err := app.Assemble(app.Config{Self: domain.Address{User: "alice", Device: 1}, Engine: engine()}, store.NewMemory(), nil)
	require.NoError(t, err)
	a := app.New(w)
	_, err = a.Init(context.Background())
	require.NoError(t, err)

	_, err = a.Send(context.Background(), domain.Address{User: "bob", Device: 1}, []byte("hi"))
	require.ErrorIs(t, err, app.ErrOffline)
	_, err = a.Register(context.Background())
	require.ErrorIs(t, err, app.ErrOffline)
}

func TestNoAddress(t *testing.T) {
	w, err := app.Assemble(app.Config{Engine: engine()}, store.NewMemory(), directory.NewMemory())
	require.NoError(t, err)
	_, err = app.New(w).Init(context.Background())
	require.ErrorIs(t, err, app.ErrNoAddress)
}

func TestInvalidEngine(t *testing.T) {
	e := engine()
	e.MaxForwardJump = 0
	_, err := app.Assemble(app.Config{Engine: e}, store.NewMemory(), nil)
	require.Error(t, err)
}

func TestSafetyNumbers(t *testing.T) {
	dir := directory.NewMemory()
	alice, bob := device(t, dir, "alice"), device(t, dir, "bob")
	ctx := context.Background()

	_, err := alice.SafetyNumber(bob.Self)
	require.ErrorIs(t, err, domain.ErrNoSession)

	_, err = alice.Send(ctx, bob.Self, []byte("hello"))
	require.NoError(t, err)
	got, err := bob.Receive(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)

	an, err := alice.SafetyNumber(bob.Self)
	require.NoError(t, err)
	bn, err := bob.SafetyNumber(alice.Self)
	require.NoError(t, err)
	require.Equal(t, an, bn)
	require.NoError(t, alice.Verify(bob.Self, bn))
	require.ErrorIs(t, alice.Verify(bob.Self, "00000 00000 00000 00000 00000 00000 00000 00000 00000 00000 00000 00000"),
		domain.ErrSafetyNumberMismatch)
}

func TestGroupRoundTrip(t *testing.T) {
	dir := directory.NewMemory()
	alice, bob := device(t, dir, "alice"), device(t, dir, "bob")
	ctx := context.Background()
	const gid = domain.GroupID("pair")

	_, err := alice.Groups.CreateGroup(gid, []domain.Address{bob.Self})
	require.NoError(t, err)
	_, err = alice.SendGroup(ctx, gid, []byte("hi group"))
	require.NoError(t, err)

	got, err := bob.Receive(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "hi group", string(got[0].Plaintext))
	require.Equal(t, gid, got[0].Group)

	pending, err := alice.PendingKeyDeliveries(ctx, gid)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestRotate(t *testing.T) {
	a := device(t, directory.NewMemory(), "alice")
	ctx := context.Background()
	rotated, err := a.Rotate(ctx, false)
	require.NoError(t, err)
	require.False(t, rotated)
	rotated, err = a.Rotate(ctx, true)
	require.NoError(t, err)
	require.True(t, rotated)
	require.NoError(t, a.Maintain(ctx))
}

func TestFromSettings(t *testing.T) {
	cfg, err := app.FromSettings(config.Config{Home: "/tmp/x", Address: "bob.2", Engine: engine()})
	require.NoError(t, err)
	require.Equal(t, domain.Address{User: "bob", Device: 2}, cfg.Self)
	require.Equal(t, "/tmp/x", cfg.Home)

	cfg, err = app.FromSettings(config.Config{})
	require.NoError(t, err)
	require.True(t, cfg.Self.IsZero())

	_, err = app.FromSettings(config.Config{Address: "bob.x"})
	require.Error(t, err)
}
