package identity_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"cipherkit/internal/domain"
	"cipherkit/internal/services/identity"
	"cipherkit/internal/store"
)

func TestGenerateIdentity(t *testing.T) {
	svc := identity.New(store.NewMemory())

	_, err := svc.LoadIdentity()
	require.ErrorIs(t, err, domain.ErrNotFound)

	id, fp, err := svc.GenerateIdentity()
	require.NoError(t, err)
	require.Len(t, fp.String(), 20)

	loaded, err := svc.LoadIdentity()
	require.NoError(t, err)
	require.Equal(t, id, loaded)

	got, err := svc.FingerprintIdentity()
	require.NoError(t, err)
	require.Equal(t, fp, got)

	_, _, err = svc.GenerateIdentity()
	require.ErrorIs(t, err, identity.ErrIdentityExists)
}

func TestCheckPassphrase(t *testing.T) {
	cases := map[string]bool{
		"short1!A":            false,
		"alllowercase123!":    false,
		"NoDigitsHere!!!!":    false,
		"NoSymbols12345678":   false,
		"Correct-Horse-42-ok": true,
	}
	for pass, ok := range cases {
		err := identity.CheckPassphrase(pass)
		if ok {
			require.NoError(t, err, pass)
		} else {
			require.ErrorIs(t, err, identity.ErrWeakPassphrase, pass)
		}
	}
}
