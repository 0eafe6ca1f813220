package safetynumber_test

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"cipherkit/internal/crypto"
	"cipherkit/internal/domain"
	"cipherkit/internal/protocol/safetynumber"
)

func identity(t *testing.T) domain.IdentityPublic {
	t.Helper()
	_, x, err := crypto.GenerateX25519()
	require.NoError(t, err)
	_, ed, err := crypto.GenerateEd25519()
	require.NoError(t, err)
	return domain.IdentityPublic{DH: x, Signing: ed}
}

func TestCompute_Symmetric(t *testing.T) {
	a, b := identity(t), identity(t)
	require.Equal(t, safetynumber.Compute(a, b), safetynumber.Compute(b, a))
}

func TestCompute_Format(t *testing.T) {
	sn := safetynumber.Compute(identity(t), identity(t))
	require.Regexp(t, regexp.MustCompile(`^(\d{5} ){11}\d{5}$`), sn)
}

func TestCompute_DiffersPerPair(t *testing.T) {
	a, b, c := identity(t), identity(t), identity(t)
	require.NotEqual(t, safetynumber.Compute(a, b), safetynumber.Compute(a, c))
}

func TestVerify(t *testing.T) {
	a, b, c := identity(t), identity(t), identity(t)
	sn := safetynumber.Compute(a, b)

	require.NoError(t, safetynumber.Verify(sn, safetynumber.Compute(b, a)))
	require.NoError(t, safetynumber.Verify(strings.ReplaceAll(sn, " ", ""), sn))
	require.ErrorIs(t, safetynumber.Verify(sn, safetynumber.Compute(a, c)), domain.ErrSafetyNumberMismatch)
	require.ErrorIs(t, safetynumber.Verify("", ""), domain.ErrSafetyNumberMismatch)
}
