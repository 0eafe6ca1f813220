package crypto

import (
	"crypto/subtle"

	"github.com/pkg/errors"
	"golang.org/x/crypto/curve25519"

	"cipherkit/internal/domain"
)

// ErrLowOrderPoint is returned when a DH output is all zeros.
var ErrLowOrderPoint = errors.New("x25519: low-order public key")

// GenerateX25519 returns a fresh Curve25519 key pair.
// The private key is clamped per RFC 7748.
func GenerateX25519() (priv domain.X25519Private, pub domain.X25519Public, err error) {
	if err = Random(priv[:]); err != nil {
		return priv, pub, errors.Wrap(err, "x25519 keygen")
	}
	clamp(&priv)
	pub, err = PublicX25519(priv)
	return
}

// PublicX25519 derives the public key for priv.
func PublicX25519(priv domain.X25519Private) (pub domain.X25519Public, err error) {
	pb, err := curve25519.X25519(priv.Slice(), curve25519.Basepoint)
	if err != nil {
		return pub, err
	}
	copy(pub[:], pb)
	return pub, nil
}

// DH computes X25519 Diffie–Hellman. An all-zero shared secret is rejected.
func DH(priv domain.X25519Private, pub domain.X25519Public) (out [32]byte, err error) {
	secret, err := curve25519.X25519(priv.Slice(), pub.Slice())
	if err != nil {
		return out, ErrLowOrderPoint
	}
	copy(out[:], secret)
	Wipe(secret)
	var zero [32]byte
	if subtle.ConstantTimeCompare(out[:], zero[:]) == 1 {
		return out, ErrLowOrderPoint
	}
	return out, nil
}

func clamp(k *domain.X25519Private) {
	kb := k[:]
	kb[0] &= 248
	kb[31] &= 127
	kb[31] |= 64
}
