package crypto

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

// NonceSize is the ChaCha20-Poly1305 nonce length.
const NonceSize = chacha20poly1305.NonceSize

// ErrDecrypt is returned when authentication fails.
var ErrDecrypt = errors.New("aead: message authentication failed")

// CounterNonce encodes n big-endian into the last four bytes of a zero nonce.
// Each message key is used once, so the counter nonce never repeats per key.
func CounterNonce(n uint32) []byte {
	nonce := make([]byte, NonceSize)
	binary.BigEndian.PutUint32(nonce[NonceSize-4:], n)
	return nonce
}

// Seal encrypts plaintext under key with the given nonce and associated data.
func Seal(key, nonce, plaintext, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, errors.Wrap(err, "aead key")
	}
	if len(nonce) != NonceSize {
		return nil, errors.Errorf("aead nonce: want %d bytes, got %d", NonceSize, len(nonce))
	}
	return aead.Seal(nil, nonce, plaintext, ad), nil
}

// Open decrypts ciphertext. Any failure, including a malformed nonce,
// yields ErrDecrypt.
func Open(key, nonce, ciphertext, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, errors.Wrap(err, "aead key")
	}
	if len(nonce) != NonceSize {
		return nil, ErrDecrypt
	}
	pt, err := aead.Open(nil, nonce, ciphertext, ad)
	if err != nil {
		return nil, ErrDecrypt
	}
	return pt, nil
}
