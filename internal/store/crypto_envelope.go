package store

import (
	"encoding/json"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"

	"cipherkit/internal/crypto"
)

const (
	// The current supported version of the encrypted backup format.
	backupFormatVersion = 1
)

var (
	// ErrWrongPassphrase is returned when the passphrase is incorrect or the
	// ciphertext has been modified.
	ErrWrongPassphrase = errors.New("wrong passphrase or corrupted backup")
)

// blob is the JSON structure holding the ciphertext and KDF parameters.
type blob struct {
	V      int    `json:"v"`
	Salt   []byte `json:"salt"`
	N      int    `json:"scrypt_N"`
	R      int    `json:"scrypt_r"`
	P      int    `json:"scrypt_p"`
	Nonce  []byte `json:"nonce"`
	Cipher []byte `json:"cipher"`
}

// seal derives a key from passphrase and seals raw into a JSON blob.
func seal(passphrase string, raw []byte, params scryptParams) ([]byte, error) {
	salt := make([]byte, 16)
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if err := crypto.Random(salt); err != nil {
		return nil, err
	}
	if err := crypto.Random(nonce); err != nil {
		return nil, err
	}
	key, err := scrypt.Key([]byte(passphrase), salt, params.N, params.R, params.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, errors.Wrap(err, "derive backup key")
	}
	defer crypto.Wipe(key)

	ct, err := crypto.Seal(key, nonce, raw, salt)
	if err != nil {
		return nil, err
	}
	return json.Marshal(blob{
		V:      backupFormatVersion,
		Salt:   salt,
		N:      params.N,
		R:      params.R,
		P:      params.P,
		Nonce:  nonce,
		Cipher: ct,
	})
}

// unseal opens the JSON blob using a key derived from passphrase.
func unseal(passphrase string, b []byte) ([]byte, error) {
	var bl blob
	if err := json.Unmarshal(b, &bl); err != nil {
		return nil, errors.Wrap(err, "parse backup")
	}
	if bl.V != backupFormatVersion {
		return nil, errors.Errorf("unsupported backup version %d", bl.V)
	}
	key, err := scrypt.Key([]byte(passphrase), bl.Salt, bl.N, bl.R, bl.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, errors.Wrap(err, "derive backup key")
	}
	defer crypto.Wipe(key)

	pt, err := crypto.Open(key, bl.Nonce, bl.Cipher, bl.Salt)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return pt, nil
}

type scryptParams struct{ N, R, P int }

// Tunables for scrypt key derivation.
var defaultScrypt = scryptParams{N: 1 << 15, R: 8, P: 1}
