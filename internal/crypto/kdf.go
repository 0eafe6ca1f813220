package crypto

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the length of root, chain and message keys.
const KeySize = 32

var (
	infoRoot  = []byte("cipherkit|ratchet|root")
	infoChain = []byte("cipherkit|ratchet|chain")
)

// HKDF derives n bytes from ikm with HKDF-SHA256.
func HKDF(ikm, salt, info []byte, n int) []byte {
	r := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, n)
	// hkdf only fails past 255*HashLen bytes.
	_, _ = io.ReadFull(r, out)
	return out
}

// KDFRoot mixes a DH output into the root key and returns the next root key
// and a fresh chain key.
func KDFRoot(rk, dh []byte) (newRK, ck []byte) {
	okm := HKDF(dh, rk, infoRoot, 2*KeySize)
	return okm[:KeySize], okm[KeySize:]
}

// KDFChain advances a symmetric chain: it returns the next chain key and the
// message key for the current step.
func KDFChain(ck []byte) (nextCK, mk []byte) {
	okm := HKDF(ck, nil, infoChain, 2*KeySize)
	return okm[:KeySize], okm[KeySize:]
}
