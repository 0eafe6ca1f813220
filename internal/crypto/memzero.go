package crypto

import (
	"crypto/subtle"
	"runtime"

	"cipherkit/internal/domain"
)

// Wipe zeroes the provided buffers. This is best-effort: Go may have copied
// the data elsewhere.
func Wipe(bufs ...[]byte) {
	for _, b := range bufs {
		if len(b) == 0 {
			continue
		}
		subtle.ConstantTimeCopy(1, b, make([]byte, len(b)))
		runtime.KeepAlive(b)
	}
}

// WipeRatchetState zeroes the secret parts of st: the root and chain keys,
// the ratchet private key and any stored skipped message keys.
func WipeRatchetState(st *domain.RatchetState) {
	Wipe(st.RootKey, st.SendChainKey, st.ReceiveChainKey, st.DiffieHellmanPrivate[:])
	for i := range st.SkippedKeys {
		Wipe(st.SkippedKeys[i].MessageKey)
	}
}
