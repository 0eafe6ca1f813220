package crypto

import (
	"crypto/rand"
	"io"
	"sync"
)

var (
	randMu     sync.RWMutex
	randReader io.Reader = rand.Reader
)

// Random fills b from the package random source.
func Random(b []byte) error {
	randMu.RLock()
	r := randReader
	randMu.RUnlock()
	_, err := io.ReadFull(r, b)
	return err
}

// Reader returns the package random source.
func Reader() io.Reader {
	randMu.RLock()
	defer randMu.RUnlock()
	return randReader
}

// UseDeterministicRandom swaps the random source for r and returns a func
// that restores crypto/rand. Tests only.
func UseDeterministicRandom(r io.Reader) (restore func()) {
	randMu.Lock()
	prev := randReader
	randReader = r
	randMu.Unlock()
	return func() {
		randMu.Lock()
		randReader = prev
		randMu.Unlock()
	}
}
