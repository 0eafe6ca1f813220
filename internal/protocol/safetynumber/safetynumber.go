// Package safetynumber derives the human-comparable fingerprint two parties
// read to each other to detect a substituted identity key.
package safetynumber

import (
	"bytes"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/binary"
	"strings"
	"unicode"

	jww "github.com/spf13/jwalterweatherman"

	"cipherkit/internal/domain"
)

const (
	version    = 0
	iterations = 5200
	groups     = 12
	groupLen   = 5
)

// Compute returns 60 digits in 12 space-separated groups of 5. The result
// does not depend on argument order.
func Compute(a, b domain.IdentityPublic) string {
	ka, kb := a.Bytes(), b.Bytes()
	if bytes.Compare(ka, kb) > 0 {
		ka, kb = kb, ka
	}

	var v [2]byte
	binary.BigEndian.PutUint16(v[:], version)
	h := sha512.New()
	h.Write(v[:])
	h.Write(ka)
	h.Write(kb)
	digest := h.Sum(nil)
	for i := 1; i < iterations; i++ {
		h.Reset()
		h.Write(digest)
		h.Write(ka)
		h.Write(kb)
		digest = h.Sum(digest[:0])
	}

	var sb strings.Builder
	for g := 0; g < groups; g++ {
		chunk := digest[g*groupLen : (g+1)*groupLen]
		var n uint64
		for _, c := range chunk {
			n = n<<8 | uint64(c)
		}
		if g > 0 {
			sb.WriteByte(' ')
		}
		writeDigits(&sb, n%100000)
	}
	return sb.String()
}

// Verify compares two safety numbers in constant time, ignoring whitespace.
func Verify(expected, actual string) error {
	e, a := normalize(expected), normalize(actual)
	if len(e) != groups*groupLen || subtle.ConstantTimeCompare([]byte(e), []byte(a)) != 1 {
		jww.WARN.Printf("safety number mismatch")
		return domain.ErrSafetyNumberMismatch
	}
	return nil
}

func normalize(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func writeDigits(sb *strings.Builder, n uint64) {
	var buf [groupLen]byte
	for i := groupLen - 1; i >= 0; i-- {
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	sb.Write(buf[:])
}
