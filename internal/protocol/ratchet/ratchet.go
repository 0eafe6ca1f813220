package ratchet

import (
	"crypto/subtle"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"cipherkit/internal/crypto"
	"cipherkit/internal/domain"
)

const (
	// DefaultMaxSkip bounds the skipped message key cache.
	DefaultMaxSkip = 500
	// DefaultMaxJump bounds how far ahead a single header may point.
	DefaultMaxJump = 2000

	maxRetiredPeerKeys = 16
)

var errChainUninitialised = errors.New("ratchet chain key is uninitialised")

// Limits bounds the work and memory a peer can force on us.
type Limits struct {
	// MaxSkip is the skipped-key cache capacity; the oldest entry is
	// evicted first.
	MaxSkip int
	// MaxJump is the largest counter gap accepted in one step.
	MaxJump int
}

// DefaultLimits are the limits used when none are configured.
var DefaultLimits = Limits{MaxSkip: DefaultMaxSkip, MaxJump: DefaultMaxJump}

// InitAsInitiator seeds the sending chain from the X3DH root key. The
// responder's signed prekey acts as its first ratchet key.
func InitAsInitiator(root []byte, peerRatchet domain.X25519Public) (domain.RatchetState, error) {
	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return domain.RatchetState{}, err
	}
	dh, err := crypto.DH(priv, peerRatchet)
	if err != nil {
		return domain.RatchetState{}, errors.Wrap(err, "ratchet init")
	}
	rk, sendCK := crypto.KDFRoot(root, dh[:])
	crypto.Wipe(dh[:])

	return domain.RatchetState{
		RootKey:                 rk,
		DiffieHellmanPrivate:    priv,
		DiffieHellmanPublic:     pub,
		PeerDiffieHellmanPublic: peerRatchet,
		SendChainKey:            sendCK,
	}, nil
}

// InitAsResponder seeds state from the X3DH root key using the signed
// prekey as our first ratchet pair. The receiving chain is created by the
// DH ratchet step on the first incoming header.
func InitAsResponder(root []byte, spk domain.SignedPreKeyPair) domain.RatchetState {
	return domain.RatchetState{
		RootKey:              append([]byte(nil), root...),
		DiffieHellmanPrivate: spk.Priv,
		DiffieHellmanPublic:  spk.Pub,
	}
}

// Encrypt advances the sending chain and seals plaintext. The returned
// nonce is derived from the message counter.
func Encrypt(
	st *domain.RatchetState,
	ad, plaintext []byte,
) (header domain.RatchetHeader, nonce, ciphertext []byte, err error) {
	if len(st.SendChainKey) == 0 {
		return header, nil, nil, errChainUninitialised
	}
	nextCK, mk := crypto.KDFChain(st.SendChainKey)
	defer crypto.Wipe(mk)

	header = domain.RatchetHeader{
		RatchetPublicKey:    st.DiffieHellmanPublic,
		PreviousChainLength: st.PreviousChainLength,
		MessageIndex:        st.SendMessageIndex,
	}
	nonce = crypto.CounterNonce(header.MessageIndex)
	ciphertext, err = crypto.Seal(mk, nonce, plaintext, authData(ad, header))
	if err != nil {
		return domain.RatchetHeader{}, nil, nil, err
	}
	crypto.Wipe(st.SendChainKey)
	st.SendChainKey = nextCK
	st.SendMessageIndex++
	jww.TRACE.Printf("ratchet: sealed n=%d pn=%d", header.MessageIndex, header.PreviousChainLength)
	return header, nonce, ciphertext, nil
}

// Decrypt opens a message. It works on a copy of st and commits only when
// authentication succeeds, so a failed call leaves st untouched.
func (l Limits) Decrypt(
	st *domain.RatchetState,
	ad []byte,
	header domain.RatchetHeader,
	nonce, ciphertext []byte,
) ([]byte, error) {
	work := st.Clone()
	pt, err := l.decrypt(&work, ad, header, nonce, ciphertext)
	if err != nil {
		return nil, err
	}
	*st = work
	return pt, nil
}

// Decrypt opens a message using DefaultLimits.
func Decrypt(
	st *domain.RatchetState,
	ad []byte,
	header domain.RatchetHeader,
	nonce, ciphertext []byte,
) ([]byte, error) {
	return DefaultLimits.Decrypt(st, ad, header, nonce, ciphertext)
}

func (l Limits) decrypt(
	st *domain.RatchetState,
	ad []byte,
	header domain.RatchetHeader,
	nonce, ciphertext []byte,
) ([]byte, error) {
	if subtle.ConstantTimeCompare(nonce, crypto.CounterNonce(header.MessageIndex)) != 1 {
		return nil, domain.ErrRatchetDecryptFailure
	}

	if mk, ok := takeSkipped(st, header.RatchetPublicKey, header.MessageIndex); ok {
		jww.TRACE.Printf("ratchet: using skipped key n=%d", header.MessageIndex)
		return open(mk, nonce, ciphertext, ad, header)
	}

	if header.RatchetPublicKey != st.PeerDiffieHellmanPublic || len(st.ReceiveChainKey) == 0 {
		if isRetired(st, header.RatchetPublicKey) {
			return nil, domain.ErrMessageTooOld
		}
		if err := l.skip(st, header.PreviousChainLength); err != nil {
			return nil, err
		}
		if err := dhStep(st, header.RatchetPublicKey); err != nil {
			return nil, err
		}
	}

	if header.MessageIndex < st.ReceiveMessageIndex {
		return nil, domain.ErrMessageTooOld
	}
	if err := l.skip(st, header.MessageIndex); err != nil {
		return nil, err
	}
	nextCK, mk := crypto.KDFChain(st.ReceiveChainKey)
	crypto.Wipe(st.ReceiveChainKey)
	st.ReceiveChainKey = nextCK
	st.ReceiveMessageIndex++
	return open(mk, nonce, ciphertext, ad, header)
}

// dhStep turns the DH ratchet on a new peer ratchet key.
func dhStep(st *domain.RatchetState, peer domain.X25519Public) error {
	if !st.PeerDiffieHellmanPublic.IsZero() && len(st.ReceiveChainKey) > 0 {
		st.RetiredPeerKeys = append(st.RetiredPeerKeys, st.PeerDiffieHellmanPublic)
		if n := len(st.RetiredPeerKeys); n > maxRetiredPeerKeys {
			st.RetiredPeerKeys = st.RetiredPeerKeys[n-maxRetiredPeerKeys:]
		}
	}

	st.PreviousChainLength = st.SendMessageIndex
	st.SendMessageIndex, st.ReceiveMessageIndex = 0, 0
	st.PeerDiffieHellmanPublic = peer

	dh, err := crypto.DH(st.DiffieHellmanPrivate, peer)
	if err != nil {
		return domain.ErrRatchetDecryptFailure
	}
	rk, recvCK := crypto.KDFRoot(st.RootKey, dh[:])
	crypto.Wipe(dh[:])

	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return err
	}
	dh2, err := crypto.DH(priv, peer)
	if err != nil {
		return domain.ErrRatchetDecryptFailure
	}
	rk2, sendCK := crypto.KDFRoot(rk, dh2[:])
	crypto.Wipe(dh2[:], rk)

	crypto.Wipe(st.DiffieHellmanPrivate[:])
	st.RootKey = rk2
	st.DiffieHellmanPrivate, st.DiffieHellmanPublic = priv, pub
	st.ReceiveChainKey, st.SendChainKey = recvCK, sendCK
	jww.TRACE.Printf("ratchet: dh step, new peer key %s", crypto.Fingerprint(peer[:]))
	return nil
}

// skip derives and caches receiving message keys up to (excluding) until.
func (l Limits) skip(st *domain.RatchetState, until uint32) error {
	if len(st.ReceiveChainKey) == 0 || until <= st.ReceiveMessageIndex {
		return nil
	}
	if int(until-st.ReceiveMessageIndex) > l.MaxJump {
		return domain.ErrTooManySkipped
	}
	for st.ReceiveMessageIndex < until {
		nextCK, mk := crypto.KDFChain(st.ReceiveChainKey)
		crypto.Wipe(st.ReceiveChainKey)
		st.ReceiveChainKey = nextCK
		st.SkippedKeys = append(st.SkippedKeys, domain.SkippedKey{
			RatchetPublicKey: st.PeerDiffieHellmanPublic,
			MessageIndex:     st.ReceiveMessageIndex,
			MessageKey:       mk,
		})
		st.ReceiveMessageIndex++
	}
	if over := len(st.SkippedKeys) - l.MaxSkip; over > 0 {
		for i := 0; i < over; i++ {
			crypto.Wipe(st.SkippedKeys[i].MessageKey)
		}
		st.SkippedKeys = append([]domain.SkippedKey(nil), st.SkippedKeys[over:]...)
	}
	return nil
}

func takeSkipped(st *domain.RatchetState, pub domain.X25519Public, n uint32) ([]byte, bool) {
	for i, k := range st.SkippedKeys {
		if k.RatchetPublicKey == pub && k.MessageIndex == n {
			st.SkippedKeys = append(st.SkippedKeys[:i:i], st.SkippedKeys[i+1:]...)
			return k.MessageKey, true
		}
	}
	return nil, false
}

func isRetired(st *domain.RatchetState, pub domain.X25519Public) bool {
	for _, k := range st.RetiredPeerKeys {
		if k == pub {
			return true
		}
	}
	return false
}

func open(mk, nonce, ciphertext, ad []byte, header domain.RatchetHeader) ([]byte, error) {
	defer crypto.Wipe(mk)
	pt, err := crypto.Open(mk, nonce, ciphertext, authData(ad, header))
	if err != nil {
		return nil, domain.ErrRatchetDecryptFailure
	}
	return pt, nil
}

func authData(ad []byte, header domain.RatchetHeader) []byte {
	out := make([]byte, 0, len(ad)+40)
	out = append(out, ad...)
	return append(out, header.Bytes()...)
}
