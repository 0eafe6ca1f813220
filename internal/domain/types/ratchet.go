package types

import "encoding/binary"

// RatchetHeader is sent alongside every ciphertext.
type RatchetHeader struct {
	RatchetPublicKey    X25519Public   `json:"ratchet_pub"`
	PreviousChainLength uint32         `json:"pn"`
	MessageIndex        uint32         `json:"n"`
	PreKey              *PreKeyMessage `json:"x3dh_init,omitempty"`
}

// Bytes is the authenticated encoding of the header: ratchet key, PN and N
// big-endian. The X3DH init block is covered separately by the session AD.
func (h RatchetHeader) Bytes() []byte {
	out := make([]byte, 0, 40)
	out = append(out, h.RatchetPublicKey[:]...)
	out = binary.BigEndian.AppendUint32(out, h.PreviousChainLength)
	return binary.BigEndian.AppendUint32(out, h.MessageIndex)
}

// SkippedKey is a message key derived ahead of time for a message that has
// not yet arrived.
type SkippedKey struct {
	RatchetPublicKey X25519Public `json:"ratchet_pub"`
	MessageIndex     uint32       `json:"n"`
	MessageKey       []byte       `json:"mk"`
}

// RatchetState contains all fields the Double Ratchet needs to track.
// SkippedKeys is kept in insertion order; the head is evicted first.
type RatchetState struct {
	RootKey                 []byte        `json:"root_key"`
	DiffieHellmanPrivate    X25519Private `json:"dh_priv"`
	DiffieHellmanPublic     X25519Public  `json:"dh_pub"`
	PeerDiffieHellmanPublic X25519Public  `json:"peer_dh_pub"`
	SendChainKey            []byte        `json:"send_ck,omitempty"`
	ReceiveChainKey         []byte        `json:"recv_ck,omitempty"`
	SendMessageIndex        uint32        `json:"ns"`
	ReceiveMessageIndex     uint32        `json:"nr"`
	PreviousChainLength     uint32        `json:"pn"`
	SkippedKeys             []SkippedKey  `json:"skipped_keys,omitempty"`

	// RetiredPeerKeys lists recent peer ratchet keys whose chains are
	// closed, newest last.
	RetiredPeerKeys []X25519Public `json:"retired_peer_keys,omitempty"`
}

// Clone returns a deep copy so a decrypt attempt can run on scratch state.
func (s RatchetState) Clone() RatchetState {
	c := s
	c.RootKey = append([]byte(nil), s.RootKey...)
	c.SendChainKey = cloneBytes(s.SendChainKey)
	c.ReceiveChainKey = cloneBytes(s.ReceiveChainKey)
	if s.SkippedKeys != nil {
		c.SkippedKeys = make([]SkippedKey, len(s.SkippedKeys))
		for i, k := range s.SkippedKeys {
			k.MessageKey = cloneBytes(k.MessageKey)
			c.SkippedKeys[i] = k
		}
	}
	c.RetiredPeerKeys = append([]X25519Public(nil), s.RetiredPeerKeys...)
	return c
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
