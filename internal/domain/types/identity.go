package types

// Identity holds your long-term X25519 and Ed25519 keys.
type Identity struct {
	XPub   X25519Public   `json:"xpub"`
	XPriv  X25519Private  `json:"xpriv"`
	EdPub  Ed25519Public  `json:"edpub"`
	EdPriv Ed25519Private `json:"edpriv"`
}

// Public returns the shareable half of the identity.
func (id Identity) Public() IdentityPublic {
	return IdentityPublic{DH: id.XPub, Signing: id.EdPub}
}

// IdentityPublic is the public identity of a device: the X25519 key used in
// X3DH and the Ed25519 key that signs prekeys.
type IdentityPublic struct {
	DH      X25519Public  `json:"dh"`
	Signing Ed25519Public `json:"signing"`
}

// Bytes returns Signing||DH, the canonical encoding used for safety numbers
// and session associated data.
func (p IdentityPublic) Bytes() []byte {
	out := make([]byte, 0, 64)
	out = append(out, p.Signing[:]...)
	return append(out, p.DH[:]...)
}

// IsZero reports whether neither key is set.
func (p IdentityPublic) IsZero() bool { return p.DH.IsZero() && p.Signing.IsZero() }
