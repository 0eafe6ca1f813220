package types

// SignedPreKeyPair is a medium-term X25519 pair whose public half is signed
// by the identity signing key.
type SignedPreKeyPair struct {
	ID         SignedPreKeyID `json:"id"`
	Priv       X25519Private  `json:"priv"`
	Pub        X25519Public   `json:"pub"`
	Signature  []byte         `json:"signature"`
	CreatedUTC int64          `json:"created_utc"`
}

// Public returns the bundle form of the pair.
func (p SignedPreKeyPair) Public() SignedPreKeyPublic {
	return SignedPreKeyPublic{ID: p.ID, Pub: p.Pub, Signature: p.Signature}
}

// SignedPreKeyPublic is the signed prekey as published.
type SignedPreKeyPublic struct {
	ID        SignedPreKeyID `json:"key_id"`
	Pub       X25519Public   `json:"public_key"`
	Signature []byte         `json:"signature"`
}

// OneTimePreKeyPair is the full (private+public) one-time pre-key stored locally.
type OneTimePreKeyPair struct {
	ID   OneTimePreKeyID `json:"id"`
	Priv X25519Private   `json:"priv"`
	Pub  X25519Public    `json:"pub"`
}

// OneTimePreKeyPublic is only the public half (sent in bundles).
type OneTimePreKeyPublic struct {
	ID  OneTimePreKeyID `json:"key_id"`
	Pub X25519Public    `json:"public_key"`
}

// PreKeyBundle is the set of public keys a device publishes to the
// directory. A fetched bundle carries at most one one-time prekey.
type PreKeyBundle struct {
	Address        Address               `json:"address"`
	IdentityKey    X25519Public          `json:"identity_key"`
	SigningKey     Ed25519Public         `json:"signing_key"`
	SignedPreKey   SignedPreKeyPublic    `json:"signed_pre_key"`
	OneTimePreKeys []OneTimePreKeyPublic `json:"pre_keys,omitempty"`
}

// Identity returns the bundle owner's public identity.
func (b PreKeyBundle) Identity() IdentityPublic {
	return IdentityPublic{DH: b.IdentityKey, Signing: b.SigningKey}
}

// PreKeyMessage carries the X3DH handshake parameters in the initiator's
// envelopes until the responder has replied.
type PreKeyMessage struct {
	IdentityKey     X25519Public     `json:"identity_key"`
	SigningKey      Ed25519Public    `json:"signing_key"`
	EphemeralKey    X25519Public     `json:"ephemeral_key"`
	SignedPreKeyID  SignedPreKeyID   `json:"signed_prekey_id"`
	OneTimePreKeyID *OneTimePreKeyID `json:"one_time_prekey_id,omitempty"`
}

// Initiator returns the public identity announced by the message.
func (m PreKeyMessage) Initiator() IdentityPublic {
	return IdentityPublic{DH: m.IdentityKey, Signing: m.SigningKey}
}
