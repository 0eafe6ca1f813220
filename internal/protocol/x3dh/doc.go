// Package x3dh runs the extended triple Diffie-Hellman handshake that seeds
// a Double Ratchet session.
//
// The initiator fetches the responder's bundle from the directory, checks
// the signed prekey against the bundle's Ed25519 identity key and mixes
//
//	DH(IKa, SPKb) || DH(EKa, IKb) || DH(EKa, SPKb) [|| DH(EKa, OPKb)]
//
// behind 32 bytes of 0xFF into HKDF-SHA256 (zero salt, info
// "cipherkit-x3dh"). Initiate returns the root key, the associated data
// IKa || IKb, the signed prekey to use as the first peer ratchet key and
// the PreKeyMessage that rides on every envelope until the peer replies.
//
// Respond recomputes the same root from that PreKeyMessage. The caller
// looks up the signed prekey and consumes the one-time prekey before
// calling it, so the one-time key is gone even if the first message later
// fails to authenticate.
//
// DH outputs of all zeros are rejected. A bad bundle signature yields
// domain.ErrBundleSignatureInvalid.
package x3dh
