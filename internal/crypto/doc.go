// Package crypto wraps the primitives the protocol packages build on:
// X25519 and Ed25519 keys, HKDF-SHA256 with the ratchet KDFs, and
// ChaCha20-Poly1305 sealed under counter-derived nonces.
//
// Randomness goes through Reader, which tests replace with
// UseDeterministicRandom. Wipe zeroes secrets once they are no longer
// needed; Fingerprint renders public keys for logs and the CLI.
package crypto
