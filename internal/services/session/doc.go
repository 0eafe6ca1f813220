// Package session establishes and runs pairwise Double Ratchet sessions.
//
// The initiator fetches the peer's prekey bundle, runs X3DH and attaches the
// resulting PreKeyMessage to every envelope until the peer replies. The
// responder builds its side lazily from the first such envelope. After that
// both sides only turn the ratchet.
//
// Sessions are keyed by peer address and work on one peer is serialised.
// A run of failed decryptions resets the session so the next send starts a
// fresh handshake.
package session
