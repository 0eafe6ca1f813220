// Package senderkey implements the symmetric sender-key chain used for group
// messages.
//
// Each member owns one chain per group epoch. The chain advances with the
// same KDF as the Double Ratchet's symmetric step, so a chain key at
// iteration i yields every message key from i onward but none before it.
// Every group envelope is signed by the sender's per-epoch Ed25519 key, which
// stops members who hold the chain key from forging messages as the sender.
package senderkey
