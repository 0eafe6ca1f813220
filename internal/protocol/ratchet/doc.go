// Package ratchet implements the Double Ratchet algorithm following Signal's design.
//
// The algorithm maintains a root key and two message chains (send and receive).
// Each message advances a KDF chain so that keys are forward secure. When a party
// changes its DH ratchet public key, both sides derive new chain keys from a new
// root derived via DH.
//
// Message keys for skipped counters are cached up to Limits.MaxSkip entries and
// evicted oldest-first. A counter behind the chain that is not cached fails with
// domain.ErrMessageTooOld; a gap larger than Limits.MaxJump fails with
// domain.ErrTooManySkipped; an authentication failure returns
// domain.ErrRatchetDecryptFailure and leaves the state unchanged.
//
// Concurrency: RatchetState is NOT safe for concurrent use. Callers must
// serialise access per conversation.
package ratchet
