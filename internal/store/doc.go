// Package store provides encrypted persistence for a device's protocol state.
//
// Store implements every domain storage interface on top of an ekv
// KeyValue: a Filestore on disk (values encrypted under the passphrase) or a
// Memstore in tests. Each value is wrapped in a versioned record. Because
// ekv cannot enumerate keys, key families with many members (sessions,
// groups, prekeys) keep an index entry alongside.
//
// The package also writes encrypted backups (Export, Import) using a
// scrypt-derived key and ChaCha20-Poly1305, with atomic file replacement.
//
// All methods are safe for concurrent use.
package store
