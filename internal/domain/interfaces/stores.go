package interfaces

import domaintypes "cipherkit/internal/domain/types"

// IdentityStore persists your long-term identity keys.
type IdentityStore interface {
	SaveIdentity(id domaintypes.Identity) error
	LoadIdentity() (domaintypes.Identity, bool, error)
}

// PreKeyStore manages signed and one-time pre-keys.
type PreKeyStore interface {
	// Signed pre-keys
	SaveSignedPreKey(pair domaintypes.SignedPreKeyPair) error
	LoadSignedPreKey(
		id domaintypes.SignedPreKeyID,
	) (domaintypes.SignedPreKeyPair, bool, error)
	ListSignedPreKeys() ([]domaintypes.SignedPreKeyPair, error)
	DeleteSignedPreKey(id domaintypes.SignedPreKeyID) error
	SetCurrentSignedPreKeyID(id domaintypes.SignedPreKeyID) error
	CurrentSignedPreKeyID() (domaintypes.SignedPreKeyID, bool, error)
	AllocateSignedPreKeyID() (domaintypes.SignedPreKeyID, error)

	// One-time pre-keys
	AllocateOneTimePreKeyIDs(n int) (first domaintypes.OneTimePreKeyID, err error)
	NextOneTimePreKeyID() (domaintypes.OneTimePreKeyID, error)
	SaveOneTimePreKeys(pairs []domaintypes.OneTimePreKeyPair) error
	LoadOneTimePreKey(
		id domaintypes.OneTimePreKeyID,
	) (domaintypes.OneTimePreKeyPair, bool, error)
	ConsumeOneTimePreKey(
		id domaintypes.OneTimePreKeyID,
	) (domaintypes.OneTimePreKeyPair, bool, error)
	ListOneTimePreKeyPublics() ([]domaintypes.OneTimePreKeyPublic, error)
	CountOneTimePreKeys() (int, error)
}

// SessionStore persists pairwise sessions, one per peer address.
type SessionStore interface {
	SaveSession(session domaintypes.Session) error
	LoadSession(peer domaintypes.Address) (domaintypes.Session, bool, error)
	DeleteSession(peer domaintypes.Address) error
	ListSessions() ([]domaintypes.Address, error)
}

// GroupStore persists group metadata and sender-key chains.
type GroupStore interface {
	SaveGroup(group domaintypes.Group) error
	LoadGroup(id domaintypes.GroupID) (domaintypes.Group, bool, error)
	ListGroups() ([]domaintypes.GroupID, error)

	SaveSenderKey(state domaintypes.SenderKeyState) error
	LoadSenderKey(
		group domaintypes.GroupID,
		sender domaintypes.Address,
	) (domaintypes.SenderKeyState, bool, error)
	ListSenderKeys(group domaintypes.GroupID) ([]domaintypes.SenderKeyState, error)
	DeleteSenderKey(group domaintypes.GroupID, sender domaintypes.Address) error
}
