package interfaces

import (
	"context"
	"time"

	domaintypes "cipherkit/internal/domain/types"
)

// IdentityService creates, retrieves, and inspects your identity keys.
type IdentityService interface {
	GenerateIdentity() (domaintypes.Identity, domaintypes.Fingerprint, error)
	LoadIdentity() (domaintypes.Identity, error)
	FingerprintIdentity() (domaintypes.Fingerprint, error)
}

// PreKeyService owns the signed prekey schedule and the one-time prekey pool.
type PreKeyService interface {
	Generate(ctx context.Context) (domaintypes.PreKeyBundle, error)
	Publish(ctx context.Context) (domaintypes.PreKeyBundle, error)
	CurrentBundle() (domaintypes.PreKeyBundle, error)
	RotateSignedPreKey(ctx context.Context) (domaintypes.SignedPreKeyID, error)
	RotateIfDue(ctx context.Context, now time.Time) (bool, error)
	PruneSignedPreKeys(now time.Time) (int, error)
	LoadSignedPreKey(id domaintypes.SignedPreKeyID) (domaintypes.SignedPreKeyPair, error)
	LoadOneTimePreKey(id domaintypes.OneTimePreKeyID) (domaintypes.OneTimePreKeyPair, error)
	TakeOneTimePreKey(id domaintypes.OneTimePreKeyID) (domaintypes.OneTimePreKeyPair, error)
	Replenish(ctx context.Context, count int) (int, error)
	ReplenishIfLow(ctx context.Context) (int, error)
}

// SessionService runs X3DH and the Double Ratchet per peer device.
type SessionService interface {
	InitSession(ctx context.Context, peer domaintypes.Address) (domaintypes.Session, error)
	Encrypt(
		ctx context.Context,
		peer domaintypes.Address,
		plaintext []byte,
	) (domaintypes.Envelope, error)
	EncryptAs(
		ctx context.Context,
		peer domaintypes.Address,
		typ domaintypes.EnvelopeType,
		plaintext []byte,
	) (domaintypes.Envelope, error)
	Decrypt(ctx context.Context, env domaintypes.Envelope) ([]byte, error)
	Reset(peer domaintypes.Address) error
	HasSession(peer domaintypes.Address) (bool, error)
	GetSession(peer domaintypes.Address) (domaintypes.Session, bool, error)
}

// GroupService manages membership and sender keys for group messaging.
type GroupService interface {
	CreateGroup(
		id domaintypes.GroupID,
		members []domaintypes.Address,
	) (domaintypes.Group, error)
	AddMember(id domaintypes.GroupID, member domaintypes.Address) (domaintypes.Group, error)
	RemoveMember(id domaintypes.GroupID, member domaintypes.Address) (domaintypes.Group, error)
	SetMembers(
		id domaintypes.GroupID,
		members []domaintypes.Address,
	) (domaintypes.Group, error)
	GetGroup(id domaintypes.GroupID) (domaintypes.Group, bool, error)

	EnsureSenderKey(id domaintypes.GroupID) (domaintypes.SenderKeyState, error)
	EncryptGroup(id domaintypes.GroupID, plaintext []byte) (domaintypes.GroupEnvelope, error)
	DistributeGroupKey(
		ctx context.Context,
		id domaintypes.GroupID,
		members []domaintypes.Address,
	) ([]domaintypes.Envelope, error)
	ProcessDistribution(ctx context.Context, env domaintypes.Envelope) (domaintypes.GroupID, error)
	DecryptGroup(
		id domaintypes.GroupID,
		sender domaintypes.Address,
		env domaintypes.GroupEnvelope,
	) ([]byte, error)
	MissingMembers(id domaintypes.GroupID) ([]domaintypes.Address, error)
	Acknowledge(id domaintypes.GroupID, member domaintypes.Address, epoch uint32) error
}

// MessageService sends and receives through the directory, recovering from
// missing sender keys by redistributing once.
type MessageService interface {
	Send(ctx context.Context, to domaintypes.Address, plaintext []byte) (domaintypes.Envelope, error)
	Receive(ctx context.Context, limit int) ([]domaintypes.DecryptedMessage, error)
	SendGroup(
		ctx context.Context,
		id domaintypes.GroupID,
		plaintext []byte,
	) (domaintypes.GroupEnvelope, error)
	ReceiveGroup(ctx context.Context, limit int) ([]domaintypes.DecryptedMessage, error)
}
