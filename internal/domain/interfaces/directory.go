package interfaces

import (
	"context"

	domaintypes "cipherkit/internal/domain/types"
)

// Directory is the untrusted server that stores prekey bundles and queues
// envelopes. It never sees plaintext or private keys.
type Directory interface {
	PublishBundle(ctx context.Context, bundle domaintypes.PreKeyBundle) error
	// FetchBundle returns the device's bundle with at most one one-time
	// prekey, which the directory deletes as it hands it out.
	FetchBundle(
		ctx context.Context,
		addr domaintypes.Address,
	) (domaintypes.PreKeyBundle, error)
	AddOneTimePreKeys(
		ctx context.Context,
		addr domaintypes.Address,
		keys []domaintypes.OneTimePreKeyPublic,
	) error

	SendEnvelope(ctx context.Context, env domaintypes.Envelope) error
	FetchEnvelopes(
		ctx context.Context,
		addr domaintypes.Address,
		limit int,
	) ([]domaintypes.Envelope, error)
	AckEnvelopes(ctx context.Context, addr domaintypes.Address, ids []string) error

	// PushGroupKeys queues one sender-key envelope per member and records
	// them so MissingMembers can report who has not fetched theirs.
	PushGroupKeys(ctx context.Context, push domaintypes.GroupKeyPush) error
	MissingMembers(
		ctx context.Context,
		group domaintypes.GroupID,
		sender domaintypes.Address,
		epoch uint32,
	) ([]domaintypes.Address, error)

	SendGroupEnvelope(
		ctx context.Context,
		env domaintypes.GroupEnvelope,
		recipients []domaintypes.Address,
	) error
	FetchGroupEnvelopes(
		ctx context.Context,
		addr domaintypes.Address,
		limit int,
	) ([]domaintypes.GroupEnvelope, error)
	AckGroupEnvelopes(ctx context.Context, addr domaintypes.Address, ids []string) error
}
