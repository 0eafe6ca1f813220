package domain

import (
	interfaces "cipherkit/internal/domain/interfaces"
	types "cipherkit/internal/domain/types"
)

// Type aliases expose domain types from the types subpackage for compact imports.
type (
	Username              = types.Username
	DeviceID              = types.DeviceID
	Address               = types.Address
	Fingerprint           = types.Fingerprint
	SignedPreKeyID        = types.SignedPreKeyID
	OneTimePreKeyID       = types.OneTimePreKeyID
	GroupID               = types.GroupID
	Identity              = types.Identity
	IdentityPublic        = types.IdentityPublic
	SignedPreKeyPair      = types.SignedPreKeyPair
	SignedPreKeyPublic    = types.SignedPreKeyPublic
	OneTimePreKeyPair     = types.OneTimePreKeyPair
	OneTimePreKeyPublic   = types.OneTimePreKeyPublic
	PreKeyBundle          = types.PreKeyBundle
	PreKeyMessage         = types.PreKeyMessage
	EnvelopeType          = types.EnvelopeType
	Envelope              = types.Envelope
	DecryptedMessage      = types.DecryptedMessage
	RatchetHeader         = types.RatchetHeader
	RatchetState          = types.RatchetState
	SkippedKey            = types.SkippedKey
	SessionPhase          = types.SessionPhase
	Session               = types.Session
	Group                 = types.Group
	SenderKeyState        = types.SenderKeyState
	SkippedGroupKey       = types.SkippedGroupKey
	SenderKeyDistribution = types.SenderKeyDistribution
	GroupEnvelope         = types.GroupEnvelope
	GroupKeyPush          = types.GroupKeyPush
	AccountProfile        = types.AccountProfile
	X25519Public          = types.X25519Public
	X25519Private         = types.X25519Private
	Ed25519Public         = types.Ed25519Public
	Ed25519Private        = types.Ed25519Private
)

// Envelope types and session phases.
const (
	EnvelopeMessage    = types.EnvelopeMessage
	EnvelopeSenderKey  = types.EnvelopeSenderKey
	SessionEstablished = types.SessionEstablished
	SessionRatcheting  = types.SessionRatcheting
)

// Errors re-exported for callers that only import domain.
var (
	ErrBundleSignatureInvalid = types.ErrBundleSignatureInvalid
	ErrPreKeyAlreadyConsumed  = types.ErrPreKeyAlreadyConsumed
	ErrHandshakeTimeout       = types.ErrHandshakeTimeout
	ErrRatchetDecryptFailure  = types.ErrRatchetDecryptFailure
	ErrMessageTooOld          = types.ErrMessageTooOld
	ErrTooManySkipped         = types.ErrTooManySkipped
	ErrGroupKeyMissing        = types.ErrGroupKeyMissing
	ErrMissingMemberKey       = types.ErrMissingMemberKey
	ErrSafetyNumberMismatch   = types.ErrSafetyNumberMismatch
	ErrNoSession              = types.ErrNoSession
	ErrNotFound               = types.ErrNotFound
	ErrNotMember              = types.ErrNotMember
)

// ParseAddress parses "user.device".
func ParseAddress(s string) (Address, error) { return types.ParseAddress(s) }

// Interface aliases expose domain interfaces from the interfaces subpackage.
type (
	IdentityService = interfaces.IdentityService
	PreKeyService   = interfaces.PreKeyService
	SessionService  = interfaces.SessionService
	GroupService    = interfaces.GroupService
	MessageService  = interfaces.MessageService
	Directory       = interfaces.Directory
	IdentityStore   = interfaces.IdentityStore
	PreKeyStore     = interfaces.PreKeyStore
	SessionStore    = interfaces.SessionStore
	GroupStore      = interfaces.GroupStore
	AccountStore    = interfaces.AccountStore
)
