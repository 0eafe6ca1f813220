package types

import "github.com/pkg/errors"

// Protocol errors. Callers match them with errors.Is; services wrap them
// with context.
var (
	ErrBundleSignatureInvalid = errors.New("prekey bundle signature invalid")
	ErrPreKeyAlreadyConsumed  = errors.New("one-time prekey already consumed")
	ErrHandshakeTimeout       = errors.New("handshake timed out")
	ErrRatchetDecryptFailure  = errors.New("ratchet decrypt failure")
	ErrMessageTooOld          = errors.New("message too old or already received")
	ErrTooManySkipped         = errors.New("too many skipped messages")
	ErrGroupKeyMissing        = errors.New("no sender key for group")
	ErrMissingMemberKey       = errors.New("no sender key for member")
	ErrSafetyNumberMismatch   = errors.New("safety number mismatch")
	ErrNoSession              = errors.New("no session with peer")
	ErrNotFound               = errors.New("not found")
	ErrNotMember              = errors.New("not a group member")
)
