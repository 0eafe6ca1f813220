package types

// SessionPhase tracks where a session is in its lifecycle.
type SessionPhase string

const (
	// SessionEstablished means X3DH completed but no reply has been
	// received yet from the responder.
	SessionEstablished SessionPhase = "established"
	// SessionRatcheting means both sides have exchanged messages and the
	// DH ratchet is turning.
	SessionRatcheting SessionPhase = "ratcheting"
)

// Session is the pairwise secure channel with one peer device.
type Session struct {
	Peer            Address        `json:"peer"`
	PeerIdentity    IdentityPublic `json:"peer_identity"`
	AssociatedData  []byte         `json:"ad"`
	State           RatchetState   `json:"state"`
	Phase           SessionPhase   `json:"phase"`
	PendingPreKey   *PreKeyMessage `json:"pending_pre_key,omitempty"`
	// BaseKey is the initiator's X3DH ephemeral key. Both sides record it,
	// so a repeated PreKeyMessage can be matched to the session it created.
	BaseKey         X25519Public   `json:"base_key"`

	CreatedUTC      int64 `json:"created_utc"`
	DecryptFailures int   `json:"decrypt_failures"`
}
