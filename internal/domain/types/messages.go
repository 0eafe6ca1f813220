package types

// EnvelopeType distinguishes what a pairwise envelope carries once decrypted.
type EnvelopeType string

const (
	// EnvelopeMessage is an application message.
	EnvelopeMessage EnvelopeType = "message"
	// EnvelopeSenderKey carries a SenderKeyDistribution for a group.
	EnvelopeSenderKey EnvelopeType = "sender_key_distribution"
)

// Envelope is the wire-format pairwise message you post/get from the directory.
type Envelope struct {
	ID         string        `json:"id"`
	Type       EnvelopeType  `json:"type"`
	From       Address       `json:"from"`
	To         Address       `json:"to"`
	Header     RatchetHeader `json:"header"`
	Nonce      []byte        `json:"nonce"`
	Ciphertext []byte        `json:"ciphertext"`
	Timestamp  int64         `json:"timestamp"`
}

// DecryptedMessage is what the message service hands back to callers.
type DecryptedMessage struct {
	ID        string  `json:"id"`
	From      Address `json:"from"`
	To        Address `json:"to"`
	Group     GroupID `json:"group,omitempty"`
	Plaintext []byte  `json:"plaintext"`
	Timestamp int64   `json:"timestamp"`
}
