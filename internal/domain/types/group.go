package types

// Group is the local view of a group's membership. Epoch increments on
// every membership change.
type Group struct {
	ID      GroupID   `json:"id"`
	Epoch   uint32    `json:"epoch"`
	Members []Address `json:"members"`
	// Distributed records the epoch for which each member last received
	// our sender key, keyed by Address.String().
	Distributed map[string]uint32 `json:"distributed"`
}

// HasMember reports whether addr is in the member list.
func (g Group) HasMember(addr Address) bool {
	for _, m := range g.Members {
		if m == addr {
			return true
		}
	}
	return false
}

// SkippedGroupKey is a cached message key for a group step not yet received.
type SkippedGroupKey struct {
	Step       uint32 `json:"step"`
	MessageKey []byte `json:"mk"`
}

// SenderKeyState is one sender's symmetric chain for one group epoch. Our
// own state carries the signing private key; remote states only the public.
type SenderKeyState struct {
	GroupID        GroupID           `json:"group_id"`
	Sender         Address           `json:"sender"`
	Epoch          uint32            `json:"epoch"`
	DistributionID string            `json:"distribution_id"`
	ChainKey       []byte            `json:"chain_key"`
	Iteration      uint32            `json:"iteration"`
	SigningPublic  Ed25519Public     `json:"signing_public"`
	SigningPrivate *Ed25519Private   `json:"signing_private,omitempty"`
	Skipped        []SkippedGroupKey `json:"skipped,omitempty"`
}

// Clone returns a deep copy.
func (s SenderKeyState) Clone() SenderKeyState {
	c := s
	c.ChainKey = cloneBytes(s.ChainKey)
	if s.SigningPrivate != nil {
		p := *s.SigningPrivate
		c.SigningPrivate = &p
	}
	if s.Skipped != nil {
		c.Skipped = make([]SkippedGroupKey, len(s.Skipped))
		for i, k := range s.Skipped {
			k.MessageKey = cloneBytes(k.MessageKey)
			c.Skipped[i] = k
		}
	}
	return c
}

// SenderKeyDistribution is sent pairwise to each member so they can decrypt
// the sender's group messages from Iteration onward.
type SenderKeyDistribution struct {
	GroupID        GroupID       `json:"group_id"`
	Epoch          uint32        `json:"epoch"`
	DistributionID string        `json:"distribution_id"`
	ChainKey       []byte        `json:"chain_key"`
	Iteration      uint32        `json:"iteration"`
	SigningPublic  Ed25519Public `json:"signing_public"`
	Members        []Address     `json:"members,omitempty"`
}

// GroupEnvelope is a sender-key encrypted group message.
type GroupEnvelope struct {
	ID         string  `json:"id"`
	GroupID    GroupID `json:"group_id"`
	Sender     Address `json:"sender"`
	Recipient  Address `json:"recipient,omitempty"`
	Epoch      uint32  `json:"epoch"`
	Step       uint32  `json:"step"`
	Nonce      []byte  `json:"nonce"`
	Ciphertext []byte  `json:"ciphertext"`
	Signature  []byte  `json:"signature"`
	Timestamp  int64   `json:"timestamp"`
}

// GroupKeyPush is what a sender uploads after distributing its sender key:
// the pairwise envelopes, one per member.
type GroupKeyPush struct {
	GroupID   GroupID    `json:"group_id"`
	Sender    Address    `json:"sender"`
	Epoch     uint32     `json:"epoch"`
	Envelopes []Envelope `json:"envelopes"`
}
