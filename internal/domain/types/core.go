package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Username represents a directory-registered identity.
type Username string

// String returns the string form of the username.
func (u Username) String() string { return string(u) }

// DeviceID distinguishes the devices of one user. Each device owns its own
// identity key and prekeys.
type DeviceID uint32

// Address names one device of one user. Sessions exist per (self, Address).
type Address struct {
	User   Username `json:"user"`
	Device DeviceID `json:"device"`
}

// String renders the address as "user.device".
func (a Address) String() string {
	return fmt.Sprintf("%s.%d", a.User, a.Device)
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool { return a.User == "" }

// ParseAddress parses "user.device"; a bare "user" means device 1.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Address{}, fmt.Errorf("empty address")
	}
	i := strings.LastIndexByte(s, '.')
	if i < 0 {
		return Address{User: Username(s), Device: 1}, nil
	}
	dev, err := strconv.ParseUint(s[i+1:], 10, 32)
	if err != nil || i == 0 {
		return Address{}, fmt.Errorf("invalid address %q", s)
	}
	return Address{User: Username(s[:i]), Device: DeviceID(dev)}, nil
}

// Fingerprint is a short identifier for public keys presented to users.
type Fingerprint string

// String returns the string form of the fingerprint.
func (f Fingerprint) String() string { return string(f) }

// SignedPreKeyID identifies a signed pre-key. IDs increase monotonically.
type SignedPreKeyID uint32

// OneTimePreKeyID identifies a one-time pre-key. IDs increase monotonically
// and are never reissued, so an ID below the allocation cursor that is no
// longer stored has been consumed.
type OneTimePreKeyID uint32

// GroupID identifies a group conversation.
type GroupID string

// String returns the string form of the group identifier.
func (g GroupID) String() string { return string(g) }
