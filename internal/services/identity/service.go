package identity

import (
	"unicode"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"cipherkit/internal/crypto"
	"cipherkit/internal/domain"
)

const (
	// minPassphraseLength defines the minimum number of characters required for a passphrase.
	minPassphraseLength = 12
)

var (
	// ErrWeakPassphrase is returned when the passphrase fails the strength policy.
	ErrWeakPassphrase = errors.Errorf(
		"passphrase is too weak (must be at least %d characters and include upper, lower, "+
			"number, and symbol)",
		minPassphraseLength,
	)
	// ErrIdentityExists is returned when generating over an existing identity.
	ErrIdentityExists = errors.New("identity already exists; reset the store to replace it")
	// ErrNoIdentity is returned before an identity has been generated.
	ErrNoIdentity = errors.Wrap(domain.ErrNotFound, "no identity; run init first")
)

// Service manages identity key creation and access using a backing store.
//
// The identity contains:
//   - X25519 key pair for Diffie-Hellman (X3DH).
//   - Ed25519 key pair for signing (for example, signing the Signed Pre-Key).
//
// The identity is created once and never rotated.
type Service struct {
	store domain.IdentityStore
}

// New returns an identity service backed by the given store.
func New(s domain.IdentityStore) *Service { return &Service{store: s} }

// GenerateIdentity creates a new identity, saves it and returns it with a
// short fingerprint of its public keys.
func (s *Service) GenerateIdentity() (domain.Identity, domain.Fingerprint, error) {
	if _, ok, err := s.store.LoadIdentity(); err != nil {
		return domain.Identity{}, "", err
	} else if ok {
		return domain.Identity{}, "", ErrIdentityExists
	}

	xPriv, xPub, err := crypto.GenerateX25519()
	if err != nil {
		return domain.Identity{}, "", err
	}
	edPriv, edPub, err := crypto.GenerateEd25519()
	if err != nil {
		return domain.Identity{}, "", err
	}

	id := domain.Identity{XPub: xPub, XPriv: xPriv, EdPub: edPub, EdPriv: edPriv}
	if err := s.store.SaveIdentity(id); err != nil {
		return domain.Identity{}, "", err
	}
	fp := Fingerprint(id.Public())
	jww.INFO.Printf("identity: generated %s", fp)
	return id, fp, nil
}

// LoadIdentity returns the local identity.
func (s *Service) LoadIdentity() (domain.Identity, error) {
	id, ok, err := s.store.LoadIdentity()
	if err != nil {
		return domain.Identity{}, err
	}
	if !ok {
		return domain.Identity{}, ErrNoIdentity
	}
	return id, nil
}

// FingerprintIdentity returns a short fingerprint of the local public identity.
func (s *Service) FingerprintIdentity() (domain.Fingerprint, error) {
	id, err := s.LoadIdentity()
	if err != nil {
		return "", err
	}
	return Fingerprint(id.Public()), nil
}

// Fingerprint formats a short fingerprint of a public identity.
func Fingerprint(pub domain.IdentityPublic) domain.Fingerprint {
	return domain.Fingerprint(crypto.Fingerprint(pub.Bytes()))
}

// CheckPassphrase enforces the strength policy for the local store key.
func CheckPassphrase(passphrase string) error {
	if !isSecurePassphrase(passphrase) {
		return ErrWeakPassphrase
	}
	return nil
}

// isSecurePassphrase enforces a basic strength policy.
func isSecurePassphrase(passphrase string) bool {
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	if len([]rune(passphrase)) < minPassphraseLength {
		return false
	}
	for _, r := range passphrase {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	return hasUpper && hasLower && hasDigit && hasSymbol
}

// Compile-time assertion that Service implements domain.IdentityService.
var _ domain.IdentityService = (*Service)(nil)
