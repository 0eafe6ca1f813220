package x3dh

import (
	"bytes"

	"github.com/pkg/errors"

	"cipherkit/internal/crypto"
	"cipherkit/internal/domain"
)

var (
	kdfInfo = []byte("cipherkit-x3dh")
	// Curve25519 discontinuity prefix.
	kdfPad = bytes.Repeat([]byte{0xFF}, 32)
)

// Initiation is what the initiator keeps after running X3DH against a bundle.
type Initiation struct {
	RootKey        []byte
	AssociatedData []byte
	// PeerRatchetKey is the responder's signed prekey, which seeds the
	// initiator's first DH ratchet step.
	PeerRatchetKey domain.X25519Public
	PeerIdentity   domain.IdentityPublic
	Message        domain.PreKeyMessage
}

// VerifyBundle checks the signed prekey signature against the bundle's
// identity signing key.
func VerifyBundle(b domain.PreKeyBundle) error {
	if !crypto.VerifyEd25519(b.SigningKey, b.SignedPreKey.Pub.Slice(), b.SignedPreKey.Signature) {
		return domain.ErrBundleSignatureInvalid
	}
	return nil
}

// AssociatedData binds a session to both identities, initiator first.
func AssociatedData(initiator, responder domain.IdentityPublic) []byte {
	ad := make([]byte, 0, 128)
	ad = append(ad, initiator.Bytes()...)
	return append(ad, responder.Bytes()...)
}

// Initiate runs the initiator side of X3DH against bundle. The bundle must
// carry at most one one-time prekey; the first one is used if present.
func Initiate(id domain.Identity, bundle domain.PreKeyBundle) (Initiation, error) {
	if err := VerifyBundle(bundle); err != nil {
		return Initiation{}, err
	}

	ephPriv, ephPub, err := crypto.GenerateX25519()
	if err != nil {
		return Initiation{}, err
	}
	defer crypto.Wipe(ephPriv[:])

	var opk *domain.X25519Public
	msg := domain.PreKeyMessage{
		IdentityKey:    id.XPub,
		SigningKey:     id.EdPub,
		EphemeralKey:   ephPub,
		SignedPreKeyID: bundle.SignedPreKey.ID,
	}
	if len(bundle.OneTimePreKeys) > 0 {
		k := bundle.OneTimePreKeys[0]
		opk = &k.Pub
		opkID := k.ID
		msg.OneTimePreKeyID = &opkID
	}

	spk := bundle.SignedPreKey.Pub
	dh1, err := crypto.DH(id.XPriv, spk) // DH(IKA, SPKB)
	if err != nil {
		return Initiation{}, errors.Wrap(err, "x3dh dh1")
	}
	dh2, err := crypto.DH(ephPriv, bundle.IdentityKey) // DH(EKA, IKB)
	if err != nil {
		return Initiation{}, errors.Wrap(err, "x3dh dh2")
	}
	dh3, err := crypto.DH(ephPriv, spk) // DH(EKA, SPKB)
	if err != nil {
		return Initiation{}, errors.Wrap(err, "x3dh dh3")
	}
	parts := [][]byte{dh1[:], dh2[:], dh3[:]}
	if opk != nil {
		dh4, err := crypto.DH(ephPriv, *opk) // DH(EKA, OPKB)
		if err != nil {
			return Initiation{}, errors.Wrap(err, "x3dh dh4")
		}
		parts = append(parts, dh4[:])
	}

	return Initiation{
		RootKey:        deriveRoot(parts...),
		AssociatedData: AssociatedData(id.Public(), bundle.Identity()),
		PeerRatchetKey: spk,
		PeerIdentity:   bundle.Identity(),
		Message:        msg,
	}, nil
}

// Respond recomputes the root key on the responder from the initiator's
// PreKeyMessage. opk must be the private half named by msg, or nil when
// msg names none.
func Respond(
	id domain.Identity,
	spk domain.SignedPreKeyPair,
	opk *domain.OneTimePreKeyPair,
	msg domain.PreKeyMessage,
) (rootKey, ad []byte, err error) {
	if (msg.OneTimePreKeyID == nil) != (opk == nil) {
		return nil, nil, errors.New("x3dh: one-time prekey mismatch")
	}
	dh1, err := crypto.DH(spk.Priv, msg.IdentityKey) // DH(SPKB, IKA)
	if err != nil {
		return nil, nil, errors.Wrap(err, "x3dh dh1")
	}
	dh2, err := crypto.DH(id.XPriv, msg.EphemeralKey) // DH(IKB, EKA)
	if err != nil {
		return nil, nil, errors.Wrap(err, "x3dh dh2")
	}
	dh3, err := crypto.DH(spk.Priv, msg.EphemeralKey) // DH(SPKB, EKA)
	if err != nil {
		return nil, nil, errors.Wrap(err, "x3dh dh3")
	}
	parts := [][]byte{dh1[:], dh2[:], dh3[:]}
	if opk != nil {
		dh4, err := crypto.DH(opk.Priv, msg.EphemeralKey) // DH(OPKB, EKA)
		if err != nil {
			return nil, nil, errors.Wrap(err, "x3dh dh4")
		}
		parts = append(parts, dh4[:])
	}
	return deriveRoot(parts...), AssociatedData(msg.Initiator(), id.Public()), nil
}

func deriveRoot(dhs ...[]byte) []byte {
	ikm := make([]byte, 0, 32*5)
	ikm = append(ikm, kdfPad...)
	for _, d := range dhs {
		ikm = append(ikm, d...)
		crypto.Wipe(d)
	}
	root := crypto.HKDF(ikm, make([]byte, 32), kdfInfo, crypto.KeySize)
	crypto.Wipe(ikm)
	return root
}
