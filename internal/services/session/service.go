package session

import (
	"bytes"
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"cipherkit/internal/crypto"
	"cipherkit/internal/domain"
	"cipherkit/internal/protocol/ratchet"
	"cipherkit/internal/protocol/x3dh"
	"cipherkit/internal/util/keylock"
)

// Config tunes handshake and failure handling.
type Config struct {
	// HandshakeTimeout bounds the bundle fetch in InitSession.
	HandshakeTimeout time.Duration
	// MaxDecryptFailures consecutive authentication failures reset the
	// session.
	MaxDecryptFailures int
	Limits             ratchet.Limits
}

// DefaultConfig returns the stock settings.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:   10 * time.Second,
		MaxDecryptFailures: 5,
		Limits:             ratchet.DefaultLimits,
	}
}

// Service performs X3DH and runs the Double Ratchet for each peer device.
//
// A session is the shared root and chain keys plus the metadata needed to
// keep a Double Ratchet conversation going with one peer. This service
// handles:
//   - Fetching the peer's prekey bundle and running X3DH as the initiator.
//   - Building the responder side lazily from the first PreKeyMessage.
//   - Encrypting and decrypting with the ratchet and persisting the result.
//
// Work on one peer is serialised; network calls happen outside the lock.
type Service struct {
	self     domain.Address
	ids      domain.IdentityStore
	sessions domain.SessionStore
	prekeys  domain.PreKeyService
	dir      domain.Directory
	cfg      Config
	locks    keylock.Map
}

// New constructs a session service for the device at self.
func New(
	self domain.Address,
	ids domain.IdentityStore,
	sessions domain.SessionStore,
	prekeys domain.PreKeyService,
	dir domain.Directory,
	cfg Config,
) *Service {
	return &Service{
		self:     self,
		ids:      ids,
		sessions: sessions,
		prekeys:  prekeys,
		dir:      dir,
		cfg:      cfg,
	}
}

func (s *Service) lock(peer domain.Address) func() { return s.locks.Lock(peer.String()) }

func (s *Service) identity() (domain.Identity, error) {
	id, ok, err := s.ids.LoadIdentity()
	if err != nil {
		return domain.Identity{}, err
	}
	if !ok {
		return domain.Identity{}, errors.Wrap(domain.ErrNotFound, "no identity")
	}
	return id, nil
}

// InitSession returns the existing session with peer or creates one.
//
// Steps:
//  1. Fetch the peer's bundle under the handshake timeout.
//  2. Verify it and run X3DH as the initiator.
//  3. Seed the ratchet with the peer's signed prekey as its first ratchet key.
//  4. Persist, unless a session appeared meanwhile or ctx was cancelled.
func (s *Service) InitSession(ctx context.Context, peer domain.Address) (domain.Session, error) {
	if sess, ok, err := s.GetSession(peer); err != nil || ok {
		return sess, err
	}
	id, err := s.identity()
	if err != nil {
		return domain.Session{}, err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	bundle, err := s.dir.FetchBundle(fetchCtx, peer)
	timedOut := errors.Is(fetchCtx.Err(), context.DeadlineExceeded)
	cancel()
	if err != nil {
		if timedOut {
			jww.WARN.Printf("session: bundle fetch for %s timed out", peer)
			return domain.Session{}, errors.Wrapf(domain.ErrHandshakeTimeout, "fetch bundle for %s", peer)
		}
		return domain.Session{}, errors.Wrapf(err, "fetch bundle for %s", peer)
	}
	if bundle.Address != peer {
		return domain.Session{}, errors.Errorf("directory returned bundle for %s, want %s", bundle.Address, peer)
	}

	res, err := x3dh.Initiate(id, bundle)
	if err != nil {
		if errors.Is(err, domain.ErrBundleSignatureInvalid) {
			jww.WARN.Printf("session: bundle for %s has an invalid signature", peer)
		}
		return domain.Session{}, err
	}
	st, err := ratchet.InitAsInitiator(res.RootKey, res.PeerRatchetKey)
	crypto.Wipe(res.RootKey)
	if err != nil {
		return domain.Session{}, err
	}
	msg := res.Message
	sess := domain.Session{
		Peer:           peer,
		PeerIdentity:   res.PeerIdentity,
		AssociatedData: res.AssociatedData,
		State:          st,
		Phase:          domain.SessionEstablished,
		PendingPreKey:  &msg,
		BaseKey:        msg.EphemeralKey,
		CreatedUTC:     time.Now().Unix(),
	}

	unlock := s.lock(peer)
	defer unlock()
	// Cancelled before commit: drop the half-built session.
	if err := ctx.Err(); err != nil {
		return domain.Session{}, err
	}
	if existing, ok, err := s.sessions.LoadSession(peer); err != nil || ok {
		return existing, err
	}
	if err := s.sessions.SaveSession(sess); err != nil {
		return domain.Session{}, err
	}
	jww.DEBUG.Printf("session: established with %s (identity %s)",
		peer, crypto.Fingerprint(res.PeerIdentity.Bytes()))
	return sess, nil
}

// Encrypt seals an application message for peer.
func (s *Service) Encrypt(ctx context.Context, peer domain.Address, plaintext []byte) (domain.Envelope, error) {
	return s.EncryptAs(ctx, peer, domain.EnvelopeMessage, plaintext)
}

// EncryptAs seals plaintext for peer, tagging the envelope with typ. The
// type is bound into the associated data. Until the peer has replied,
// envelopes carry the PreKeyMessage so the peer can build its side.
func (s *Service) EncryptAs(
	ctx context.Context,
	peer domain.Address,
	typ domain.EnvelopeType,
	plaintext []byte,
) (domain.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return domain.Envelope{}, err
	}
	if _, err := s.InitSession(ctx, peer); err != nil {
		return domain.Envelope{}, err
	}

	unlock := s.lock(peer)
	defer unlock()
	sess, ok, err := s.sessions.LoadSession(peer)
	if err != nil {
		return domain.Envelope{}, err
	}
	if !ok {
		return domain.Envelope{}, errors.Wrapf(domain.ErrNoSession, "peer %s", peer)
	}

	header, nonce, ct, err := ratchet.Encrypt(&sess.State, authData(sess, typ), plaintext)
	if err != nil {
		return domain.Envelope{}, err
	}
	if sess.PendingPreKey != nil {
		pk := *sess.PendingPreKey
		header.PreKey = &pk
	}
	if err := s.sessions.SaveSession(sess); err != nil {
		return domain.Envelope{}, err
	}
	return domain.Envelope{
		ID:         uuid.NewString(),
		Type:       typ,
		From:       s.self,
		To:         peer,
		Header:     header,
		Nonce:      nonce,
		Ciphertext: ct,
		Timestamp:  time.Now().Unix(),
	}, nil
}

// Decrypt opens an envelope from env.From. A failed call leaves the stored
// session as it was, apart from the failure counter.
func (s *Service) Decrypt(ctx context.Context, env domain.Envelope) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	peer := env.From
	unlock := s.lock(peer)
	defer unlock()

	stored, ok, err := s.sessions.LoadSession(peer)
	if err != nil {
		return nil, err
	}

	if pk := env.Header.PreKey; pk != nil && (!ok || stored.BaseKey != pk.EphemeralKey) {
		return s.decryptHandshake(env, stored, ok)
	}
	if !ok {
		return nil, errors.Wrapf(domain.ErrNoSession, "peer %s", peer)
	}

	work := stored
	pt, err := s.cfg.Limits.Decrypt(&work.State, authData(work, env.Type), env.Header, env.Nonce, env.Ciphertext)
	if err != nil {
		return nil, s.recordFailure(stored, err)
	}
	work.DecryptFailures = 0
	work.Phase = domain.SessionRatcheting
	if work.PendingPreKey != nil {
		jww.DEBUG.Printf("session: %s replied, handshake complete", peer)
		work.PendingPreKey = nil
	}
	if err := s.sessions.SaveSession(work); err != nil {
		return nil, err
	}
	return pt, nil
}

// decryptHandshake builds a responder session from the envelope's
// PreKeyMessage and installs it if the envelope authenticates.
func (s *Service) decryptHandshake(env domain.Envelope, stored domain.Session, haveStored bool) ([]byte, error) {
	peer := env.From
	msg := *env.Header.PreKey
	id, err := s.identity()
	if err != nil {
		return nil, err
	}
	spk, err := s.prekeys.LoadSignedPreKey(msg.SignedPreKeyID)
	if err != nil {
		return nil, err
	}
	// The one-time prekey stays in the pool until the first message
	// authenticates, so a corrupted copy cannot burn it.
	var opk *domain.OneTimePreKeyPair
	if msg.OneTimePreKeyID != nil {
		pair, err := s.prekeys.LoadOneTimePreKey(*msg.OneTimePreKeyID)
		if err != nil {
			return nil, err
		}
		opk = &pair
	}
	root, ad, err := x3dh.Respond(id, spk, opk, msg)
	if err != nil {
		return nil, err
	}
	cand := domain.Session{
		Peer:           peer,
		PeerIdentity:   msg.Initiator(),
		AssociatedData: ad,
		State:          ratchet.InitAsResponder(root, spk),
		Phase:          domain.SessionRatcheting,
		BaseKey:        msg.EphemeralKey,
		CreatedUTC:     time.Now().Unix(),
	}
	crypto.Wipe(root)
	pt, err := s.cfg.Limits.Decrypt(&cand.State, authData(cand, env.Type), env.Header, env.Nonce, env.Ciphertext)
	if err != nil {
		jww.WARN.Printf("session: handshake from %s failed to authenticate", peer)
		crypto.WipeRatchetState(&cand.State)
		return nil, err
	}
	if msg.OneTimePreKeyID != nil {
		if _, err := s.prekeys.TakeOneTimePreKey(*msg.OneTimePreKeyID); err != nil {
			crypto.WipeRatchetState(&cand.State)
			return nil, err
		}
	}

	if haveStored {
		switch {
		case stored.PeerIdentity != cand.PeerIdentity:
			jww.WARN.Printf("session: %s presented a new identity %s, replacing session",
				peer, crypto.Fingerprint(cand.PeerIdentity.Bytes()))
		case stored.PendingPreKey != nil && bytes.Compare(cand.BaseKey[:], stored.BaseKey[:]) > 0:
			// Both sides initiated at once. Keep the session with the
			// smaller base key; the peer makes the same choice.
			jww.DEBUG.Printf("session: simultaneous initiation with %s, keeping ours", peer)
			crypto.WipeRatchetState(&cand.State)
			return pt, nil
		default:
			jww.INFO.Printf("session: %s started a new session", peer)
		}
	}
	if err := s.sessions.SaveSession(cand); err != nil {
		return nil, err
	}
	jww.DEBUG.Printf("session: responder session with %s created", peer)
	return pt, nil
}

func (s *Service) recordFailure(sess domain.Session, err error) error {
	if !errors.Is(err, domain.ErrRatchetDecryptFailure) {
		return err
	}
	sess.DecryptFailures++
	jww.WARN.Printf("session: decrypt failure %d from %s", sess.DecryptFailures, sess.Peer)
	if s.cfg.MaxDecryptFailures > 0 && sess.DecryptFailures >= s.cfg.MaxDecryptFailures {
		jww.WARN.Printf("session: resetting %s after %d consecutive decrypt failures",
			sess.Peer, sess.DecryptFailures)
		if derr := s.sessions.DeleteSession(sess.Peer); derr != nil {
			return errors.WithMessagef(err, "reset session: %v", derr)
		}
		crypto.WipeRatchetState(&sess.State)
		return err
	}
	if serr := s.sessions.SaveSession(sess); serr != nil {
		return errors.WithMessagef(err, "save failure count: %v", serr)
	}
	return err
}

// Reset forgets the session with peer. The next Encrypt runs X3DH again.
func (s *Service) Reset(peer domain.Address) error {
	unlock := s.lock(peer)
	defer unlock()
	jww.INFO.Printf("session: reset %s", peer)
	sess, ok, err := s.sessions.LoadSession(peer)
	if err != nil {
		return err
	}
	if err := s.sessions.DeleteSession(peer); err != nil {
		return err
	}
	if ok {
		crypto.WipeRatchetState(&sess.State)
	}
	return nil
}

// HasSession reports whether a session with peer exists.
func (s *Service) HasSession(peer domain.Address) (bool, error) {
	_, ok, err := s.GetSession(peer)
	return ok, err
}

// GetSession returns the stored session with peer.
func (s *Service) GetSession(peer domain.Address) (domain.Session, bool, error) {
	unlock := s.lock(peer)
	defer unlock()
	return s.sessions.LoadSession(peer)
}

func authData(sess domain.Session, typ domain.EnvelopeType) []byte {
	ad := make([]byte, 0, len(sess.AssociatedData)+len(typ))
	ad = append(ad, sess.AssociatedData...)
	return append(ad, []byte(typ)...)
}

// Compile-time assertion that Service implements domain.SessionService.
var _ domain.SessionService = (*Service)(nil)
