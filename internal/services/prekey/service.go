package prekey

import (
	"context"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"cipherkit/internal/crypto"
	"cipherkit/internal/domain"
	"cipherkit/internal/services/identity"
)

// Config tunes the prekey schedule.
type Config struct {
	// OneTimePreKeys is the pool size created by Generate and restored by
	// ReplenishIfLow.
	OneTimePreKeys int
	// ReplenishThreshold triggers ReplenishIfLow when the pool drops below it.
	ReplenishThreshold int
	// RotationInterval is the lifetime of a signed prekey before rotation.
	RotationInterval time.Duration
	// GracePeriod keeps a replaced signed prekey usable for in-flight
	// handshakes.
	GracePeriod time.Duration
}

// DefaultConfig returns the stock schedule.
func DefaultConfig() Config {
	return Config{
		OneTimePreKeys:     100,
		ReplenishThreshold: 20,
		RotationInterval:   7 * 24 * time.Hour,
		GracePeriod:        72 * time.Hour,
	}
}

var errNoSignedPreKey = errors.Wrap(domain.ErrNotFound, "no signed prekey available")

// Service manages prekey pairs and builds the public bundle.
type Service struct {
	self domain.Address
	ids  domain.IdentityStore
	ps   domain.PreKeyStore
	dir  domain.Directory
	cfg  Config
	now  func() time.Time
}

// New returns a prekey service for the device at self. dir may be nil, in
// which case nothing is published.
func New(
	self domain.Address,
	ids domain.IdentityStore,
	ps domain.PreKeyStore,
	dir domain.Directory,
	cfg Config,
) *Service {
	return &Service{self: self, ids: ids, ps: ps, dir: dir, cfg: cfg, now: time.Now}
}

// Generate creates the identity if needed, one signed prekey and the
// one-time pool, then publishes the bundle.
func (s *Service) Generate(ctx context.Context) (domain.PreKeyBundle, error) {
	if _, ok, err := s.ids.LoadIdentity(); err != nil {
		return domain.PreKeyBundle{}, err
	} else if !ok {
		if _, _, err := identity.New(s.ids).GenerateIdentity(); err != nil {
			return domain.PreKeyBundle{}, err
		}
	}
	if _, err := s.newSignedPreKey(s.now()); err != nil {
		return domain.PreKeyBundle{}, err
	}
	if _, err := s.generateOneTime(s.cfg.OneTimePreKeys); err != nil {
		return domain.PreKeyBundle{}, err
	}
	return s.Publish(ctx)
}

// Publish uploads the current bundle with every unused one-time prekey.
func (s *Service) Publish(ctx context.Context) (domain.PreKeyBundle, error) {
	b, err := s.CurrentBundle()
	if err != nil {
		return domain.PreKeyBundle{}, err
	}
	if s.dir == nil {
		jww.DEBUG.Printf("prekey: no directory configured, not publishing")
		return b, nil
	}
	if err := s.dir.PublishBundle(ctx, b); err != nil {
		jww.ERROR.Printf("prekey: publish bundle for %s: %v", s.self, err)
		return domain.PreKeyBundle{}, errors.Wrap(err, "publish bundle")
	}
	jww.INFO.Printf("prekey: published bundle for %s (spk %d, %d one-time)",
		s.self, b.SignedPreKey.ID, len(b.OneTimePreKeys))
	return b, nil
}

// CurrentBundle assembles the public bundle. It never includes private keys.
func (s *Service) CurrentBundle() (domain.PreKeyBundle, error) {
	id, ok, err := s.ids.LoadIdentity()
	if err != nil {
		return domain.PreKeyBundle{}, err
	}
	if !ok {
		return domain.PreKeyBundle{}, identity.ErrNoIdentity
	}
	spkID, ok, err := s.ps.CurrentSignedPreKeyID()
	if err != nil {
		return domain.PreKeyBundle{}, err
	}
	if !ok {
		return domain.PreKeyBundle{}, errNoSignedPreKey
	}
	spk, err := s.LoadSignedPreKey(spkID)
	if err != nil {
		return domain.PreKeyBundle{}, err
	}
	oneTime, err := s.ps.ListOneTimePreKeyPublics()
	if err != nil {
		return domain.PreKeyBundle{}, err
	}
	return domain.PreKeyBundle{
		Address:        s.self,
		IdentityKey:    id.XPub,
		SigningKey:     id.EdPub,
		SignedPreKey:   spk.Public(),
		OneTimePreKeys: oneTime,
	}, nil
}

// RotateSignedPreKey makes a new signed prekey current and publishes it.
// The previous one stays loadable until PruneSignedPreKeys drops it.
func (s *Service) RotateSignedPreKey(ctx context.Context) (domain.SignedPreKeyID, error) {
	return s.rotate(ctx, s.now())
}

func (s *Service) rotate(ctx context.Context, at time.Time) (domain.SignedPreKeyID, error) {
	id, err := s.newSignedPreKey(at)
	if err != nil {
		return 0, err
	}
	jww.INFO.Printf("prekey: rotated signed prekey to %d", id)
	if _, err := s.Publish(ctx); err != nil {
		return id, err
	}
	return id, nil
}

// RotateIfDue rotates when the current signed prekey is older than the
// rotation interval, then prunes expired ones.
func (s *Service) RotateIfDue(ctx context.Context, now time.Time) (bool, error) {
	spkID, ok, err := s.ps.CurrentSignedPreKeyID()
	if err != nil {
		return false, err
	}
	if !ok {
		return false, errNoSignedPreKey
	}
	rotated := false
	cur, err := s.LoadSignedPreKey(spkID)
	if err != nil {
		return false, err
	}
	if now.Sub(time.Unix(cur.CreatedUTC, 0)) >= s.cfg.RotationInterval {
		if _, err := s.rotate(ctx, now); err != nil {
			return false, err
		}
		rotated = true
	}
	if _, err := s.PruneSignedPreKeys(now); err != nil {
		return rotated, err
	}
	return rotated, nil
}

// PruneSignedPreKeys deletes non-current signed prekeys that were replaced
// more than the grace period before now.
func (s *Service) PruneSignedPreKeys(now time.Time) (int, error) {
	cur, ok, err := s.ps.CurrentSignedPreKeyID()
	if err != nil || !ok {
		return 0, err
	}
	all, err := s.ps.ListSignedPreKeys()
	if err != nil {
		return 0, err
	}
	pruned := 0
	for i, p := range all {
		if p.ID == cur || i+1 >= len(all) {
			continue
		}
		replacedAt := time.Unix(all[i+1].CreatedUTC, 0)
		if now.Sub(replacedAt) < s.cfg.GracePeriod {
			continue
		}
		if err := s.ps.DeleteSignedPreKey(p.ID); err != nil {
			return pruned, err
		}
		jww.DEBUG.Printf("prekey: pruned signed prekey %d", p.ID)
		pruned++
	}
	return pruned, nil
}

// LoadSignedPreKey returns a retained signed prekey for completing a
// responder handshake.
func (s *Service) LoadSignedPreKey(id domain.SignedPreKeyID) (domain.SignedPreKeyPair, error) {
	p, ok, err := s.ps.LoadSignedPreKey(id)
	if err != nil {
		return domain.SignedPreKeyPair{}, err
	}
	if !ok {
		return domain.SignedPreKeyPair{}, errors.Wrapf(domain.ErrNotFound, "signed prekey %d", id)
	}
	return p, nil
}

// LoadOneTimePreKey returns the one-time prekey id and leaves it in the
// pool. Callers use it to authenticate a handshake before taking the key.
func (s *Service) LoadOneTimePreKey(id domain.OneTimePreKeyID) (domain.OneTimePreKeyPair, error) {
	p, ok, err := s.ps.LoadOneTimePreKey(id)
	if err != nil {
		return domain.OneTimePreKeyPair{}, err
	}
	if !ok {
		return domain.OneTimePreKeyPair{}, s.missingOneTime(id)
	}
	return p, nil
}

// TakeOneTimePreKey returns and deletes the one-time prekey id. An id that
// was issued but is gone has been used and yields
// domain.ErrPreKeyAlreadyConsumed.
func (s *Service) TakeOneTimePreKey(id domain.OneTimePreKeyID) (domain.OneTimePreKeyPair, error) {
	p, ok, err := s.ps.ConsumeOneTimePreKey(id)
	if err != nil {
		return domain.OneTimePreKeyPair{}, err
	}
	if !ok {
		return domain.OneTimePreKeyPair{}, s.missingOneTime(id)
	}
	jww.DEBUG.Printf("prekey: consumed one-time prekey %d", id)
	return p, nil
}

func (s *Service) missingOneTime(id domain.OneTimePreKeyID) error {
	next, err := s.ps.NextOneTimePreKeyID()
	if err != nil {
		return err
	}
	if id != 0 && id < next {
		jww.WARN.Printf("prekey: one-time prekey %d reused", id)
		return errors.Wrapf(domain.ErrPreKeyAlreadyConsumed, "one-time prekey %d", id)
	}
	return errors.Wrapf(domain.ErrNotFound, "one-time prekey %d", id)
}

// Replenish adds count fresh one-time prekeys and publishes their public
// halves.
func (s *Service) Replenish(ctx context.Context, count int) (int, error) {
	if count <= 0 {
		return 0, nil
	}
	pairs, err := s.generateOneTime(count)
	if err != nil {
		return 0, err
	}
	if s.dir != nil {
		pubs := make([]domain.OneTimePreKeyPublic, len(pairs))
		for i, p := range pairs {
			pubs[i] = domain.OneTimePreKeyPublic{ID: p.ID, Pub: p.Pub}
		}
		if err := s.dir.AddOneTimePreKeys(ctx, s.self, pubs); err != nil {
			jww.ERROR.Printf("prekey: upload one-time prekeys: %v", err)
			return len(pairs), errors.Wrap(err, "upload one-time prekeys")
		}
	}
	jww.INFO.Printf("prekey: replenished %d one-time prekeys", len(pairs))
	return len(pairs), nil
}

// ReplenishIfLow tops the pool back up to the configured size once it has
// fallen below the threshold.
func (s *Service) ReplenishIfLow(ctx context.Context) (int, error) {
	n, err := s.ps.CountOneTimePreKeys()
	if err != nil {
		return 0, err
	}
	if n >= s.cfg.ReplenishThreshold {
		return 0, nil
	}
	return s.Replenish(ctx, s.cfg.OneTimePreKeys-n)
}

func (s *Service) newSignedPreKey(at time.Time) (domain.SignedPreKeyID, error) {
	id, ok, err := s.ids.LoadIdentity()
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, identity.ErrNoIdentity
	}
	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return 0, err
	}
	spkID, err := s.ps.AllocateSignedPreKeyID()
	if err != nil {
		return 0, err
	}
	pair := domain.SignedPreKeyPair{
		ID:         spkID,
		Priv:       priv,
		Pub:        pub,
		Signature:  crypto.SignEd25519(id.EdPriv, pub[:]),
		CreatedUTC: at.Unix(),
	}
	if err := s.ps.SaveSignedPreKey(pair); err != nil {
		return 0, err
	}
	return spkID, s.ps.SetCurrentSignedPreKeyID(spkID)
}

func (s *Service) generateOneTime(n int) ([]domain.OneTimePreKeyPair, error) {
	if n <= 0 {
		return nil, nil
	}
	first, err := s.ps.AllocateOneTimePreKeyIDs(n)
	if err != nil {
		return nil, err
	}
	pairs := make([]domain.OneTimePreKeyPair, 0, n)
	for i := 0; i < n; i++ {
		priv, pub, err := crypto.GenerateX25519()
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, domain.OneTimePreKeyPair{
			ID:   first + domain.OneTimePreKeyID(i),
			Priv: priv,
			Pub:  pub,
		})
	}
	if err := s.ps.SaveOneTimePreKeys(pairs); err != nil {
		return nil, err
	}
	return pairs, nil
}

// Compile-time assertion that Service implements domain.PreKeyService.
var _ domain.PreKeyService = (*Service)(nil)
