package app

import (
	"context"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"cipherkit/internal/domain"
	"cipherkit/internal/protocol/safetynumber"
	"cipherkit/internal/services/identity"
)

var (
	// ErrOffline is returned by operations that need a directory when none
	// is configured.
	ErrOffline = errors.New("no directory configured; pass --directory")
	// ErrNoAddress is returned when the device has no address yet.
	ErrNoAddress = errors.New("no device address; pass --address")
)

// App is the device facade the CLI commands drive.
type App struct {
	*Wire
	now func() time.Time
}

// New wraps a wired device.
func New(w *Wire) *App { return &App{Wire: w, now: time.Now} }

func (a *App) online() error {
	switch {
	case a.Self.IsZero():
		return ErrNoAddress
	case a.Directory == nil:
		return ErrOffline
	}
	return nil
}

// Init creates the identity and the initial prekeys, publishing the bundle
// when a directory is configured, and records the account profile.
func (a *App) Init(ctx context.Context) (domain.Fingerprint, error) {
	if a.Self.IsZero() {
		return "", ErrNoAddress
	}
	if _, ok, err := a.Store.LoadIdentity(); err != nil {
		return "", err
	} else if ok {
		return "", identity.ErrIdentityExists
	}
	if _, err := a.PreKeys.Generate(ctx); err != nil {
		return "", err
	}
	if err := a.saveProfile(a.Directory != nil); err != nil {
		return "", err
	}
	fp, err := a.Identity.FingerprintIdentity()
	if err != nil {
		return "", err
	}
	jww.INFO.Printf("app: initialised %s, fingerprint %s", a.Self, fp)
	return fp, nil
}

// Register publishes the current bundle to the directory.
func (a *App) Register(ctx context.Context) (domain.PreKeyBundle, error) {
	if err := a.online(); err != nil {
		return domain.PreKeyBundle{}, err
	}
	b, err := a.PreKeys.Publish(ctx)
	if err != nil {
		return domain.PreKeyBundle{}, err
	}
	return b, a.saveProfile(true)
}

func (a *App) saveProfile(registered bool) error {
	p, _, err := a.Store.LoadAccountProfile()
	if err != nil {
		return err
	}
	p.Address = a.Self
	p.DirectoryURL = a.DirectoryURL
	if registered {
		p.RegisteredUTC = a.now().UTC().Unix()
	}
	return a.Store.SaveAccountProfile(p)
}

// Rotate replaces the signed prekey now, or only when due unless force is
// set. It reports whether a rotation happened.
func (a *App) Rotate(ctx context.Context, force bool) (bool, error) {
	if force {
		if _, err := a.PreKeys.RotateSignedPreKey(ctx); err != nil {
			return false, err
		}
		_, err := a.PreKeys.PruneSignedPreKeys(a.now())
		return true, err
	}
	return a.PreKeys.RotateIfDue(ctx, a.now())
}

// Maintain runs the periodic prekey chores: rotation when due and pool
// replenishment.
func (a *App) Maintain(ctx context.Context) error {
	if err := a.online(); err != nil {
		return err
	}
	if _, err := a.PreKeys.RotateIfDue(ctx, a.now()); err != nil {
		return err
	}
	_, err := a.PreKeys.ReplenishIfLow(ctx)
	return err
}

// SafetyNumber returns the number to compare with peer out of band. It
// needs an existing session, since that pins the peer's identity.
func (a *App) SafetyNumber(peer domain.Address) (string, error) {
	id, err := a.Identity.LoadIdentity()
	if err != nil {
		return "", err
	}
	sess, ok, err := a.Sessions.GetSession(peer)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.Wrapf(domain.ErrNoSession, "peer %s", peer)
	}
	return safetynumber.Compute(id.Public(), sess.PeerIdentity), nil
}

// Verify checks a safety number read out by peer.
func (a *App) Verify(peer domain.Address, number string) error {
	sn, err := a.SafetyNumber(peer)
	if err != nil {
		return err
	}
	return safetynumber.Verify(sn, number)
}

// Send encrypts and posts a direct message.
func (a *App) Send(ctx context.Context, to domain.Address, text []byte) (domain.Envelope, error) {
	if err := a.online(); err != nil {
		return domain.Envelope{}, err
	}
	return a.Messages.Send(ctx, to, text)
}

// Receive drains the direct mailbox and then the group mailbox.
func (a *App) Receive(ctx context.Context, limit int) ([]domain.DecryptedMessage, error) {
	if err := a.online(); err != nil {
		return nil, err
	}
	direct, err := a.Messages.Receive(ctx, limit)
	if err != nil {
		return direct, err
	}
	group, err := a.Messages.ReceiveGroup(ctx, limit)
	return append(direct, group...), err
}

// SendGroup encrypts once and fans out to the group.
func (a *App) SendGroup(ctx context.Context, id domain.GroupID, text []byte) (domain.GroupEnvelope, error) {
	if err := a.online(); err != nil {
		return domain.GroupEnvelope{}, err
	}
	return a.Messages.SendGroup(ctx, id, text)
}

// ReceiveGroup drains the group mailbox.
func (a *App) ReceiveGroup(ctx context.Context, limit int) ([]domain.DecryptedMessage, error) {
	if err := a.online(); err != nil {
		return nil, err
	}
	return a.Messages.ReceiveGroup(ctx, limit)
}

// PendingKeyDeliveries lists members that have not fetched our sender key.
func (a *App) PendingKeyDeliveries(ctx context.Context, id domain.GroupID) ([]domain.Address, error) {
	if err := a.online(); err != nil {
		return nil, err
	}
	return a.Messages.PendingKeyDeliveries(ctx, id)
}
