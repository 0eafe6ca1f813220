package message

import (
	"context"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"cipherkit/internal/domain"
)

// IsRecoverable reports whether err clears up once the missing key material
// arrives: a group key we have not created or received yet, or a handshake
// that timed out. Everything else needs user action or is final.
func IsRecoverable(err error) bool {
	return errors.Is(err, domain.ErrGroupKeyMissing) ||
		errors.Is(err, domain.ErrMissingMemberKey) ||
		errors.Is(err, domain.ErrHandshakeTimeout)
}

// transient errors leave an envelope queued for the next fetch.
func transient(err error) bool {
	return IsRecoverable(err) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Service moves envelopes between the session and group services and the
// directory.
//
// High-level flow:
//   - Send: encrypt with the peer's session (running X3DH first if needed)
//     and post the envelope.
//   - Receive: fetch envelopes, decrypt messages, install sender keys, then
//     ack what was handled.
//   - SendGroup: make sure every member holds our sender key, encrypt once
//     and fan the envelope out.
//   - ReceiveGroup: decrypt group envelopes, fetching pending sender keys
//     from the direct mailbox when one is missing.
type Service struct {
	self     domain.Address
	sessions domain.SessionService
	groups   domain.GroupService
	dir      domain.Directory
	prekeys  domain.PreKeyService
}

// New constructs a message service. prekeys may be nil, in which case the
// one-time prekey pool is not topped up after receiving.
func New(
	self domain.Address,
	sessions domain.SessionService,
	groups domain.GroupService,
	dir domain.Directory,
	prekeys domain.PreKeyService,
) *Service {
	return &Service{self: self, sessions: sessions, groups: groups, dir: dir, prekeys: prekeys}
}

// Send encrypts plaintext for to and posts it.
func (s *Service) Send(ctx context.Context, to domain.Address, plaintext []byte) (domain.Envelope, error) {
	env, err := s.sessions.Encrypt(ctx, to, plaintext)
	if err != nil {
		return domain.Envelope{}, err
	}
	if err := s.dir.SendEnvelope(ctx, env); err != nil {
		jww.ERROR.Printf("message: post to %s: %v", to, err)
		return domain.Envelope{}, errors.Wrapf(err, "send to %s", to)
	}
	return env, nil
}

// Receive handles up to limit queued envelopes. Application messages are
// returned; sender key distributions are installed. Envelopes that fail
// for good are acked and logged so they do not block the mailbox.
func (s *Service) Receive(ctx context.Context, limit int) ([]domain.DecryptedMessage, error) {
	envs, err := s.dir.FetchEnvelopes(ctx, s.self, limit)
	if err != nil {
		return nil, errors.Wrap(err, "fetch envelopes")
	}
	var (
		out  []domain.DecryptedMessage
		acks []string
	)
	for _, env := range envs {
		msg, ok, err := s.handle(ctx, env)
		if err != nil {
			if transient(err) {
				jww.DEBUG.Printf("message: keeping %s from %s: %v", env.ID, env.From, err)
				continue
			}
			jww.WARN.Printf("message: dropping %s from %s: %v", env.ID, env.From, err)
		}
		acks = append(acks, env.ID)
		if ok {
			out = append(out, msg)
		}
	}
	if len(acks) > 0 {
		if err := s.dir.AckEnvelopes(ctx, s.self, acks); err != nil {
			return out, errors.Wrap(err, "ack envelopes")
		}
	}
	if s.prekeys != nil {
		if n, err := s.prekeys.ReplenishIfLow(ctx); err != nil {
			jww.ERROR.Printf("message: replenish prekeys: %v", err)
		} else if n > 0 {
			jww.DEBUG.Printf("message: replenished %d prekeys", n)
		}
	}
	return out, nil
}

func (s *Service) handle(ctx context.Context, env domain.Envelope) (domain.DecryptedMessage, bool, error) {
	switch env.Type {
	case domain.EnvelopeSenderKey:
		id, err := s.groups.ProcessDistribution(ctx, env)
		if err == nil {
			jww.DEBUG.Printf("message: sender key for %s from %s", id, env.From)
		}
		return domain.DecryptedMessage{}, false, err
	case domain.EnvelopeMessage, "":
		pt, err := s.sessions.Decrypt(ctx, env)
		if err != nil {
			return domain.DecryptedMessage{}, false, err
		}
		return domain.DecryptedMessage{
			ID:        env.ID,
			From:      env.From,
			To:        env.To,
			Plaintext: pt,
			Timestamp: env.Timestamp,
		}, true, nil
	default:
		return domain.DecryptedMessage{}, false, errors.Errorf("unknown envelope type %q", env.Type)
	}
}

// SendGroup encrypts plaintext once for the group and posts it to every
// other member. Members missing our sender key get it first. If our key is
// missing at encryption time it is created and distributed, and encryption
// is retried exactly once.
func (s *Service) SendGroup(ctx context.Context, id domain.GroupID, plaintext []byte) (domain.GroupEnvelope, error) {
	if err := s.distributeMissing(ctx, id); err != nil {
		return domain.GroupEnvelope{}, err
	}
	env, err := s.groups.EncryptGroup(id, plaintext)
	if errors.Is(err, domain.ErrGroupKeyMissing) {
		jww.DEBUG.Printf("message: no sender key for %s, distributing and retrying", id)
		if _, err := s.groups.EnsureSenderKey(id); err != nil {
			return domain.GroupEnvelope{}, err
		}
		if err := s.distributeMissing(ctx, id); err != nil {
			return domain.GroupEnvelope{}, err
		}
		env, err = s.groups.EncryptGroup(id, plaintext)
	}
	if err != nil {
		return domain.GroupEnvelope{}, err
	}

	g, ok, err := s.groups.GetGroup(id)
	if err != nil {
		return domain.GroupEnvelope{}, err
	}
	if !ok {
		return domain.GroupEnvelope{}, errors.Wrapf(domain.ErrNotFound, "group %s", id)
	}
	recipients := make([]domain.Address, 0, len(g.Members))
	for _, m := range g.Members {
		if m != s.self {
			recipients = append(recipients, m)
		}
	}
	if err := s.dir.SendGroupEnvelope(ctx, env, recipients); err != nil {
		jww.ERROR.Printf("message: post group %s: %v", id, err)
		return domain.GroupEnvelope{}, errors.Wrapf(err, "send to group %s", id)
	}
	return env, nil
}

// distributeMissing hands our sender key to every member that lacks it and
// records the delivery.
func (s *Service) distributeMissing(ctx context.Context, id domain.GroupID) error {
	missing, err := s.groups.MissingMembers(id)
	if err != nil || len(missing) == 0 {
		return err
	}
	st, err := s.groups.EnsureSenderKey(id)
	if err != nil {
		return err
	}
	envs, err := s.groups.DistributeGroupKey(ctx, id, missing)
	if err != nil {
		return err
	}
	push := domain.GroupKeyPush{GroupID: id, Sender: s.self, Epoch: st.Epoch, Envelopes: envs}
	if err := s.dir.PushGroupKeys(ctx, push); err != nil {
		jww.ERROR.Printf("message: push %s keys: %v", id, err)
		return errors.Wrapf(err, "push sender keys for %s", id)
	}
	for _, env := range envs {
		if err := s.groups.Acknowledge(id, env.To, st.Epoch); err != nil {
			return err
		}
	}
	jww.INFO.Printf("message: distributed %s epoch %d key to %d members", id, st.Epoch, len(envs))
	return nil
}

// PendingKeyDeliveries lists members who have not yet fetched the sender
// key we pushed for the group's current epoch.
func (s *Service) PendingKeyDeliveries(ctx context.Context, id domain.GroupID) ([]domain.Address, error) {
	g, ok, err := s.groups.GetGroup(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(domain.ErrNotFound, "group %s", id)
	}
	return s.dir.MissingMembers(ctx, id, s.self, g.Epoch)
}

// ReceiveGroup handles up to limit queued group envelopes. When a sender's
// key is missing the direct mailbox is drained once, since the key may be
// waiting there, and the envelope is retried exactly once. Direct messages
// found while draining are returned too.
func (s *Service) ReceiveGroup(ctx context.Context, limit int) ([]domain.DecryptedMessage, error) {
	envs, err := s.dir.FetchGroupEnvelopes(ctx, s.self, limit)
	if err != nil {
		return nil, errors.Wrap(err, "fetch group envelopes")
	}
	var (
		out     []domain.DecryptedMessage
		acks    []string
		drained bool
	)
	for _, env := range envs {
		pt, err := s.groups.DecryptGroup(env.GroupID, env.Sender, env)
		if errors.Is(err, domain.ErrMissingMemberKey) {
			if !drained {
				drained = true
				direct, derr := s.Receive(ctx, 0)
				if derr != nil {
					return out, derr
				}
				out = append(out, direct...)
			}
			pt, err = s.groups.DecryptGroup(env.GroupID, env.Sender, env)
		}
		if err != nil {
			if transient(err) {
				jww.DEBUG.Printf("message: keeping group %s from %s: %v", env.ID, env.Sender, err)
				continue
			}
			jww.WARN.Printf("message: dropping group %s from %s: %v", env.ID, env.Sender, err)
			acks = append(acks, env.ID)
			continue
		}
		acks = append(acks, env.ID)
		out = append(out, domain.DecryptedMessage{
			ID:        env.ID,
			From:      env.Sender,
			To:        s.self,
			Group:     env.GroupID,
			Plaintext: pt,
			Timestamp: env.Timestamp,
		})
	}
	if len(acks) > 0 {
		if err := s.dir.AckGroupEnvelopes(ctx, s.self, acks); err != nil {
			return out, errors.Wrap(err, "ack group envelopes")
		}
	}
	return out, nil
}

// Compile-time assertion that Service implements domain.MessageService.
var _ domain.MessageService = (*Service)(nil)
