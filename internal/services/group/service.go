package group

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"cipherkit/internal/domain"
	"cipherkit/internal/protocol/senderkey"
	"cipherkit/internal/util/keylock"
)

// Error messages.
const (
	groupExistsErr    = "group %s already exists"
	groupNotFoundErr  = "group %s"
	wrongTypeErr      = "envelope %s is not a sender key distribution"
	notInGroupErr     = "not a member of group %s"
	senderNotInErr    = "%s is not a member of group %s"
	decodeDistErr     = "decode sender key distribution from %s"
	staleDistErr      = "stale sender key from %s for %s: epoch %d < %d"
	ownKeyMissingErr  = "no sender key for %s at epoch %d"
	remoteKeyMissErr  = "no sender key from %s for %s"
	futureEpochErr    = "sender key from %s for %s is at epoch %d, message at %d"
	oldEpochErr       = "message from %s for %s at epoch %d, key at %d"
	emptyMembersError = "group %s needs at least one other member"
)

// Service keeps group membership and sender-key chains, and moves sender
// keys between members over pairwise sessions.
type Service struct {
	self     domain.Address
	groups   domain.GroupStore
	sessions domain.SessionService
	limits   senderkey.Limits
	locks    keylock.Map
}

// New returns a group service for the device at self.
func New(
	self domain.Address,
	groups domain.GroupStore,
	sessions domain.SessionService,
	limits senderkey.Limits,
) *Service {
	return &Service{self: self, groups: groups, sessions: sessions, limits: limits}
}

func (s *Service) lock(id domain.GroupID) func() { return s.locks.Lock(string(id)) }

func (s *Service) load(id domain.GroupID) (domain.Group, error) {
	g, ok, err := s.groups.LoadGroup(id)
	if err != nil {
		return domain.Group{}, err
	}
	if !ok {
		return domain.Group{}, errors.Wrapf(domain.ErrNotFound, groupNotFoundErr, id)
	}
	if g.Distributed == nil {
		g.Distributed = make(map[string]uint32)
	}
	return g, nil
}

// normalise dedupes members, adds self and sorts.
func (s *Service) normalise(members []domain.Address) []domain.Address {
	seen := map[domain.Address]struct{}{s.self: {}}
	out := []domain.Address{s.self}
	for _, m := range members {
		if m.IsZero() {
			continue
		}
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].User != out[j].User {
			return out[i].User < out[j].User
		}
		return out[i].Device < out[j].Device
	})
	return out
}

// CreateGroup records a new group at epoch 1. Self is always a member.
func (s *Service) CreateGroup(id domain.GroupID, members []domain.Address) (domain.Group, error) {
	unlock := s.lock(id)
	defer unlock()
	if _, ok, err := s.groups.LoadGroup(id); err != nil {
		return domain.Group{}, err
	} else if ok {
		return domain.Group{}, errors.Errorf(groupExistsErr, id)
	}
	g := domain.Group{
		ID:          id,
		Epoch:       1,
		Members:     s.normalise(members),
		Distributed: make(map[string]uint32),
	}
	if len(g.Members) < 2 {
		return domain.Group{}, errors.Errorf(emptyMembersError, id)
	}
	if err := s.groups.SaveGroup(g); err != nil {
		return domain.Group{}, err
	}
	jww.INFO.Printf("group: created %s with %d members", id, len(g.Members))
	return g, nil
}

// AddMember adds member and starts a new epoch.
func (s *Service) AddMember(id domain.GroupID, member domain.Address) (domain.Group, error) {
	return s.change(id, func(cur []domain.Address) []domain.Address {
		return append(append([]domain.Address(nil), cur...), member)
	})
}

// RemoveMember drops member and starts a new epoch. The removed member's
// sender key is forgotten and our own is replaced, so nothing sent from now
// on is readable with keys the removed member holds.
func (s *Service) RemoveMember(id domain.GroupID, member domain.Address) (domain.Group, error) {
	return s.change(id, func(cur []domain.Address) []domain.Address {
		out := make([]domain.Address, 0, len(cur))
		for _, m := range cur {
			if m != member {
				out = append(out, m)
			}
		}
		return out
	})
}

// SetMembers replaces the member list.
func (s *Service) SetMembers(id domain.GroupID, members []domain.Address) (domain.Group, error) {
	return s.change(id, func([]domain.Address) []domain.Address { return members })
}

func (s *Service) change(id domain.GroupID, edit func([]domain.Address) []domain.Address) (domain.Group, error) {
	unlock := s.lock(id)
	defer unlock()
	g, err := s.load(id)
	if err != nil {
		return domain.Group{}, err
	}
	next := s.normalise(edit(g.Members))
	if sameMembers(g.Members, next) {
		return g, nil
	}
	if err := s.rekey(&g, g.Epoch+1, next); err != nil {
		return domain.Group{}, err
	}
	jww.INFO.Printf("group: %s now has %d members at epoch %d", id, len(g.Members), g.Epoch)
	return g, nil
}

// rekey moves g to epoch with members, dropping our own sender key and the
// keys of anyone no longer in the group. Callers hold the group lock.
func (s *Service) rekey(g *domain.Group, epoch uint32, members []domain.Address) error {
	prev := g.Members
	g.Epoch = epoch
	g.Members = members
	g.Distributed = make(map[string]uint32)
	if err := s.groups.DeleteSenderKey(g.ID, s.self); err != nil {
		return err
	}
	for _, m := range prev {
		if !g.HasMember(m) {
			if err := s.groups.DeleteSenderKey(g.ID, m); err != nil {
				return err
			}
			jww.DEBUG.Printf("group: forgot sender key of %s in %s", m, g.ID)
		}
	}
	return s.groups.SaveGroup(*g)
}

func sameMembers(a, b []domain.Address) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// GetGroup returns the stored group.
func (s *Service) GetGroup(id domain.GroupID) (domain.Group, bool, error) {
	return s.groups.LoadGroup(id)
}

// EnsureSenderKey returns our chain for the current epoch, creating it if
// needed. A new chain has not been given to anyone yet.
func (s *Service) EnsureSenderKey(id domain.GroupID) (domain.SenderKeyState, error) {
	unlock := s.lock(id)
	defer unlock()
	st, _, err := s.ensureLocked(id)
	return st, err
}

func (s *Service) ensureLocked(id domain.GroupID) (domain.SenderKeyState, domain.Group, error) {
	g, err := s.load(id)
	if err != nil {
		return domain.SenderKeyState{}, domain.Group{}, err
	}
	st, ok, err := s.groups.LoadSenderKey(id, s.self)
	if err != nil {
		return domain.SenderKeyState{}, domain.Group{}, err
	}
	if ok && st.Epoch == g.Epoch && st.SigningPrivate != nil {
		return st, g, nil
	}
	st, err = senderkey.NewState(id, s.self, g.Epoch)
	if err != nil {
		return domain.SenderKeyState{}, domain.Group{}, err
	}
	if err := s.groups.SaveSenderKey(st); err != nil {
		return domain.SenderKeyState{}, domain.Group{}, err
	}
	g.Distributed = make(map[string]uint32)
	if err := s.groups.SaveGroup(g); err != nil {
		return domain.SenderKeyState{}, domain.Group{}, err
	}
	jww.DEBUG.Printf("group: new sender key %s for %s epoch %d", st.DistributionID, id, g.Epoch)
	return st, g, nil
}

// EncryptGroup seals plaintext with our chain. It fails with
// domain.ErrGroupKeyMissing when we have no chain for the current epoch.
func (s *Service) EncryptGroup(id domain.GroupID, plaintext []byte) (domain.GroupEnvelope, error) {
	unlock := s.lock(id)
	defer unlock()
	g, err := s.load(id)
	if err != nil {
		return domain.GroupEnvelope{}, err
	}
	st, ok, err := s.groups.LoadSenderKey(id, s.self)
	if err != nil {
		return domain.GroupEnvelope{}, err
	}
	if !ok || st.Epoch != g.Epoch || st.SigningPrivate == nil {
		return domain.GroupEnvelope{}, errors.Wrapf(domain.ErrGroupKeyMissing, ownKeyMissingErr, id, g.Epoch)
	}
	env, err := senderkey.Encrypt(&st, plaintext)
	if err != nil {
		return domain.GroupEnvelope{}, err
	}
	if err := s.groups.SaveSenderKey(st); err != nil {
		return domain.GroupEnvelope{}, err
	}
	env.ID = uuid.NewString()
	env.Timestamp = time.Now().Unix()
	return env, nil
}

// DistributeGroupKey seals our chain for each member over the pairwise
// session and returns the envelopes. With no members given it targets
// everyone but us. Delivery is the caller's job, followed by Acknowledge.
func (s *Service) DistributeGroupKey(
	ctx context.Context,
	id domain.GroupID,
	members []domain.Address,
) ([]domain.Envelope, error) {
	unlock := s.lock(id)
	st, g, err := s.ensureLocked(id)
	unlock()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		members = g.Members
	}
	payload, err := json.Marshal(senderkey.Distribution(st, g.Members))
	if err != nil {
		return nil, err
	}

	out := make([]domain.Envelope, 0, len(members))
	for _, m := range members {
		if m == s.self {
			continue
		}
		if !g.HasMember(m) {
			return nil, errors.Errorf(senderNotInErr, m, id)
		}
		env, err := s.sessions.EncryptAs(ctx, m, domain.EnvelopeSenderKey, payload)
		if err != nil {
			return nil, errors.WithMessagef(err, "distribute %s key to %s", id, m)
		}
		out = append(out, env)
	}
	jww.DEBUG.Printf("group: sealed %s epoch %d key for %d members", id, g.Epoch, len(out))
	return out, nil
}

// ProcessDistribution opens a sender key envelope and installs the chain.
// A distribution from a newer epoch also carries the sender's member list,
// which we adopt.
func (s *Service) ProcessDistribution(ctx context.Context, env domain.Envelope) (domain.GroupID, error) {
	if env.Type != domain.EnvelopeSenderKey {
		return "", errors.Errorf(wrongTypeErr, env.ID)
	}
	pt, err := s.sessions.Decrypt(ctx, env)
	if err != nil {
		return "", err
	}
	var d domain.SenderKeyDistribution
	if err := json.Unmarshal(pt, &d); err != nil {
		return "", errors.Wrapf(err, decodeDistErr, env.From)
	}
	id := d.GroupID

	unlock := s.lock(id)
	defer unlock()
	g, ok, err := s.groups.LoadGroup(id)
	if err != nil {
		return id, err
	}
	members := s.normalise(d.Members)
	if !containsAddr(d.Members, s.self) {
		return id, errors.Wrapf(domain.ErrNotMember, notInGroupErr, id)
	}
	if !containsAddr(members, env.From) {
		return id, errors.Errorf(senderNotInErr, env.From, id)
	}
	switch {
	case !ok:
		g = domain.Group{ID: id, Epoch: d.Epoch, Members: members, Distributed: make(map[string]uint32)}
		if err := s.groups.SaveGroup(g); err != nil {
			return id, err
		}
		jww.INFO.Printf("group: joined %s via %s at epoch %d", id, env.From, d.Epoch)
	case d.Epoch > g.Epoch:
		if err := s.rekey(&g, d.Epoch, members); err != nil {
			return id, err
		}
		jww.INFO.Printf("group: %s moved to epoch %d by %s", id, d.Epoch, env.From)
	}

	prev, had, err := s.groups.LoadSenderKey(id, env.From)
	if err != nil {
		return id, err
	}
	if had && d.Epoch < prev.Epoch {
		return id, errors.Wrapf(domain.ErrMessageTooOld, staleDistErr, env.From, id, d.Epoch, prev.Epoch)
	}
	if had && prev.DistributionID == d.DistributionID {
		// Same chain redelivered; prev can already reach every iteration
		// the copy can, and its consumed keys must stay consumed.
		jww.DEBUG.Printf("group: ignoring repeated %s key for %s", env.From, id)
		return id, nil
	}
	st, err := senderkey.FromDistribution(env.From, d)
	if err != nil {
		return id, err
	}
	if err := s.groups.SaveSenderKey(st); err != nil {
		return id, err
	}
	jww.DEBUG.Printf("group: installed %s key for %s epoch %d", env.From, id, d.Epoch)
	return id, nil
}

// DecryptGroup opens a group envelope from sender.
func (s *Service) DecryptGroup(
	id domain.GroupID,
	sender domain.Address,
	env domain.GroupEnvelope,
) ([]byte, error) {
	unlock := s.lock(id)
	defer unlock()
	g, ok, err := s.groups.LoadGroup(id)
	if err != nil {
		return nil, err
	}
	if ok && !g.HasMember(sender) {
		return nil, errors.Wrapf(domain.ErrNotMember, senderNotInErr, sender, id)
	}
	st, have, err := s.groups.LoadSenderKey(id, sender)
	if err != nil {
		return nil, err
	}
	switch {
	case !have:
		return nil, errors.Wrapf(domain.ErrMissingMemberKey, remoteKeyMissErr, sender, id)
	case env.Epoch > st.Epoch:
		return nil, errors.Wrapf(domain.ErrMissingMemberKey, futureEpochErr, sender, id, st.Epoch, env.Epoch)
	case env.Epoch < st.Epoch:
		return nil, errors.Wrapf(domain.ErrMessageTooOld, oldEpochErr, sender, id, env.Epoch, st.Epoch)
	}
	pt, err := s.limits.Decrypt(&st, env)
	if err != nil {
		return nil, err
	}
	if err := s.groups.SaveSenderKey(st); err != nil {
		return nil, err
	}
	return pt, nil
}

// MissingMembers lists members, other than us, who have not been given our
// sender key for the current epoch.
func (s *Service) MissingMembers(id domain.GroupID) ([]domain.Address, error) {
	unlock := s.lock(id)
	defer unlock()
	g, err := s.load(id)
	if err != nil {
		return nil, err
	}
	var out []domain.Address
	for _, m := range g.Members {
		if m == s.self {
			continue
		}
		if e, ok := g.Distributed[m.String()]; !ok || e != g.Epoch {
			out = append(out, m)
		}
	}
	return out, nil
}

// Acknowledge records that member holds our sender key for epoch.
func (s *Service) Acknowledge(id domain.GroupID, member domain.Address, epoch uint32) error {
	unlock := s.lock(id)
	defer unlock()
	g, err := s.load(id)
	if err != nil {
		return err
	}
	if epoch != g.Epoch || !g.HasMember(member) {
		return nil
	}
	g.Distributed[member.String()] = epoch
	return s.groups.SaveGroup(g)
}

func containsAddr(list []domain.Address, a domain.Address) bool {
	for _, m := range list {
		if m == a {
			return true
		}
	}
	return false
}

// Compile-time assertion that Service implements domain.GroupService.
var _ domain.GroupService = (*Service)(nil)
