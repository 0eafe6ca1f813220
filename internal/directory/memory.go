package directory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"cipherkit/internal/domain"
)

type keyDelivery struct {
	group     domain.GroupID
	sender    domain.Address
	epoch     uint32
	recipient domain.Address
}

// Memory is an in-process directory. It backs tests and single-process demos
// and mirrors what the HTTP server persists.
type Memory struct {
	mu      sync.Mutex
	bundles map[domain.Address]domain.PreKeyBundle
	pool    map[domain.Address][]domain.OneTimePreKeyPublic
	// seen holds every one-time prekey id ever accepted so a republished
	// bundle cannot reintroduce one that was already handed out.
	seen    map[domain.Address]map[domain.OneTimePreKeyID]struct{}
	mailbox map[domain.Address][]domain.Envelope
	groupMb map[domain.Address][]domain.GroupEnvelope
	// pending maps a key envelope id to the delivery it belongs to until
	// the recipient acks it.
	pending map[string]keyDelivery
}

// NewMemory returns an empty in-memory directory.
func NewMemory() *Memory {
	return &Memory{
		bundles: make(map[domain.Address]domain.PreKeyBundle),
		pool:    make(map[domain.Address][]domain.OneTimePreKeyPublic),
		seen:    make(map[domain.Address]map[domain.OneTimePreKeyID]struct{}),
		mailbox: make(map[domain.Address][]domain.Envelope),
		groupMb: make(map[domain.Address][]domain.GroupEnvelope),
		pending: make(map[string]keyDelivery),
	}
}

var _ domain.Directory = (*Memory)(nil)

// PublishBundle replaces the identity and signed prekey for the bundle's
// address and adds any one-time prekeys not seen before.
func (m *Memory) PublishBundle(ctx context.Context, b domain.PreKeyBundle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.Address.IsZero() {
		return errors.New("bundle has no address")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := b.OneTimePreKeys
	b.OneTimePreKeys = nil
	if prev, ok := m.bundles[b.Address]; ok && prev.Identity() != b.Identity() {
		// A reinstalled device starts its prekey ids over.
		delete(m.pool, b.Address)
		delete(m.seen, b.Address)
	}
	m.bundles[b.Address] = b
	m.addLocked(b.Address, keys)
	return nil
}

// FetchBundle hands out the bundle with at most one one-time prekey, which
// is removed from the pool.
func (m *Memory) FetchBundle(ctx context.Context, addr domain.Address) (domain.PreKeyBundle, error) {
	if err := ctx.Err(); err != nil {
		return domain.PreKeyBundle{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bundles[addr]
	if !ok {
		return domain.PreKeyBundle{}, errors.Wrapf(domain.ErrNotFound, "bundle for %s", addr)
	}
	if pool := m.pool[addr]; len(pool) > 0 {
		b.OneTimePreKeys = []domain.OneTimePreKeyPublic{pool[0]}
		m.pool[addr] = pool[1:]
	}
	return b, nil
}

// AddOneTimePreKeys appends fresh one-time prekeys to addr's pool.
func (m *Memory) AddOneTimePreKeys(ctx context.Context, addr domain.Address, keys []domain.OneTimePreKeyPublic) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bundles[addr]; !ok {
		return errors.Wrapf(domain.ErrNotFound, "bundle for %s", addr)
	}
	m.addLocked(addr, keys)
	return nil
}

func (m *Memory) addLocked(addr domain.Address, keys []domain.OneTimePreKeyPublic) {
	seen := m.seen[addr]
	if seen == nil {
		seen = make(map[domain.OneTimePreKeyID]struct{})
		m.seen[addr] = seen
	}
	for _, k := range keys {
		if _, dup := seen[k.ID]; dup {
			continue
		}
		seen[k.ID] = struct{}{}
		m.pool[addr] = append(m.pool[addr], k)
	}
}

// PoolSize reports how many one-time prekeys addr has left.
func (m *Memory) PoolSize(addr domain.Address) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pool[addr])
}

// SendEnvelope queues env for env.To, assigning an id when it has none.
func (m *Memory) SendEnvelope(ctx context.Context, env domain.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queueLocked(env)
	return nil
}

func (m *Memory) queueLocked(env domain.Envelope) string {
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if env.Timestamp == 0 {
		env.Timestamp = time.Now().Unix()
	}
	m.mailbox[env.To] = append(m.mailbox[env.To], env)
	return env.ID
}

// FetchEnvelopes returns up to limit queued envelopes without removing them.
func (m *Memory) FetchEnvelopes(ctx context.Context, addr domain.Address, limit int) ([]domain.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.mailbox[addr]
	if limit > 0 && limit < len(q) {
		q = q[:limit]
	}
	return append([]domain.Envelope(nil), q...), nil
}

// AckEnvelopes removes the named envelopes from addr's mailbox.
func (m *Memory) AckEnvelopes(ctx context.Context, addr domain.Address, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	drop := toSet(ids)
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.mailbox[addr][:0]
	for _, env := range m.mailbox[addr] {
		if _, ok := drop[env.ID]; ok {
			delete(m.pending, env.ID)
			continue
		}
		kept = append(kept, env)
	}
	m.mailbox[addr] = kept
	return nil
}

// PushGroupKeys queues the sender-key envelopes and tracks them until each
// recipient acks.
func (m *Memory) PushGroupKeys(ctx context.Context, push domain.GroupKeyPush) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, env := range push.Envelopes {
		id := m.queueLocked(env)
		m.pending[id] = keyDelivery{
			group:     push.GroupID,
			sender:    push.Sender,
			epoch:     push.Epoch,
			recipient: env.To,
		}
	}
	return nil
}

// MissingMembers lists recipients that have not yet acked the sender key
// pushed for (group, sender, epoch).
func (m *Memory) MissingMembers(
	ctx context.Context,
	group domain.GroupID,
	sender domain.Address,
	epoch uint32,
) ([]domain.Address, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Address
	seen := make(map[domain.Address]struct{})
	for _, d := range m.pending {
		if d.group != group || d.sender != sender || d.epoch != epoch {
			continue
		}
		if _, dup := seen[d.recipient]; dup {
			continue
		}
		seen[d.recipient] = struct{}{}
		out = append(out, d.recipient)
	}
	sortAddresses(out)
	return out, nil
}

// SendGroupEnvelope fans env out to every recipient's group mailbox.
func (m *Memory) SendGroupEnvelope(ctx context.Context, env domain.GroupEnvelope, recipients []domain.Address) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range recipients {
		e := env
		e.Recipient = r
		m.groupMb[r] = append(m.groupMb[r], e)
	}
	return nil
}

// FetchGroupEnvelopes returns up to limit queued group envelopes.
func (m *Memory) FetchGroupEnvelopes(ctx context.Context, addr domain.Address, limit int) ([]domain.GroupEnvelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.groupMb[addr]
	if limit > 0 && limit < len(q) {
		q = q[:limit]
	}
	return append([]domain.GroupEnvelope(nil), q...), nil
}

// AckGroupEnvelopes removes the named group envelopes from addr's mailbox.
func (m *Memory) AckGroupEnvelopes(ctx context.Context, addr domain.Address, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	drop := toSet(ids)
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.groupMb[addr][:0]
	for _, env := range m.groupMb[addr] {
		if _, ok := drop[env.ID]; !ok {
			kept = append(kept, env)
		}
	}
	m.groupMb[addr] = kept
	return nil
}
