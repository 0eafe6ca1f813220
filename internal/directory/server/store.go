package server

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"cipherkit/internal/domain"
)

// Store is a gorm-backed directory. It implements domain.Directory so the
// router can serve it, and tests can use it directly.
type Store struct{ db *gorm.DB }

// New wraps an open database. Call Migrate before first use.
func New(db *gorm.DB) *Store { return &Store{db: db} }

// Open opens the sqlite database at dsn and migrates it.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, errors.Wrapf(err, "open directory database %q", dsn)
	}
	s := New(db)
	if err := s.Migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Migrate creates or updates the directory tables.
func (s *Store) Migrate() error {
	return errors.Wrap(s.db.AutoMigrate(
		&bundleRecord{},
		&oneTimePreKeyRecord{},
		&envelopeRecord{},
		&keyDeliveryRecord{},
		&groupEnvelopeRecord{},
	), "migrate directory")
}

var _ domain.Directory = (*Store)(nil)

func (s *Store) PublishBundle(ctx context.Context, b domain.PreKeyBundle) error {
	if b.Address.IsZero() {
		return errors.New("bundle has no address")
	}
	keys := b.OneTimePreKeys
	b.OneTimePreKeys = nil
	payload, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := resetIfReinstalled(tx, b); err != nil {
			return err
		}
		rec := bundleRecord{
			Username: string(b.Address.User),
			DeviceID: uint32(b.Address.Device),
			Payload:  payload,
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "username"}, {Name: "device_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
		}).Create(&rec).Error
		if err != nil {
			return err
		}
		return addKeys(tx, b.Address, keys)
	})
}

// resetIfReinstalled drops the one-time prekey history when the address
// comes back with a different identity, since its key ids start over.
func resetIfReinstalled(tx *gorm.DB, b domain.PreKeyBundle) error {
	var prev bundleRecord
	err := tx.First(&prev, "username = ? AND device_id = ?", string(b.Address.User), uint32(b.Address.Device)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	var old domain.PreKeyBundle
	if err := json.Unmarshal(prev.Payload, &old); err != nil {
		return errors.Wrap(err, "decode stored bundle")
	}
	if old.Identity() == b.Identity() {
		return nil
	}
	return tx.Where("username = ? AND device_id = ?", prev.Username, prev.DeviceID).
		Delete(&oneTimePreKeyRecord{}).Error
}

func addKeys(tx *gorm.DB, addr domain.Address, keys []domain.OneTimePreKeyPublic) error {
	if len(keys) == 0 {
		return nil
	}
	rows := make([]oneTimePreKeyRecord, len(keys))
	for i, k := range keys {
		rows[i] = oneTimePreKeyRecord{
			Username:  string(addr.User),
			DeviceID:  uint32(addr.Device),
			KeyID:     uint32(k.ID),
			PublicKey: append([]byte(nil), k.Pub[:]...),
		}
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

func (s *Store) FetchBundle(ctx context.Context, addr domain.Address) (domain.PreKeyBundle, error) {
	var out domain.PreKeyBundle
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec bundleRecord
		err := tx.First(&rec, "username = ? AND device_id = ?", string(addr.User), uint32(addr.Device)).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errors.Wrapf(domain.ErrNotFound, "bundle for %s", addr)
		}
		if err != nil {
			return err
		}
		if err := json.Unmarshal(rec.Payload, &out); err != nil {
			return errors.Wrap(err, "decode stored bundle")
		}

		var key oneTimePreKeyRecord
		err = tx.Where("username = ? AND device_id = ? AND consumed_at IS NULL", rec.Username, rec.DeviceID).
			Order("key_id ASC").
			First(&key).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		res := tx.Model(&oneTimePreKeyRecord{}).
			Where("username = ? AND device_id = ? AND key_id = ? AND consumed_at IS NULL",
				key.Username, key.DeviceID, key.KeyID).
			Update("consumed_at", time.Now().UTC())
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			var pub domain.X25519Public
			copy(pub[:], key.PublicKey)
			out.OneTimePreKeys = []domain.OneTimePreKeyPublic{{ID: domain.OneTimePreKeyID(key.KeyID), Pub: pub}}
		}
		return nil
	})
	if err != nil {
		return domain.PreKeyBundle{}, err
	}
	return out, nil
}

func (s *Store) AddOneTimePreKeys(ctx context.Context, addr domain.Address, keys []domain.OneTimePreKeyPublic) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&bundleRecord{}).
			Where("username = ? AND device_id = ?", string(addr.User), uint32(addr.Device)).
			Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return errors.Wrapf(domain.ErrNotFound, "bundle for %s", addr)
		}
		return addKeys(tx, addr, keys)
	})
}

// RemainingPreKeys counts the unconsumed one-time prekeys for addr.
func (s *Store) RemainingPreKeys(ctx context.Context, addr domain.Address) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&oneTimePreKeyRecord{}).
		Where("username = ? AND device_id = ? AND consumed_at IS NULL", string(addr.User), uint32(addr.Device)).
		Count(&n).Error
	return n, err
}

func envelopeRow(env *domain.Envelope) (envelopeRecord, error) {
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if env.Timestamp == 0 {
		env.Timestamp = time.Now().Unix()
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return envelopeRecord{}, err
	}
	return envelopeRecord{
		EnvelopeID: env.ID,
		Username:   string(env.To.User),
		DeviceID:   uint32(env.To.Device),
		Payload:    payload,
	}, nil
}

func (s *Store) SendEnvelope(ctx context.Context, env domain.Envelope) error {
	rec, err := envelopeRow(&env)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

func (s *Store) FetchEnvelopes(ctx context.Context, addr domain.Address, limit int) ([]domain.Envelope, error) {
	var rows []envelopeRecord
	q := s.db.WithContext(ctx).
		Where("username = ? AND device_id = ?", string(addr.User), uint32(addr.Device)).
		Order("seq ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Envelope, 0, len(rows))
	for _, r := range rows {
		var env domain.Envelope
		if err := json.Unmarshal(r.Payload, &env); err != nil {
			return nil, errors.Wrapf(err, "decode envelope %s", r.EnvelopeID)
		}
		out = append(out, env)
	}
	return out, nil
}

func (s *Store) AckEnvelopes(ctx context.Context, addr domain.Address, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("username = ? AND device_id = ? AND envelope_id IN ?",
			string(addr.User), uint32(addr.Device), ids).
			Delete(&envelopeRecord{}).Error; err != nil {
			return err
		}
		return tx.Where("recipient_user = ? AND recipient_device = ? AND envelope_id IN ?",
			string(addr.User), uint32(addr.Device), ids).
			Delete(&keyDeliveryRecord{}).Error
	})
}

func (s *Store) PushGroupKeys(ctx context.Context, push domain.GroupKeyPush) error {
	if len(push.Envelopes) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range push.Envelopes {
			env := push.Envelopes[i]
			rec, err := envelopeRow(&env)
			if err != nil {
				return err
			}
			if err := tx.Create(&rec).Error; err != nil {
				return err
			}
			d := keyDeliveryRecord{
				EnvelopeID:      env.ID,
				GroupID:         string(push.GroupID),
				Sender:          push.Sender.String(),
				Epoch:           push.Epoch,
				RecipientUser:   string(env.To.User),
				RecipientDevice: uint32(env.To.Device),
			}
			if err := tx.Create(&d).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) MissingMembers(
	ctx context.Context,
	group domain.GroupID,
	sender domain.Address,
	epoch uint32,
) ([]domain.Address, error) {
	var rows []keyDeliveryRecord
	if err := s.db.WithContext(ctx).
		Where("group_id = ? AND sender = ? AND epoch = ?", string(group), sender.String(), epoch).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	seen := make(map[domain.Address]struct{}, len(rows))
	out := make([]domain.Address, 0, len(rows))
	for _, r := range rows {
		a := domain.Address{User: domain.Username(r.RecipientUser), Device: domain.DeviceID(r.RecipientDevice)}
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (s *Store) SendGroupEnvelope(ctx context.Context, env domain.GroupEnvelope, recipients []domain.Address) error {
	if len(recipients) == 0 {
		return nil
	}
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	rows := make([]groupEnvelopeRecord, 0, len(recipients))
	for _, r := range recipients {
		e := env
		e.Recipient = r
		payload, err := json.Marshal(e)
		if err != nil {
			return err
		}
		rows = append(rows, groupEnvelopeRecord{
			EnvelopeID: env.ID,
			Username:   string(r.User),
			DeviceID:   uint32(r.Device),
			Payload:    payload,
		})
	}
	return s.db.WithContext(ctx).Create(&rows).Error
}

func (s *Store) FetchGroupEnvelopes(ctx context.Context, addr domain.Address, limit int) ([]domain.GroupEnvelope, error) {
	var rows []groupEnvelopeRecord
	q := s.db.WithContext(ctx).
		Where("username = ? AND device_id = ?", string(addr.User), uint32(addr.Device)).
		Order("seq ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.GroupEnvelope, 0, len(rows))
	for _, r := range rows {
		var env domain.GroupEnvelope
		if err := json.Unmarshal(r.Payload, &env); err != nil {
			return nil, errors.Wrapf(err, "decode group envelope %s", r.EnvelopeID)
		}
		out = append(out, env)
	}
	return out, nil
}

func (s *Store) AckGroupEnvelopes(ctx context.Context, addr domain.Address, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Where("username = ? AND device_id = ? AND envelope_id IN ?", string(addr.User), uint32(addr.Device), ids).
		Delete(&groupEnvelopeRecord{}).Error
}
