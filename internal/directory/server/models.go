package server

import "time"

// bundleRecord holds the published bundle minus its one-time prekeys.
type bundleRecord struct {
	Username  string `gorm:"primaryKey"`
	DeviceID  uint32 `gorm:"primaryKey"`
	Payload   []byte `gorm:"not null"`
	UpdatedAt time.Time
}

func (bundleRecord) TableName() string { return "bundles" }

// oneTimePreKeyRecord rows are never deleted: a consumed key keeps its row
// so a republished bundle cannot hand it out again.
type oneTimePreKeyRecord struct {
	Username   string `gorm:"primaryKey"`
	DeviceID   uint32 `gorm:"primaryKey"`
	KeyID      uint32 `gorm:"primaryKey"`
	PublicKey  []byte `gorm:"not null"`
	ConsumedAt *time.Time
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

func (oneTimePreKeyRecord) TableName() string { return "one_time_prekeys" }

type envelopeRecord struct {
	Seq        uint64 `gorm:"primaryKey;autoIncrement"`
	EnvelopeID string `gorm:"uniqueIndex;not null"`
	Username   string `gorm:"index:idx_envelope_owner;not null"`
	DeviceID   uint32 `gorm:"index:idx_envelope_owner;not null"`
	Payload    []byte `gorm:"not null"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

func (envelopeRecord) TableName() string { return "envelopes" }

// keyDeliveryRecord tracks a pushed sender-key envelope until its recipient
// acks it.
type keyDeliveryRecord struct {
	EnvelopeID      string `gorm:"primaryKey"`
	GroupID         string `gorm:"index:idx_delivery;not null"`
	Sender          string `gorm:"index:idx_delivery;not null"`
	Epoch           uint32 `gorm:"index:idx_delivery"`
	RecipientUser   string `gorm:"not null"`
	RecipientDevice uint32
}

func (keyDeliveryRecord) TableName() string { return "group_key_deliveries" }

type groupEnvelopeRecord struct {
	Seq        uint64 `gorm:"primaryKey;autoIncrement"`
	EnvelopeID string `gorm:"uniqueIndex:idx_group_delivery;not null"`
	Username   string `gorm:"uniqueIndex:idx_group_delivery;index:idx_group_owner;not null"`
	DeviceID   uint32 `gorm:"uniqueIndex:idx_group_delivery;index:idx_group_owner"`
	Payload    []byte `gorm:"not null"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

func (groupEnvelopeRecord) TableName() string { return "group_envelopes" }
