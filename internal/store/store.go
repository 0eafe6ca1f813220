package store

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/elixxir/ekv"
)

const (
	// currentVersion is stamped on every record so later layouts can
	// upgrade in place.
	currentVersion = 0

	keySep = "/"
)

// Store is the local state of one device: identity, prekeys, sessions,
// groups and sender keys. On disk it is an ekv Filestore, which encrypts
// every value with a key derived from the passphrase.
type Store struct {
	kv ekv.KeyValue
	mu sync.Mutex
}

// record wraps stored values with a version and write time.
type record struct {
	Version   uint64
	Timestamp time.Time
	Data      []byte
}

// Open opens (or creates) the encrypted store in dir.
func Open(dir, passphrase string) (*Store, error) {
	fs, err := ekv.NewFilestore(dir, passphrase)
	if err != nil {
		return nil, errors.Wrapf(err, "open store %s", dir)
	}
	return New(fs), nil
}

// New wraps an existing key-value backend.
func New(kv ekv.KeyValue) *Store { return &Store{kv: kv} }

// NewMemory returns an in-memory store for tests and ephemeral use.
func NewMemory() *Store { return New(ekv.MakeMemstore()) }

func makeKey(parts ...string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += keySep + p
	}
	return out
}

// rawValue is a raw value in the ekv Marshaler/Unmarshaler form.
type rawValue []byte

func (b rawValue) Marshal() []byte { return b }

func (b *rawValue) Unmarshal(data []byte) error {
	*b = append((*b)[:0], data...)
	return nil
}

// put serialises v and writes it under key. Callers hold s.mu.
func (s *Store) put(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "marshal %s", key)
	}
	obj, err := json.Marshal(record{Version: currentVersion, Timestamp: time.Now().UTC(), Data: data})
	if err != nil {
		return errors.Wrapf(err, "marshal record %s", key)
	}
	if err := s.kv.Set(key, rawValue(obj)); err != nil {
		jww.ERROR.Printf("store: write %s: %v", key, err)
		return errors.Wrapf(err, "write %s", key)
	}
	return nil
}

// get reads key into out and reports whether it existed. Callers hold s.mu.
func (s *Store) get(key string, out any) (bool, error) {
	var obj rawValue
	if err := s.kv.Get(key, &obj); err != nil {
		if !ekv.Exists(err) {
			return false, nil
		}
		return false, errors.Wrapf(err, "read %s", key)
	}
	var rec record
	if err := json.Unmarshal(obj, &rec); err != nil {
		return false, errors.Wrapf(err, "unmarshal record %s", key)
	}
	if rec.Version > currentVersion {
		return false, errors.Errorf("%s: unsupported record version %d", key, rec.Version)
	}
	if err := json.Unmarshal(rec.Data, out); err != nil {
		return false, errors.Wrapf(err, "unmarshal %s", key)
	}
	return true, nil
}

// del removes key; a missing key is not an error. Callers hold s.mu.
func (s *Store) del(key string) error {
	if err := s.kv.Delete(key); err != nil && ekv.Exists(err) {
		return errors.Wrapf(err, "delete %s", key)
	}
	return nil
}

// index keeps the member list for a key family, since ekv cannot list keys.
func (s *Store) index(key string) ([]string, error) {
	var ids []string
	if _, err := s.get(key, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) indexAdd(key, id string) error {
	ids, err := s.index(key)
	if err != nil {
		return err
	}
	for _, have := range ids {
		if have == id {
			return nil
		}
	}
	return s.put(key, append(ids, id))
}

func (s *Store) indexRemove(key, id string) error {
	ids, err := s.index(key)
	if err != nil {
		return err
	}
	out := ids[:0]
	for _, have := range ids {
		if have != id {
			out = append(out, have)
		}
	}
	return s.put(key, out)
}
