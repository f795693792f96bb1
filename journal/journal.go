// Package journal keeps a short-lived diagnostic record of delivery
// attempts in a storage.KeyValue, keyed by Message-ID.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ptgott/localmail/email"
	"github.com/ptgott/localmail/storage"
)

const keyPrefix = "attempt/"

// ErrNotFound means there is no attempt recorded for a Message-ID, or it
// has expired.
var ErrNotFound = errors.New("no delivery attempt recorded for that message ID")

// Journal implements email.Recorder.
type Journal struct {
	kv storage.KeyValue
}

var _ email.Recorder = (*Journal)(nil)

// New returns a Journal backed by kv. The Journal owns kv from then on and
// closes it in Close.
func New(kv storage.KeyValue) *Journal {
	return &Journal{kv: kv}
}

// Open opens the BadgerDB database described by conf. If conf has no
// storage directory, the Journal is backed by a storage.NoOpDB.
func Open(conf storage.KVConfig) (*Journal, error) {
	if !conf.Enabled() {
		return New(&storage.NoOpDB{}), nil
	}
	db, err := storage.NewBadgerDB(&conf)
	if err != nil {
		return nil, err
	}
	return New(db), nil
}

func key(messageID string) []byte {
	return []byte(keyPrefix + messageID)
}

// Record stores a, replacing any earlier attempt with the same Message-ID.
func (j *Journal) Record(a email.Attempt) error {
	b, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("can't encode the delivery attempt: %v", err)
	}
	return j.kv.Put(storage.KVEntry{
		Key:   key(a.MessageID),
		Value: b,
	})
}

// Lookup returns the attempt recorded for messageID.
func (j *Journal) Lookup(messageID string) (email.Attempt, error) {
	e, err := j.kv.Read(key(messageID))
	if errors.Is(err, storage.ErrNotFound) {
		return email.Attempt{}, ErrNotFound
	}
	if err != nil {
		return email.Attempt{}, err
	}

	var a email.Attempt
	if err := json.Unmarshal(e.Value, &a); err != nil {
		return email.Attempt{}, fmt.Errorf("can't decode the delivery attempt: %v", err)
	}
	return a, nil
}

// Close removes expired entries and closes the underlying store.
func (j *Journal) Close() error {
	cerr := j.kv.Cleanup()
	if err := j.kv.Close(); err != nil {
		return err
	}
	return cerr
}
