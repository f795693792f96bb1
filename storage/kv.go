package storage

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Read when there is no entry for a key,
// including one that has expired.
var ErrNotFound = errors.New("key not found")

// Keys live for 30 days unless the config says otherwise.
const defaultKeyTTL = 30 * 24 * time.Hour

// KVConfig contains settings specific to BadgerDB connections. An empty
// StorageDirPath means there is no database.
type KVConfig struct {
	StorageDirPath string
	KeyTTLDuration time.Duration
}

// UnmarshalYAML parses a user-provided YAML configuration, returning any
// parsing errors.
func (c *KVConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	v := make(map[string]string)
	err := unmarshal(&v)

	if err != nil {
		return fmt.Errorf("can't parse the storage config: %v", err)
	}

	c.StorageDirPath = v["storageDir"]

	if d, ok := v["keyTTL"]; ok {
		c.KeyTTLDuration, err = time.ParseDuration(d)
		if err != nil {
			return fmt.Errorf("can't parse the key TTL as a duration: %v", err)
		}
	}

	return nil
}

// CheckAndSetDefaults validates c and either returns a copy of c with
// default settings applied or returns an error due to an invalid
// configuration
func (c *KVConfig) CheckAndSetDefaults() (KVConfig, error) {
	n := *c

	if n.KeyTTLDuration < 0 {
		return KVConfig{}, errors.New("the key TTL can't be negative")
	}

	if n.KeyTTLDuration == 0 {
		n.KeyTTLDuration = defaultKeyTTL
	}

	return n, nil
}

// Enabled reports whether a storage directory is configured.
func (c *KVConfig) Enabled() bool {
	return c.StorageDirPath != ""
}

// KeyValue exposes a common interface for performing CRUD operations on an
// underlying storage layer.
//
// Implentations need to include connection logic in code to initialize
// a Store.
type KeyValue interface {
	// Replace the value of an entry or create a new one if it doesn't exist
	Put(KVEntry) error
	// Return an entry given its key
	Read(key []byte) (KVEntry, error)
	// Cleanup performs routine deletion of old records. We assign
	// TTLs to KV pairs and delete them periodically.
	Cleanup() error
	// Drain/tear down the connection, or something analogous for
	// an embedded database
	Close() error
}

// KVEntry is what we'll write to and read from the KV store
type KVEntry struct {
	Key   []byte
	Value []byte
}
