package storage

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"gopkg.in/yaml.v2"
)

func TestKVConfig_UnmarshalYAML(t *testing.T) {
	tests := []struct {
		name    string
		config  string
		wantErr bool
	}{
		{
			name: "valid/canonical case",
			config: `storageDir: ./tempTestDir3012705204
keyTTL: "168h"`,
			wantErr: false,
		},
		{
			name:    "no key TTL",
			config:  `storageDir: ./tempTestDir3012705204`,
			wantErr: false,
		},
		{
			name: "key TTL not a duration",
			config: `storageDir: ./tempTestDir3012705204
keyTTL: "168"`,
			wantErr: true,
		},
		{
			name:    "no storage path",
			config:  `keyTTL: "168h"`,
			wantErr: false,
		},
		{
			name:    "not a JSON object",
			config:  `[]`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := bytes.NewBuffer([]byte(tt.config))
			dec := yaml.NewDecoder(buf)
			var c KVConfig
			if err := dec.Decode(&c); (err != nil) != tt.wantErr {
				t.Errorf("wantErr = %v but got %v with err %v", tt.wantErr, err != nil, err)
			}

		})
	}
}

func TestKVConfig_CheckAndSetDefaults(t *testing.T) {
	tests := []struct {
		name    string
		config  KVConfig
		wantTTL time.Duration
		wantErr bool
	}{
		{
			name:    "default TTL",
			config:  KVConfig{StorageDirPath: "/tmp/journal"},
			wantTTL: defaultKeyTTL,
		},
		{
			name:    "explicit TTL",
			config:  KVConfig{StorageDirPath: "/tmp/journal", KeyTTLDuration: time.Hour},
			wantTTL: time.Hour,
		},
		{
			name:    "negative TTL",
			config:  KVConfig{StorageDirPath: "/tmp/journal", KeyTTLDuration: -time.Hour},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := tt.config.CheckAndSetDefaults()
			if (err != nil) != tt.wantErr {
				t.Fatalf("wantErr = %v but got %v with err %v", tt.wantErr, err != nil, err)
			}
			if err == nil && c.KeyTTLDuration != tt.wantTTL {
				t.Errorf("expected a TTL of %v but got %v", tt.wantTTL, c.KeyTTLDuration)
			}
		})
	}
}

func TestNoOpDB(t *testing.T) {
	var db KeyValue = &NoOpDB{}

	if err := db.Put(KVEntry{Key: []byte("k"), Value: []byte("v")}); err == nil {
		t.Error("expected the no-op database to refuse writes")
	}
	if _, err := db.Read([]byte("k")); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound but got %v", err)
	}
	if err := db.Cleanup(); err != nil {
		t.Errorf("unexpected cleanup error: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("unexpected close error: %v", err)
	}
}
