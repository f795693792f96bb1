package userconfig

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ptgott/localmail/email"
	"github.com/ptgott/localmail/storage"
	"github.com/rs/zerolog"

	yaml "gopkg.in/yaml.v2"
)

// Meta represents all current config options that the application can use,
// i.e., after validation and parsing
type Meta struct {
	EmailSettings email.Config     `yaml:"email"`
	Journal       storage.KVConfig `yaml:"journal"`
	Log           Log              `yaml:"log"`
}

// Log contains config options for the application's logger
type Log struct {
	Level zerolog.Level
	// Console prints human-readable lines instead of JSON.
	Console bool
}

// UnmarshalYAML parses a user-provided YAML configuration, returning any
// parsing errors.
func (l *Log) UnmarshalYAML(unmarshal func(interface{}) error) error {
	v := make(map[string]string)
	err := unmarshal(&v)

	if err != nil {
		return fmt.Errorf("can't parse the log config: %v", err)
	}

	lvl, ok := v["level"]
	if !ok {
		lvl = "info"
	}
	l.Level, err = ParseLevel(lvl)
	if err != nil {
		return err
	}

	switch v["format"] {
	case "", "json":
		l.Console = false
	case "console", "text":
		l.Console = true
	default:
		return fmt.Errorf("log format must be \"json\" or \"console\", not %q", v["format"])
	}

	return nil
}

// ParseLevel accepts the log levels the application supports: "debug",
// "info", "warn" and "error".
func ParseLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "info", "":
		return zerolog.InfoLevel, nil
	case "warn":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.NoLevel, fmt.Errorf(
			"log level must be \"debug\", \"info\", \"warn\" or \"error\", not %q", s,
		)
	}
}

// CheckAndSetDefaults validates m and either returns a copy of m with default
// settings applied or returns an error due to an invalid configuration
func (m *Meta) CheckAndSetDefaults() (Meta, error) {
	c := Meta{
		Log: m.Log,
	}

	e, err := m.EmailSettings.CheckAndSetDefaults()
	if err != nil {
		return Meta{}, fmt.Errorf("invalid email settings: %v", err)
	}
	c.EmailSettings = e

	j, err := m.Journal.CheckAndSetDefaults()
	if err != nil {
		return Meta{}, fmt.Errorf("invalid journal settings: %v", err)
	}
	c.Journal = j

	return c, nil

}

// Default returns the configuration used when there is no config file: the
// local MTA on port 25 with strict TLS verification and no journal.
func Default() Meta {
	return Meta{
		Log: Log{Level: zerolog.InfoLevel},
	}
}

// Parse generates usable configurations from possibly arbitrary user input.
// An error indicates a problem with parsing. Every section is optional, and
// an empty document yields Default(). Call CheckAndSetDefaults on the
// result before using it.
func Parse(r io.Reader) (*Meta, error) {
	m := Default()
	err := yaml.NewDecoder(r).Decode(&m)
	if errors.Is(err, io.EOF) {
		return &m, nil
	}
	if err != nil {
		return &Meta{}, fmt.Errorf("can't read the config file as YAML: %v", err)
	}

	return &m, nil

}
