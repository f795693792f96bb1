package email

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	units "github.com/docker/go-units"
)

// Verification controls how the server certificate is checked during
// STARTTLS or implicit TLS.
type Verification string

const (
	// VerifyStrict checks the certificate chain and host name.
	VerifyStrict Verification = "strict"
	// VerifyRelaxed accepts any certificate. Only meant for a local MTA
	// with a self-signed certificate.
	VerifyRelaxed Verification = "relaxed"
)

const (
	defaultHost      = "localhost"
	defaultPort      = 25
	defaultLocalName = "localhost"
)

// Config represents the fixed settings of a Transport. The zero value
// points at localhost:25 with strict certificate verification once
// CheckAndSetDefaults has run.
type Config struct {
	Host string
	Port int
	// Secure dials with TLS from the start (e.g., port 465) instead of
	// upgrading a plaintext connection with STARTTLS.
	Secure bool
	// RequireTLS fails the send if the server doesn't offer STARTTLS.
	// Otherwise STARTTLS is used whenever the server advertises it.
	RequireTLS      bool
	TLSVerification Verification
	// RootCAPath is a PEM bundle trusted in addition to the system roots
	// when verification is strict.
	RootCAPath string
	Username   string
	Password   string
	// LocalName is sent with EHLO and used as the domain part of
	// generated Message-IDs.
	LocalName string
	// Timeout bounds a whole SMTP session, dial included. Zero means the
	// caller's context is the only bound.
	Timeout time.Duration
	// MaxMessageSize in bytes. Zero means no limit.
	MaxMessageSize int64
}

// UnmarshalYAML parses the "email" section of a user-provided config,
// returning any parsing errors. Defaults are applied later by
// CheckAndSetDefaults.
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	v := make(map[string]string)
	err := unmarshal(&v)

	if err != nil {
		return fmt.Errorf("can't parse the email config: %v", err)
	}

	c.Host = v["host"]
	c.RootCAPath = v["rootCA"]
	c.Username = v["username"]
	c.Password = v["password"]
	c.LocalName = v["localName"]
	c.TLSVerification = Verification(v["tlsVerification"])

	if p, ok := v["port"]; ok {
		c.Port, err = strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("can't parse the SMTP port as an integer: %v", err)
		}
	}

	if s, ok := v["secure"]; ok {
		c.Secure, err = strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("can't parse \"secure\" as a boolean: %v", err)
		}
	}

	if s, ok := v["requireTLS"]; ok {
		c.RequireTLS, err = strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("can't parse \"requireTLS\" as a boolean: %v", err)
		}
	}

	if d, ok := v["timeout"]; ok {
		c.Timeout, err = time.ParseDuration(d)
		if err != nil {
			return fmt.Errorf("can't parse the SMTP timeout as a duration: %v", err)
		}
	}

	if s, ok := v["maxMessageSize"]; ok {
		c.MaxMessageSize, err = units.FromHumanSize(s)
		if err != nil {
			return fmt.Errorf("can't parse the maximum message size: %v", err)
		}
	}

	return nil
}

// CheckAndSetDefaults validates c and either returns a copy of c with
// default settings applied or returns an error due to an invalid
// configuration.
func (c *Config) CheckAndSetDefaults() (Config, error) {
	n := *c

	if n.Host == "" {
		n.Host = defaultHost
	}

	if n.Port == 0 {
		n.Port = defaultPort
	}

	if n.Port < 0 || n.Port > 65535 {
		return Config{}, fmt.Errorf("%v is not a valid SMTP port", n.Port)
	}

	switch n.TLSVerification {
	case "":
		n.TLSVerification = VerifyStrict
	case VerifyStrict, VerifyRelaxed:
	default:
		return Config{}, fmt.Errorf(
			"tlsVerification must be %q or %q, not %q",
			VerifyStrict,
			VerifyRelaxed,
			n.TLSVerification,
		)
	}

	if (n.Username == "") != (n.Password == "") {
		return Config{}, errors.New("must supply both a username and a password, or neither")
	}

	if n.LocalName == "" {
		n.LocalName = defaultLocalName
	}

	if n.Timeout < 0 {
		return Config{}, errors.New("the SMTP timeout can't be negative")
	}

	if n.MaxMessageSize < 0 {
		return Config{}, errors.New("the maximum message size can't be negative")
	}

	return n, nil
}

// tlsConfig builds the client TLS settings for both STARTTLS and implicit
// TLS. c must already have defaults applied.
func (c *Config) tlsConfig() (*tls.Config, error) {
	tc := &tls.Config{
		ServerName: c.Host,
		MinVersion: tls.VersionTLS12,
	}

	if c.TLSVerification == VerifyRelaxed {
		tc.InsecureSkipVerify = true
		return tc, nil
	}

	if c.RootCAPath == "" {
		return tc, nil
	}

	pem, err := os.ReadFile(c.RootCAPath)
	if err != nil {
		return nil, fmt.Errorf("can't read the root CA file: %v", err)
	}

	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no PEM certificates found in %v", c.RootCAPath)
	}
	tc.RootCAs = pool

	return tc, nil
}
