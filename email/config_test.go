package email

import (
	"bytes"
	"testing"
	"time"

	"gopkg.in/yaml.v2"
)

func TestUnmarshalYAML(t *testing.T) {
	testCases := []struct {
		description   string
		input         string
		shouldBeError bool
	}{
		{
			description: "valid case",
			input: `host: localhost
port: 25
tlsVerification: relaxed
requireTLS: true
localName: mail.example.org
timeout: 30s
maxMessageSize: 10MB
`,
			shouldBeError: false,
		},
		{
			description:   "empty section",
			input:         `{}`,
			shouldBeError: false,
		},
		{
			description: "with credentials",
			input: `host: 127.0.0.1
port: 587
username: MyUser123
password: 123456-A_BCDE
`,
			shouldBeError: false,
		},
		{
			description:   "port is not a number",
			input:         `port: smtp`,
			shouldBeError: true,
		},
		{
			description:   "secure is not a boolean",
			input:         `secure: sometimes`,
			shouldBeError: true,
		},
		{
			description:   "requireTLS is not a boolean",
			input:         `requireTLS: maybe`,
			shouldBeError: true,
		},
		{
			description:   "timeout is not a duration",
			input:         `timeout: 30`,
			shouldBeError: true,
		},
		{
			description:   "unparseable size",
			input:         `maxMessageSize: lots`,
			shouldBeError: true,
		},
		{
			description:   "not a map[string]string",
			input:         `[]`,
			shouldBeError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			var c Config
			buf := bytes.NewBuffer([]byte(tc.input))
			dec := yaml.NewDecoder(buf)
			err := dec.Decode(&c)
			if (err != nil) != tc.shouldBeError {
				t.Errorf(
					"%v: unexpected error status--wanted %v but got %v with error %v",
					tc.description,
					tc.shouldBeError,
					err != nil,
					err,
				)
			}
		})
	}
}

func TestUnmarshalYAMLValues(t *testing.T) {
	input := `host: 127.0.0.1
port: 465
secure: true
tlsVerification: strict
rootCA: /etc/ssl/local-mta.pem
localName: app.example.org
timeout: 1m
maxMessageSize: 25MB
`
	var c Config
	if err := yaml.NewDecoder(bytes.NewBufferString(input)).Decode(&c); err != nil {
		t.Fatal(err)
	}

	expected := Config{
		Host:            "127.0.0.1",
		Port:            465,
		Secure:          true,
		TLSVerification: VerifyStrict,
		RootCAPath:      "/etc/ssl/local-mta.pem",
		LocalName:       "app.example.org",
		Timeout:         time.Minute,
		MaxMessageSize:  25000000,
	}
	if c != expected {
		t.Errorf("expected %+v but got %+v", expected, c)
	}
}

func TestCheckAndSetDefaults(t *testing.T) {
	testCases := []struct {
		description   string
		input         Config
		expected      Config
		shouldBeError bool
	}{
		{
			description: "zero value points at the local MTA",
			input:       Config{},
			expected: Config{
				Host:            "localhost",
				Port:            25,
				TLSVerification: VerifyStrict,
				LocalName:       "localhost",
			},
		},
		{
			description: "explicit values are kept",
			input: Config{
				Host:            "mta.internal",
				Port:            2525,
				TLSVerification: VerifyRelaxed,
				LocalName:       "app.example.org",
			},
			expected: Config{
				Host:            "mta.internal",
				Port:            2525,
				TLSVerification: VerifyRelaxed,
				LocalName:       "app.example.org",
			},
		},
		{
			description:   "unknown verification mode",
			input:         Config{TLSVerification: "lenient"},
			shouldBeError: true,
		},
		{
			description:   "port out of range",
			input:         Config{Port: 70000},
			shouldBeError: true,
		},
		{
			description:   "username without a password",
			input:         Config{Username: "MyUser123"},
			shouldBeError: true,
		},
		{
			description:   "password without a username",
			input:         Config{Password: "123456-A_BCDE"},
			shouldBeError: true,
		},
		{
			description:   "negative timeout",
			input:         Config{Timeout: -time.Second},
			shouldBeError: true,
		},
		{
			description:   "negative size",
			input:         Config{MaxMessageSize: -1},
			shouldBeError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			c, err := tc.input.CheckAndSetDefaults()
			if (err != nil) != tc.shouldBeError {
				t.Fatalf(
					"unexpected error status--wanted %v but got %v with error %v",
					tc.shouldBeError,
					err != nil,
					err,
				)
			}
			if err == nil && c != tc.expected {
				t.Errorf("expected %+v but got %+v", tc.expected, c)
			}
		})
	}
}

func TestNewTransportRootCA(t *testing.T) {
	if _, err := NewTransport(Config{RootCAPath: "/does/not/exist.pem"}); err == nil {
		t.Error("expected an error for a missing root CA file")
	}
}
