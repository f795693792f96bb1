package smtptest

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/emersion/go-smtp"
)

// messageData includes the envelope, body content and created timestamp
// for an email message, allowing us to inspect messages before/after a
// timestamp for correctness.
type messageData struct {
	created time.Time
	from    string
	to      []string
	body    string
}

// Options controls how an InProcessServer behaves. The zero value accepts
// any message over plaintext without authentication.
type Options struct {
	// KeyPath and CertPath enable STARTTLS. See GenerateTLSFiles.
	KeyPath  string
	CertPath string
	// RequireAuth rejects MAIL FROM until the client has authenticated.
	// Any non-empty username and password are accepted.
	RequireAuth bool
	// RejectRecipients lists RCPT TO addresses answered with a 550.
	RejectRecipients []string
	// ImplicitTLS serves TLS from the first byte instead of offering
	// STARTTLS, like a submissions port. Needs KeyPath and CertPath.
	ImplicitTLS bool
}

// Backend implements smtp.Backend. It's a thin authentication wrapper
// for an InMemoryEmailStore.
type Backend struct {
	*InMemoryEmailStore
	requireAuth bool
	rejected    map[string]struct{}
}

// Login implements smtp.Backend. Any username/password is fine, since we
// don't want to couple this with specific test configurations.
func (be *Backend) Login(_ *smtp.ConnectionState, username string, password string) (smtp.Session, error) {
	if username != "" && password != "" {
		return be.newSession(username), nil
	}
	return nil, errors.New("no username or password provided")
}

// AnonymousLogin implements smtp.Backend. Only allowed if the server
// doesn't require AUTH.
func (be *Backend) AnonymousLogin(_ *smtp.ConnectionState) (smtp.Session, error) {
	if be.requireAuth {
		return nil, &smtp.SMTPError{
			Code:         530,
			EnhancedCode: smtp.EnhancedCode{5, 7, 0},
			Message:      "Authentication required",
		}
	}
	return be.newSession(""), nil
}

func (be *Backend) newSession(user string) *session {
	return &session{
		store:    be.InMemoryEmailStore,
		rejected: be.rejected,
		user:     user,
	}
}

// session implements smtp.Session for a single connection and saves
// complete messages to the shared store.
type session struct {
	store    *InMemoryEmailStore
	rejected map[string]struct{}
	user     string
	from     string
	to       []string
}

// Reset implements smtp.Session.
func (s *session) Reset() {
	s.from = ""
	s.to = nil
}

// Logout implements smtp.Session. No-op here.
func (s *session) Logout() error { return nil }

// Mail implements smtp.Session.
func (s *session) Mail(from string, _ smtp.MailOptions) error {
	s.from = from
	return nil
}

// Rcpt implements smtp.Session. Refuses addresses listed in
// Options.RejectRecipients.
func (s *session) Rcpt(to string) error {
	if _, ok := s.rejected[strings.ToLower(to)]; ok {
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 1},
			Message:      "No such user here",
		}
	}
	s.to = append(s.to, to)
	return nil
}

// Data implements smtp.Session. Stores the email data in memory for retrieval
// at the end of the test.
func (s *session) Data(r io.Reader) error {
	// doubtful we'll get an email this big, but we need a limit
	var maxEmailSize int64 = 100 * units.MiB
	buf, err := io.ReadAll(io.LimitReader(r, maxEmailSize))
	if err != nil {
		return err
	}

	s.store.saveEmail(messageData{
		from: s.from,
		to:   append([]string(nil), s.to...),
		body: string(buf),
	})
	return nil
}

// InMemoryEmailStore retains email bodies in memory for comparison against
// a test's expected output. Designed to be goroutine safe since we don't
// know how many goroutines will be hitting the server at once.
type InMemoryEmailStore struct {
	mu       *sync.Mutex
	messages []messageData
}

// saveEmail stores the message along with a timestamp created just prior
// to saving
func (es *InMemoryEmailStore) saveEmail(m messageData) {
	es.mu.Lock()
	defer es.mu.Unlock()

	m.created = time.Now()
	es.messages = append(es.messages, m)
}

// RetrieveEmails returns a slice of all message bodies (as strings)
// sent after epoch nanoseconds t. It isn't expected to return an error.
func (es *InMemoryEmailStore) RetrieveEmails(t int64) ([]string, error) {
	es.mu.Lock()
	defer es.mu.Unlock()

	r := make([]string, 0, len(es.messages))
	for _, m := range es.messages {
		if m.created.UnixNano() >= t {
			r = append(r, m.body)
		}
	}
	return r, nil
}

// Envelope is the MAIL FROM and RCPT TO addresses of a stored message.
type Envelope struct {
	From string
	To   []string
}

// Envelopes returns the envelope of every stored message, oldest first.
func (es *InMemoryEmailStore) Envelopes() []Envelope {
	es.mu.Lock()
	defer es.mu.Unlock()

	r := make([]Envelope, len(es.messages))
	for i, m := range es.messages {
		r[i] = Envelope{
			From: m.from,
			To:   m.to,
		}
	}
	return r
}

// InProcessServer is an SMTP server that runs in the same process as the
// test suite, letting us inspect sent emails. You must initialize this
// via NewInProcessServer
type InProcessServer struct {
	*smtp.Server
	*InMemoryEmailStore
	listener net.Listener
}

// NewInProcessServer creates an InProcessServer listening on a random
// loopback port, including configuring its SMTP server to store incoming
// messages in memory. Call Start to begin accepting connections.
func NewInProcessServer(opts Options) (*InProcessServer, error) {
	is := &InMemoryEmailStore{
		mu:       &sync.Mutex{},
		messages: []messageData{},
	}

	be := &Backend{
		InMemoryEmailStore: is,
		requireAuth:        opts.RequireAuth,
		rejected:           make(map[string]struct{}, len(opts.RejectRecipients)),
	}
	for _, r := range opts.RejectRecipients {
		be.rejected[strings.ToLower(r)] = struct{}{}
	}

	srv := smtp.NewServer(be)

	srv.Domain = "localhost"
	// The client under test decides whether to upgrade to TLS, so allow
	// AUTH either way.
	srv.AllowInsecureAuth = true
	srv.AuthDisabled = false
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	// Strict is undocumented, but it looks like it enforces <address> syntax
	// in messages:
	// https://github.com/emersion/go-smtp/blob/f92bf7f1a25777bcdaa28a142b1cd1a54b74c8f4/conn.go#L321-L325
	srv.Strict = true

	if opts.CertPath != "" {
		cert, err := tls.LoadX509KeyPair(opts.CertPath, opts.KeyPath)
		if err != nil {
			return nil, err
		}

		srv.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
		}
	}

	if opts.ImplicitTLS && srv.TLSConfig == nil {
		return nil, errors.New("implicit TLS needs a key and certificate")
	}

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	srv.Addr = l.Addr().String()
	if opts.ImplicitTLS {
		l = tls.NewListener(l, srv.TLSConfig)
	}

	return &InProcessServer{
		Server:             srv,
		InMemoryEmailStore: is,
		listener:           l,
	}, nil
}

// Start starts the test server. Blocking. The listener is already open,
// so clients may connect before Start runs.
func (is *InProcessServer) Start() error {
	// With ImplicitTLS the listener already wraps connections in TLS.
	// Otherwise the client upgrades with STARTTLS.
	return is.Server.Serve(is.listener)
}

// Close shuts down the test server daemon. You must initialize a new
// InProcessServer instead of restarting this one.
func (is *InProcessServer) Close() {
	is.Server.Close()
	// Serve might never have taken ownership of the listener.
	is.listener.Close()
}

// Address returns the host:port of the test SMTP server.
func (is *InProcessServer) Address() string {
	return is.listener.Addr().String()
}

// Host returns the IP address the server listens on.
func (is *InProcessServer) Host() string {
	return is.listener.Addr().(*net.TCPAddr).IP.String()
}

// Port returns the port the server listens on.
func (is *InProcessServer) Port() int {
	return is.listener.Addr().(*net.TCPAddr).Port
}
