package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DeliveryResult is what the server accepted. MessageID is the value of
// the Message-ID header written into the message and is unique per call.
type DeliveryResult struct {
	MessageID string
	Envelope  Envelope
	Accepted  []string
}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the logger used for the per-send diagnostic line.
func WithLogger(l zerolog.Logger) Option {
	return func(t *Transport) {
		t.logger = l
	}
}

// WithRecorder keeps a record of every delivery attempt in r.
func WithRecorder(r Recorder) Option {
	return func(t *Transport) {
		t.recorder = r
	}
}

// withClock overrides time.Now for tests.
func withClock(now func() time.Time) Option {
	return func(t *Transport) {
		t.now = now
	}
}

// Transport submits messages to a single SMTP server. Build it once with
// NewTransport and share it; it's safe for concurrent use. Each Send runs
// its own SMTP session, so concurrent sends aren't ordered with respect to
// each other.
type Transport struct {
	conf     Config
	tls      *tls.Config
	logger   zerolog.Logger
	recorder Recorder
	now      func() time.Time
}

// NewTransport validates conf and returns a Transport that uses it for
// every send.
func NewTransport(conf Config, opts ...Option) (*Transport, error) {
	c, err := conf.CheckAndSetDefaults()
	if err != nil {
		return nil, err
	}

	tc, err := c.tlsConfig()
	if err != nil {
		return nil, err
	}

	t := &Transport{
		conf:   c,
		tls:    tc,
		logger: log.Logger.With().Str("component", "email").Logger(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(t)
	}

	if c.TLSVerification == VerifyRelaxed {
		t.logger.Warn().
			Str("host", c.Host).
			Msg("TLS certificate verification is relaxed; the server certificate will not be checked")
	}

	return t, nil
}

// Address returns the host:port the Transport submits to.
func (t *Transport) Address() string {
	return net.JoinHostPort(t.conf.Host, strconv.Itoa(t.conf.Port))
}

// Send submits one HTML message and waits for the server to accept it.
// There is no retry: a failure after the input checks is logged once and
// returned as a *TransportError. Calling Send twice with the same arguments
// sends two messages.
func (t *Transport) Send(ctx context.Context, to, from, subject, htmlBody string) (DeliveryResult, error) {
	return t.SendMessage(ctx, Message{
		To:      to,
		From:    from,
		Subject: subject,
		HTML:    htmlBody,
	})
}

// SendMessage is Send for a Message value.
func (t *Transport) SendMessage(ctx context.Context, m Message) (DeliveryResult, error) {
	if err := m.check(); err != nil {
		t.logger.Error().
			Err(err).
			Str("server", t.Address()).
			Msg("refusing to send an incomplete message")
		return DeliveryResult{}, err
	}

	start := t.now()
	id := newMessageID(t.conf.LocalName)
	env := m.envelope()

	err := t.submit(ctx, m, env, id, start)

	a := Attempt{
		MessageID: id,
		From:      env.From,
		To:        env.To,
		Subject:   m.Subject,
		Status:    StatusSent,
		Time:      start,
	}

	if err != nil {
		a.Status = StatusFailed
		a.Stage = err.Stage
		a.Code = err.Code
		a.Error = err.Err.Error()
		t.logger.Error().
			Err(err.Err).
			Str("stage", string(err.Stage)).
			Int("code", err.Code).
			Str("server", t.Address()).
			Str("messageID", id).
			Str("to", env.To).
			Msg("could not deliver the message")
		t.record(a)
		return DeliveryResult{}, err
	}

	t.logger.Info().
		Str("server", t.Address()).
		Str("messageID", id).
		Str("to", env.To).
		Str("from", env.From).
		Dur("elapsed", t.now().Sub(start)).
		Msg("the mail server accepted the message")
	t.record(a)

	return DeliveryResult{
		MessageID: id,
		Envelope:  env,
		Accepted:  []string{env.To},
	}, nil
}

func (t *Transport) record(a Attempt) {
	if t.recorder == nil {
		return
	}
	if err := t.recorder.Record(a); err != nil {
		t.logger.Warn().
			Err(err).
			Str("messageID", a.MessageID).
			Msg("could not record the delivery attempt")
	}
}

// submit composes the message and runs one SMTP session for it. The
// returned error is nil or a *TransportError.
func (t *Transport) submit(ctx context.Context, m Message, env Envelope, id string, date time.Time) *TransportError {
	var buf bytes.Buffer
	if err := compose(&buf, m, id, date, t.logger); err != nil {
		return newTransportError(StageCompose, err)
	}

	if t.conf.MaxMessageSize > 0 && int64(buf.Len()) > t.conf.MaxMessageSize {
		return newTransportError(
			StageCompose,
			fmt.Errorf("%w: %v > %v bytes", ErrMessageTooLarge, buf.Len(), t.conf.MaxMessageSize),
		)
	}

	if t.conf.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.conf.Timeout)
		defer cancel()
	}

	conn, err := t.dial(ctx)
	if err != nil {
		if cerr := contextErr(ctx); cerr != nil {
			err = fmt.Errorf("%w: %v", cerr, err)
		}
		return newTransportError(StageDial, err)
	}

	// Unblock any pending read or write once the context is done.
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	if d, ok := ctx.Deadline(); ok {
		conn.SetDeadline(d)
	}

	te := t.session(conn, env, buf.Bytes())
	if te != nil {
		if cerr := contextErr(ctx); cerr != nil {
			te.Err = fmt.Errorf("%w: %v", cerr, te.Err)
		}
	}
	return te
}

// contextErr is ctx.Err(), except that a deadline that has passed counts
// as exceeded even if the connection deadline fired before the context's
// own timer did.
func contextErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d, ok := ctx.Deadline(); ok && !time.Now().Before(d) {
		return context.DeadlineExceeded
	}
	return nil
}

func (t *Transport) dial(ctx context.Context) (net.Conn, error) {
	d := &net.Dialer{}
	if t.conf.Secure {
		td := &tls.Dialer{
			NetDialer: d,
			Config:    t.tls,
		}
		return td.DialContext(ctx, "tcp", t.Address())
	}
	return d.DialContext(ctx, "tcp", t.Address())
}

// session runs greeting, EHLO, STARTTLS, AUTH, MAIL, RCPT and DATA on
// conn, then says QUIT. conn is closed on return.
func (t *Transport) session(conn net.Conn, env Envelope, msg []byte) *TransportError {
	c, err := smtp.NewClient(conn, t.conf.Host)
	if err != nil {
		conn.Close()
		return newTransportError(StageHello, err)
	}
	defer c.Close()

	if err := c.Hello(t.conf.LocalName); err != nil {
		return newTransportError(StageHello, err)
	}

	if !t.conf.Secure {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(t.tls); err != nil {
				return newTransportError(StageStartTLS, err)
			}
		} else if t.conf.RequireTLS {
			return newTransportError(StageStartTLS, ErrTLSUnavailable)
		}
	}

	if t.conf.Username != "" {
		a := sasl.NewPlainClient("", t.conf.Username, t.conf.Password)
		if err := c.Auth(a); err != nil {
			return newTransportError(StageAuth, err)
		}
	}

	if err := c.Mail(env.From, nil); err != nil {
		return newTransportError(StageMail, err)
	}

	if err := c.Rcpt(env.To); err != nil {
		return newTransportError(StageRcpt, err)
	}

	w, err := c.Data()
	if err != nil {
		return newTransportError(StageData, err)
	}

	if _, err := w.Write(msg); err != nil {
		w.Close()
		return newTransportError(StageData, err)
	}

	// The server's reply to the end of DATA comes back from Close.
	if err := w.Close(); err != nil {
		return newTransportError(StageData, err)
	}

	// The message is accepted at this point, so a failed QUIT is only
	// worth a warning.
	if err := c.Quit(); err != nil {
		t.logger.Warn().
			Err(err).
			Str("server", t.Address()).
			Msg("the SMTP server accepted the message but QUIT failed")
	}

	return nil
}

var (
	defaultMu        sync.Mutex
	defaultTransport *Transport
)

// Default returns the process-wide Transport, building one for
// localhost:25 with strict verification the first time it's needed unless
// SetDefault was called first.
func Default() (*Transport, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultTransport != nil {
		return defaultTransport, nil
	}

	t, err := NewTransport(Config{})
	if err != nil {
		return nil, err
	}
	defaultTransport = t
	return t, nil
}

// SetDefault replaces the process-wide Transport used by Send. Call it once
// at startup.
func SetDefault(t *Transport) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultTransport = t
}

// Send submits one message with the process-wide Transport. See
// (*Transport).Send.
func Send(ctx context.Context, to, from, subject, htmlBody string) (DeliveryResult, error) {
	t, err := Default()
	if err != nil {
		return DeliveryResult{}, err
	}
	return t.Send(ctx, to, from, subject, htmlBody)
}
