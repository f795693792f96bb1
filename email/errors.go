package email

import (
	"errors"
	"fmt"
	"net/textproto"

	"github.com/emersion/go-smtp"
)

var (
	// ErrNoRecipient indicates that Send was called without a "to" address.
	ErrNoRecipient = errors.New("must supply a \"to\" address")
	// ErrNoSender indicates that Send was called without a "from" address.
	ErrNoSender = errors.New("must supply a \"from\" address")
	// ErrNoSubject indicates that Send was called without a subject.
	ErrNoSubject = errors.New("must supply a subject")
	// ErrNoContent indicates that Send was called without an HTML body.
	ErrNoContent = errors.New("must supply an HTML body")

	// ErrTLSUnavailable means RequireTLS is set but the server did not
	// advertise STARTTLS.
	ErrTLSUnavailable = errors.New("the SMTP server does not support STARTTLS")
	// ErrMessageTooLarge means the composed message exceeds MaxMessageSize.
	ErrMessageTooLarge = errors.New("the message exceeds the configured maximum size")
)

// Stage names the step of an SMTP session that failed.
type Stage string

const (
	StageCompose  Stage = "compose"
	StageDial     Stage = "dial"
	StageHello    Stage = "hello"
	StageStartTLS Stage = "starttls"
	StageAuth     Stage = "auth"
	StageMail     Stage = "mail"
	StageRcpt     Stage = "rcpt"
	StageData     Stage = "data"
)

// TransportError is returned for any failure that happens after the input
// checks in Send: refused connections, failed TLS negotiation, rejected
// envelopes and recipients, and protocol errors. Code is the SMTP reply code
// if the server sent one and zero otherwise.
type TransportError struct {
	Stage Stage
	Code  int
	Err   error
}

func (e *TransportError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("smtp %v failed with code %v: %v", e.Stage, e.Code, e.Err)
	}
	return fmt.Sprintf("smtp %v failed: %v", e.Stage, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Permanent reports whether the server answered with a 5xx reply. It says
// nothing about whether a retry would succeed for errors without a reply code.
func (e *TransportError) Permanent() bool {
	return e.Code >= 500 && e.Code < 600
}

// newTransportError wraps err for stage s, pulling out the reply code from
// either go-smtp or net/textproto errors.
func newTransportError(s Stage, err error) *TransportError {
	te := &TransportError{
		Stage: s,
		Err:   err,
	}

	var se *smtp.SMTPError
	var pe *textproto.Error
	switch {
	case errors.As(err, &se):
		te.Code = se.Code
	case errors.As(err, &pe):
		te.Code = pe.Code
	}

	return te
}
