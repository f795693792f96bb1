package email

import (
	"io"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ptgott/localmail/html"
	"github.com/rs/zerolog"
	gomail "gopkg.in/gomail.v2"
)

// Message is one email to submit. All fields are required. Addresses are
// passed through as given; the transport decides whether they're
// acceptable.
type Message struct {
	To      string
	From    string
	Subject string
	HTML    string
}

func (m Message) check() error {
	switch {
	case m.To == "":
		return ErrNoRecipient
	case m.From == "":
		return ErrNoSender
	case m.Subject == "":
		return ErrNoSubject
	case m.HTML == "":
		return ErrNoContent
	}
	return nil
}

// Envelope holds the addresses used for MAIL FROM and RCPT TO.
type Envelope struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

func (m Message) envelope() Envelope {
	return Envelope{
		From: envelopeAddress(m.From),
		To:   envelopeAddress(m.To),
	}
}

// envelopeAddress strips a display name, e.g., "Support <support@example.org>"
// becomes "support@example.org". Anything that doesn't parse is returned
// unchanged so the server can accept or reject it.
func envelopeAddress(s string) string {
	a, err := mail.ParseAddress(s)
	if err != nil {
		return s
	}
	return a.Address
}

// setAddressHeader writes an address header so that a non-ASCII display
// name is encoded on its own and the address stays readable. Strings that
// don't parse are written as given.
func setAddressHeader(gm *gomail.Message, field, s string) {
	a, err := mail.ParseAddress(s)
	if err != nil {
		gm.SetHeader(field, s)
		return
	}
	if a.Name == "" {
		gm.SetHeader(field, a.Address)
		return
	}
	gm.SetAddressHeader(field, a.Address, a.Name)
}

// newMessageID returns a Message-ID value in angle brackets.
func newMessageID(domain string) string {
	return "<" + uuid.NewString() + "@" + domain + ">"
}

// compose writes m as a MIME message to w. The HTML body goes out as
// multipart/alternative with a text/plain part derived from it. If no text
// can be derived, the message is HTML only.
func compose(w io.Writer, m Message, id string, date time.Time, logger zerolog.Logger) error {
	gm := gomail.NewMessage()
	setAddressHeader(gm, "From", m.From)
	setAddressHeader(gm, "To", m.To)
	gm.SetHeader("Subject", m.Subject)
	gm.SetHeader("Message-ID", id)
	gm.SetDateHeader("Date", date)

	txt, err := html.TextFromHTML(strings.NewReader(m.HTML))
	if err != nil {
		logger.Debug().Err(err).Msg("sending the message without a text/plain part")
	}

	if txt == "" {
		gm.SetBody("text/html", m.HTML)
	} else {
		gm.SetBody("text/plain", txt)
		gm.AddAlternative("text/html", m.HTML)
	}

	_, err = gm.WriteTo(w)
	return err
}
