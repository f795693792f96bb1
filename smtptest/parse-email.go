package smtptest

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
)

// Email is a stored message split into its headers and decoded body parts.
type Email struct {
	Header mail.Header
	// Parts maps a media type, e.g., "text/html", to its decoded content
	// with "\n" line endings.
	Parts map[string]string
}

// ParseEmail reads a raw message as retrieved with RetrieveEmails. It
// understands single-part bodies and one level of multipart, which is
// all the client under test writes.
func ParseEmail(raw string) (Email, error) {
	m, err := mail.ReadMessage(strings.NewReader(raw))
	if err != nil {
		return Email{}, fmt.Errorf("can't read the message: %v", err)
	}

	e := Email{
		Header: m.Header,
		Parts:  make(map[string]string),
	}

	mt, params, err := mime.ParseMediaType(m.Header.Get("Content-Type"))
	if err != nil {
		return Email{}, fmt.Errorf("can't parse the Content-Type header: %v", err)
	}

	if !strings.HasPrefix(mt, "multipart/") {
		b, err := decode(m.Body, m.Header.Get("Content-Transfer-Encoding"))
		if err != nil {
			return Email{}, err
		}
		e.Parts[mt] = b
		return e, nil
	}

	rdr := multipart.NewReader(m.Body, params["boundary"])
	for {
		// NextPart undoes quoted-printable on its own.
		p, err := rdr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Email{}, fmt.Errorf("can't read a MIME part: %v", err)
		}
		pt, _, err := mime.ParseMediaType(p.Header.Get("Content-Type"))
		if err != nil {
			return Email{}, fmt.Errorf("can't parse a part's Content-Type: %v", err)
		}
		b, err := decode(p, p.Header.Get("Content-Transfer-Encoding"))
		if err != nil {
			return Email{}, err
		}
		e.Parts[pt] = b
	}

	return e, nil
}

func decode(r io.Reader, cte string) (string, error) {
	if strings.EqualFold(cte, "quoted-printable") {
		r = quotedprintable.NewReader(r)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("can't read the message body: %v", err)
	}
	// Line endings depend on how the server unstuffed DATA, so normalize.
	return strings.ReplaceAll(string(b), "\r\n", "\n"), nil
}
