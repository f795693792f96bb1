package journal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ptgott/localmail/email"
	"github.com/ptgott/localmail/smtptest"
	"github.com/ptgott/localmail/storage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndLookup(t *testing.T) {
	j, err := Open(storage.KVConfig{StorageDirPath: t.TempDir()})
	require.NoError(t, err)
	defer j.Close()

	a := email.Attempt{
		MessageID: "<1234@localhost>",
		From:      "support@mail.example.org",
		To:        "recipient@example.com",
		Subject:   "Test",
		Status:    email.StatusFailed,
		Stage:     email.StageRcpt,
		Code:      550,
		Error:     "No such user here",
		Time:      time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, j.Record(a))

	got, err := j.Lookup(a.MessageID)
	require.NoError(t, err)
	assert.Equal(t, a, got)

	_, err = j.Lookup("<missing@localhost>")
	assert.True(t, errors.Is(err, ErrNotFound), "expected ErrNotFound, got %v", err)
}

func TestOpenWithoutStorageDir(t *testing.T) {
	j, err := Open(storage.KVConfig{})
	require.NoError(t, err)

	assert.Error(t, j.Record(email.Attempt{MessageID: "<x@localhost>"}))
	_, err = j.Lookup("<x@localhost>")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, j.Close())
}

// The Transport records both accepted and refused messages.
func TestJournalRecordsTransportAttempts(t *testing.T) {
	srv, err := smtptest.NewInProcessServer(smtptest.Options{
		RejectRecipients: []string{"nobody@example.com"},
	})
	require.NoError(t, err)
	go srv.Start()
	defer srv.Close()

	j, err := Open(storage.KVConfig{StorageDirPath: t.TempDir()})
	require.NoError(t, err)
	defer j.Close()

	tr, err := email.NewTransport(
		email.Config{
			Host: srv.Host(),
			Port: srv.Port(),
		},
		email.WithRecorder(j),
		email.WithLogger(zerolog.Nop()),
	)
	require.NoError(t, err)

	ctx := context.Background()
	res, err := tr.Send(ctx, "recipient@example.com", "support@mail.example.org", "Test", "<h1>Hello</h1>")
	require.NoError(t, err)

	a, err := j.Lookup(res.MessageID)
	require.NoError(t, err)
	assert.Equal(t, email.StatusSent, a.Status)
	assert.Equal(t, "recipient@example.com", a.To)
	assert.Equal(t, "Test", a.Subject)

	// The rejected attempt has no result, so find it through a second
	// recorder that remembers the last Message-ID.
	last := &lastID{Recorder: j}
	tr, err = email.NewTransport(
		email.Config{
			Host: srv.Host(),
			Port: srv.Port(),
		},
		email.WithRecorder(last),
		email.WithLogger(zerolog.Nop()),
	)
	require.NoError(t, err)

	_, err = tr.Send(ctx, "nobody@example.com", "support@mail.example.org", "Test", "<h1>Hello</h1>")
	require.Error(t, err)

	a, err = j.Lookup(last.id)
	require.NoError(t, err)
	assert.Equal(t, email.StatusFailed, a.Status)
	assert.Equal(t, email.StageRcpt, a.Stage)
	assert.Equal(t, 550, a.Code)
}

type lastID struct {
	email.Recorder
	id string
}

func (l *lastID) Record(a email.Attempt) error {
	l.id = a.MessageID
	return l.Recorder.Record(a)
}

