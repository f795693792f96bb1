package smtptest

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/flashmob/go-guerrilla/tests/testcert"
)

// TLSHost is the host the generated certificate is valid for. It matches
// the address InProcessServer listens on.
const TLSHost = "127.0.0.1"

// GenerateTLSFiles writes a TLS key and certificate to a temporary test
// directory that is removed after the test runs. It returns the file
// paths of the key and certificate. The certificate is a self-signed root
// cert, so clients only accept it if they trust it explicitly or skip
// verification.
func GenerateTLSFiles(t *testing.T) (keyPath string, certPath string, err error) {
	t.Helper()

	d := t.TempDir() + string(filepath.Separator)
	err = testcert.GenerateCert(
		TLSHost,
		"",                         // defaults to now
		time.Duration(1)*time.Hour, // the test suite won't run for this long
		true,                       // is a CA cert
		2048,                       // usually seen in online tutorials
		"",                         // using the default ecdsa curve,
		d,
	)

	if err != nil {
		return
	}

	// These path names are hardcoded into testcert.GenerateCert
	keyPath = d + TLSHost + ".key.pem"
	certPath = d + TLSHost + ".cert.pem"

	return
}
