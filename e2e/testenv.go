package e2e

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/ptgott/relaymail/smtptest"
)

const (
	tempDirPathName = "tempTestDir"
)

// testEnvironmentConfig exposes options that should be available and
// perhaps changeable when spinning up a test environment. While they
// may not vary between tests, they shouldn't be buried inside
// functions.
type testEnvironmentConfig struct {
	tls              bool // offer STARTTLS with a generated certificate
	lmtp             bool // speak LMTP on a unix socket instead of SMTP
	requireAuth      bool
	rejectRecipients []string
}

// testEnvironment manages all dependencies required to simulate a "real"
// environment and run the e2e tests. Callers should create this via
// startTestEnvironment.
type testEnvironment struct {
	SMTPServer  *smtptest.InProcessServer
	tempDirPath string // must be populated programmatically
	keyPath     string
	certPath    string
	socketPath  string
}

// startTestEnvironment spins up dependencies. Callers should defer a call to
// tearDown.
//
// Note that if startTestEnvironment fails, it will return an error along with
// whatever shreds of a test environment we've set up so far so you can tear
// it down (i.e., it won't just be the zero value)
func startTestEnvironment(t *testing.T, c testEnvironmentConfig) (*testEnvironment, error) {
	te := &testEnvironment{}

	// Relative, since unix socket paths have a short length limit
	p, err := os.MkdirTemp(".", tempDirPathName)
	if err != nil {
		// Shouldn't happen
		return te, fmt.Errorf("could not create the test storage directory: %w", err)
	}
	te.tempDirPath = p

	o := smtptest.Options{
		RequireAuth:       c.requireAuth,
		AllowInsecureAuth: true,
		RejectRecipients:  c.rejectRecipients,
	}

	if c.tls {
		key, cert, err := smtptest.GenerateTLSFiles(t)
		if err != nil {
			return te, err
		}
		te.keyPath, te.certPath = key, cert
		o.KeyPath, o.CertPath = key, cert
	}

	if c.lmtp {
		te.socketPath = filepath.Join(p, "lmtp.sock")
		o.LMTP = true
		o.SocketPath = te.socketPath
	}

	ts, err := smtptest.NewInProcessServer(o)
	if err != nil {
		return te, err
	}
	te.SMTPServer = ts

	go ts.Start()

	return te, nil
}

// path returns a path inside the environment's temporary directory.
func (te *testEnvironment) path(name string) string {
	return filepath.Join(te.tempDirPath, name)
}

// tearDown returns the testEnvironment to its state prior to start. Designed
// to call with defer
func (te *testEnvironment) tearDown() {
	if te.SMTPServer != nil {
		te.SMTPServer.Close()
	}

	// This error will be nil if the path doesn't exist. See:
	// https://golang.org/pkg/os/#RemoveAll
	err := os.RemoveAll(te.tempDirPath)

	// We're not expecting this to return an error since it's designed to call with
	// defer. Instead we panic, and hopefully we can prevent any panic-causing
	// error from happening again.
	if err != nil {
		panic(fmt.Sprintf("can't delete the test storage directory: %v", err))
	}
}
