package smtptest

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/emersion/go-smtp"
)

// Envelope is one message accepted by the test server, along with what we
// learned about the session that delivered it.
type Envelope struct {
	created time.Time
	From    string
	To      []string
	Body    string
	// HELO/EHLO/LHLO name announced by the client
	Hostname string
	// Username used for AUTH, empty for anonymous sessions
	Username string
	// TLS is true if the message was sent over an encrypted connection
	TLS bool
	// ClientCert is true if the client presented a certificate
	ClientCert bool
}

// Options controls how an InProcessServer listens and what it accepts.
type Options struct {
	// Paths to the key and cert used for TLS. The cert must be a root cert.
	// TLS (and STARTTLS) is disabled if they're empty.
	KeyPath  string
	CertPath string
	// ImplicitTLS makes the listener negotiate TLS before the greeting.
	ImplicitTLS bool
	// LMTP makes the server speak LMTP instead of SMTP.
	LMTP bool
	// SocketPath listens on a unix socket instead of a random local port.
	SocketPath string
	// RequireAuth rejects sessions that don't authenticate.
	RequireAuth bool
	// AllowInsecureAuth accepts AUTH over plaintext connections.
	AllowInsecureAuth bool
	// RejectRecipients lists addresses the server refuses in RCPT.
	RejectRecipients []string
}

// Backend implements smtp.Backend. It's a thin authentication wrapper
// for an InMemoryEmailStore.
type Backend struct {
	*InMemoryEmailStore
	requireAuth bool
}

// Login implements smtp.Backend. Any username/password is fine, since we
// don't want to couple this with specific test configurations.
func (be *Backend) Login(state *smtp.ConnectionState, username string, password string) (smtp.Session, error) {
	if username != "" && password != "" {
		return be.newSession(state, username), nil
	}
	return nil, errors.New("no username or password provided")
}

// AnonymousLogin implements smtp.Backend. Only supported if the server
// doesn't require AUTH.
func (be *Backend) AnonymousLogin(state *smtp.ConnectionState) (smtp.Session, error) {
	if be.requireAuth {
		return nil, smtp.ErrAuthRequired
	}
	return be.newSession(state, ""), nil
}

func (be *Backend) newSession(state *smtp.ConnectionState, username string) *session {
	s := &session{
		store:    be.InMemoryEmailStore,
		username: username,
	}
	if state != nil {
		s.hostname = state.Hostname
		s.tls = state.TLS.HandshakeComplete
		s.clientCert = len(state.TLS.PeerCertificates) > 0
	}
	return s
}

// session implements smtp.Session for a single client connection and hands
// finished messages to the store.
type session struct {
	store      *InMemoryEmailStore
	username   string
	hostname   string
	tls        bool
	clientCert bool
	from       string
	to         []string
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

// Rcpt implements smtp.Session.
func (s *session) Rcpt(to string) error {
	for _, r := range s.store.rejected {
		if strings.EqualFold(r, to) {
			return &smtp.SMTPError{
				Code:         550,
				EnhancedCode: smtp.EnhancedCode{5, 1, 1},
				Message:      "No such user here",
			}
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

	s.store.saveEmail(Envelope{
		From:       s.from,
		To:         append([]string(nil), s.to...),
		Body:       string(buf),
		Hostname:   s.hostname,
		Username:   s.username,
		TLS:        s.tls,
		ClientCert: s.clientCert,
	})
	return nil
}

// InMemoryEmailStore retains email envelopes in memory for comparison
// against a test's expected output. Designed to be goroutine safe since we
// don't know how many goroutines will be hitting the server at once.
type InMemoryEmailStore struct {
	mu       *sync.Mutex
	messages []Envelope
	rejected []string
}

// InProcessServer is an SMTP (or LMTP) server that runs in the same process
// as the test suite, letting us inspect sent emails. You must initialize
// this via NewInProcessServer.
type InProcessServer struct {
	*smtp.Server
	*InMemoryEmailStore
	listener net.Listener
}

// NewInProcessServer creates an InProcessServer, including configuring
// its server to store incoming messages in memory. The listener is opened
// right away so Address is usable before Start.
func NewInProcessServer(o Options) (*InProcessServer, error) {
	is := &InMemoryEmailStore{
		mu:       &sync.Mutex{},
		messages: []Envelope{},
		rejected: o.RejectRecipients,
	}

	srv := smtp.NewServer(&Backend{
		InMemoryEmailStore: is,
		requireAuth:        o.RequireAuth,
	})

	srv.Domain = "localhost"
	srv.LMTP = o.LMTP
	srv.AllowInsecureAuth = o.AllowInsecureAuth
	srv.AuthDisabled = false
	// Strict is undocumented, but it looks like it enforces <address> syntax
	// in messages:
	// https://github.com/emersion/go-smtp/blob/f92bf7f1a25777bcdaa28a142b1cd1a54b74c8f4/conn.go#L321-L325
	srv.Strict = true

	if o.CertPath != "" && o.KeyPath != "" {
		cert, err := tls.LoadX509KeyPair(o.CertPath, o.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("can't load the server key pair: %w", err)
		}

		srv.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			// Ask for, but don't verify, a client certificate so tests can
			// check whether one was presented
			ClientAuth: tls.RequestClientCert,
		}
	}

	network, address := "tcp", "127.0.0.1:0"
	if o.SocketPath != "" {
		network, address = "unix", o.SocketPath
	}
	l, err := net.Listen(network, address)
	if err != nil {
		return nil, fmt.Errorf("can't listen on %v: %w", address, err)
	}

	if o.ImplicitTLS {
		if srv.TLSConfig == nil {
			l.Close()
			return nil, errors.New("implicit TLS requires a key and cert")
		}
		l = tls.NewListener(l, srv.TLSConfig)
	}
	srv.Addr = l.Addr().String()

	return &InProcessServer{
		Server:             srv,
		InMemoryEmailStore: is,
		listener:           l,
	}, nil
}

// saveEmail stores the envelope in memory along with a timestamp created
// just prior to saving
func (es *InMemoryEmailStore) saveEmail(e Envelope) {
	es.mu.Lock()
	defer es.mu.Unlock()

	e.created = time.Now()
	es.messages = append(es.messages, e)
}

// Start starts the test server. Blocking.
func (is *InProcessServer) Start() error {
	return is.Server.Serve(is.listener)
}

// Close shuts down the test server daemon. You must initialize a new
// InProcessServer instead of restarting this one.
func (is *InProcessServer) Close() {
	is.Server.Close()
	// Serve only tracks the listener once it's running, so close it here too
	is.listener.Close()
}

// RetrieveEmails returns a slice of all message bodies (as strings)
// sent after epoch nanoseconds t
// Satisfies smtptest.Server but isn't expected to return an error.
func (es *InMemoryEmailStore) RetrieveEmails(t int64) ([]string, error) {
	es.mu.Lock()
	defer es.mu.Unlock()

	r := make([]string, 0, len(es.messages))
	for _, m := range es.messages {
		if m.created.UnixNano() >= t {
			r = append(r, m.Body)
		}
	}
	return r, nil
}

// Envelopes returns every message received so far.
func (es *InMemoryEmailStore) Envelopes() []Envelope {
	es.mu.Lock()
	defer es.mu.Unlock()

	return append([]Envelope(nil), es.messages...)
}

// Address returns the host:port (or socket path) of the test server.
func (is *InProcessServer) Address() string {
	return is.listener.Addr().String()
}

// Host returns the host part of the server's TCP address.
func (is *InProcessServer) Host() string {
	h, _, _ := net.SplitHostPort(is.Address())
	return h
}

// Port returns the port of the server's TCP address, or zero for sockets.
func (is *InProcessServer) Port() int {
	if a, ok := is.listener.Addr().(*net.TCPAddr); ok {
		return a.Port
	}
	return 0
}
