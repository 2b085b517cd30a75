package relay

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// Protocol is the mail transfer protocol spoken with the relay.
type Protocol int

const (
	ProtocolSMTP Protocol = iota
	ProtocolLMTP
)

func (p Protocol) String() string {
	if p == ProtocolLMTP {
		return "lmtp"
	}
	return "smtp"
}

// Security is how, if at all, the connection to the relay is encrypted.
type Security int

const (
	SecurityNone Security = iota
	// SecurityImplicitTLS negotiates TLS before the greeting.
	SecurityImplicitTLS
	// SecuritySTARTTLS upgrades the connection after the greeting.
	SecuritySTARTTLS
)

func (s Security) String() string {
	switch s {
	case SecurityImplicitTLS:
		return "tls"
	case SecuritySTARTTLS:
		return "starttls"
	}
	return "none"
}

// Endpoint describes where and how a ConnectionFactory connects.
type Endpoint struct {
	Protocol Protocol
	// "tcp" or "unix"
	Network string
	// host:port for tcp, a filesystem path for unix
	Address  string
	Security Security
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%v://%v (network: %v, security: %v)", e.Protocol, e.Address, e.Network, e.Security)
}

// Connection is a live session with the relay. It's scoped to a single
// delivery and must not be reused.
type Connection interface {
	Login(user, password string) error
	// SendMail transmits msg to every address in to. It fails if the relay
	// rejects any of them.
	SendMail(from string, to []string, msg []byte) error
	// Quit ends the session gracefully and closes the connection.
	Quit() error
	// Close drops the connection without ending the session.
	Close() error
}

// Connector hands out connected Connections. A Connector may return a
// non-nil Connection along with an error when the failure happened after
// the connection was opened. The caller is responsible for releasing it.
type Connector interface {
	Connect() (Connection, error)
}

// ConnectionFactory is the default Connector. It connects to the relay
// described by a TransportConfig using go-smtp.
type ConnectionFactory struct {
	config TransportConfig
}

// NewConnectionFactory returns a ConnectionFactory for c.
func NewConnectionFactory(c TransportConfig) *ConnectionFactory {
	return &ConnectionFactory{config: c}
}

// Resolve works out the Endpoint for the factory's configuration without
// touching the network.
func (f *ConnectionFactory) Resolve() (Endpoint, error) {
	c := f.config
	if err := c.Validate(); err != nil {
		return Endpoint{}, err
	}

	if c.UsesLMTP() {
		if c.LMTPHost != "" {
			p := c.LMTPPort
			if p == 0 {
				p = defaultLMTPPort
			}
			return Endpoint{
				Protocol: ProtocolLMTP,
				Network:  "tcp",
				Address:  net.JoinHostPort(c.LMTPHost, strconv.Itoa(p)),
			}, nil
		}
		return Endpoint{
			Protocol: ProtocolLMTP,
			Network:  "unix",
			Address:  c.LMTPSocketPath,
		}, nil
	}

	e := Endpoint{
		Protocol: ProtocolSMTP,
		Network:  "tcp",
		Address:  net.JoinHostPort(f.smtpHost(), strconv.Itoa(f.smtpPort())),
	}
	switch {
	case c.STARTTLS:
		e.Security = SecuritySTARTTLS
	case c.hasClientIdentity():
		e.Security = SecurityImplicitTLS
	}
	return e, nil
}

func (f *ConnectionFactory) smtpHost() string {
	if f.config.Host == "" {
		return defaultSMTPHost
	}
	return f.config.Host
}

func (f *ConnectionFactory) smtpPort() int {
	if f.config.Port == 0 {
		return defaultSMTPPort
	}
	return f.config.Port
}

// Connect opens a connection to the relay, says hello with the configured
// hostname and negotiates TLS as configured. Nothing is retried.
func (f *ConnectionFactory) Connect() (Connection, error) {
	e, err := f.Resolve()
	if err != nil {
		return nil, err
	}

	serverName := "localhost"
	if e.Network == "tcp" {
		serverName, _, _ = net.SplitHostPort(e.Address)
	}

	// Load TLS material before dialing so bad files don't cost a connection
	var tc *tls.Config
	if e.Security != SecurityNone {
		tc, err = f.tlsConfig(serverName)
		if err != nil {
			return nil, err
		}
	}

	d := net.Dialer{Timeout: f.config.timeout()}
	raw, err := d.Dial(e.Network, e.Address)
	if err != nil {
		return nil, newError(KindTransport, "connect", err)
	}
	var conn net.Conn = &deadlineConn{Conn: raw, timeout: f.config.timeout()}

	if e.Security == SecurityImplicitTLS {
		tlsConn := tls.Client(conn, tc)
		if err := tlsConn.Handshake(); err != nil {
			raw.Close()
			return nil, newError(KindTransport, "tls handshake", err)
		}
		conn = tlsConn
	}

	var client *smtp.Client
	if e.Protocol == ProtocolLMTP {
		client, err = smtp.NewClientLMTP(conn, serverName)
	} else {
		client, err = smtp.NewClient(conn, serverName)
	}
	// The client closes conn itself when it can't read the greeting
	if err != nil {
		return nil, newError(KindTransport, "greeting", err)
	}
	sc := &smtpConnection{
		client: client,
		lmtp:   e.Protocol == ProtocolLMTP,
	}

	if f.config.SenderHostname != "" {
		if err := client.Hello(f.config.SenderHostname); err != nil {
			return sc, newError(KindTransport, "hello", err)
		}
	}

	if e.Security == SecuritySTARTTLS {
		if err := client.StartTLS(tc); err != nil {
			return sc, newError(KindTransport, "starttls", err)
		}
	}

	return sc, nil
}

// tlsConfig builds the TLS settings for connecting to serverName. The client
// identity is only presented when both the certificate and key are set.
func (f *ConnectionFactory) tlsConfig(serverName string) (*tls.Config, error) {
	c := f.config
	tc := &tls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: c.SkipVerify,
		MinVersion:         tls.VersionTLS12,
	}

	if c.hasClientIdentity() {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, newError(KindConfiguration, "load client certificate", err)
		}
		tc.Certificates = []tls.Certificate{cert}
	}

	if c.CAFile != "" {
		b, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, newError(KindConfiguration, "load CA file", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(b) {
			return nil, newError(
				KindConfiguration,
				"load CA file",
				fmt.Errorf("no PEM certificates found in %v", c.CAFile),
			)
		}
		tc.RootCAs = pool
	}

	return tc, nil
}

// deadlineConn pushes the deadline forward before every read and write, so
// the timeout applies to each I/O operation rather than the whole session.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Write(b)
}

// smtpConnection implements Connection for both SMTP and LMTP.
type smtpConnection struct {
	client *smtp.Client
	lmtp   bool
}

// Login authenticates with SASL PLAIN, or LOGIN if that's the only one of
// the two the server offers.
func (c *smtpConnection) Login(user, password string) error {
	var a sasl.Client = sasl.NewPlainClient("", user, password)
	if ok, mechs := c.client.Extension("AUTH"); ok && offersOnlyLogin(mechs) {
		a = sasl.NewLoginClient(user, password)
	}
	return c.client.Auth(a)
}

func offersOnlyLogin(mechs string) bool {
	var login bool
	for _, m := range strings.Fields(strings.ToUpper(mechs)) {
		switch m {
		case "PLAIN":
			return false
		case "LOGIN":
			login = true
		}
	}
	return login
}

func (c *smtpConnection) SendMail(from string, to []string, msg []byte) error {
	if err := c.client.Mail(from, nil); err != nil {
		return err
	}
	for _, r := range to {
		if err := c.client.Rcpt(r); err != nil {
			return fmt.Errorf("recipient %v: %w", r, err)
		}
	}

	var w io.WriteCloser
	var err error
	// LMTP reports a status for every recipient after the data
	var rejected []error
	if c.lmtp {
		w, err = c.client.LMTPData(func(rcpt string, status *smtp.SMTPError) {
			if status != nil {
				rejected = append(rejected, fmt.Errorf("recipient %v: %w", rcpt, status))
			}
		})
	} else {
		w, err = c.client.Data()
	}
	if err != nil {
		return err
	}

	if _, err := w.Write(msg); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	return errors.Join(rejected...)
}

func (c *smtpConnection) Quit() error {
	return c.client.Quit()
}

func (c *smtpConnection) Close() error {
	return c.client.Close()
}
