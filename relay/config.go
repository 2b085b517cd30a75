package relay

import "time"

const (
	defaultSMTPHost = "localhost"
	defaultSMTPPort = 25
	defaultLMTPPort = 24
	defaultTimeout  = time.Duration(30) * time.Second
)

// TransportConfig is a snapshot of everything needed to reach the relay.
// Build it once and hand it to NewClient or NewConnectionFactory. Zero values
// fall back to the defaults noted below.
type TransportConfig struct {
	// SMTP relay, "localhost" and 25 if unset
	Host string
	Port int

	// LMTPHost or LMTPSocketPath select LMTP instead of SMTP. LMTPHost takes
	// precedence. LMTPPort defaults to 24.
	LMTPHost       string
	LMTPPort       int
	LMTPSocketPath string

	// STARTTLS upgrades a plaintext SMTP connection after the greeting.
	STARTTLS bool
	// CertFile and KeyFile are the PEM-encoded client identity. With both
	// set and STARTTLS off, SMTP connects using implicit TLS.
	CertFile string
	KeyFile  string
	// CAFile adds a PEM bundle of trusted roots for verifying the relay.
	CAFile string
	// SkipVerify disables verification of the relay's certificate.
	SkipVerify bool

	// SenderHostname is announced in EHLO/LHLO when set.
	SenderHostname string
	// Timeout bounds connecting and every read or write. 30s if unset.
	Timeout time.Duration

	AuthUser     string
	AuthPassword string

	// Used, in this order, when the message doesn't name a sender.
	SenderPublic  string
	AddressPublic string

	// MaxMessageSize is the largest serialized message we'll transmit, in
	// bytes. Zero means no limit.
	MaxMessageSize int64
}

// Validate returns a KindConfiguration error if c can't be used to connect.
func (c TransportConfig) Validate() error {
	if (c.CertFile == "") != (c.KeyFile == "") {
		return newError(KindConfiguration, "validate config", ErrIncompleteTLS)
	}
	return nil
}

// HasCredentials reports whether both halves of the login are configured.
func (c TransportConfig) HasCredentials() bool {
	return c.AuthUser != "" && c.AuthPassword != ""
}

// UsesLMTP reports whether deliveries go through LMTP instead of SMTP.
func (c TransportConfig) UsesLMTP() bool {
	return c.LMTPHost != "" || c.LMTPSocketPath != ""
}

// FallbackSender is the sender used for messages that don't have one.
func (c TransportConfig) FallbackSender() string {
	if c.SenderPublic != "" {
		return c.SenderPublic
	}
	return c.AddressPublic
}

func (c TransportConfig) timeout() time.Duration {
	if c.Timeout <= 0 {
		return defaultTimeout
	}
	return c.Timeout
}

func (c TransportConfig) hasClientIdentity() bool {
	return c.CertFile != "" && c.KeyFile != ""
}
