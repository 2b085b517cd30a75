package userconfig

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/alecthomas/units"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/ptgott/relaymail/relay"
	"github.com/rs/zerolog/log"

	yaml "gopkg.in/yaml.v2"
)

// Journal entries must stick around for at least a minute, otherwise a
// retried delivery could slip past the duplicate check.
const minJournalTTL = time.Minute

// Settings represents all current config options that the application can
// use. Every option can be set in the YAML file or overridden with the
// environment variable named in its env tag.
type Settings struct {
	Host           string `yaml:"smtp_host" env:"SMTP_HOST"`
	Port           int    `yaml:"smtp_port" env:"SMTP_PORT"`
	LMTPHost       string `yaml:"smtp_lmtp_host" env:"SMTP_LMTP_HOST"`
	LMTPPort       int    `yaml:"smtp_lmtp_port" env:"SMTP_LMTP_PORT"`
	LMTPPath       string `yaml:"smtp_lmtp_path" env:"SMTP_LMTP_PATH"`
	TLS            bool   `yaml:"smtp_tls" env:"SMTP_TLS"`
	CertFile       string `yaml:"smtp_ssl_cert_file" env:"SMTP_SSL_CERT_FILE"`
	KeyFile        string `yaml:"smtp_ssl_key_file" env:"SMTP_SSL_KEY_FILE"`
	CAFile         string `yaml:"smtp_ssl_ca_file" env:"SMTP_SSL_CA_FILE"`
	SkipVerify     bool   `yaml:"smtp_tls_skip_verify" env:"SMTP_TLS_SKIP_VERIFY"`
	SenderHostname string `yaml:"smtp_sender_hostname" env:"SMTP_SENDER_HOSTNAME"`
	// Seconds
	Timeout       int    `yaml:"smtp_timeout" env:"SMTP_TIMEOUT"`
	User          string `yaml:"smtp_user" env:"SMTP_USER"`
	Password      string `yaml:"smtp_password" env:"SMTP_PASSWORD"`
	SenderPublic  string `yaml:"email_sender_public" env:"EMAIL_SENDER_PUBLIC"`
	AddressPublic string `yaml:"email_address_public" env:"EMAIL_ADDRESS_PUBLIC"`
	// A size like "10MiB". Empty means no limit.
	MaxMessageSize string `yaml:"smtp_max_message_size" env:"SMTP_MAX_MESSAGE_SIZE"`
	// Directory of the delivery journal. The journal is disabled if this is
	// empty.
	JournalDir string `yaml:"journal_dir" env:"JOURNAL_DIR"`
	// How long a delivery is remembered, e.g. "168h"
	JournalTTL string `yaml:"journal_ttl" env:"JOURNAL_TTL"`

	maxMessageSize int64
	journalTTL     time.Duration
}

// defaults fill in whatever the user leaves out
var defaults = Settings{
	Host:       "localhost",
	Port:       25,
	LMTPPort:   24,
	Timeout:    30,
	JournalTTL: "168h",
}

// LoadEnvFile reads variables from a .env file into the process environment
// so Parse can pick them up. Variables that are already set win.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("can't load the env file %v: %w", path, err)
	}
	return nil
}

// Parse reads a YAML config from r and applies any overrides from the
// environment. An empty r is fine, in which case only the environment is
// used. The result still needs CheckAndSetDefaults.
func Parse(r io.Reader) (*Settings, error) {
	var s Settings
	err := yaml.NewDecoder(r).Decode(&s)
	if err != nil && !errors.Is(err, io.EOF) {
		return &Settings{}, fmt.Errorf("can't read the config file as YAML: %v", err)
	}

	if err := env.Parse(&s); err != nil {
		return &Settings{}, fmt.Errorf("can't read the config from the environment: %w", err)
	}

	return &s, nil
}

// CheckAndSetDefaults validates s and either returns a copy of s with default
// settings applied or returns an error due to an invalid configuration
func (s *Settings) CheckAndSetDefaults() (Settings, error) {
	c := *s

	if err := mergo.Merge(&c, defaults); err != nil {
		return Settings{}, fmt.Errorf("can't apply the default settings: %w", err)
	}

	if (c.User == "") != (c.Password == "") {
		return Settings{}, errors.New(
			"smtp_user and smtp_password must be set together",
		)
	}

	if (c.CertFile == "") != (c.KeyFile == "") {
		return Settings{}, errors.New(
			"smtp_ssl_cert_file and smtp_ssl_key_file must be set together",
		)
	}

	if c.Port < 0 || c.Port > 65535 || c.LMTPPort < 0 || c.LMTPPort > 65535 {
		return Settings{}, errors.New("ports must be between 0 and 65535")
	}

	if c.Timeout < 0 {
		return Settings{}, errors.New("smtp_timeout can't be negative")
	}

	if c.MaxMessageSize != "" {
		b, err := units.ParseBase2Bytes(strings.TrimSpace(c.MaxMessageSize))
		if err != nil {
			return Settings{}, fmt.Errorf("can't parse smtp_max_message_size: %v", err)
		}
		if b < 0 {
			return Settings{}, errors.New("smtp_max_message_size can't be negative")
		}
		c.maxMessageSize = int64(b)
	}

	d, err := time.ParseDuration(c.JournalTTL)
	if err != nil {
		return Settings{}, fmt.Errorf("can't parse journal_ttl as a duration: %v", err)
	}
	if d < minJournalTTL {
		return Settings{}, fmt.Errorf("journal_ttl must be at least %v", minJournalTTL)
	}
	c.journalTTL = d

	if c.LMTPHost != "" && c.LMTPPath != "" {
		log.Warn().Msg("both smtp_lmtp_host and smtp_lmtp_path are set, using smtp_lmtp_host")
	}

	return c, nil
}

// TransportConfig converts the settings for use by a relay.Client. Call it
// on the result of CheckAndSetDefaults.
func (s Settings) TransportConfig() relay.TransportConfig {
	return relay.TransportConfig{
		Host:           s.Host,
		Port:           s.Port,
		LMTPHost:       s.LMTPHost,
		LMTPPort:       s.LMTPPort,
		LMTPSocketPath: s.LMTPPath,
		STARTTLS:       s.TLS,
		CertFile:       s.CertFile,
		KeyFile:        s.KeyFile,
		CAFile:         s.CAFile,
		SkipVerify:     s.SkipVerify,
		SenderHostname: s.SenderHostname,
		Timeout:        time.Duration(s.Timeout) * time.Second,
		AuthUser:       s.User,
		AuthPassword:   s.Password,
		SenderPublic:   s.SenderPublic,
		AddressPublic:  s.AddressPublic,
		MaxMessageSize: s.maxMessageSize,
	}
}

// JournalRetention is how long the journal remembers a delivery.
func (s Settings) JournalRetention() time.Duration {
	return s.journalTTL
}

// MaxMessageSizeBytes is the parsed smtp_max_message_size, zero if unset.
func (s Settings) MaxMessageSizeBytes() int64 {
	return s.maxMessageSize
}
