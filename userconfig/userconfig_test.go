package userconfig

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/ptgott/relaymail/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	testCases := []struct {
		description   string
		conf          string
		shouldBeError bool
		shouldBeEmpty bool
	}{
		{
			description:   "valid case",
			shouldBeError: false,
			shouldBeEmpty: false,
			conf: `---
smtp_host: mail.example.com
smtp_port: 587
smtp_tls: true
smtp_ssl_ca_file: /etc/relaymail/ca.pem
smtp_sender_hostname: sender.example.com
smtp_timeout: 10
smtp_user: user
smtp_password: secret
email_sender_public: news@example.com
smtp_max_message_size: 10MiB
journal_dir: /var/lib/relaymail
journal_ttl: 24h`,
		},
		{
			description:   "empty file",
			shouldBeError: false,
			shouldBeEmpty: true,
			conf:          "",
		},
		{
			description:   "not yaml",
			shouldBeError: true,
			shouldBeEmpty: true,
			conf:          `this is not yaml`,
		},
		{
			description:   "wrong type",
			shouldBeError: true,
			shouldBeEmpty: true,
			conf:          `smtp_port: twenty-five`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			b := bytes.NewBuffer([]byte(tc.conf))
			s, err := Parse(b)

			if (err != nil) != tc.shouldBeError {
				t.Errorf(
					"%v: unexpected error status: wanted %v but got %v with error %v",
					tc.description,
					tc.shouldBeError,
					err != nil,
					err,
				)
			}

			if reflect.DeepEqual(*s, Settings{}) != tc.shouldBeEmpty {
				l := map[bool]string{
					true:  "empty",
					false: "not empty",
				}
				t.Errorf(
					"%v: expected the settings to be %v, but got %v",
					tc.description,
					l[tc.shouldBeEmpty],
					l[!tc.shouldBeEmpty],
				)
			}
		})
	}
}

func TestParseEnvironmentOverrides(t *testing.T) {
	t.Setenv("SMTP_HOST", "relay.internal")
	t.Setenv("SMTP_TLS", "true")
	t.Setenv("SMTP_PASSWORD", "from-env")

	s, err := Parse(strings.NewReader(`
smtp_host: mail.example.com
smtp_port: 2525
smtp_user: user
smtp_password: from-file
`))
	require.NoError(t, err)

	assert.Equal(t, "relay.internal", s.Host)
	assert.Equal(t, 2525, s.Port)
	assert.True(t, s.TLS)
	assert.Equal(t, "user", s.User)
	assert.Equal(t, "from-env", s.Password)
}

func TestParseBadEnvironment(t *testing.T) {
	t.Setenv("SMTP_PORT", "not-a-port")
	_, err := Parse(strings.NewReader(""))
	assert.Error(t, err)
}

func TestLoadEnvFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(p, []byte("SMTP_LMTP_PATH=/run/dovecot/lmtp\n"), 0600))

	// Registers the variable with the test so it's restored afterwards
	t.Setenv("SMTP_LMTP_PATH", "")
	os.Unsetenv("SMTP_LMTP_PATH")

	require.NoError(t, LoadEnvFile(p))
	s, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, "/run/dovecot/lmtp", s.LMTPPath)

	assert.Error(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")))
}

func TestCheckAndSetDefaults(t *testing.T) {
	testCases := []struct {
		description   string
		settings      Settings
		shouldBeError bool
	}{
		{
			description:   "empty settings get defaults",
			settings:      Settings{},
			shouldBeError: false,
		},
		{
			description:   "user without password",
			settings:      Settings{User: "user"},
			shouldBeError: true,
		},
		{
			description:   "password without user",
			settings:      Settings{Password: "secret"},
			shouldBeError: true,
		},
		{
			description:   "cert without key",
			settings:      Settings{CertFile: "cert.pem"},
			shouldBeError: true,
		},
		{
			description:   "key without cert",
			settings:      Settings{KeyFile: "key.pem"},
			shouldBeError: true,
		},
		{
			description:   "port out of range",
			settings:      Settings{Port: 70000},
			shouldBeError: true,
		},
		{
			description:   "negative timeout",
			settings:      Settings{Timeout: -1},
			shouldBeError: true,
		},
		{
			description:   "bad message size",
			settings:      Settings{MaxMessageSize: "ten megs"},
			shouldBeError: true,
		},
		{
			description:   "bad journal TTL",
			settings:      Settings{JournalTTL: "a week"},
			shouldBeError: true,
		},
		{
			description:   "journal TTL too short",
			settings:      Settings{JournalTTL: "5s"},
			shouldBeError: true,
		},
		{
			description: "full client identity",
			settings: Settings{
				CertFile: "cert.pem",
				KeyFile:  "key.pem",
			},
			shouldBeError: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			_, err := tc.settings.CheckAndSetDefaults()
			if (err != nil) != tc.shouldBeError {
				t.Errorf(
					"%v: unexpected error status: wanted %v but got %v with error %v",
					tc.description,
					tc.shouldBeError,
					err != nil,
					err,
				)
			}
		})
	}
}

func TestDefaults(t *testing.T) {
	s := Settings{Host: "mail.example.com"}
	c, err := s.CheckAndSetDefaults()
	require.NoError(t, err)

	assert.Equal(t, "mail.example.com", c.Host)
	assert.Equal(t, 25, c.Port)
	assert.Equal(t, 24, c.LMTPPort)
	assert.Equal(t, 30, c.Timeout)
	assert.Equal(t, 168*time.Hour, c.JournalRetention())
	assert.Equal(t, int64(0), c.MaxMessageSizeBytes())

	// The receiver is left alone
	assert.Equal(t, 0, s.Port)
}

func TestTransportConfig(t *testing.T) {
	s := Settings{
		Host:           "mail.example.com",
		Port:           465,
		CertFile:       "cert.pem",
		KeyFile:        "key.pem",
		CAFile:         "ca.pem",
		SenderHostname: "sender.example.com",
		Timeout:        5,
		User:           "user",
		Password:       "secret",
		SenderPublic:   "news@example.com",
		AddressPublic:  "noreply@example.com",
		MaxMessageSize: "1MiB",
	}
	c, err := s.CheckAndSetDefaults()
	require.NoError(t, err)

	assert.Equal(t, relay.TransportConfig{
		Host:           "mail.example.com",
		Port:           465,
		LMTPPort:       24,
		CertFile:       "cert.pem",
		KeyFile:        "key.pem",
		CAFile:         "ca.pem",
		SenderHostname: "sender.example.com",
		Timeout:        5 * time.Second,
		AuthUser:       "user",
		AuthPassword:   "secret",
		SenderPublic:   "news@example.com",
		AddressPublic:  "noreply@example.com",
		MaxMessageSize: 1 << 20,
	}, c.TransportConfig())
}
