package e2e

import (
	"bytes"
	"fmt"
	"os"
	"text/template"
)

// appConfigOptions is used to fill in a config template with details unique to
// a specific test environment. Keep this as small as possible so the input
// remains as close to a "real" YAML document as we can make it.
//
// Fields are exported so we can use them in templates.
type appConfigOptions struct {
	Host           string
	Port           int
	LMTPPath       string
	TLS            bool
	CAFile         string
	User           string
	Password       string
	SenderPublic   string
	MaxMessageSize string
	JournalDir     string
}

// createAppConfig writes a configuration YAML doc to the given path.
// Use this configuration to run the application in the e2e test environment
func createAppConfig(path string, opts appConfigOptions) error {
	configTemplate := `---
smtp_host: {{ .Host }}
smtp_port: {{ .Port }}
smtp_sender_hostname: e2e.example.com
smtp_timeout: 5
{{- if .LMTPPath }}
smtp_lmtp_path: {{ .LMTPPath }}
{{- end }}
{{- if .TLS }}
smtp_tls: true
smtp_ssl_ca_file: {{ .CAFile }}
{{- end }}
{{- if .User }}
smtp_user: {{ .User }}
smtp_password: {{ .Password }}
{{- end }}
{{- if .SenderPublic }}
email_sender_public: {{ .SenderPublic }}
{{- end }}
{{- if .MaxMessageSize }}
smtp_max_message_size: {{ .MaxMessageSize }}
{{- end }}
{{- if .JournalDir }}
journal_dir: {{ .JournalDir }}
journal_ttl: 1h
{{- end }}
`

	tmpl, err := template.New("conf").Parse(configTemplate)

	// This means the config template string was written incorrectly. Not
	// an issue with the application itself.
	if err != nil {
		return fmt.Errorf("couldn't parse the application config template: %v", err)
	}

	var config bytes.Buffer

	err = tmpl.Execute(&config, opts)

	// This is an issue with the test environment, not the application
	if err != nil {
		return fmt.Errorf("couldn't populate the application config template: %v", err)
	}

	if err := os.WriteFile(path, config.Bytes(), 0600); err != nil {
		return fmt.Errorf("couldn't write the config file: %v", err)
	}

	return nil
}
