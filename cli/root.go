/*
Package cli provides the relaymail command line.
*/
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ptgott/relaymail/userconfig"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Version is overridden at build time with -ldflags "-X ...cli.Version=..."
var Version = "dev"

const defaultConfigPath = "./config.yaml"

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	envFile    string
	level      string
}

// NewRootCommand builds the relaymail command tree.
func NewRootCommand() *cobra.Command {
	o := &globalOptions{}

	root := &cobra.Command{
		Use:   "relaymail",
		Short: "Deliver email through an SMTP or LMTP relay",
		Long: `relaymail hands prepared email messages to a mail relay over SMTP
(plain, STARTTLS or implicit TLS) or LMTP (TCP or a unix socket).

Settings come from a YAML file and can be overridden with environment
variables, e.g. SMTP_HOST or SMTP_PASSWORD.

Example:
  relaymail check                          # Show where mail would go
  relaymail send -m message.eml            # Deliver a message
  cat message.eml | relaymail send -m -    # Deliver from stdin`,
		SilenceUsage: true,
		// main logs the error
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setLevel(o.level)
			if o.envFile != "" {
				return userconfig.LoadEnvFile(o.envFile)
			}
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&o.configPath, "config", "c", defaultConfigPath, "path to a YAML file containing your configuration")
	pf.StringVar(&o.envFile, "env-file", "", "path to a .env file to load before reading the configuration")
	pf.StringVar(&o.level, "level", "info", `log level: "info", "debug", or "warn"`)

	root.AddCommand(newSendCommand(o))
	root.AddCommand(newCheckCommand(o))
	root.AddCommand(newVersionCommand())

	return root
}

// Execute runs the command tree against os.Args.
func Execute() error {
	return NewRootCommand().Execute()
}

func setLevel(level string) {
	switch level {
	case "debug":
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	case "warn":
		log.Logger = log.Logger.Level(zerolog.WarnLevel)
	default:
		log.Logger = log.Logger.Level(zerolog.InfoLevel)
	}
}

// loadSettings reads and validates the configuration. A missing config file
// is fine as long as the user didn't ask for it by name, since everything
// can come from the environment.
func loadSettings(cmd *cobra.Command, o *globalOptions) (userconfig.Settings, error) {
	var r io.Reader = strings.NewReader("")

	f, err := os.Open(o.configPath)
	switch {
	case err == nil:
		defer f.Close()
		r = f
	case errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config"):
		log.Debug().
			Str("configPath", o.configPath).
			Msg("no config file, using the environment only")
	default:
		return userconfig.Settings{}, fmt.Errorf("can't open the config file: %w", err)
	}

	s, err := userconfig.Parse(r)
	if err != nil {
		return userconfig.Settings{}, err
	}

	c, err := s.CheckAndSetDefaults()
	if err != nil {
		return userconfig.Settings{}, fmt.Errorf("problem validating your config: %w", err)
	}

	log.Debug().Str("configPath", o.configPath).Msg("successfully validated the config")
	return c, nil
}
