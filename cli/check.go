package cli

import (
	"fmt"

	"github.com/docker/go-units"
	"github.com/ptgott/relaymail/relay"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newCheckCommand(o *globalOptions) *cobra.Command {
	var connect bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check the configuration",
		Long: `Check that the configuration is valid and show the relay that
messages would be delivered to.

With --connect, also open a session with the relay (including TLS and
login, if configured) and close it again without sending anything.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cmd, o)
			if err != nil {
				return err
			}
			tc := s.TransportConfig()

			e, err := relay.NewConnectionFactory(tc).Resolve()
			if err != nil {
				return fmt.Errorf("config validation failed: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "relay: %v\n", e)
			if tc.MaxMessageSize > 0 {
				fmt.Fprintf(out, "max message size: %v\n", units.BytesSize(float64(tc.MaxMessageSize)))
			}
			if fs := tc.FallbackSender(); fs != "" {
				fmt.Fprintf(out, "fallback sender: %v\n", fs)
			}

			if !connect {
				return nil
			}
			if err := probe(tc); err != nil {
				return fmt.Errorf("can't reach the relay: %w", err)
			}
			fmt.Fprintln(out, "connected successfully")
			return nil
		},
	}

	cmd.Flags().BoolVar(&connect, "connect", false, "open and close a session with the relay")
	return cmd
}

// probe opens a session with the relay, logs in if credentials are set and
// ends the session.
func probe(tc relay.TransportConfig) error {
	conn, err := relay.NewConnectionFactory(tc).Connect()
	if conn != nil {
		defer func() {
			if err := conn.Quit(); err != nil {
				log.Debug().Err(err).Msg("could not quit the session")
				conn.Close()
			}
		}()
	}
	if err != nil {
		return err
	}

	if tc.HasCredentials() {
		if err := conn.Login(tc.AuthUser, tc.AuthPassword); err != nil {
			return fmt.Errorf("login: %w", err)
		}
	}
	return nil
}
