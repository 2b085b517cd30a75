package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/docker/go-units"
	"github.com/ptgott/relaymail/email"
	"github.com/ptgott/relaymail/relay"
	"github.com/ptgott/relaymail/storage"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type sendOptions struct {
	messagePath string
	to          []string
	cc          []string
	bcc         []string
	from        string
	subject     string
	force       bool
}

func newSendCommand(o *globalOptions) *cobra.Command {
	so := &sendOptions{}

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Deliver a message",
		Long: `Deliver a prepared RFC 5322 message to the configured relay.

Recipients are read from the To, Cc and Bcc headers. Bcc addresses are
delivered to but removed from the transmitted headers. The flags add
recipients or replace the sender and subject.

If journal_dir is configured, a message whose Message-ID was already
delivered is refused unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cmd, o)
			if err != nil {
				return err
			}
			return send(cmd, s.TransportConfig(), &storage.KVConfig{
				StorageDirPath: s.JournalDir,
				KeyTTLDuration: s.JournalRetention(),
			}, so)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&so.messagePath, "message", "m", "", `path to the message file, or "-" for stdin`)
	f.StringSliceVar(&so.to, "to", nil, "additional To recipients")
	f.StringSliceVar(&so.cc, "cc", nil, "additional Cc recipients")
	f.StringSliceVar(&so.bcc, "bcc", nil, "additional Bcc recipients")
	f.StringVar(&so.from, "from", "", "sender address, replacing the From header")
	f.StringVar(&so.subject, "subject", "", "subject, replacing the Subject header")
	f.BoolVar(&so.force, "force", false, "send even if the journal says the message was delivered")
	cmd.MarkFlagRequired("message")

	return cmd
}

func send(cmd *cobra.Command, tc relay.TransportConfig, kc *storage.KVConfig, so *sendOptions) error {
	m, err := readMessage(cmd, so)
	if err != nil {
		return err
	}

	kv, err := storage.Open(kc)
	if err != nil {
		return fmt.Errorf("can't open the journal: %w", err)
	}
	j := storage.NewJournal(kv)
	defer func() {
		if err := j.Cleanup(); err != nil {
			log.Debug().Err(err).Msg("could not clean up the journal")
		}
		if err := j.Close(); err != nil {
			log.Error().Err(err).Msg("could not close the journal")
		}
	}()

	if !so.force {
		d, ok, err := j.Delivered(m.ID())
		if err != nil {
			return fmt.Errorf("can't check the journal: %w", err)
		}
		if ok {
			return fmt.Errorf(
				"message %v was already delivered at %v, use --force to send it again",
				m.ID(),
				d.DeliveredAt.Format(time.RFC3339),
			)
		}
	}

	// Sized up front for logging. The relay client checks the limit on what
	// it actually transmits.
	b, err := m.Serialize()
	if err != nil {
		return fmt.Errorf("can't serialize the message: %w", err)
	}
	rcpts := relay.MergeRecipients(m.To(), m.Cc(), m.Bcc())
	log.Info().
		Str("messageID", m.ID()).
		Str("size", units.HumanSize(float64(len(b)))).
		Int("recipients", len(rcpts)).
		Msg("sending the message")

	c := relay.NewClient(tc, relay.WithLogger(relay.NewZerologLogger(log.Logger)))
	if err := c.SetMessage(m, false); err != nil {
		return err
	}
	if err := c.Send(); err != nil {
		return fmt.Errorf("delivery failed: %w", err)
	}

	sender := m.Sender()
	if sender == "" {
		sender = tc.FallbackSender()
	}
	err = j.Record(storage.Delivery{
		MessageID:   m.ID(),
		Sender:      sender,
		Recipients:  rcpts,
		DeliveredAt: time.Now().UTC(),
	})
	if err != nil {
		// The message is out, so this is only worth a warning
		log.Warn().Err(err).Str("messageID", m.ID()).Msg("could not record the delivery")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "delivered %v to %v recipient(s)\n", m.ID(), len(rcpts))
	return nil
}

// readMessage parses the message file and applies the overrides from the
// command line.
func readMessage(cmd *cobra.Command, so *sendOptions) (*email.Message, error) {
	var r io.Reader
	if so.messagePath == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(so.messagePath)
		if err != nil {
			return nil, fmt.Errorf("can't open the message file: %w", err)
		}
		defer f.Close()
		r = f
	}

	m, err := email.Parse(r)
	if err != nil {
		return nil, err
	}

	if err := m.AddTo(so.to...); err != nil {
		return nil, err
	}
	if err := m.AddCc(so.cc...); err != nil {
		return nil, err
	}
	if err := m.AddBcc(so.bcc...); err != nil {
		return nil, err
	}
	if so.from != "" {
		m.SetSender(so.from)
	}
	if so.subject != "" {
		m.SetSubject(so.subject)
	}

	return m, nil
}
