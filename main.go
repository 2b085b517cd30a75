package main

import (
	"os"
	"os/signal"

	"github.com/ptgott/relaymail/cli"

	"github.com/rs/zerolog/log"
)

func main() {
	// Log with filename and line number. This writes to stderr, so it should
	// be thread safe.
	// https://github.com/rs/zerolog/blob/7ccd4c940bf8a02fcc5f10e5475f9d3daff04d57/log/log.go#L13
	log.Logger = log.With().Caller().Logger()

	// Intercept interrupts so we can get more visibility into them. A
	// delivery that's cut short is simply not sent, and the message stays
	// wherever the caller got it from.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func(c chan os.Signal) {
		<-c
		log.Info().Msg("interrupt: exiting")
		os.Exit(130)
	}(sigCh)

	if err := cli.Execute(); err != nil {
		log.Error().Err(err).Msg("relaymail failed")
		os.Exit(1)
	}
}
