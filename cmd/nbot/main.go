package main

import (
	"os"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"
)

func main() {
	err := rootCommand().Execute()
	sentry.Flush(sentryFlushTimeout)
	if err != nil {
		log.Error().Err(err).Msg("nbot exited with an error")
		os.Exit(1)
	}
}
