package main

import (
	"fmt"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/zentra/nbot/config"
)

const sentryFlushTimeout = 2 * time.Second

// cli carries state shared between the root command and its subcommands.
type cli struct {
	cfg *config.Config
}

// rootCommand builds the nbot command tree. Running nbot without a
// subcommand starts the bot.
func rootCommand() *cobra.Command {
	c := &cli{}

	runCmd := c.runCommand()
	rootCmd := &cobra.Command{
		Use:           "nbot",
		Short:         "Discord bot that brings outside emotes into chat",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runCmd.RunE,
	}

	rootCmd.AddCommand(
		runCmd,
		c.syncCommand(),
		c.tokenCommand(),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return c.initialize()
	}

	return rootCmd
}

// initialize loads configuration and sets up logging and error reporting
// before any subcommand runs.
func (c *cli) initialize() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	c.cfg = cfg

	setupLogging(cfg)

	if cfg.Sentry.DSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.Environment,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize sentry: %w", err)
		}
		log.Info().Msg("Sentry error reporting enabled")
	}

	return nil
}

func setupLogging(cfg *config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("Unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
