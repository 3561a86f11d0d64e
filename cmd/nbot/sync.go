package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zentra/nbot/internal/services/collection"
	"github.com/zentra/nbot/internal/services/emotecache"
)

func (c *cli) syncCommand() *cobra.Command {
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a synchronizer once and exit",
	}

	syncCmd.AddCommand(
		&cobra.Command{
			Use:   "directory",
			Short: "Refresh the emote directory from the catalogs",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runOnce(c, cmd, func(ctx context.Context, a *app) (*collection.Report, error) {
					return a.collection.Update(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "cache",
			Short: "Refill the cache guild with the most used emotes",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runOnce(c, cmd, func(ctx context.Context, a *app) (*emotecache.SyncReport, error) {
					return a.cacheSync.Update(ctx)
				})
			},
		},
	)

	return syncCmd
}

// runOnce wires the app without connecting to the gateway, runs job and
// prints its report as JSON.
func runOnce[R any](c *cli, cmd *cobra.Command, job func(ctx context.Context, a *app) (*R, error)) error {
	if err := c.cfg.Validate(); err != nil {
		return err
	}

	a, err := newApp(c.cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, jobErr := job(ctx, a)
	if report != nil {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	}
	return jobErr
}
