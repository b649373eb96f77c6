package commands

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/c360studio/speccorpus/watch"
)

func newWatchCommand(configPath, logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Mark topics stale when their documents are edited out of band",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(*logLevel)
			app, err := BuildApp(cmd.Context(), *configPath, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := app.Watcher.Start(ctx); err != nil {
				return err
			}

			cmd.Printf("Watching %s (Ctrl-C to stop)\n", app.Library.SpecsPath())
			watch.MarkStale(ctx, app.Watcher.Events(), app.Registry, app.Registry, logger)
			return nil
		},
	}
}
