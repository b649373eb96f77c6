package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/c360studio/speccorpus/corpus"
	"github.com/c360studio/speccorpus/publish"
)

func newPublishCommand(configPath, logLevel *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish every validated document in a single commit",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(*logLevel)
			app, err := BuildApp(cmd.Context(), *configPath, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			batch := app.Registry.List(corpus.StatusValidated)
			if len(batch) == 0 {
				cmd.Println("nothing to publish")
				return nil
			}

			result, err := app.Gate.Publish(cmd.Context(), batch)
			if err != nil {
				var notReady *publish.NotReadyError
				if errors.As(err, &notReady) {
					return fmt.Errorf("batch refused: %w", err)
				}
				if errors.Is(err, publish.ErrPublishConflict) {
					return fmt.Errorf("remote moved, local commit kept: %w", err)
				}
				return err
			}

			if result.CommitHash == "" {
				cmd.Println("already up to date")
				return nil
			}
			cmd.Printf("published %d topics in commit %s\n", len(result.Topics), result.CommitHash)
			return nil
		},
	}
	return cmd
}
