package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/c360studio/speccorpus/notes"
)

func newRetireCommand(configPath, logLevel *string) *cobra.Command {
	var repointTo string

	cmd := &cobra.Command{
		Use:   "retire <topic-id>",
		Short: "Retire a topic and destroy its document",
		Long: `Retire removes a topic from the corpus. A topic still referenced by
consumers needs --repoint-to naming the replacement canonical; every
consumer is re-pointed and marked stale so its next validation inlines
the replacement's content.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(*logLevel)
			app, err := BuildApp(cmd.Context(), *configPath, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Orchestrator.Retire(cmd.Context(), args[0], repointTo); err != nil {
				return err
			}

			entry := fmt.Sprintf("retired %s", args[0])
			if repointTo != "" {
				entry = fmt.Sprintf("retired %s, consumers repointed to %s", args[0], repointTo)
			}
			operator := notes.NewOperator(app.Library.OperatorNotesPath())
			if err := operator.Append(entry); err != nil {
				logger.Warn("failed to record operator note",
					slog.String("error", err.Error()))
			}

			cmd.Printf("retired %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&repointTo, "repoint-to", "", "Replacement canonical for remaining consumers")
	return cmd
}
