package commands

import (
	"github.com/spf13/cobra"
)

func newStatusCommand(configPath, logLevel *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <topic-id-or-statement>",
		Short: "Show a topic's lifecycle state and document details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(*logLevel)
			app, err := BuildApp(cmd.Context(), *configPath, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			doc, err := app.Registry.Lookup(args[0])
			if err != nil {
				return err
			}
			topic, err := app.Registry.Topic(doc.TopicID)
			if err != nil {
				return err
			}

			cmd.Printf("Topic:     %s\n", topic.ID)
			cmd.Printf("Statement: %s\n", topic.Statement)
			cmd.Printf("Status:    %s\n", topic.Status)
			cmd.Printf("File:      %s\n", app.Library.DocumentRelPath(doc))
			cmd.Printf("Revision:  %s\n", doc.Revision)
			cmd.Printf("Hash:      %s\n", doc.ContentHash())
			cmd.Printf("Behaviors: %d\n", len(doc.Behaviors))

			if canonicals := app.Graph.CanonicalsOf(topic.ID); len(canonicals) > 0 {
				cmd.Printf("References:\n")
				for _, c := range canonicals {
					cmd.Printf("  -> %s\n", c)
				}
			}
			if consumers := app.Graph.ConsumersOf(topic.ID); len(consumers) > 0 {
				cmd.Printf("Consumers:\n")
				for _, c := range consumers {
					cmd.Printf("  <- %s\n", c)
				}
			}
			return nil
		},
	}
	return cmd
}
