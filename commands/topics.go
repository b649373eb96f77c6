package commands

import (
	"sort"

	"github.com/spf13/cobra"

	"github.com/c360studio/speccorpus/corpus"
)

func newTopicsCommand(configPath, logLevel *string) *cobra.Command {
	var statusFilter string

	cmd := &cobra.Command{
		Use:   "topics",
		Short: "List registered topics",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(*logLevel)
			app, err := BuildApp(cmd.Context(), *configPath, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			topics := app.Registry.Topics()
			sort.Slice(topics, func(i, j int) bool { return topics[i].ID < topics[j].ID })

			counts := make(map[corpus.Status]int)
			for _, topic := range topics {
				counts[topic.Status]++
				if statusFilter != "" && topic.Status != corpus.Status(statusFilter) {
					continue
				}
				cmd.Printf("%-14s %-40s %s\n", topic.Status, topic.ID, topic.Statement)
			}

			if statusFilter == "" && len(topics) > 0 {
				cmd.Println()
				for _, status := range []corpus.Status{
					corpus.StatusDiscovered,
					corpus.StatusInvestigating,
					corpus.StatusDrafted,
					corpus.StatusValidated,
					corpus.StatusPublished,
					corpus.StatusStale,
					corpus.StatusRetired,
				} {
					if counts[status] > 0 {
						cmd.Printf("%-14s %d\n", status, counts[status])
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&statusFilter, "status", "", "Only list topics with this status")
	return cmd
}
