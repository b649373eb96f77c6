package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newRunCommand(configPath, logLevel *string) *cobra.Command {
	var statementsFile string

	cmd := &cobra.Command{
		Use:   "run [statement ...]",
		Short: "Run a batch of topic statements through the pipeline",
		Long: `Run takes one or more topic statements, investigates each against the
source corpus, merges the results, and publishes every document that
reaches validated state in a single commit.

Statements are given as arguments or one per line via --file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			statements := args
			if statementsFile != "" {
				fromFile, err := readStatements(statementsFile)
				if err != nil {
					return err
				}
				statements = append(statements, fromFile...)
			}
			if len(statements) == 0 {
				return fmt.Errorf("no statements given")
			}

			logger := newLogger(*logLevel)
			app, err := BuildApp(cmd.Context(), *configPath, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			result, err := app.Orchestrator.RunBatch(cmd.Context(), statements)
			if err != nil {
				return err
			}

			for statement, outcome := range result.Outcomes {
				cmd.Printf("%-12s %s (%s)\n", outcome.Topic.Status, statement, outcome.Validation.Kind)
			}
			for statement, failure := range result.Failures {
				cmd.Printf("%-12s %s: %v\n", "failed", statement, failure)
			}
			if result.Publish != nil && result.Publish.CommitHash != "" {
				cmd.Printf("published %d topics in commit %s\n", len(result.Publish.Topics), result.Publish.CommitHash)
			}
			if len(result.Failures) > 0 {
				return fmt.Errorf("%d of %d statements failed", len(result.Failures), len(statements))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&statementsFile, "file", "f", "", "File with one topic statement per line")
	return cmd
}

func readStatements(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open statements file: %w", err)
	}
	defer f.Close()

	var statements []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		statements = append(statements, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read statements file: %w", err)
	}
	return statements, nil
}
