package main

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
)

var version = "dev"

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "renshu",
		Short: "Renshu - train and evaluate tool-using agents",
		Long: `Renshu trains an email search agent with reinforcement learning and
relative group scoring, and ships an eSIM customer-service demo with its
own evaluation suite.`,
		Version:      version,
		SilenceUsage: true,
	}

	debugLogging := cmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if *debugLogging {
			slog.SetLogLoggerLevel(slog.LevelDebug)
		}
	}

	cmd.AddCommand(newTrainCommand())
	cmd.AddCommand(newTestCommand())
	cmd.AddCommand(newDatasetCommand())
	cmd.AddCommand(newDemoCommand())
	cmd.AddCommand(newEvalCommand())
	cmd.AddCommand(newRagPrepCommand())

	return cmd
}

func execute() error {
	rootCmd := newRootCommand()
	return rootCmd.Execute()
}

// requireAPIKey rejects an empty API key before any endpoint is dialed.
func requireAPIKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("an API key is required: pass --api-key or set the OPENAI_API_KEY environment variable")
	}
	return nil
}
