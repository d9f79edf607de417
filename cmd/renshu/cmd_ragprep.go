package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/microsoft/renshu/internal/rag"
)

var (
	ragStoreName string
	ragBaseURL   string
	ragAPIKey    string
	ragExclude   []string
	ragOutput    string
)

func newRagPrepCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "rag-prep <kb-dir>",
		Aliases: []string{"ragprep"},
		Short:   "Build the knowledge-base vector store from markdown articles",
		Long: `Upload every markdown file under the given directory into an OpenAI
vector store and wait for indexing. A store with the configured name is
reused if it already exists. The resulting store ID feeds the demo's
--kb-store flag.`,
		Args: cobra.ExactArgs(1),
		RunE: ragPrepCommandE,
	}

	cmd.Flags().StringVar(&ragStoreName, "store-name", "esim-kb", "Vector store name to create or reuse")
	cmd.Flags().StringVar(&ragBaseURL, "base-url", "https://api.openai.com/v1", "OpenAI-compatible endpoint")
	cmd.Flags().StringVar(&ragAPIKey, "api-key", os.Getenv("OPENAI_API_KEY"), "API key for the endpoint")
	cmd.Flags().StringSliceVar(&ragExclude, "exclude", []string{"README.md"}, "File names to skip")
	cmd.Flags().StringVar(&ragOutput, "output", "vector_store_info.json", "Write the store info as JSON to this file")

	return cmd
}

func ragPrepCommandE(cmd *cobra.Command, args []string) error {
	prep := rag.NewPrep(ragBaseURL, ragAPIKey, ragStoreName,
		rag.WithExcludedFiles(ragExclude...))

	result, err := prep.Run(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	verb := "created"
	if result.Reused {
		verb = "reused"
	}
	fmt.Printf("Vector store %s: %s (%d articles)\n", verb, result.StoreID, len(result.Files))
	for _, f := range result.Files {
		fmt.Printf("  %s  %s\n", f.Name, f.Title)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(ragOutput, data, 0644); err != nil {
		return fmt.Errorf("writing store info: %w", err)
	}
	fmt.Printf("Store info written to %s\n", ragOutput)
	return nil
}
