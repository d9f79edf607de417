package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/microsoft/renshu/internal/mailstore"
)

var datasetDB string

func newDatasetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dataset <snapshot.jsonl[.gz]> [snapshot...]",
		Short: "Build the SQLite mail store from corpus snapshots",
		Long: `Rebuild the mail store from one or more JSONL email snapshots. Existing
tables are dropped, the corpus filters are applied while ingesting, and
the full-text index is built once every snapshot has loaded.`,
		Args: cobra.MinimumNArgs(1),
		RunE: datasetCommandE,
	}

	cmd.Flags().StringVar(&datasetDB, "db", "emails.db", "Path of the mail store to create")

	return cmd
}

func datasetCommandE(cmd *cobra.Command, args []string) error {
	store, err := mailstore.Create(datasetDB)
	if err != nil {
		return err
	}
	defer store.Close()

	var total mailstore.IngestStats
	for _, path := range args {
		stats, err := store.IngestFile(path)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d inserted, %d skipped, %d duplicates\n",
			path, stats.Inserted, stats.Skipped, stats.Duplicates)
		total.Inserted += stats.Inserted
		total.Skipped += stats.Skipped
		total.Duplicates += stats.Duplicates
	}

	if err := store.FinishIngest(); err != nil {
		return err
	}

	fmt.Printf("\nMail store ready at %s: %d emails indexed (%d skipped, %d duplicates)\n",
		datasetDB, total.Inserted, total.Skipped, total.Duplicates)
	return nil
}
