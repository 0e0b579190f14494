package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mzaja/betfair-database/internal/database"
	"github.com/mzaja/betfair-database/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Watch the database directory and index new files as they appear",
	Long: `Watch the database directory tree for newly captured market files.

Creation events are debounced so a capture burst is indexed as one batch.
Files are indexed in place; nothing is moved. Runs until interrupted.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		db, err := openDatabase(args)
		if err != nil {
			fatal(err)
		}
		logger := newLogger()

		debounce, _ := cmd.Flags().GetDuration("debounce")
		watcher, err := watch.New(db.Root(), debounce, logger)
		if err != nil {
			fatal(err)
		}

		handler := func(paths []string) {
			report, err := db.Insert(context.Background(), paths, database.InsertOptions{
				// Watched files are already inside the database tree.
				Pattern: nil,
			})
			if err != nil {
				logger.Printf("Insert failed: %v", err)
				return
			}
			logger.Printf("Watched insert: %s", report)
		}
		if err := watcher.Start(handler); err != nil {
			fatal(err)
		}
		defer watcher.Stop()

		fmt.Printf("Watching %s (Ctrl-C to stop)\n", db.Root())
		waitForInterrupt()
	},
}

func init() {
	watchCmd.Flags().Duration("debounce", 2*time.Second, "delay before indexing a batch of new files")
}
