package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mzaja/betfair-database/internal/database"
)

// openDatabase builds the database handle shared by every subcommand.
func openDatabase(args []string) (*database.DB, error) {
	db, err := database.Open(databaseDirArg(args), newLogger())
	if err != nil {
		return nil, err
	}
	if workers := viper.GetInt("workers"); workers > 0 {
		db.Workers = workers
	}
	return db, nil
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func printReport(report database.Report) {
	fmt.Printf("%s\n", report)
	for _, s := range report.Skipped {
		fmt.Printf("  skipped %s (%s): %v\n", s.MarketID, s.Path, s.Reason)
	}
}

var indexCmd = &cobra.Command{
	Use:   "index [dir]",
	Short: "Build the index for a database directory",
	Long: `Index every market data and metadata file under the directory.

Markets with a corrupt or missing definition are reported and skipped;
they do not abort the run. Re-indexing an already indexed directory
requires --force.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		db, err := openDatabase(args)
		if err != nil {
			fatal(err)
		}
		force, _ := cmd.Flags().GetBool("force")
		start := time.Now()
		report, err := db.Rebuild(context.Background(), force)
		if err != nil {
			fatal(err)
		}
		printReport(report)
		fmt.Printf("Indexed in %v\n", time.Since(start).Round(time.Millisecond))
	},
}

var insertCmd = &cobra.Command{
	Use:   "insert <source>...",
	Short: "Insert captured market files into the database",
	Long: `Insert market files from the given sources (directories or files).

By default the files are moved into the database directory, organised by
the configured import pattern; use --copy to leave the sources in place,
or --in-place to index them where they are.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dir, _ := cmd.Flags().GetString("db")
		db, err := openDatabase([]string{dir})
		if err != nil {
			fatal(err)
		}

		opts, err := insertOptions(cmd)
		if err != nil {
			fatal(err)
		}

		report, err := db.Insert(context.Background(), args, opts)
		if err != nil {
			fatal(err)
		}
		printReport(report)
	},
}

// insertOptions resolves the insert settings. The pattern and duplicate
// policy go through viper so config file and BFDB_* env values apply when
// the flags are left unset.
func insertOptions(cmd *cobra.Command) (database.InsertOptions, error) {
	var opts database.InsertOptions
	opts.Copy, _ = cmd.Flags().GetBool("copy")

	policy, err := database.ParseDuplicatePolicy(viper.GetString("on-duplicates"))
	if err != nil {
		return opts, err
	}
	opts.OnDuplicates = policy

	if inPlace, _ := cmd.Flags().GetBool("in-place"); !inPlace {
		opts.Pattern, err = database.ParseImportPattern(viper.GetString("pattern"))
		if err != nil {
			return opts, err
		}
	}
	return opts, nil
}

var cleanCmd = &cobra.Command{
	Use:   "clean [dir]",
	Short: "Remove index entries whose files are gone",
	Long: `Delete every index row whose referenced files no longer exist.

Only file existence is checked, so cleaning is much cheaper than a full
reindex but does not notice content changes to surviving files.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		db, err := openDatabase(args)
		if err != nil {
			fatal(err)
		}
		report, err := db.Clean(context.Background())
		if err != nil {
			fatal(err)
		}
		fmt.Printf("Removed %d of %d entries\n", report.Succeeded, report.Total)
	},
}

var selectCmd = &cobra.Command{
	Use:   "select [dir]",
	Short: "Query the index",
	Example: `  bfdb select . --where "eventTypeId = '7' AND localDayOfWeek = 'Saturday'"
  bfdb select . --columns marketId,eventVenue --limit 10`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		db, err := openDatabase(args)
		if err != nil {
			fatal(err)
		}
		var columns []string
		if cols, _ := cmd.Flags().GetString("columns"); cols != "" {
			columns = strings.Split(cols, ",")
		}
		where, _ := cmd.Flags().GetString("where")
		limit, _ := cmd.Flags().GetInt("limit")

		rows, err := db.Select(context.Background(), columns, where, limit)
		if err != nil {
			fatal(err)
		}
		if columns == nil {
			columns = db.Columns()
		}
		for _, row := range rows {
			parts := make([]string, len(columns))
			for i, col := range columns {
				parts[i] = fmt.Sprintf("%s=%v", col, row[col])
			}
			fmt.Println(strings.Join(parts, "\t"))
		}
	},
}

var exportCmd = &cobra.Command{
	Use:   "export [dir] [dest]",
	Short: "Export the index to a CSV file",
	Args:  cobra.MaximumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		db, err := openDatabase(args)
		if err != nil {
			fatal(err)
		}
		dest := "."
		if len(args) > 1 {
			dest = args[1]
		}
		path, err := db.Export(context.Background(), dest)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("Exported to %s\n", path)
	},
}

var sizeCmd = &cobra.Command{
	Use:   "size [dir]",
	Short: "Print the number of indexed markets",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		db, err := openDatabase(args)
		if err != nil {
			fatal(err)
		}
		n, err := db.Size(context.Background())
		if err != nil {
			fatal(err)
		}
		fmt.Println(n)
	},
}

var columnsCmd = &cobra.Command{
	Use:   "columns",
	Short: "List the queryable index columns",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		db, err := openDatabase(nil)
		if err != nil {
			fatal(err)
		}
		for _, col := range db.Columns() {
			fmt.Println(col)
		}
	},
}

func init() {
	indexCmd.Flags().Bool("force", false, "overwrite an existing index")

	insertCmd.Flags().String("db", ".", "database directory")
	insertCmd.Flags().Bool("copy", false, "copy source files instead of moving them")
	insertCmd.Flags().Bool("in-place", false, "index source files where they are")
	insertCmd.Flags().String("pattern", "historical", "import pattern: historical, event-id or flat")
	insertCmd.Flags().String("on-duplicates", "update", "duplicate handling: skip, replace or update")
	_ = viper.BindPFlag("pattern", insertCmd.Flags().Lookup("pattern"))
	_ = viper.BindPFlag("on-duplicates", insertCmd.Flags().Lookup("on-duplicates"))

	selectCmd.Flags().String("columns", "", "comma-separated columns to return (default: all)")
	selectCmd.Flags().String("where", "", "SQL predicate for filtering rows")
	selectCmd.Flags().Int("limit", 0, "maximum number of rows to return")

	rootCmd.AddCommand(indexCmd, insertCmd, cleanCmd, selectCmd, exportCmd,
		sizeCmd, columnsCmd, watchCmd)
}

// waitForInterrupt blocks until SIGINT or SIGTERM.
func waitForInterrupt() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}
