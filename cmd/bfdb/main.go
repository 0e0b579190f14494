// Command bfdb turns a directory of captured Betfair market files into a
// queryable index and keeps the two in sync.
package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

var rootCmd = &cobra.Command{
	Use:   "bfdb",
	Short: "Index and query captured Betfair market data",
	Long: `bfdb maintains a relational index over a directory tree of captured
market data and metadata files.

The index is a single SQLite file (.betfairdatabaseindex) stored in the
database directory. Build it with 'bfdb index', keep it current with
'bfdb insert', 'bfdb clean' or 'bfdb watch', and query it with
'bfdb select' or 'bfdb export'.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default $HOME/.bfdb.yaml)")
	rootCmd.PersistentFlags().String("log-file", "", "append logs to a rotating file instead of stderr")
	rootCmd.PersistentFlags().Int("workers", 0, "extraction worker pool size (default: CPU count)")
	_ = viper.BindPFlag("log-file", rootCmd.PersistentFlags().Lookup("log-file"))
	_ = viper.BindPFlag("workers", rootCmd.PersistentFlags().Lookup("workers"))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func initConfig() {
	if cfg, _ := rootCmd.PersistentFlags().GetString("config"); cfg != "" {
		viper.SetConfigFile(cfg)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
			viper.SetConfigName(".bfdb")
			viper.SetConfigType("yaml")
		}
	}
	viper.SetEnvPrefix("BFDB")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// newLogger builds the shared logger: stderr by default, a rotating file
// when log-file is configured.
func newLogger() *log.Logger {
	var sink io.Writer = os.Stderr
	if logFile := viper.GetString("log-file"); logFile != "" {
		sink = &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    50, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
	}
	return log.New(sink, "[bfdb] ", log.LstdFlags)
}

// databaseDirArg resolves the database directory from the command args,
// defaulting to the current directory.
func databaseDirArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "."
}
