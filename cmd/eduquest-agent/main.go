package main

import (
	"fmt"
	"io"
	"os"

	eduquest "github.com/Mehalmpradeep/EduQuest"
	"github.com/Mehalmpradeep/EduQuest/cache"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// this is set by goreleaser
var version string

var (
	// CLI flags
	configFilenameFlag string
	verbosityTraceFlag bool
	logFilenameFlag    string
	dbFilenameFlag     string
)

var rootCmd = &cobra.Command{
	Use:           "eduquest-agent",
	Short:         "Offline caching agent for the EduQuest web app",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := eduquest.LoadEnv(); err != nil {
			return err
		}
		return setupLogging(logFilenameFlag)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	if version == "" {
		version = "DEV"
	}
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFilenameFlag, "config", "", "Path to config file")
	flags.StringVar(&dbFilenameFlag, "db", "", "Cache DB file name, 'memory' for in-memory cache (overrides config)")
	flags.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flags.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")
	rootCmd.AddCommand(serveCmd, cachesCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Exiting")
		os.Exit(1)
	}
}

// setupLogging sets the global logger to write to stdout,
// and also to the log file if specified.
func setupLogging(logFilename string) error {
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}
	logOutputs := []io.Writer{zerolog.ConsoleWriter{Out: os.Stdout}}
	if logFilename != "" {
		logFileOutput, err := os.OpenFile(logFilename, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
		if err != nil {
			return fmt.Errorf("cannot open log file: %w", err)
		}
		logOutputs = append(logOutputs, logFileOutput)
	}
	log.Logger = log.Level(logLevel).Output(zerolog.MultiLevelWriter(logOutputs...)).
		With().Str("version", version).Logger()
	return nil
}

// loadConfig loads the config file and environment, with the persistent flags applied.
func loadConfig() (eduquest.Config, error) {
	config, err := eduquest.LoadConfig(configFilenameFlag)
	if err != nil {
		return config, err
	}
	if dbFilenameFlag != "" {
		config.DB = dbFilenameFlag
	}
	return config, nil
}

// openStorage opens the cache storage in the given file, or in memory.
func openStorage(dbFilename string) (*cache.Storage, error) {
	if dbFilename == "memory" {
		return cache.NewStorage(cache.NewMemCache()), nil
	}
	provider, err := cache.NewSQLiteCache(dbFilename)
	if err != nil {
		return nil, fmt.Errorf("open cache db %s: %w", dbFilename, err)
	}
	return cache.NewStorage(provider), nil
}
