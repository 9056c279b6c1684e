package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "laundryd",
	Short: "Laundry machine countdown display service",
	Long: "laundryd keeps a smooth local countdown for each configured machine and " +
		"reconciles it against the status snapshots the machine publishes.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	RunE: runServe,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file (default $CONFIG_PATH or ./config/config.yaml)")
	rootCmd.AddCommand(serveCmd, watchCmd)
}

// setupLogging loads .env and configures the global zerolog logger.
func setupLogging() {
	envErr := godotenv.Load()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	level, err := zerolog.ParseLevel(strings.ToLower(os.Getenv("LOG_LEVEL")))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if envErr != nil && !os.IsNotExist(envErr) {
		log.Warn().Err(envErr).Msg("could not load .env file")
	}
}

func configPath(cmd *cobra.Command) string {
	if p, _ := cmd.Flags().GetString("config"); p != "" {
		return p
	}
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "./config/config.yaml"
}
