package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/evanwires/sidekick/internal/config"
	"github.com/evanwires/sidekick/internal/logging"
)

var (
	cfgFile string
	debug   bool
	rootCmd = &cobra.Command{
		Use:   "sidekick",
		Short: "sidekick is a live customer-support assist engine",
	}
)

// Execute runs the root command.
func Execute() error {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultPath, "config file path")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentPreRun = func(_ *cobra.Command, _ []string) {
		logging.Init(debug)
		_ = godotenv.Load()
	}
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(consoleCmd())
	rootCmd.AddCommand(simulateCmd())
	rootCmd.AddCommand(kbCmd())
	return rootCmd.Execute()
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
}
