package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"recap/internal/config"
	"recap/internal/logging"
)

var (
	version = "0.1.0"
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "recap",
		Short: "Turn finished screen recordings into work items",
		Long: `Recap takes a finished screen and voice recording, uploads it to your
video host, transcribes and summarizes it, and then drives a tool-calling
loop against your configured MCP servers to produce a work item from the
session.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/recap/config.yaml)")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(retryCmd())
	rootCmd.AddCommand(recordingsCmd())
	rootCmd.AddCommand(serversCmd())
	rootCmd.AddCommand(authCmd())
	rootCmd.AddCommand(serveCmd())

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("recap version %s\n", version)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads and validates configuration, then applies the
// configured log level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logging.SetLevel(logging.Level(cfg.Logging.Level))
	return cfg, nil
}

// configPath is where the active config file lives, honoring --config.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.GetConfigPath()
}
