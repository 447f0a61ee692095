package main

import (
	"fmt"
	"log"
	"os"
	_ "time/tzdata"

	"github.com/spf13/cobra"

	"AccountPilot/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "pilot",
	Short: "AccountPilot - multi-account task orchestration",
	Long: `AccountPilot runs timed claims and round-robin purchase cycles for many
accounts against a remote service, within a daily window per account.`,
	SilenceUsage: true,
}

func init() {
	defaultPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		defaultPath = v
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultPath, "Path to the YAML config file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(windowsCmd)
	rootCmd.AddCommand(accountsCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
