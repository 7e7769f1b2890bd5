package main

import (
	"fmt"
	"os"

	"github.com/goliatone/go-sitegate/adapters/zerologger"
	"github.com/goliatone/go-sitegate/config"
	"github.com/spf13/cobra"
)

const serviceName = "sitegate"

var (
	configFlag string
	rootCmd    = &cobra.Command{
		Use:           serviceName,
		Short:         "Identity, session and interaction ledger service for a content site",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func main() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "YAML config file (defaults to $"+config.EnvConfigFile+")")

	rootCmd.AddCommand(newServeCmd(), newHashPINCmd(), newReconcileCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads and validates the configuration and builds the logger
// it asks for.
func loadConfig() (*config.Config, *zerologger.Logger, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, nil, err
	}

	logger := zerologger.New(serviceName, cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return nil, logger, err
	}

	return cfg, logger, nil
}
