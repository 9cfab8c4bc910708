package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-authlens/internal/config"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "authlens",
		Short:         "Authentication security analytics over the warehouse auth log",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file (defaults to $AUTHLENS_CONFIG)")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		return cfg, nil
	}

	root.AddCommand(
		newServeCommand(load),
		newWatchCommand(load),
		newMCPCommand(load),
	)
	return root
}

type configLoader func() (*config.Config, error)
