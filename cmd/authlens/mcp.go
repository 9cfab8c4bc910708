package main

import (
	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-authlens/internal/mcptools"
	"github.com/miradorstack/mirador-authlens/internal/models"
	"github.com/miradorstack/mirador-authlens/internal/utils"
)

func newMCPCommand(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Expose the analytics categories as MCP tools over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			// stdout carries the MCP protocol, so logs go to stderr.
			logger := utils.NewLoggerTo(cmd.ErrOrStderr(), cfg.Logging.Level, true)

			st, err := buildStack(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			return mcptools.NewServer("mirador-authlens", version, st.service, models.DefaultModelCatalog(), logger).Serve()
		},
	}
}
