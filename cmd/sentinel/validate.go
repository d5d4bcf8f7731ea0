package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/obsidianstack/sentinel/internal/config"
)

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Parse and validate the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d probes, %d notifiers, %d plugins)\n",
				opts.configPath, len(cfg.Probes), len(cfg.Notifiers), len(cfg.Plugins))
			return nil
		},
	}
}
