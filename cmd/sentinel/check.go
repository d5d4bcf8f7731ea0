package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/obsidianstack/sentinel/internal/probe"
)

func newCheckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check [probe...]",
		Short: "Run configured probes once and report their status",
		Long: `check runs each configured probe a single time, prints the result and
exits non-zero when any probe is unhealthy. No alerts are sent.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig(opts)
			if err != nil {
				return err
			}
			defer closeLog()

			mgr, err := probe.NewManager(cfg.Probes, nil)
			if err != nil {
				return err
			}
			return runChecks(cmd, mgr, args)
		},
	}
}

// runChecks prints one row per probe and fails when any is unhealthy.
func runChecks(cmd *cobra.Command, mgr *probe.Manager, names []string) error {
	if len(names) == 0 {
		names = mgr.Names()
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROBE\tSTATUS\tTIME\tERROR")
	failed := 0
	for _, name := range names {
		res, err := mgr.CheckNow(ctx, name)
		if err != nil {
			return err
		}
		status := "ok"
		if !res.Healthy {
			status = "FAIL"
			failed++
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", name, status, res.ResponseTime.Round(time.Millisecond), res.LastError)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d probes unhealthy", failed, len(names))
	}
	return nil
}
