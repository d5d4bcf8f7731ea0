package main

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/obsidianstack/sentinel/internal/config"
	"github.com/obsidianstack/sentinel/internal/logging"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	envFile    string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "sentinel",
		Short: "Health probes, golden-signal aggregation and alert fan-out",
		Long: `sentinel watches services with HTTP, TCP and custom probes, aggregates
request latency and error rates, and fans deduplicated alerts out to Slack,
Discord, Teams, Telegram, generic webhooks and a live WebSocket stream.

Examples:
  sentinel serve --config config.yaml
  sentinel check --config config.yaml
  sentinel validate --config config.yaml`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadEnv(opts.envFile)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "path to config file")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the config (ignored when missing)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log.level from the config")

	cmd.AddCommand(newServeCmd(opts), newCheckCmd(opts), newValidateCmd(opts))
	return cmd
}

// loadEnv loads a dotenv file without overriding variables already set.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// loadConfig reads the config and installs the global logger it describes.
// The returned closer flushes the log file, if any.
func loadConfig(opts *rootOptions) (*config.Config, func(), error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	closer, err := logging.Setup(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, func() {
		if err := closer.Close(); err != nil {
			log.Warn().Err(err).Msg("close log output")
		}
	}, nil
}
