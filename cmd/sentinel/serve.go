package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/obsidianstack/sentinel/internal/alert"
	"github.com/obsidianstack/sentinel/internal/api"
	"github.com/obsidianstack/sentinel/internal/auth"
	"github.com/obsidianstack/sentinel/internal/config"
	"github.com/obsidianstack/sentinel/internal/enrich"
	"github.com/obsidianstack/sentinel/internal/history"
	"github.com/obsidianstack/sentinel/internal/instrument"
	"github.com/obsidianstack/sentinel/internal/monitor"
	"github.com/obsidianstack/sentinel/internal/notify"
	"github.com/obsidianstack/sentinel/internal/plugin"
	"github.com/obsidianstack/sentinel/internal/ws"
)

// shutdownTimeout bounds graceful shutdown of the HTTP server and monitor.
const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run probes, aggregation and the HTTP API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, closeLog, err := loadConfig(opts)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			return serve(ctx, cfg, opts.configPath, watch)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", true, "reload dedup and aggregation settings when the config file changes")
	return cmd
}

// app is the wired service.
type app struct {
	monitor *monitor.Monitor
	hub     *ws.Hub
	handler http.Handler
}

// build wires every component described by cfg. Nothing is started.
func build(ctx context.Context, cfg *config.Config) (*app, error) {
	client := &http.Client{}

	var notifiers []notify.Notifier
	for _, nc := range cfg.Notifiers {
		n, err := notify.NewWebhook(nc, client)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, n)
	}

	var plugins []plugin.Plugin
	for _, spec := range cfg.Plugins {
		p, err := plugin.FromSpec(spec)
		if err != nil {
			return nil, err
		}
		plugins = append(plugins, p)
	}

	opts := monitor.Options{
		Cooldown:          cfg.Dedup.Cooldown,
		DisableDedup:      cfg.Dedup.Disabled,
		Notifiers:         notifiers,
		Plugins:           plugins,
		Probes:            cfg.Probes,
		Thresholds:        cfg.Aggregate.Thresholds,
		AggregateInterval: cfg.Aggregate.Interval,
		History:           history.New(cfg.History.TTL),
	}
	if cfg.Enrich.Enabled {
		llm := enrich.NewLLM(cfg.Enrich.Provider(), client)
		if llm.Enabled() {
			opts.Enricher = llm
		} else {
			log.Warn().Msg("enrich: enabled but no endpoint or key configured, skipping")
		}
	}

	m, err := monitor.New(ctx, opts)
	if err != nil {
		return nil, err
	}

	hub := ws.New(func() any { return statusSnapshot(m) }, cfg.Server.WSInterval)
	m.AddNotifier(hub)

	authCfg := cfg.Server.Auth
	guard := func(next http.Handler) http.Handler {
		return auth.APIKey(authCfg.Mode, authCfg.EffectiveHeader(), authCfg.Key(), next)
	}
	emit := alert.Emitter(func(ctx context.Context, a alert.Alert) { m.Alert(ctx, a) })

	var h http.Handler = api.New(m, api.Options{Guard: guard, Stream: hub})
	h = instrument.Recover(emit, h)
	h = instrument.Middleware(m, h)

	return &app{monitor: m, hub: hub, handler: h}, nil
}

// statusSnapshot is the payload pushed to stream clients on every tick.
func statusSnapshot(m *monitor.Monitor) any {
	return map[string]any{
		"healthy": m.Healthy(),
		"probes":  m.Status(),
		"stats":   m.Stats(),
	}
}

func serve(ctx context.Context, cfg *config.Config, path string, watch bool) error {
	a, err := build(ctx, cfg)
	if err != nil {
		return err
	}

	log.Info().
		Int("http_port", cfg.Server.HTTPPort).
		Str("auth_mode", cfg.Server.Auth.Mode).
		Int("probes", len(cfg.Probes)).
		Int("notifiers", len(cfg.Notifiers)).
		Msg("sentinel starting")

	if err := a.monitor.Start(ctx); err != nil {
		return err
	}
	go a.hub.Run(ctx)

	if watch {
		go func() {
			err := config.Watch(ctx, path, func(next *config.Config) {
				if err := a.monitor.Reconfigure(next.Dedup.Cooldown, next.Aggregate.Thresholds); err != nil {
					log.Warn().Err(err).Msg("config: reload rejected")
				}
			})
			if err != nil {
				log.Warn().Err(err).Msg("config: watch stopped")
			}
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Server.HTTPPort).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errc:
	}
	log.Info().Msg("sentinel shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown")
	}
	if err := a.monitor.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("monitor stop")
	}
	return serveErr
}
