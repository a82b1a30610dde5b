package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"vollahub/internal/api"
	"vollahub/internal/crawler"
	"vollahub/internal/hub"
	"vollahub/internal/logger"
	"vollahub/internal/metrics"
	"vollahub/internal/storage"
)

func newServeCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the content lists over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := loadDeps()
			if err != nil {
				return err
			}
			defer func() { _ = d.log.Sync() }()
			if addr == "" {
				addr = d.cfg.Server.Addr
			}

			store, err := storage.Open(d.cfg.Storage)
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			if store != nil {
				defer store.Close()
			}

			m := metrics.New(prometheus.DefaultRegisterer)
			orch, err := d.orchestrator(crawler.MultiSink{crawler.NewLogSink(d.log), m})
			if err != nil {
				return err
			}

			opts := []hub.Option{hub.WithLogger(d.log)}
			if store != nil {
				opts = append(opts, hub.WithStore(store))
			}
			manager := hub.NewManager(orch, opts...)
			defer manager.Close()

			ctx := cmd.Context()
			if err := manager.Load(ctx); err != nil {
				d.log.Warn("Restoring snapshots failed", logger.Error(err))
			}
			if d.cfg.Server.RefreshOnStart {
				go refreshOnStart(ctx, manager, d.log)
			}

			server := api.NewServer(api.Options{
				Hub:          manager,
				Renderers:    d.renderers(),
				ArticleHosts: d.cfg.Sources.Hosts(),
				Logger:       d.log,
			})
			return server.ListenAndServe(ctx, addr, d.cfg.Server.ShutdownTimeout.Duration)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

func refreshOnStart(ctx context.Context, manager *hub.Manager, log logger.Logger) {
	snaps, err := manager.RefreshAll(ctx)
	if err != nil {
		log.Warn("Initial refresh interrupted", logger.Error(err))
		return
	}
	for _, s := range snaps {
		log.Info("Initial refresh finished",
			logger.String("kind", string(s.Kind)),
			logger.String("status", s.Status),
			logger.Int("count", s.Count),
		)
	}
}
