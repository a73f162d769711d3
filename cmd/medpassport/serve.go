package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Sidhtang/medpassport/pkg/analysis"
	"github.com/Sidhtang/medpassport/pkg/gemini"
	"github.com/Sidhtang/medpassport/pkg/history"
	"github.com/Sidhtang/medpassport/pkg/logging"
	"github.com/Sidhtang/medpassport/pkg/metrics"
	"github.com/Sidhtang/medpassport/pkg/router"
	"github.com/Sidhtang/medpassport/pkg/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the analysis HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var m *metrics.Collector
			if cfg.Metrics.Enabled {
				m = metrics.New("medpassport")
			}

			opts := []analysis.Option{
				analysis.WithLogger(logging.Component(log, "analysis")),
				analysis.WithMetrics(m),
				analysis.WithSingleFlight(cfg.Cache.SingleFlight),
				analysis.WithBatchConcurrency(cfg.Upload.BatchConcurrency),
				analysis.WithPreparer(preparerFor(cfg)),
			}

			if cfg.Cache.Enabled {
				c, err := openCache(cfg, log, m)
				if err != nil {
					return err
				}
				defer func() { _ = c.Close() }()
				opts = append(opts, analysis.WithCache(c))
				go c.RunSweeper(ctx, cfg.Cache.SweepInterval)
			}

			var hist server.HistoryReader
			if cfg.History.Enabled {
				h, err := history.New(cfg.History, logging.Component(log, "history"))
				if err != nil {
					return fmt.Errorf("init history: %w", err)
				}
				defer func() { _ = h.Close() }()
				opts = append(opts, analysis.WithRecorder(h))
				hist = h
			}

			if cfg.Analyzer.APIKey == "" {
				log.Warn("analyzer api key is empty, analysis requests will be rejected upstream")
			}
			client := gemini.New(cfg.Analyzer, router.New(cfg), nil, logging.Component(log, "gemini"))
			svc := analysis.NewService(client, opts...)

			log.Info("starting medpassport",
				zap.String("version", version),
				zap.Bool("cache", cfg.Cache.Enabled),
				zap.String("backend", cfg.Cache.Backend),
				zap.Duration("ttl", cfg.Cache.TTL),
				zap.Bool("history", cfg.History.Enabled),
			)
			srv := server.New(cfg, svc, hist, m, logging.Component(log, "server"))
			return srv.ListenAndServe(ctx)
		},
	}
}
