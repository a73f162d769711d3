package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Sidhtang/medpassport/pkg/history"
	"github.com/Sidhtang/medpassport/pkg/logging"
	"github.com/Sidhtang/medpassport/pkg/mcp"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve cache and history tools over MCP on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			var cache mcp.CacheStatter
			if cfg.Cache.Enabled {
				c, err := openCache(cfg, log, nil)
				if err != nil {
					return err
				}
				defer func() { _ = c.Close() }()
				cache = c
			}

			var hist mcp.HistoryQuerier
			if cfg.History.Enabled {
				h, err := history.New(cfg.History, log)
				if err != nil {
					return fmt.Errorf("init history: %w", err)
				}
				defer func() { _ = h.Close() }()
				hist = h
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := mcp.New(cache, hist, logging.Component(log, "mcp"), version)
			return srv.Run(ctx, os.Stdin, os.Stdout)
		},
	}
}
