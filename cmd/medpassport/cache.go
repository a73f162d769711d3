package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Sidhtang/medpassport/pkg/analysis"
	"github.com/Sidhtang/medpassport/pkg/fingerprint"
	"github.com/Sidhtang/medpassport/pkg/models"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the analysis cache",
	}
	cmd.AddCommand(
		newCacheStatsCmd(),
		newCacheClearCmd(),
		newCacheSweepCmd(),
		newCacheFingerprintCmd(),
	)
	return cmd
}

func newCacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			c, err := openCache(cfg, log, nil)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			stats, err := c.Stats(context.Background())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Backend:\t%s\n", stats.Backend)
			fmt.Fprintf(w, "TTL:\t%s\n", stats.TTL)
			fmt.Fprintf(w, "Entries:\t%s\n", humanize.Comma(stats.Entries))
			return w.Flush()
		},
	}
}

func newCacheClearCmd() *cobra.Command {
	var expiredOnly bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			c, err := openCache(cfg, log, nil)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			if err := c.Clear(context.Background(), expiredOnly); err != nil {
				return err
			}
			if expiredOnly {
				fmt.Println("Expired cache entries cleared.")
			} else {
				fmt.Println("All cache entries cleared.")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&expiredOnly, "expired", false, "only clear expired entries")
	return cmd
}

func newCacheSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired entries and report how many were removed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			c, err := openCache(cfg, log, nil)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			n, err := c.Sweep(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Removed %s expired %s.\n", humanize.Comma(n), plural(n, "entry", "entries"))
			return nil
		},
	}
}

func newCacheFingerprintCmd() *cobra.Command {
	var (
		kind     string
		category string
		role     string
		forget   bool
	)

	cmd := &cobra.Command{
		Use:   "fingerprint <file>",
		Short: "Show the cache key a file would be analyzed under",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			ctx := context.Background()
			prepared, err := preparerFor(cfg).Prepare(ctx, models.Artifact{
				Kind:     models.ArtifactKind(kind),
				FileName: args[0],
				Data:     data,
			})
			if err != nil {
				return err
			}
			if role == "" {
				role = models.RolePatient
			}
			key, err := fingerprint.Key(prepared.Canonical, analysis.CategoryFor(category, prepared.Kind), role)
			if err != nil {
				return err
			}

			cached := "no"
			if cfg.Cache.Enabled {
				c, err := openCache(cfg, log, nil)
				if err != nil {
					return err
				}
				defer func() { _ = c.Close() }()
				if _, ok := c.Lookup(ctx, key); ok {
					cached = "yes"
				}
				if forget {
					if err := c.Forget(ctx, key); err != nil {
						return err
					}
					cached = "forgotten"
				}
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Kind:\t%s\n", prepared.Kind)
			fmt.Fprintf(w, "Size:\t%s (canonical %s)\n", humanize.IBytes(uint64(len(data))), humanize.IBytes(uint64(len(prepared.Canonical))))
			fmt.Fprintf(w, "Fingerprint:\t%s\n", key.Fingerprint)
			fmt.Fprintf(w, "Category:\t%s\n", key.Category)
			fmt.Fprintf(w, "Role:\t%s\n", key.Role)
			fmt.Fprintf(w, "Key:\t%s\n", key)
			fmt.Fprintf(w, "Cached:\t%s\n", cached)
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "artifact kind (image, pdf, text, audio, video); detected when empty")
	cmd.Flags().StringVar(&category, "report-type", "", "report type; defaults by kind")
	cmd.Flags().StringVar(&role, "role", models.RolePatient, "requester role")
	cmd.Flags().BoolVar(&forget, "forget", false, "remove the cached entry for this key")
	return cmd
}

func plural(n int64, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
