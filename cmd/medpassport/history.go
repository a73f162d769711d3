package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Sidhtang/medpassport/pkg/history"
	"github.com/Sidhtang/medpassport/pkg/models"
)

func newHistoryCmd() *cobra.Command {
	var (
		limit int
		kind  string
		role  string
		since string
		stats bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent analyses",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			if !cfg.History.Enabled {
				fmt.Println("Analysis history is disabled.")
				return nil
			}
			h, err := history.New(cfg.History, log)
			if err != nil {
				return err
			}
			defer func() { _ = h.Close() }()

			ctx := context.Background()

			if stats {
				rows, err := h.Stats(ctx)
				if err != nil {
					return err
				}
				if len(rows) == 0 {
					fmt.Println("No analyses recorded.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "REPORT TYPE\tANALYSES\tCACHED")
				for _, st := range rows {
					fmt.Fprintf(w, "%s\t%s\t%s\n", st.Category, humanize.Comma(st.Count), humanize.Comma(st.Cached))
				}
				return w.Flush()
			}

			opts := history.QueryOpts{
				Limit: limit,
				Kind:  models.ArtifactKind(kind),
				Role:  role,
			}
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				opts.Since = t
			}

			recs, err := h.Recent(ctx, opts)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Println("No analyses found.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "WHEN\tKIND\tREPORT TYPE\tROLE\tCACHED\tRESULT")
			for _, r := range recs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\n",
					humanize.Time(r.CreatedAt), r.Kind, r.Category, r.Role, r.Cached, firstLine(r.Result, 60))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", history.DefaultLimit, "max analyses to show")
	cmd.Flags().StringVar(&kind, "kind", "", "filter by artifact kind")
	cmd.Flags().StringVar(&role, "role", "", "filter by requester role")
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&stats, "stats", false, "show counts per report type instead")
	return cmd
}

func firstLine(s string, n int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}
