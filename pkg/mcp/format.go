package mcp

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/Sidhtang/medpassport/pkg/history"
	"github.com/Sidhtang/medpassport/pkg/models"
)

const previewLen = 60

func formatCacheStats(stats models.CacheStats) string {
	total := stats.Hits + stats.Misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}
	return fmt.Sprintf("Cache Statistics\n"+
		"  Backend:  %s\n"+
		"  TTL:      %s\n"+
		"  Entries:  %s\n"+
		"  Hits:     %s\n"+
		"  Misses:   %s\n"+
		"  Errors:   %s\n"+
		"  Hit Rate: %.1f%%\n",
		stats.Backend, stats.TTL,
		humanize.Comma(stats.Entries), humanize.Comma(stats.Hits),
		humanize.Comma(stats.Misses), humanize.Comma(stats.Errors), hitRate)
}

func formatHistory(recs []models.AnalysisRecord) string {
	if len(recs) == 0 {
		return "No analyses found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-6s %-22s %-8s %-6s %s\n",
		"Time", "Kind", "Report Type", "Role", "Cached", "Result")
	b.WriteString(strings.Repeat("-", 110) + "\n")
	for _, r := range recs {
		cached := "no"
		if r.Cached {
			cached = "yes"
		}
		fmt.Fprintf(&b, "%-20s %-6s %-22s %-8s %-6s %s\n",
			r.CreatedAt.Format("2006-01-02 15:04:05"),
			r.Kind, r.Category, r.Role, cached, preview(r.Result))
	}
	return b.String()
}

func formatHistoryStats(stats []history.Stat) string {
	if len(stats) == 0 {
		return "No analyses recorded."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-30s %10s %10s\n", "Report Type", "Analyses", "Cached")
	b.WriteString(strings.Repeat("-", 52) + "\n")
	for _, st := range stats {
		fmt.Fprintf(&b, "%-30s %10s %10s\n", st.Category, humanize.Comma(st.Count), humanize.Comma(st.Cached))
	}
	return b.String()
}

func formatKey(key models.CacheKey) string {
	return fmt.Sprintf("Fingerprint: %s\nCategory:    %s\nRole:        %s\nCache key:   %s\n",
		key.Fingerprint, key.Category, key.Role, key.String())
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= previewLen {
		return s
	}
	return string(r[:previewLen]) + "..."
}
