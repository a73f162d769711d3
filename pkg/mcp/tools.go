package mcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Sidhtang/medpassport/pkg/analysis"
	"github.com/Sidhtang/medpassport/pkg/fingerprint"
	"github.com/Sidhtang/medpassport/pkg/history"
	"github.com/Sidhtang/medpassport/pkg/models"
	"github.com/Sidhtang/medpassport/pkg/prepare"
)

type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

var toolHandlers = map[string]toolHandler{
	"medpassport_cache_stats":   handleCacheStats,
	"medpassport_history":       handleHistory,
	"medpassport_history_stats": handleHistoryStats,
	"medpassport_fingerprint":   handleFingerprint,
}

var allTools = []ToolDefinition{
	{
		Name:        "medpassport_cache_stats",
		Description: "Show analysis cache statistics (backend, entries, hits, misses, hit rate).",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "medpassport_history",
		Description: "List recent analyses, newest first, with optional filters.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of records (optional, defaults to 10)",
				},
				"kind": map[string]any{
					"type":        "string",
					"description": "Filter by artifact kind: image, pdf, text, audio, video (optional)",
				},
				"role": map[string]any{
					"type":        "string",
					"description": "Filter by requester role, e.g. Patient or Doctor (optional)",
				},
				"fingerprint": map[string]any{
					"type":        "string",
					"description": "Filter by content fingerprint (optional)",
				},
				"since": map[string]any{
					"type":        "string",
					"description": "Start date in YYYY-MM-DD format (optional)",
				},
			},
		},
	},
	{
		Name:        "medpassport_history_stats",
		Description: "Show analysis counts per report type, including how many were served from cache.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "medpassport_fingerprint",
		Description: "Compute the cache key a text report would be stored under.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"text"},
			"properties": map[string]any{
				"text": map[string]any{
					"type":        "string",
					"description": "Report text",
				},
				"category": map[string]any{
					"type":        "string",
					"description": "Report type (optional, defaults to Medical Report)",
				},
				"role": map[string]any{
					"type":        "string",
					"description": "Requester role (optional, defaults to Patient)",
				},
			},
		},
	},
}

func handleCacheStats(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.cache == nil {
		return textResult("Cache is not configured.")
	}
	stats, err := s.cache.Stats(ctx)
	if err != nil {
		return errorResult("Error fetching cache stats: " + err.Error())
	}
	return textResult(formatCacheStats(stats))
}

type historyArgs struct {
	Limit       int    `json:"limit"`
	Kind        string `json:"kind"`
	Role        string `json:"role"`
	Fingerprint string `json:"fingerprint"`
	Since       string `json:"since"`
}

func handleHistory(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.history == nil {
		return textResult("Analysis history is not configured.")
	}
	var args historyArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}

	opts := history.QueryOpts{
		Limit:       args.Limit,
		Kind:        models.ArtifactKind(args.Kind),
		Role:        args.Role,
		Fingerprint: args.Fingerprint,
	}
	if args.Since != "" {
		t, err := time.Parse("2006-01-02", args.Since)
		if err != nil {
			return errorResult("Invalid since date (use YYYY-MM-DD): " + err.Error())
		}
		opts.Since = t
	}

	recs, err := s.history.Recent(ctx, opts)
	if err != nil {
		return errorResult("Error fetching history: " + err.Error())
	}
	return textResult(formatHistory(recs))
}

func handleHistoryStats(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.history == nil {
		return textResult("Analysis history is not configured.")
	}
	stats, err := s.history.Stats(ctx)
	if err != nil {
		return errorResult("Error fetching history stats: " + err.Error())
	}
	return textResult(formatHistoryStats(stats))
}

type fingerprintArgs struct {
	Text     string `json:"text"`
	Category string `json:"category"`
	Role     string `json:"role"`
}

func handleFingerprint(_ context.Context, _ *Server, rawArgs json.RawMessage) ToolCallResult {
	var args fingerprintArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	text, err := prepare.Text([]byte(args.Text))
	if err != nil {
		return errorResult(err.Error())
	}
	if text == "" {
		return errorResult("text is required")
	}
	if args.Category == "" {
		args.Category = analysis.DefaultReportCategory
	}
	if args.Role == "" {
		args.Role = models.RolePatient
	}
	key, err := fingerprint.Key([]byte(text), args.Category, args.Role)
	if err != nil {
		return errorResult(err.Error())
	}
	return textResult(formatKey(key))
}
