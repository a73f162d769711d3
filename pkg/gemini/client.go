// Package gemini calls the Gemini generateContent REST API to analyze a
// prepared artifact.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/Sidhtang/medpassport/pkg/config"
	"github.com/Sidhtang/medpassport/pkg/models"
)

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("gemini: empty response")

// Resolver picks the ordered models for an artifact kind.
type Resolver interface {
	Resolve(kind models.ArtifactKind) ([]string, error)
}

// StatusError is a non-2xx reply from the API.
type StatusError struct {
	Model      string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gemini %s: status %d: %s", e.Model, e.StatusCode, e.Message)
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	TopP            float64 `json:"topP,omitempty"`
	TopK            int     `json:"topK,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type request struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type response struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason,omitempty"`
	} `json:"candidates"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Client is an analysis.Analyzer backed by Gemini.
type Client struct {
	baseURL    string
	apiKey     string
	genCfg     generationConfig
	resolver   Resolver
	httpClient *http.Client
	log        *zap.Logger
}

// New creates a Client. A nil httpClient gets one with cfg.Timeout.
func New(cfg config.AnalyzerConfig, resolver Resolver, httpClient *http.Client, log *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		genCfg: generationConfig{
			Temperature:     cfg.Temperature,
			TopP:            cfg.TopP,
			TopK:            cfg.TopK,
			MaxOutputTokens: cfg.MaxOutputTokens,
		},
		resolver:   resolver,
		httpClient: httpClient,
		log:        log,
	}
}

// Analyze sends the prompt and optional media to each routed model in turn
// until one answers. Transport failures and 5xx replies move on to the next
// model; any other failure is returned immediately.
func (c *Client) Analyze(ctx context.Context, req models.AnalyzerRequest) (string, error) {
	chain, err := c.resolver.Resolve(req.Kind)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(c.buildRequest(req))
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	var lastErr error
	for i, model := range chain {
		text, status, err := c.generate(ctx, model, body)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if ctx.Err() != nil || !isRetryable(err, status) {
			return "", err
		}
		if i < len(chain)-1 {
			c.log.Warn("model failed, trying next",
				zap.String("model", model), zap.String("next", chain[i+1]), zap.Error(err))
		}
	}
	return "", lastErr
}

func (c *Client) buildRequest(req models.AnalyzerRequest) request {
	parts := []part{{Text: req.Prompt}}
	if req.Media != nil && len(req.Media.Data) > 0 {
		parts = append(parts, part{InlineData: &inlineData{
			MimeType: req.Media.MIMEType,
			Data:     base64.StdEncoding.EncodeToString(req.Media.Data),
		}})
	}
	gc := c.genCfg
	return request{
		Contents:         []content{{Role: "user", Parts: parts}},
		GenerationConfig: &gc,
	}
}

// generate performs one call. status is 0 when no response was received.
func (c *Client) generate(ctx context.Context, model string, body []byte) (string, int, error) {
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", 0, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", 0, fmt.Errorf("gemini %s: %w", model, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := http.StatusText(resp.StatusCode)
		var er errorResponse
		if json.Unmarshal(respBody, &er) == nil && er.Error.Message != "" {
			msg = er.Error.Message
		}
		return "", resp.StatusCode, &StatusError{Model: model, StatusCode: resp.StatusCode, Message: msg}
	}

	var gr response
	if err := json.Unmarshal(respBody, &gr); err != nil {
		return "", resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}

	var sb strings.Builder
	if len(gr.Candidates) > 0 {
		for _, p := range gr.Candidates[0].Content.Parts {
			sb.WriteString(p.Text)
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", resp.StatusCode, ErrEmptyResponse
	}
	return sb.String(), resp.StatusCode, nil
}

// isRetryable reports whether the next model should be tried.
func isRetryable(err error, statusCode int) bool {
	if statusCode == 0 {
		return err != nil
	}
	return statusCode >= 500
}
