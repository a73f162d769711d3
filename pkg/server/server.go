// Package server exposes the analysis service over HTTP multipart uploads.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Sidhtang/medpassport/pkg/analysis"
	"github.com/Sidhtang/medpassport/pkg/config"
	"github.com/Sidhtang/medpassport/pkg/fingerprint"
	"github.com/Sidhtang/medpassport/pkg/history"
	"github.com/Sidhtang/medpassport/pkg/metrics"
	"github.com/Sidhtang/medpassport/pkg/models"
	"github.com/Sidhtang/medpassport/pkg/prepare"
)

// CacheHeader reports whether a response was served from the cache.
const CacheHeader = "X-Medpassport-Cache"

// statusClientClosed is logged when the client goes away mid-request.
const statusClientClosed = 499

// formOverhead is allowed on top of the file size limit for the other
// multipart fields.
const formOverhead = 1 << 20

// HistoryReader lists recent analyses.
type HistoryReader interface {
	Recent(ctx context.Context, opts history.QueryOpts) ([]models.AnalysisRecord, error)
}

// Server is the medpassport HTTP API.
type Server struct {
	cfg     *config.Config
	svc     *analysis.Service
	history HistoryReader
	metrics *metrics.Collector
	log     *zap.Logger
	mux     *http.ServeMux
}

// New creates a Server. hist and m may be nil.
func New(cfg *config.Config, svc *analysis.Service, hist HistoryReader, m *metrics.Collector, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		cfg:     cfg,
		svc:     svc,
		history: hist,
		metrics: m,
		log:     log,
		mux:     http.NewServeMux(),
	}
	s.mux.HandleFunc("/v1/analyze/image", s.handleImage)
	s.mux.HandleFunc("/v1/analyze/report", s.handleReport)
	s.mux.HandleFunc("/v1/analyze/media", s.handleMedia)
	s.mux.HandleFunc("/v1/batch", s.handleBatch)
	s.mux.HandleFunc("/v1/history", s.handleHistory)
	s.mux.HandleFunc("/healthz", s.handleHealth)
	if cfg.Metrics.Enabled && m != nil {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		s.mux.Handle(path, m.Handler())
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := r.Header.Get("X-Request-ID")
	if reqID == "" {
		reqID = uuid.NewString()
	}
	w.Header().Set("X-Request-ID", reqID)
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe starts the server with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("medpassport listening", zap.String("addr", s.cfg.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

type analysisResponse struct {
	Result string `json:"result"`
}

type batchResponse struct {
	Results []models.BatchResult `json:"results"`
}

type historyResponse struct {
	History []models.AnalysisRecord `json:"history"`
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	a, ok := s.parseSingle(w, r, "image", int64(s.cfg.Upload.MaxImageBytes))
	if !ok {
		return
	}
	defer removeForm(r)
	if a.Data == nil {
		writeJSONError(w, http.StatusBadRequest, "no image uploaded")
		return
	}
	a.Kind = models.KindImage
	s.analyze(w, r, a)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	a, ok := s.parseSingle(w, r, "report", int64(s.cfg.Upload.MaxReportBytes))
	if !ok {
		return
	}
	defer removeForm(r)
	if a.Data == nil {
		a.Text = r.FormValue("textInput")
		if strings.TrimSpace(a.Text) == "" {
			writeJSONError(w, http.StatusBadRequest, "no report text provided")
			return
		}
		a.Kind = models.KindText
	} else {
		a.Kind = prepare.DetectKind(a.FileName, a.Data)
		if a.Kind != models.KindText && a.Kind != models.KindPDF {
			writeJSONError(w, http.StatusBadRequest, "please upload a text or PDF report")
			return
		}
	}
	if a.Category == "" {
		a.Category = analysis.DefaultReportCategory
	}
	s.analyze(w, r, a)
}

func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	a, ok := s.parseSingle(w, r, "audioVideo", int64(s.cfg.Upload.MaxMediaBytes))
	if !ok {
		return
	}
	defer removeForm(r)
	if a.Data == nil {
		writeJSONError(w, http.StatusBadRequest, "no audio/video file uploaded")
		return
	}
	a.Kind = prepare.DetectKind(a.FileName, a.Data)
	if a.Kind != models.KindAudio && a.Kind != models.KindVideo {
		writeJSONError(w, http.StatusBadRequest, "please upload a valid audio or video file")
		return
	}
	s.analyze(w, r, a)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	limit := int64(s.cfg.Upload.MaxMediaBytes)
	r.Body = http.MaxBytesReader(w, r.Body, limit+formOverhead)
	if err := r.ParseMultipartForm(limit); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer removeForm(r)

	category := r.FormValue("reportType")
	if category == "" {
		category = analysis.CategoryAutoDetect
	}
	role := formRole(r)
	info := r.FormValue("additionalInfo")

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeJSONError(w, http.StatusBadRequest, "no files uploaded")
		return
	}

	artifacts := make([]models.Artifact, 0, len(headers))
	for _, fh := range headers {
		data, err := readPart(fh)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("failed to read %s", fh.Filename))
			return
		}
		artifacts = append(artifacts, models.Artifact{
			FileName:       fh.Filename,
			Data:           data,
			Category:       category,
			Role:           role,
			AdditionalInfo: info,
		})
	}

	results := s.svc.Batch(r.Context(), artifacts)
	writeJSON(w, http.StatusOK, batchResponse{Results: results})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.history == nil {
		writeJSONError(w, http.StatusNotFound, "history is disabled")
		return
	}

	opts := history.QueryOpts{
		Kind:        models.ArtifactKind(r.URL.Query().Get("kind")),
		Role:        r.URL.Query().Get("userRole"),
		Fingerprint: r.URL.Query().Get("fingerprint"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		opts.Limit = n
	}

	recs, err := s.history.Recent(r.Context(), opts)
	if err != nil {
		s.log.Error("history query failed", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "failed to fetch analysis history")
		return
	}
	if recs == nil {
		recs = []models.AnalysisRecord{}
	}
	writeJSON(w, http.StatusOK, historyResponse{History: recs})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// parseSingle reads a multipart form with at most one file in field. It
// writes the error response itself and reports false when the request
// cannot proceed. Data is nil when the field is absent.
func (s *Server) parseSingle(w http.ResponseWriter, r *http.Request, field string, limit int64) (models.Artifact, bool) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return models.Artifact{}, false
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit+formOverhead)
	if err := r.ParseMultipartForm(limit); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return models.Artifact{}, false
		}
		writeJSONError(w, http.StatusBadRequest, "invalid multipart form")
		return models.Artifact{}, false
	}

	a := models.Artifact{
		Category:       r.FormValue("reportType"),
		Role:           formRole(r),
		AdditionalInfo: r.FormValue("additionalInfo"),
	}

	if fhs := r.MultipartForm.File[field]; len(fhs) > 0 {
		if fhs[0].Size > limit {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return models.Artifact{}, false
		}
		data, err := readPart(fhs[0])
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "failed to read upload")
			return models.Artifact{}, false
		}
		a.FileName = fhs[0].Filename
		a.Data = data
	}
	return a, true
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request, a models.Artifact) {
	res, err := s.svc.AnalyzeArtifact(r.Context(), a)
	if err != nil {
		s.writeAnalysisError(w, r, err)
		return
	}
	if res.CacheHit {
		w.Header().Set(CacheHeader, "hit")
	} else {
		w.Header().Set(CacheHeader, "miss")
	}
	writeJSON(w, http.StatusOK, analysisResponse{Result: res.Text})
}

func (s *Server) writeAnalysisError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	fields := []zap.Field{
		zap.String("path", r.URL.Path),
		zap.String("request_id", w.Header().Get("X-Request-ID")),
		zap.Int("status", code),
		zap.Error(err),
	}
	switch {
	case code == statusClientClosed:
		s.log.Debug("client went away", fields...)
		w.WriteHeader(code)
		return
	case code >= 500:
		s.log.Error("analysis failed", fields...)
	default:
		s.log.Info("analysis rejected", fields...)
	}
	writeJSONError(w, code, err.Error())
}

// statusFor maps an analysis error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.Canceled):
		return statusClientClosed
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, fingerprint.ErrEmptyContent),
		errors.Is(err, prepare.ErrInvalidImage),
		errors.Is(err, prepare.ErrInvalidText),
		errors.Is(err, prepare.ErrUnsupportedKind):
		return http.StatusBadRequest
	case errors.Is(err, analysis.ErrAnalysisFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func removeForm(r *http.Request) {
	if r.MultipartForm != nil {
		_ = r.MultipartForm.RemoveAll()
	}
}

func formRole(r *http.Request) string {
	if role := r.FormValue("userRole"); role != "" {
		return role
	}
	return models.RolePatient
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"medpassport_error","code":%d}}`, message, code)
}
