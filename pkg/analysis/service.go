// Package analysis orchestrates a single analysis request: fingerprint the
// canonical content, consult the cache, and on a miss call the analyzer and
// store its answer.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Sidhtang/medpassport/pkg/fingerprint"
	"github.com/Sidhtang/medpassport/pkg/metrics"
	"github.com/Sidhtang/medpassport/pkg/models"
	"github.com/Sidhtang/medpassport/pkg/prepare"
)

// ErrAnalysisFailed wraps every analyzer failure.
var ErrAnalysisFailed = errors.New("analysis failed")

// Analyzer performs the expensive external analysis.
type Analyzer interface {
	Analyze(ctx context.Context, req models.AnalyzerRequest) (string, error)
}

// ResultCache is the part of the analysis cache the service needs.
type ResultCache interface {
	Lookup(ctx context.Context, key models.CacheKey) (string, bool)
	Store(ctx context.Context, key models.CacheKey, text string) error
}

// Recorder keeps completed analyses.
type Recorder interface {
	Record(ctx context.Context, rec models.AnalysisRecord) error
}

// Request is one orchestration input. Content is the canonical form of the
// artifact; Call is sent to the analyzer on a miss.
type Request struct {
	Content  []byte
	Category string
	Role     string
	Call     models.AnalyzerRequest
}

// Result is the outcome of Run.
type Result struct {
	Text     string
	Key      models.CacheKey
	CacheHit bool
	// Shared is set when the text came from another caller's in-flight
	// analysis of the same key.
	Shared bool
	// StoreErr is the suppressed cache write failure, if any. The request
	// still succeeded.
	StoreErr error
}

// Option configures a Service.
type Option func(*Service)

// WithCache enables result caching.
func WithCache(c ResultCache) Option { return func(s *Service) { s.cache = c } }

// WithRecorder enables the analysis history.
func WithRecorder(r Recorder) Option { return func(s *Service) { s.recorder = r } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option { return func(s *Service) { s.metrics = m } }

// WithSingleFlight collapses concurrent misses for the same key into one
// analyzer call.
func WithSingleFlight(enabled bool) Option { return func(s *Service) { s.singleFlight = enabled } }

// WithPreparer sets the artifact preparer used by AnalyzeArtifact and Batch.
func WithPreparer(p *prepare.Preparer) Option { return func(s *Service) { s.preparer = p } }

// WithBatchConcurrency bounds the number of batch items processed at once.
func WithBatchConcurrency(n int) Option { return func(s *Service) { s.batchLimit = n } }

// Service runs analyses through the cache.
type Service struct {
	analyzer     Analyzer
	cache        ResultCache
	recorder     Recorder
	preparer     *prepare.Preparer
	log          *zap.Logger
	metrics      *metrics.Collector
	singleFlight bool
	batchLimit   int
	now          func() time.Time

	group singleflight.Group
}

// NewService creates a Service around analyzer.
func NewService(analyzer Analyzer, opts ...Option) *Service {
	s := &Service{
		analyzer:   analyzer,
		log:        zap.NewNop(),
		batchLimit: 4,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.preparer == nil {
		s.preparer = prepare.New(prepare.Options{})
	}
	return s
}

// Run fingerprints req.Content, returns the cached analysis when one is
// fresh, and otherwise calls the analyzer and stores its answer. Cache
// faults never fail the call.
func (s *Service) Run(ctx context.Context, req Request) (*Result, error) {
	key, err := fingerprint.Key(req.Content, req.Category, req.Role)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if s.cache != nil {
		if text, ok := s.cache.Lookup(ctx, key); ok {
			return &Result{Text: text, Key: key, CacheHit: true}, nil
		}
	}

	if !s.singleFlight {
		return s.invoke(ctx, key, req.Call)
	}

	// The flight outlives any single caller so that one cancellation does
	// not fail the others waiting on it.
	ch := s.group.DoChan(key.String(), func() (any, error) {
		return s.invoke(context.WithoutCancel(ctx), key, req.Call)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		res := *r.Val.(*Result)
		res.Shared = r.Shared
		if r.Shared {
			s.metrics.FlightShared()
		}
		return &res, nil
	}
}

func (s *Service) invoke(ctx context.Context, key models.CacheKey, call models.AnalyzerRequest) (*Result, error) {
	start := s.now()
	text, err := s.analyzer.Analyze(ctx, call)
	s.metrics.AnalysisDuration(string(call.Kind), s.now().Sub(start))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAnalysisFailed, err)
	}

	res := &Result{Text: text, Key: key}
	if s.cache != nil {
		if err := s.cache.Store(ctx, key, text); err != nil {
			res.StoreErr = err
			s.log.Warn("cache store failed, returning fresh analysis",
				zap.String("fingerprint", key.Fingerprint),
				zap.String("category", key.Category),
				zap.String("role", key.Role),
				zap.Error(err))
		}
	}
	return res, nil
}
