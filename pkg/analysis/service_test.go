package analysis

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Sidhtang/medpassport/pkg/cache"
	"github.com/Sidhtang/medpassport/pkg/cache/memory"
	"github.com/Sidhtang/medpassport/pkg/fingerprint"
	"github.com/Sidhtang/medpassport/pkg/models"
)

// fakeAnalyzer counts calls and answers with a fixed text or error.
type fakeAnalyzer struct {
	calls   atomic.Int32
	text    string
	err     error
	started chan struct{}
	release chan struct{}
	once    sync.Once
	lastReq models.AnalyzerRequest
	mu      sync.Mutex
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, req models.AnalyzerRequest) (string, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.lastReq = req
	f.mu.Unlock()
	if f.started != nil {
		f.once.Do(func() { close(f.started) })
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

// failingCache misses every lookup and rejects every write.
type failingCache struct{}

func (failingCache) Lookup(context.Context, models.CacheKey) (string, bool) { return "", false }
func (failingCache) Store(context.Context, models.CacheKey, string) error {
	return errors.New("disk full")
}

func newCache() *cache.Cache {
	return cache.New(memory.New(4), cache.DefaultTTL)
}

func imageRequest() Request {
	return Request{
		Content:  []byte("test-image-bytes"),
		Category: "X-Ray",
		Role:     "Patient",
		Call:     models.AnalyzerRequest{Kind: models.KindImage, Prompt: "describe"},
	}
}

func TestRunMissThenHit(t *testing.T) {
	an := &fakeAnalyzer{text: "Findings: none"}
	c := newCache()
	svc := NewService(an, WithCache(c))
	ctx := context.Background()

	first, err := svc.Run(ctx, imageRequest())
	require.NoError(t, err)
	assert.Equal(t, "Findings: none", first.Text)
	assert.False(t, first.CacheHit)
	assert.EqualValues(t, 1, an.calls.Load())

	fp, _ := fingerprint.Compute([]byte("test-image-bytes"))
	stored, ok := c.Lookup(ctx, models.CacheKey{Fingerprint: fp, Category: "X-Ray", Role: "Patient"})
	require.True(t, ok)
	assert.Equal(t, "Findings: none", stored)

	second, err := svc.Run(ctx, imageRequest())
	require.NoError(t, err)
	assert.Equal(t, "Findings: none", second.Text)
	assert.True(t, second.CacheHit)
	assert.EqualValues(t, 1, an.calls.Load(), "hit must not call the analyzer")
}

func TestRunRoleIsPartOfKey(t *testing.T) {
	an := &fakeAnalyzer{text: "x"}
	svc := NewService(an, WithCache(newCache()))

	_, err := svc.Run(context.Background(), imageRequest())
	require.NoError(t, err)

	req := imageRequest()
	req.Role = "Doctor"
	res, err := svc.Run(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.CacheHit)
	assert.EqualValues(t, 2, an.calls.Load())
}

func TestRunStoreFailureStillSucceeds(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	an := &fakeAnalyzer{text: "Findings: none"}
	svc := NewService(an, WithCache(failingCache{}), WithLogger(zap.New(core)))

	res, err := svc.Run(context.Background(), imageRequest())
	require.NoError(t, err)
	assert.Equal(t, "Findings: none", res.Text)
	assert.Error(t, res.StoreErr)
	assert.Equal(t, 1, logs.FilterMessage("cache store failed, returning fresh analysis").Len())
}

func TestRunAnalyzerFailure(t *testing.T) {
	an := &fakeAnalyzer{err: errors.New("upstream 500")}
	c := newCache()
	svc := NewService(an, WithCache(c))

	_, err := svc.Run(context.Background(), imageRequest())
	require.ErrorIs(t, err, ErrAnalysisFailed)

	stats, _ := c.Stats(context.Background())
	assert.Zero(t, stats.Entries, "failed analysis must not be cached")
}

func TestRunEmptyContent(t *testing.T) {
	an := &fakeAnalyzer{text: "x"}
	svc := NewService(an, WithCache(newCache()))

	req := imageRequest()
	req.Content = nil
	_, err := svc.Run(context.Background(), req)
	assert.ErrorIs(t, err, fingerprint.ErrEmptyContent)
	assert.Zero(t, an.calls.Load())
}

func TestRunWithoutCache(t *testing.T) {
	an := &fakeAnalyzer{text: "x"}
	svc := NewService(an)

	for i := 0; i < 2; i++ {
		res, err := svc.Run(context.Background(), imageRequest())
		require.NoError(t, err)
		assert.False(t, res.CacheHit)
	}
	assert.EqualValues(t, 2, an.calls.Load())
}

func TestRunCancellationStoresNothing(t *testing.T) {
	an := &fakeAnalyzer{text: "late", started: make(chan struct{}), release: make(chan struct{})}
	c := newCache()
	svc := NewService(an, WithCache(c))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := svc.Run(ctx, imageRequest())
		errc <- err
	}()

	<-an.started
	cancel()
	err := <-errc
	assert.ErrorIs(t, err, context.Canceled)

	stats, _ := c.Stats(context.Background())
	assert.Zero(t, stats.Entries)
}

func TestRunSingleFlight(t *testing.T) {
	an := &fakeAnalyzer{text: "shared", started: make(chan struct{}), release: make(chan struct{})}
	svc := NewService(an, WithCache(newCache()), WithSingleFlight(true))

	const callers = 5
	var wg sync.WaitGroup
	results := make([]*Result, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Run(context.Background(), imageRequest())
		}(i)
	}

	<-an.started
	time.Sleep(50 * time.Millisecond)
	close(an.release)
	wg.Wait()

	assert.EqualValues(t, 1, an.calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared", results[i].Text)
	}
}

func TestRunSingleFlightCallerCancellation(t *testing.T) {
	an := &fakeAnalyzer{text: "done", started: make(chan struct{}), release: make(chan struct{})}
	c := newCache()
	svc := NewService(an, WithCache(c), WithSingleFlight(true))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := svc.Run(ctx, imageRequest())
		errc <- err
	}()
	<-an.started
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	close(an.release)
	require.Eventually(t, func() bool {
		_, ok := c.Lookup(context.Background(), mustKey(t))
		return ok
	}, 2*time.Second, 10*time.Millisecond, "flight should complete and store for later callers")
}

func mustKey(t *testing.T) models.CacheKey {
	t.Helper()
	k, err := fingerprint.Key([]byte("test-image-bytes"), "X-Ray", "Patient")
	require.NoError(t, err)
	return k
}
