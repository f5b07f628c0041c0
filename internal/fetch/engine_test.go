package fetch

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openlexbr/douflow/internal/cache"
	"github.com/openlexbr/douflow/internal/metrics"
	"github.com/openlexbr/douflow/internal/pipeline"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

const validBody = `<html><script id="params">{"jsonArray":[]}</script></html>`

type fakeFetcher struct {
	mu       sync.Mutex
	attempts int
	fetch    func(req pipeline.FetchRequest) (pipeline.FetchResponse, error)
}

func (f *fakeFetcher) Fetch(_ context.Context, req pipeline.FetchRequest) (pipeline.FetchResponse, error) {
	f.mu.Lock()
	f.attempts++
	f.mu.Unlock()
	return f.fetch(req)
}

func (f *fakeFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

type stoppedClock struct{ t time.Time }

func (c stoppedClock) Now() time.Time { return c.t }

func fastConfig() Config {
	return Config{
		Host:           "www.in.gov.br",
		MaxRetries:     3,
		BackoffInitial: time.Millisecond,
		BackoffMax:     2 * time.Millisecond,
	}
}

func testKey() pipeline.PageKey {
	return pipeline.PageKey{Date: "2025-04-07", Section: pipeline.Section3, Page: 1}
}

func TestFetchPageSuccess(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{fetch: func(pipeline.FetchRequest) (pipeline.FetchResponse, error) {
		return pipeline.FetchResponse{StatusCode: http.StatusOK, Body: []byte(validBody)}, nil
	}}
	engine := New(fastConfig(), fetcher, nil, nil, zap.NewNop())

	body, cached, err := engine.Begin().FetchPage(context.Background(), testKey(), pipeline.ModeFull)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, []byte(validBody), body)
	assert.Equal(t, 1, fetcher.count())
}

func TestFetchPageExhaustsRetries(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{fetch: func(pipeline.FetchRequest) (pipeline.FetchResponse, error) {
		return pipeline.FetchResponse{}, errors.New("connection reset")
	}}
	engine := New(fastConfig(), fetcher, nil, nil, zap.NewNop())

	_, _, err := engine.Begin().FetchPage(context.Background(), testKey(), pipeline.ModeFull)
	require.Error(t, err)
	assert.Equal(t, pipeline.KindExhausted, pipeline.KindOf(err))
	// max_retries of 3 means one initial attempt plus three retries.
	assert.Equal(t, 4, fetcher.count())
}

func TestFetchPageRecoversAfterTransientErrors(t *testing.T) {
	t.Parallel()

	calls := 0
	fetcher := &fakeFetcher{fetch: func(pipeline.FetchRequest) (pipeline.FetchResponse, error) {
		calls++
		if calls < 3 {
			return pipeline.FetchResponse{StatusCode: http.StatusBadGateway}, nil
		}
		return pipeline.FetchResponse{StatusCode: http.StatusOK, Body: []byte(validBody)}, nil
	}}
	engine := New(fastConfig(), fetcher, nil, nil, zap.NewNop())

	body, _, err := engine.Begin().FetchPage(context.Background(), testKey(), pipeline.ModeFull)
	require.NoError(t, err)
	assert.Equal(t, []byte(validBody), body)
	assert.Equal(t, 3, fetcher.count())
}

func TestFetchPageNotFoundIsNotRetried(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{fetch: func(pipeline.FetchRequest) (pipeline.FetchResponse, error) {
		return pipeline.FetchResponse{StatusCode: http.StatusNotFound}, nil
	}}
	engine := New(fastConfig(), fetcher, nil, nil, zap.NewNop())

	_, _, err := engine.Begin().FetchPage(context.Background(), testKey(), pipeline.ModeFull)
	require.ErrorIs(t, err, ErrPageNotFound)
	assert.Equal(t, 1, fetcher.count())
}

func TestFetchPageIncrementalServesFromCache(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{fetch: func(pipeline.FetchRequest) (pipeline.FetchResponse, error) {
		t.Fatal("network must not be touched on a live cache entry")
		return pipeline.FetchResponse{}, nil
	}}
	store := cache.NewMemory(stoppedClock{t: time.Unix(1000, 0)})
	store.Put(testKey(), []byte("cached body"), time.Hour)

	cfg := fastConfig()
	cfg.CacheEnabled = true
	cfg.CacheTTL = time.Hour
	engine := New(cfg, fetcher, nil, store, zap.NewNop())

	body, cached, err := engine.Begin().FetchPage(context.Background(), testKey(), pipeline.ModeIncremental)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, []byte("cached body"), body)
	assert.Equal(t, 0, fetcher.count())
}

func TestFetchPageFullModeBypassesCache(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{fetch: func(pipeline.FetchRequest) (pipeline.FetchResponse, error) {
		return pipeline.FetchResponse{StatusCode: http.StatusOK, Body: []byte(validBody)}, nil
	}}
	store := cache.NewMemory(stoppedClock{t: time.Unix(1000, 0)})
	store.Put(testKey(), []byte("stale cached body"), time.Hour)

	cfg := fastConfig()
	cfg.CacheEnabled = true
	cfg.CacheTTL = time.Hour
	engine := New(cfg, fetcher, nil, store, zap.NewNop())

	body, cached, err := engine.Begin().FetchPage(context.Background(), testKey(), pipeline.ModeFull)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, []byte(validBody), body)
	assert.Equal(t, 1, fetcher.count())

	// The fresh body replaces the stale entry.
	entry, ok := store.Get(testKey())
	require.True(t, ok)
	assert.Equal(t, []byte(validBody), entry.Content)
}

func TestFetchPageEscalatesToRenderFetcher(t *testing.T) {
	t.Parallel()

	plain := &fakeFetcher{fetch: func(pipeline.FetchRequest) (pipeline.FetchResponse, error) {
		return pipeline.FetchResponse{StatusCode: http.StatusOK, Body: []byte("<html>app shell</html>")}, nil
	}}
	render := &fakeFetcher{fetch: func(req pipeline.FetchRequest) (pipeline.FetchResponse, error) {
		return pipeline.FetchResponse{StatusCode: http.StatusOK, Body: []byte(validBody), Rendered: true}, nil
	}}

	cfg := fastConfig()
	cfg.RenderFallback = true
	cfg.ShapeThreshold = 2
	engine := New(cfg, plain, render, nil, zap.NewNop())

	sess := engine.Begin()
	body, _, err := sess.FetchPage(context.Background(), testKey(), pipeline.ModeFull)
	require.NoError(t, err)
	assert.Equal(t, []byte(validBody), body)
	assert.Equal(t, 2, plain.count())
	assert.Equal(t, 1, render.count())

	// Escalation sticks for the rest of the job.
	_, _, err = sess.FetchPage(context.Background(), testKey(), pipeline.ModeFull)
	require.NoError(t, err)
	assert.Equal(t, 2, plain.count())
	assert.Equal(t, 2, render.count())

	// A fresh session starts on the plain path until it trips itself.
	_, _, err = engine.Begin().FetchPage(context.Background(), testKey(), pipeline.ModeFull)
	require.NoError(t, err)
	assert.Equal(t, 4, plain.count())
	assert.Equal(t, 3, render.count())
}

func TestEscalationIsolatedBetweenJobs(t *testing.T) {
	t.Parallel()

	shell := []byte("<html>app shell</html>")
	plain := &fakeFetcher{fetch: func(pipeline.FetchRequest) (pipeline.FetchResponse, error) {
		return pipeline.FetchResponse{StatusCode: http.StatusOK, Body: shell}, nil
	}}
	render := &fakeFetcher{fetch: func(pipeline.FetchRequest) (pipeline.FetchResponse, error) {
		return pipeline.FetchResponse{StatusCode: http.StatusOK, Body: []byte(validBody), Rendered: true}, nil
	}}

	cfg := fastConfig()
	cfg.RenderFallback = true
	cfg.ShapeThreshold = 2
	engine := New(cfg, plain, render, nil, zap.NewNop())

	jobA := engine.Begin()
	_, _, err := jobA.FetchPage(context.Background(), testKey(), pipeline.ModeFull)
	require.NoError(t, err)
	require.Equal(t, 1, render.count())

	// A second job starting must not clear the first job's escalation.
	jobB := engine.Begin()
	_, _, err = jobA.FetchPage(context.Background(), testKey(), pipeline.ModeFull)
	require.NoError(t, err)
	assert.Equal(t, 2, render.count())

	// Nor does the first job's escalation leak into the second: job B
	// walks the plain path and trips its own detector from zero.
	plainBefore := plain.count()
	_, _, err = jobB.FetchPage(context.Background(), testKey(), pipeline.ModeFull)
	require.NoError(t, err)
	assert.Equal(t, plainBefore+2, plain.count())
	assert.Equal(t, 3, render.count())
}

func TestFetchPageCancelledContext(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{fetch: func(pipeline.FetchRequest) (pipeline.FetchResponse, error) {
		return pipeline.FetchResponse{}, context.Canceled
	}}
	engine := New(fastConfig(), fetcher, nil, nil, zap.NewNop())

	_, _, err := engine.Begin().FetchPage(context.Background(), testKey(), pipeline.ModeFull)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, fetcher.count())
}

func TestShapeDetector(t *testing.T) {
	t.Parallel()

	d := NewShapeDetector(2)
	assert.True(t, d.Valid([]byte(validBody)))
	assert.False(t, d.ShouldEscalate())

	assert.False(t, d.Valid([]byte("<html></html>")))
	assert.False(t, d.ShouldEscalate())
	assert.False(t, d.Valid([]byte("<html></html>")))
	assert.True(t, d.ShouldEscalate())

	// A valid body resets the consecutive-miss counter.
	assert.True(t, d.Valid([]byte(validBody)))
	assert.False(t, d.ShouldEscalate())
}

func TestRetryPolicyBackoffBounds(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(3, 100*time.Millisecond, time.Second)
	for retries := 0; retries < 10; retries++ {
		d := p.Backoff(retries)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, time.Second)
	}
}

func TestRetryPolicyRespectsContextErrors(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(3, time.Millisecond, time.Millisecond)
	assert.False(t, p.ShouldRetry(context.Canceled, 0))
	assert.False(t, p.ShouldRetry(context.DeadlineExceeded, 0))
	assert.True(t, p.ShouldRetry(errors.New("boom"), 2))
	assert.False(t, p.ShouldRetry(errors.New("boom"), 3))
	assert.False(t, p.ShouldRetry(nil, 0))
}
