// Package fetch layers caching, retry with jittered backoff, politeness
// spacing, and headless escalation on top of a raw page fetcher.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/openlexbr/douflow/internal/metrics"
	"github.com/openlexbr/douflow/internal/pipeline"
)

// ErrPageNotFound reports that the gazette has no such page for the
// requested date and section. The collector treats it as a missing page,
// not a job failure.
var ErrPageNotFound = pipeline.NewError(pipeline.KindValidationFailure, pipeline.StageCollect, "page not found", nil)

// Config tunes the fetch engine.
type Config struct {
	Host           string
	CacheEnabled   bool
	CacheTTL       time.Duration
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	DelayMin       time.Duration
	DelayMax       time.Duration
	RenderFallback bool
	ShapeThreshold int
}

// Engine holds the collaborators shared by every job: the fetchers, the
// cache, the retry policy, and the per-host politeness limiter. Per-job
// state lives on the Session an engine opens for each run.
type Engine struct {
	cfg    Config
	plain  pipeline.PageFetcher
	render pipeline.PageFetcher
	cache  pipeline.ContentCache
	policy *ExponentialRetryPolicy
	wait   *Politeness
	logger *zap.Logger
}

// New builds a fetch engine. render and cache may be nil.
func New(cfg Config, plain, render pipeline.PageFetcher, cache pipeline.ContentCache, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ShapeThreshold < 1 {
		cfg.ShapeThreshold = 2
	}
	return &Engine{
		cfg:    cfg,
		plain:  plain,
		render: render,
		cache:  cache,
		policy: NewExponentialRetryPolicy(cfg.MaxRetries, cfg.BackoffInitial, cfg.BackoffMax),
		wait:   NewPoliteness(cfg.DelayMin, cfg.DelayMax),
		logger: logger,
	}
}

// Session carries the escalation state of one job: the shape detector's
// consecutive-miss counter and the sticky render flag. Concurrent jobs
// each hold their own session, so one job escalating (or starting fresh)
// never changes how another job fetches.
type Session struct {
	engine   *Engine
	detector *ShapeDetector

	escalated atomic.Bool
}

// Begin opens a fetch session for one job. The collector calls it once
// at the start of every job.
func (e *Engine) Begin() pipeline.PageSource {
	return &Session{
		engine:   e,
		detector: NewShapeDetector(e.cfg.ShapeThreshold),
	}
}

// FetchPage returns the body for key. In incremental mode a live cache
// entry is served without touching the network; the second return value
// reports that case. Transient failures are retried up to MaxRetries
// times, after which the call fails with an exhausted error.
func (s *Session) FetchPage(ctx context.Context, key pipeline.PageKey, mode pipeline.Mode) ([]byte, bool, error) {
	e := s.engine
	if mode == pipeline.ModeIncremental && e.cacheUsable() {
		if entry, ok := e.cache.Get(key); ok {
			metrics.ObserveCacheLookup(true)
			e.logger.Debug("cache hit",
				zap.String("date", key.Date),
				zap.String("section", string(key.Section)),
				zap.Int("page", key.Page))
			return entry.Content, true, nil
		}
		metrics.ObserveCacheLookup(false)
	}

	date, err := time.Parse(pipeline.DateLayout, key.Date)
	if err != nil {
		return nil, false, pipeline.NewError(pipeline.KindValidationFailure, pipeline.StageCollect,
			fmt.Sprintf("bad page date %q", key.Date), err)
	}

	var lastErr error
	for retries := 0; ; retries++ {
		body, err := s.attempt(ctx, key, date)
		if err == nil {
			if e.cacheUsable() {
				e.cache.Put(key, body, e.cfg.CacheTTL)
			}
			return body, false, nil
		}
		lastErr = err
		if !isTransient(err) {
			return nil, false, err
		}
		if !e.policy.ShouldRetry(err, retries) {
			break
		}
		backoff := e.policy.Backoff(retries)
		e.logger.Warn("fetch attempt failed, backing off",
			zap.String("date", key.Date),
			zap.String("section", string(key.Section)),
			zap.Int("page", key.Page),
			zap.Int("retries", retries),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, false, ctx.Err()
		case <-timer.C:
		}
	}

	return nil, false, pipeline.NewError(pipeline.KindExhausted, pipeline.StageCollect,
		fmt.Sprintf("fetch retries exhausted after %d attempts", e.cfg.MaxRetries+1), lastErr)
}

func (s *Session) attempt(ctx context.Context, key pipeline.PageKey, date time.Time) ([]byte, error) {
	e := s.engine
	if err := e.wait.Wait(ctx, e.cfg.Host); err != nil {
		return nil, err
	}

	fetcher := e.plain
	rendered := false
	if s.escalated.Load() && e.render != nil {
		fetcher = e.render
		rendered = true
	}

	resp, err := fetcher.Fetch(ctx, pipeline.FetchRequest{
		Date:    date,
		Section: key.Section,
		Page:    key.Page,
		Render:  rendered,
	})
	if err != nil {
		metrics.ObserveFetch(string(key.Section), "error", 0)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, pipeline.NewError(pipeline.KindTransient, pipeline.StageCollect, "fetch failed", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		metrics.ObserveFetch(string(key.Section), "not_found", resp.Duration)
		return nil, ErrPageNotFound
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		metrics.ObserveFetch(string(key.Section), "error", resp.Duration)
		return nil, pipeline.NewError(pipeline.KindTransient, pipeline.StageCollect,
			fmt.Sprintf("server responded %d", resp.StatusCode), nil)
	case resp.StatusCode >= 400:
		metrics.ObserveFetch(string(key.Section), "error", resp.Duration)
		return nil, pipeline.NewError(pipeline.KindFatal, pipeline.StageCollect,
			fmt.Sprintf("server rejected request with %d", resp.StatusCode), nil)
	}

	if !rendered && !s.detector.Valid(resp.Body) {
		metrics.ObserveFetch(string(key.Section), "bad_shape", resp.Duration)
		s.maybeEscalate(key)
		return nil, pipeline.NewError(pipeline.KindTransient, pipeline.StageCollect,
			"response body missing reader payload", nil)
	}

	metrics.ObserveFetch(string(key.Section), "success", resp.Duration)
	return resp.Body, nil
}

func (s *Session) maybeEscalate(key pipeline.PageKey) {
	e := s.engine
	if !e.cfg.RenderFallback || e.render == nil {
		return
	}
	if !s.detector.ShouldEscalate() {
		return
	}
	if s.escalated.CompareAndSwap(false, true) {
		e.logger.Info("escalating job to rendering fetcher",
			zap.String("date", key.Date),
			zap.String("section", string(key.Section)))
	}
}

func (e *Engine) cacheUsable() bool {
	return e.cfg.CacheEnabled && e.cache != nil
}

func isTransient(err error) bool {
	return pipeline.KindOf(err) == pipeline.KindTransient
}
