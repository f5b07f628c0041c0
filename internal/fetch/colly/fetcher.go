// Package collyfetcher implements the plain-HTTP page fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/openlexbr/douflow/internal/fetch"
	"github.com/openlexbr/douflow/internal/pipeline"
)

// Config controls collector behavior.
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// Fetcher implements pipeline.PageFetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET for one gazette page.
func (f *Fetcher) Fetch(ctx context.Context, request pipeline.FetchRequest) (pipeline.FetchResponse, error) {
	var (
		result   pipeline.FetchResponse
		fetchErr error
	)
	start := time.Now()
	pageURL := fetch.PageURL(f.cfg.BaseURL, request)
	collector := f.buildCollector(start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, pageURL, &result, &fetchErr); err != nil {
		return pipeline.FetchResponse{}, err
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	start time.Time,
	result *pipeline.FetchResponse,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = false
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	collector.WithTransport(f.transport)

	f.configureCollectorHooks(collector, start, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *pipeline.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml")
		r.Headers.Set("Accept-Language", "pt-BR,pt;q=0.9")
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = pipeline.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
			Rendered:   false,
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		// A 404 is a real answer for a missing edition, not a failure.
		if r != nil && r.StatusCode == http.StatusNotFound {
			*result = pipeline.FetchResponse{
				URL:        r.Request.URL.String(),
				StatusCode: r.StatusCode,
				Duration:   time.Since(start),
			}
			return
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(
	ctx context.Context,
	collector *colly.Collector,
	url string,
	result *pipeline.FetchResponse,
	fetchErr *error,
) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		// Visit reports an error for non-2xx statuses; a captured 404
		// result is still a valid answer.
		if err != nil && result.StatusCode != http.StatusNotFound {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
