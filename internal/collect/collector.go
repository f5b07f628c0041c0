// Package collect implements the collection stage: it walks every page
// of a gazette edition, merges unchanged pages in incremental mode, and
// assembles the raw artifact consumed by processing.
package collect

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openlexbr/douflow/internal/fetch"
	"github.com/openlexbr/douflow/internal/pipeline"
)

// SessionSource is the fetch engine contract the collector depends on:
// one session per job, holding that job's escalation state.
type SessionSource interface {
	Begin() pipeline.PageSource
}

// Config governs the collection stage.
type Config struct {
	BaseURL string
	// MaxPages caps how many pages are collected; zero means no cap.
	MaxPages int
	// MinPageRatio is the fraction of pages that must be fetched for the
	// run to be accepted. Below it the stage fails with a partial-failure
	// error; at or above it with pages still missing, the artifact is
	// marked incomplete.
	MinPageRatio  float64
	ExtraSections bool
	Concurrency   int
}

// Collector implements pipeline.Collector.
type Collector struct {
	cfg    Config
	source SessionSource
	store  pipeline.ArtifactStore
	hasher pipeline.Hasher
	clock  pipeline.Clock
	logger *zap.Logger
}

// New builds a Collector. store may be nil when incremental merging
// against prior runs is not wanted.
func New(cfg Config, source SessionSource, store pipeline.ArtifactStore, hasher pipeline.Hasher, clock pipeline.Clock, logger *zap.Logger) *Collector {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		cfg:    cfg,
		source: source,
		store:  store,
		hasher: hasher,
		clock:  clock,
		logger: logger,
	}
}

// Collect walks the edition for key and returns the raw artifact.
func (c *Collector) Collect(ctx context.Context, key pipeline.JobKey) (*pipeline.RawArtifact, error) {
	sess := c.source.Begin()

	date := key.Date
	dateStr := date.Format(pipeline.DateLayout)
	c.logger.Info("collection started",
		zap.String("date", dateStr),
		zap.String("section", string(key.Section)),
		zap.String("mode", string(key.Mode)))

	firstBody, _, err := c.fetchPage(ctx, sess, key, 1)
	if err != nil {
		if errors.Is(err, fetch.ErrPageNotFound) {
			return nil, pipeline.NewError(pipeline.KindValidationFailure, pipeline.StageCollect,
				fmt.Sprintf("no edition published for %s section %s", dateStr, key.Section), err)
		}
		return nil, err
	}

	total := parseTotalPages(firstBody)
	if c.cfg.MaxPages > 0 && c.cfg.MaxPages < total {
		c.logger.Info("limiting collection", zap.Int("total", total), zap.Int("cap", c.cfg.MaxPages))
		total = c.cfg.MaxPages
	}
	c.logger.Info("page count discovered", zap.Int("total", total))

	firstPage, err := c.buildPage(firstBody, 1, date, key.Section)
	if err != nil {
		return nil, err
	}

	pages, missing, err := c.fetchRemaining(ctx, sess, key, total)
	if err != nil {
		return nil, err
	}
	pages = append(pages, firstPage)

	fetched := len(pages)
	ratio := float64(fetched) / float64(total)
	if ratio < c.cfg.MinPageRatio {
		return nil, pipeline.NewError(pipeline.KindPartialFailure, pipeline.StageCollect,
			fmt.Sprintf("only %d of %d pages collected (%.0f%% < %.0f%% threshold)",
				fetched, total, ratio*100, c.cfg.MinPageRatio*100), nil)
	}
	if missing > 0 {
		c.logger.Warn("accepting incomplete collection",
			zap.Int("fetched", fetched),
			zap.Int("total", total))
	}

	sort.Slice(pages, func(i, j int) bool { return pages[i].NumeroPagina < pages[j].NumeroPagina })

	artifact := &pipeline.RawArtifact{
		Schema:            pipeline.SchemaVersion,
		Data:              dateStr,
		Secao:             key.Section,
		TotalPaginas:      total,
		Paginas:           pages,
		TimestampExtracao: c.clock.Now(),
		Incompleta:        missing > 0,
	}

	if key.Mode == pipeline.ModeIncremental {
		c.mergePrior(ctx, key, artifact)
	}

	if c.cfg.ExtraSections && key.Section != pipeline.SectionExtra {
		artifact.SecoesExtras = c.collectExtras(ctx, sess, key)
	}

	if err := artifact.Validate(); err != nil {
		return nil, pipeline.NewError(pipeline.KindValidationFailure, pipeline.StageCollect,
			"collected artifact failed validation", err)
	}

	c.logger.Info("collection finished",
		zap.Int("pages", len(artifact.Paginas)),
		zap.Int("extras", len(artifact.SecoesExtras)),
		zap.Bool("incomplete", artifact.Incompleta))
	return artifact, nil
}

func (c *Collector) fetchRemaining(ctx context.Context, sess pipeline.PageSource, key pipeline.JobKey, total int) ([]pipeline.RawPage, int, error) {
	if total < 2 {
		return nil, 0, nil
	}

	var (
		mu      sync.Mutex
		pages   []pipeline.RawPage
		missing int
		abort   error
	)
	sem := make(chan struct{}, c.cfg.Concurrency)
	var wg sync.WaitGroup

	for num := 2; num <= total; num++ {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil, 0, ctx.Err()
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(num int) {
			defer wg.Done()
			defer func() { <-sem }()

			body, _, err := c.fetchPage(ctx, sess, key, num)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					abort = err
					return
				}
				c.logger.Warn("page collection failed",
					zap.Int("page", num),
					zap.Error(err))
				missing++
				return
			}
			page, err := c.buildPage(body, num, key.Date, key.Section)
			if err != nil {
				c.logger.Warn("page parse failed", zap.Int("page", num), zap.Error(err))
				missing++
				return
			}
			pages = append(pages, page)
		}(num)
	}
	wg.Wait()

	if abort != nil {
		return nil, 0, abort
	}
	return pages, missing, nil
}

func (c *Collector) fetchPage(ctx context.Context, sess pipeline.PageSource, key pipeline.JobKey, num int) ([]byte, bool, error) {
	return sess.FetchPage(ctx, pipeline.PageKey{
		Date:    key.Date.Format(pipeline.DateLayout),
		Section: key.Section,
		Page:    num,
	}, key.Mode)
}

func (c *Collector) buildPage(body []byte, num int, date time.Time, section pipeline.Section) (pipeline.RawPage, error) {
	page, err := parsePage(body, num, date, section)
	if err != nil {
		return pipeline.RawPage{}, pipeline.NewError(pipeline.KindValidationFailure, pipeline.StageCollect,
			fmt.Sprintf("page %d unparseable", num), err)
	}
	if c.hasher != nil {
		sum, err := c.hasher.Hash(body)
		if err != nil {
			return pipeline.RawPage{}, pipeline.NewError(pipeline.KindFatal, pipeline.StageCollect,
				fmt.Sprintf("checksum for page %d", num), err)
		}
		page.Checksum = sum
	}
	return page, nil
}

// mergePrior reuses the prior run's parsed pages wherever the checksum
// is unchanged, so incremental runs carry stable content forward.
func (c *Collector) mergePrior(ctx context.Context, key pipeline.JobKey, artifact *pipeline.RawArtifact) {
	prior, ok := c.loadPrior(ctx, key)
	if !ok {
		return
	}

	byNumber := make(map[int]pipeline.RawPage, len(prior.Paginas))
	for _, p := range prior.Paginas {
		byNumber[p.NumeroPagina] = p
	}

	reused := 0
	for i, page := range artifact.Paginas {
		old, found := byNumber[page.NumeroPagina]
		if found && old.Checksum != "" && old.Checksum == page.Checksum {
			artifact.Paginas[i] = old
			reused++
		}
	}
	c.logger.Info("incremental merge applied",
		zap.Int("reused", reused),
		zap.Int("pages", len(artifact.Paginas)))
}

func (c *Collector) loadPrior(ctx context.Context, key pipeline.JobKey) (*pipeline.RawArtifact, bool) {
	if c.store == nil {
		return nil, false
	}
	for _, mode := range []pipeline.Mode{pipeline.ModeIncremental, pipeline.ModeFull} {
		lookup := key
		lookup.Mode = mode
		_, data, err := c.store.Latest(ctx, lookup, pipeline.StageCollect)
		if err != nil {
			if !errors.Is(err, pipeline.ErrNoArtifact) {
				c.logger.Warn("prior artifact lookup failed", zap.Error(err))
			}
			continue
		}
		prior, err := pipeline.DecodeRaw(data)
		if err != nil {
			c.logger.Warn("prior artifact unreadable", zap.Error(err))
			continue
		}
		return prior, true
	}
	return nil, false
}

// collectExtras probes the extra edition for the same date. A missing
// extra edition is the common case and not an error.
func (c *Collector) collectExtras(ctx context.Context, sess pipeline.PageSource, key pipeline.JobKey) []pipeline.ExtraSection {
	extraKey := pipeline.PageKey{
		Date:    key.Date.Format(pipeline.DateLayout),
		Section: pipeline.SectionExtra,
		Page:    1,
	}
	body, _, err := sess.FetchPage(ctx, extraKey, key.Mode)
	if err != nil {
		if !errors.Is(err, fetch.ErrPageNotFound) {
			c.logger.Warn("extra edition probe failed", zap.Error(err))
		}
		return nil
	}

	page, err := parsePage(body, 1, key.Date, pipeline.SectionExtra)
	if err != nil {
		c.logger.Warn("extra edition unparseable", zap.Error(err))
		return nil
	}
	if page.Texto == "" && len(page.Publicacoes) == 0 {
		return nil
	}

	url := fetch.PageURL(c.cfg.BaseURL, pipeline.FetchRequest{
		Date:    key.Date,
		Section: pipeline.SectionExtra,
		Page:    1,
	})
	return []pipeline.ExtraSection{{URL: url, Conteudo: page}}
}
