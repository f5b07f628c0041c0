package cmd

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	gpubsub "cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/openlexbr/douflow/internal/cache"
	"github.com/openlexbr/douflow/internal/clock/system"
	"github.com/openlexbr/douflow/internal/collect"
	"github.com/openlexbr/douflow/internal/config"
	"github.com/openlexbr/douflow/internal/fetch"
	collyfetcher "github.com/openlexbr/douflow/internal/fetch/colly"
	"github.com/openlexbr/douflow/internal/fetch/headless"
	"github.com/openlexbr/douflow/internal/hash/sha256"
	"github.com/openlexbr/douflow/internal/id/uuid"
	"github.com/openlexbr/douflow/internal/index"
	"github.com/openlexbr/douflow/internal/orchestrator"
	"github.com/openlexbr/douflow/internal/organize"
	"github.com/openlexbr/douflow/internal/pipeline"
	"github.com/openlexbr/douflow/internal/process"
	pubmemory "github.com/openlexbr/douflow/internal/publisher/memory"
	pubsubpub "github.com/openlexbr/douflow/internal/publisher/pubsub"
	storegcs "github.com/openlexbr/douflow/internal/store/gcs"
	storelocal "github.com/openlexbr/douflow/internal/store/local"
	storememory "github.com/openlexbr/douflow/internal/store/memory"
	storepostgres "github.com/openlexbr/douflow/internal/store/postgres"
)

// app holds every wired component for one command invocation.
type app struct {
	cfg    config.Config
	logger *zap.Logger

	clock  pipeline.Clock
	hasher pipeline.Hasher
	ids    pipeline.IDGenerator

	collector *collect.Collector
	processor *process.Processor
	organizer *organize.Organizer
	indexer   *index.Indexer
	artifacts pipeline.ArtifactStore
	jobs      pipeline.JobStore
	publisher pipeline.Publisher
	orch      *orchestrator.Orchestrator

	closers []func()
}

// buildApp wires the pipeline components from configuration. outputDir
// overrides the CSV destination when non-empty.
func buildApp(ctx context.Context, cfg config.Config, outputDir string, logger *zap.Logger) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		hasher: sha256.New(),
		ids:    uuid.NewGenerator(),
	}

	var pageCache pipeline.ContentCache
	if cfg.Cache.Enabled {
		fsCache, err := cache.NewFS(cfg.Cache.Dir, a.clock, logger)
		if err != nil {
			return nil, fmt.Errorf("init page cache: %w", err)
		}
		pageCache = fsCache
	}

	plain := collyfetcher.New(collyfetcher.Config{
		BaseURL:   cfg.Fetch.BaseURL,
		UserAgent: cfg.Fetch.UserAgent,
		Timeout:   cfg.Fetch.Timeout(),
	})

	var render pipeline.PageFetcher
	if cfg.Fetch.RenderFallback {
		chrome, err := headless.NewChromedp(headless.Config{
			BaseURL:           cfg.Fetch.BaseURL,
			MaxParallel:       cfg.Fetch.RenderMaxParal,
			UserAgent:         cfg.Fetch.UserAgent,
			NavigationTimeout: time.Duration(cfg.Fetch.RenderTimeoutSec) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("init headless fetcher: %w", err)
		}
		a.closers = append(a.closers, chrome.Close)
		render = chrome
	}

	host, err := hostOf(cfg.Fetch.BaseURL)
	if err != nil {
		return nil, err
	}
	engine := fetch.New(fetch.Config{
		Host:           host,
		CacheEnabled:   cfg.Cache.Enabled,
		CacheTTL:       cfg.Cache.TTL(),
		MaxRetries:     cfg.Fetch.MaxRetries,
		BackoffInitial: time.Duration(cfg.Fetch.BackoffInitialMs) * time.Millisecond,
		BackoffMax:     time.Duration(cfg.Fetch.BackoffMaxMs) * time.Millisecond,
		DelayMin:       time.Duration(cfg.Fetch.DelayMinMs) * time.Millisecond,
		DelayMax:       time.Duration(cfg.Fetch.DelayMaxMs) * time.Millisecond,
		RenderFallback: cfg.Fetch.RenderFallback,
	}, plain, render, pageCache, logger)

	if err := a.buildStores(ctx); err != nil {
		return nil, err
	}
	if err := a.buildPublisher(ctx); err != nil {
		return nil, err
	}

	a.collector = collect.New(collect.Config{
		BaseURL:       cfg.Fetch.BaseURL,
		MaxPages:      cfg.Collector.MaxPages,
		MinPageRatio:  cfg.Collector.MinPageRatio,
		ExtraSections: cfg.Collector.ExtraSections,
		Concurrency:   cfg.Fetch.Concurrency,
	}, engine, a.artifacts, a.hasher, a.clock, logger)

	a.processor = process.New(process.Config{}, a.clock, logger)

	if outputDir == "" {
		outputDir = filepath.Join(cfg.DataDir, "csv")
	}
	a.organizer = organize.New(organize.Config{OutputDir: outputDir}, a.clock, logger)

	indexer, err := index.New(cfg.Index.Path, a.clock, logger)
	if err != nil {
		return nil, fmt.Errorf("init search index: %w", err)
	}
	a.closers = append(a.closers, func() { _ = indexer.Close() })
	a.indexer = indexer

	orch, err := orchestrator.New(orchestrator.Config{
		StageTimeout: cfg.Pipeline.StageTimeout(),
	}, orchestrator.Deps{
		Collector: a.collector,
		Processor: a.processor,
		Organizer: a.organizer,
		Indexer:   a.indexer,
		Artifacts: a.artifacts,
		Jobs:      a.jobs,
		Publisher: a.publisher,
		Clock:     a.clock,
		IDs:       a.ids,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	a.orch = orch
	return a, nil
}

func (a *app) buildStores(ctx context.Context) error {
	switch a.cfg.Store.Provider {
	case "", "local":
		store, err := storelocal.New(storelocal.Config{
			BaseDir: filepath.Join(a.cfg.DataDir, "artefatos"),
		})
		if err != nil {
			return fmt.Errorf("init local artifact store: %w", err)
		}
		a.artifacts = store
	case "memory":
		a.artifacts = storememory.NewStore()
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init gcs client: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		store, err := storegcs.New(client, storegcs.Config{
			Bucket: a.cfg.Store.GCSBucket,
			Prefix: "douflow",
		}, a.clock)
		if err != nil {
			return fmt.Errorf("init gcs artifact store: %w", err)
		}
		a.artifacts = store
	default:
		return fmt.Errorf("unknown store provider %q", a.cfg.Store.Provider)
	}

	if dsn := a.cfg.Store.JobsDSN; dsn != "" {
		jobs, err := storepostgres.NewJobStore(ctx, storepostgres.JobStoreConfig{DSN: dsn})
		if err != nil {
			return fmt.Errorf("init postgres job store: %w", err)
		}
		if err := jobs.EnsureSchema(ctx); err != nil {
			jobs.Close()
			return err
		}
		a.closers = append(a.closers, jobs.Close)
		a.jobs = jobs
		return nil
	}
	a.jobs = storememory.NewJobStore()
	return nil
}

func (a *app) buildPublisher(ctx context.Context) error {
	if !a.cfg.Messaging.Enabled {
		return nil
	}
	switch a.cfg.Messaging.Provider {
	case "", "memory":
		a.publisher = pubmemory.NewBus()
	case "pubsub":
		client, err := gpubsub.NewClient(ctx, a.cfg.Messaging.ProjectID)
		if err != nil {
			return fmt.Errorf("init pubsub client: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		pub, err := pubsubpub.New(client, pubsubpub.Config{
			ProjectID:   a.cfg.Messaging.ProjectID,
			TopicPrefix: a.cfg.Messaging.Topic,
		})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, pub.Close)
		a.publisher = pub
	default:
		return fmt.Errorf("unknown messaging provider %q", a.cfg.Messaging.Provider)
	}
	return nil
}

// Close releases resources in reverse construction order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func hostOf(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid fetch.base_url %q", baseURL)
	}
	return u.Host, nil
}

func parseInputDate(s string) (time.Time, error) {
	t, err := time.Parse(pipeline.InputDateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want DD-MM-YYYY)", s)
	}
	return t, nil
}
