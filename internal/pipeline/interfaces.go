package pipeline

import (
	"context"
	"time"
)

// PageKey addresses one fetched gazette page in the content cache.
type PageKey struct {
	Date    string
	Section Section
	Page    int
}

// CacheEntry is a cached page body with its freshness window.
type CacheEntry struct {
	Key       PageKey
	Content   []byte
	FetchedAt time.Time
	TTL       time.Duration
}

// Expired reports whether the entry has outlived its TTL at now.
func (e CacheEntry) Expired(now time.Time) bool {
	return now.Sub(e.FetchedAt) > e.TTL
}

// ContentCache stores fetched page content. Gets after a Put within the
// TTL return the same bytes; same-key Put races resolve last-writer-wins
// and a Get never observes a partially written entry.
type ContentCache interface {
	Get(key PageKey) (CacheEntry, bool)
	Put(key PageKey, content []byte, ttl time.Duration)
	Invalidate(key PageKey)
}

// FetchRequest asks for one gazette page.
type FetchRequest struct {
	Date    time.Time
	Section Section
	Page    int
	// Render requests the headless browser path instead of the plain
	// HTTP client.
	Render bool
}

// FetchResponse is the body plus metadata returned by a PageFetcher.
type FetchResponse struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
	Rendered   bool
}

// PageFetcher performs a single network request for a page. The fetch
// engine layers caching, retry, and politeness on top of this.
type PageFetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error)
}

// PageSource fetches pages on behalf of one job. Escalation and shape
// tracking are scoped to the source, so concurrent jobs never observe
// each other's fallback state.
type PageSource interface {
	FetchPage(ctx context.Context, key PageKey, mode Mode) ([]byte, bool, error)
}

// ArtifactStore persists immutable stage artifacts keyed by JobKey and
// stage. Writes are append-only; a new write for the same key supersedes
// older ones for Latest but never overwrites them.
type ArtifactStore interface {
	Put(ctx context.Context, key JobKey, stage StageName, data []byte) (ArtifactRef, error)
	Get(ctx context.Context, ref ArtifactRef) ([]byte, error)
	Latest(ctx context.Context, key JobKey, stage StageName) (ArtifactRef, []byte, error)
}

// ErrNoArtifact is returned by Latest when no artifact exists for the key.
var ErrNoArtifact = NewError(KindValidationFailure, "", "no artifact for key", nil)

// JobStore persists job lifecycle records for idempotence checks and the
// monitor's rolling report.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, key JobKey) (Job, bool, error)
	ListJobs(ctx context.Context, since time.Time) ([]Job, error)
}

// Collector runs the collection stage for a job key.
type Collector interface {
	Collect(ctx context.Context, key JobKey) (*RawArtifact, error)
}

// Processor is the external NLP capability behind a narrow contract.
type Processor interface {
	Process(ctx context.Context, raw *RawArtifact) (*ProcessedArtifact, error)
}

// Organizer is the external tabular-writer capability.
type Organizer interface {
	Organize(ctx context.Context, processed *ProcessedArtifact) (*OrganizedArtifact, error)
}

// Indexer is the external search-index capability.
type Indexer interface {
	Index(ctx context.Context, organized *OrganizedArtifact) (IndexAck, error)
}

// Publisher pushes stage-completion and terminal events to named topics.
// Delivery is at-least-once; subscribers must tolerate duplicates.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Event topics published by the orchestrator when messaging is enabled.
const (
	TopicCollectDone  = "coleta_concluida"
	TopicProcessDone  = "processamento_concluido"
	TopicOrganizeDone = "organizacao_concluida"
	TopicIndexDone    = "indexacao_concluida"
	TopicJobDone      = "pipeline_finalizado"
)

// Hasher computes content digests for incremental page matching.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (injectable for tests).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
