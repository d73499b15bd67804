package crawl

import (
	"context"
	"time"
)

// Store persists sessions, jobs, page records, and proxy records in the
// durable store. Implementations must be safe for concurrent use.
type Store interface {
	UpsertSession(ctx context.Context, session CrawlSession) error
	GetSession(ctx context.Context, sessionID string) (CrawlSession, error)
	RecordPage(ctx context.Context, page PageRecord) error
	ListPages(ctx context.Context, sessionID string) ([]PageRecord, error)
	UpsertJob(ctx context.Context, job ScheduledJob) error
	GetJob(ctx context.Context, jobID string) (ScheduledJob, error)
	ListJobs(ctx context.Context) ([]ScheduledJob, error)
	DeleteJob(ctx context.Context, jobID string) error
	UpsertProxy(ctx context.Context, proxy ProxyRecord) error
	ListProxies(ctx context.Context) ([]ProxyRecord, error)
}

// Fetcher fetches a URL through the supplied proxy and returns the body
// plus the links discovered on the page. Rendering, stealth, and parsing
// details are entirely the implementation's concern.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResult, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore writes raw page content and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces session and job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
