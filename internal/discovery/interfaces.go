package discovery

import (
	"context"
	"io"
	"time"
)

// SearchBackend returns candidate page URLs for one query.
type SearchBackend interface {
	Name() string
	Search(ctx context.Context, query string, limit int) ([]string, error)
}

// Searcher is the composite search surface used by the pipeline.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]string, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// PageFetcher returns a page body, or "" on any failure.
type PageFetcher interface {
	FetchPage(ctx context.Context, url string) string
}

// HeadlessDetector decides whether a headless fetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// LinkExtractor turns raw HTML into a set of normalized repository URLs.
type LinkExtractor interface {
	Extract(html string) map[string]struct{}
}

// MetadataSource enriches repositories from the code host.
type MetadataSource interface {
	Enrich(ctx context.Context, owner, name string) (Enrichment, error)
}

// RepositorySearcher lists repositories straight from the code host's search.
type RepositorySearcher interface {
	SearchRepositories(ctx context.Context, query string, minStars, limit int) ([]string, error)
}

// RepositoryStore persists scored repositories keyed by repo_url.
type RepositoryStore interface {
	// Upsert inserts the record or replaces an existing one with the same repo_url.
	Upsert(ctx context.Context, record RepositoryRecord) error
	Exists(ctx context.Context, repoURL string) (bool, error)
	List(ctx context.Context, query ListQuery) ([]RepositoryRecord, int, error)
	Stats(ctx context.Context, now time.Time) (Stats, error)
	Ping(ctx context.Context) error
	Close() error
}

// SecurityScanner counts findings under path; a negative result means it could not run.
type SecurityScanner interface {
	Scan(ctx context.Context, path string) int
}

// Cloner fetches a working copy of a repository.
type Cloner interface {
	Clone(ctx context.Context, remoteURL, target string) bool
}

// BlobStore writes export artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// RetryPolicy decides whether and when a failed call is attempted again.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}
