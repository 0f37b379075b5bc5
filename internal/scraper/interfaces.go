package scraper

import (
	"context"
	"time"
)

// Browser loads a URL in a fresh tab and returns the rendered document.
type Browser interface {
	FetchRendered(ctx context.Context, url string, wait time.Duration) (string, error)
}

// Gate bounds the number of operations that may touch the browser at once.
// The returned release func must be safe to call more than once.
type Gate interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// Retrier runs op with retries and returns the last error unchanged.
type Retrier interface {
	Run(ctx context.Context, op func(ctx context.Context) error) error
}

// ExtractFunc parses rendered search-engine markup into results.
type ExtractFunc func(html string) ([]SearchResult, error)
