package scraper

import "time"

// Bounds applied to the optional wait-to-load duration.
const (
	MinWaitSeconds = 0
	MaxWaitSeconds = 300
)

// ScrapeRequest asks for the rendered markup of a single page.
type ScrapeRequest struct {
	URL        string `json:"url"`
	WaitToLoad *int   `json:"wait_to_load,omitempty"`
}

// ScrapeResult echoes the requested URL with the markup as retrieved.
type ScrapeResult struct {
	URL  string `json:"url"`
	HTML string `json:"html"`
}

// SearchRequest asks for the organic results of a search-engine query.
type SearchRequest struct {
	Query      string `json:"query"`
	WaitToLoad *int   `json:"wait_to_load,omitempty"`
}

// SearchResult is one organic result. All three fields are always non-empty.
type SearchResult struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Operation names used in logs, metrics and spans.
const (
	OpFetchPage = "fetch_page"
	OpSearch    = "search"
)

// Outcome labels for finished operations.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)

// waitDuration resolves an optional wait in seconds against the default.
func waitDuration(wait *int, def time.Duration) time.Duration {
	if wait == nil {
		return def
	}
	return time.Duration(*wait) * time.Second
}
