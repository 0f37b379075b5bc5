// Package scraper defines the request/result types, error taxonomy and the
// Coordinator that composes the shared browser session, the admission gate,
// the retry policy and the search result extractor into the two operations the
// service offers: fetching a rendered page and running a search.
package scraper
