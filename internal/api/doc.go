// Package api hosts the HTTP server, middleware and handlers. Routes:
//   - GET /scrape returns the rendered markup of one page.
//   - GET /search returns the organic results of a search query.
//   - GET /health for liveness probes; it never touches the browser.
//   - GET /metrics for Prometheus scraping.
//
// Request parameters arrive either as a JSON body or as query parameters.
package api
