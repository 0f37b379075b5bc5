// Package main hosts the scraping service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api exposes /scrape, /search, /health and /metrics. Request parameters are validated
//     before any browser work and errors are mapped to status codes at the boundary.
//   - Coordinator: internal/scraper bounds browser use with the admission gate sized by
//     scraper.concurrency_limit and retries each fetch with exponential backoff.
//   - Browser: one headless Chrome process (internal/browser) is launched before the listener opens. Every fetch
//     opens its own tab, which is closed before the fetch returns.
//   - Extraction: search pages are parsed with goquery after the permit is released.
//
// Operational notes:
//   - Configure with SCRAPER_-prefixed env vars or a YAML file passed via --config. The unprefixed
//     CONCURRENCY_LIMIT and PROXY_ADDRESS are still honoured.
//   - SIGINT/SIGTERM drain the listener, then stop the browser and wait for it to exit.
//   - Run locally: go run ./cmd/scraper serve --config config.yaml
package main
