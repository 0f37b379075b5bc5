package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/scraping-service/internal/retry"
	"github.com/JakeFAU/scraping-service/internal/telemetry"
)

// QueryPlaceholder marks where the escaped query goes in a search URL template.
const QueryPlaceholder = "{query}"

// DefaultSearchURLTemplate targets Google web search.
const DefaultSearchURLTemplate = "https://www.google.com/search?q=" + QueryPlaceholder

// Config controls Coordinator behavior.
type Config struct {
	DefaultWait       time.Duration
	SearchURLTemplate string
}

// Coordinator runs fetch-page and search operations against the shared browser.
// Each operation holds an admission permit only while the browser is in use.
type Coordinator struct {
	browser Browser
	gate    Gate
	retrier Retrier
	extract ExtractFunc
	cfg     Config
	logger  *zap.Logger
	tracer  trace.Tracer
	closed  atomic.Bool
}

// NewCoordinator wires the collaborators together.
func NewCoordinator(
	browser Browser,
	gate Gate,
	retrier Retrier,
	extract ExtractFunc,
	cfg Config,
	logger *zap.Logger,
) (*Coordinator, error) {
	if browser == nil || gate == nil || retrier == nil || extract == nil {
		return nil, errors.New("coordinator requires browser, gate, retrier and extractor")
	}
	if cfg.SearchURLTemplate == "" {
		cfg.SearchURLTemplate = DefaultSearchURLTemplate
	}
	if err := ValidateSearchTemplate(cfg.SearchURLTemplate); err != nil {
		return nil, err
	}
	if cfg.DefaultWait < 0 {
		return nil, fmt.Errorf("default wait must be >= 0, got %v", cfg.DefaultWait)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		browser: browser,
		gate:    gate,
		retrier: retrier,
		extract: extract,
		cfg:     cfg,
		logger:  logger,
		tracer:  otel.Tracer("github.com/JakeFAU/scraping-service/internal/scraper"),
	}, nil
}

// Close stops the coordinator from accepting new operations. In-flight
// operations are left to finish.
func (c *Coordinator) Close() {
	c.closed.Store(true)
}

// FetchPage returns the rendered markup of req.URL.
func (c *Coordinator) FetchPage(ctx context.Context, req ScrapeRequest) (ScrapeResult, error) {
	if err := req.Validate(); err != nil {
		return ScrapeResult{}, err
	}
	ctx, span := c.tracer.Start(ctx, "scraper.FetchPage", trace.WithAttributes(
		attribute.String("scraper.url", req.URL),
	))
	defer span.End()

	start := time.Now()
	wait := waitDuration(req.WaitToLoad, c.cfg.DefaultWait)
	logger := c.logger.With(zap.String("op", OpFetchPage), zap.String("url", req.URL))

	html, err := c.fetch(ctx, logger, req.URL, wait)
	c.finish(span, logger, OpFetchPage, start, err)
	if err != nil {
		return ScrapeResult{}, err
	}
	return ScrapeResult{URL: req.URL, HTML: html}, nil
}

// Search runs the query through the configured search engine and returns the
// organic results in document order. Parsing happens after the permit is
// released and is never retried.
func (c *Coordinator) Search(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	ctx, span := c.tracer.Start(ctx, "scraper.Search")
	defer span.End()

	start := time.Now()
	wait := waitDuration(req.WaitToLoad, c.cfg.DefaultWait)
	logger := c.logger.With(zap.String("op", OpSearch))
	logger.Info("searching", zap.String("query_prefix", queryPrefix(req.Query)))

	target := BuildSearchURL(c.cfg.SearchURLTemplate, req.Query)
	html, err := c.fetch(ctx, logger, target, wait)
	if err != nil {
		c.finish(span, logger, OpSearch, start, err)
		return nil, err
	}

	results, err := c.extract(html)
	if err != nil {
		c.finish(span, logger, OpSearch, start, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("scraper.results", len(results)))
	c.finish(span, logger, OpSearch, start, nil)
	return results, nil
}

// fetch acquires a permit, loads target with retries and releases the permit
// on every path, including caller cancellation.
func (c *Coordinator) fetch(ctx context.Context, logger *zap.Logger, target string, wait time.Duration) (string, error) {
	if c.closed.Load() {
		return "", ErrSessionClosed
	}
	logger.Debug("operation pending")
	release, err := c.gate.Acquire(ctx)
	if err != nil {
		return "", fmt.Errorf("acquire admission permit: %w", err)
	}
	defer func() {
		release()
		logger.Debug("slot released")
	}()
	logger.Debug("slot acquired")

	return retry.Do(ctx, c.retrier, func(ctx context.Context) (string, error) {
		return c.browser.FetchRendered(ctx, target, wait)
	})
}

func (c *Coordinator) finish(span trace.Span, logger *zap.Logger, op string, start time.Time, err error) {
	elapsed := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		telemetry.ObserveOperation(op, OutcomeFailed, elapsed)
		logger.Warn("operation failed", zap.Duration("duration", elapsed), zap.Error(err))
		return
	}
	telemetry.ObserveOperation(op, OutcomeSuccess, elapsed)
	logger.Debug("operation succeeded", zap.Duration("duration", elapsed))
}

// ValidateSearchTemplate requires exactly one query placeholder.
func ValidateSearchTemplate(tmpl string) error {
	if n := strings.Count(tmpl, QueryPlaceholder); n != 1 {
		return fmt.Errorf("search url template must contain exactly one %s placeholder, found %d", QueryPlaceholder, n)
	}
	return nil
}

// BuildSearchURL interpolates the query-escaped query into the template.
func BuildSearchURL(tmpl, query string) string {
	return strings.Replace(tmpl, QueryPlaceholder, url.QueryEscape(query), 1)
}

func queryPrefix(query string) string {
	runes := []rune(query)
	if len(runes) > 2 {
		runes = runes[:2]
	}
	return string(runes)
}
