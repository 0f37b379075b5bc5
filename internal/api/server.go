package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/scraping-service/internal/id/uuid"
	"github.com/JakeFAU/scraping-service/internal/scraper"
	"github.com/JakeFAU/scraping-service/internal/telemetry"
)

// maxBodyBytes bounds request bodies; both request shapes are tiny.
const maxBodyBytes = 1 << 20

// Service is the scraping core the handlers delegate to.
type Service interface {
	FetchPage(ctx context.Context, req scraper.ScrapeRequest) (scraper.ScrapeResult, error)
	Search(ctx context.Context, req scraper.SearchRequest) ([]scraper.SearchResult, error)
}

// Options tunes the server.
type Options struct {
	// RequestTimeout bounds each request's context; zero disables the bound.
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the scraping service.
type Server struct {
	router  chi.Router
	service Service
	logger  *zap.Logger
	ids     uuid.Generator
}

// NewServer constructs a Server with middleware and routes.
func NewServer(service Service, logger *zap.Logger, opts Options) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		service: service,
		logger:  logger,
		ids:     uuid.New(),
	}
	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(telemetry.Middleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	if opts.RequestTimeout > 0 {
		r.Use(timeoutMiddleware(opts.RequestTimeout))
	}

	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())
	r.Get("/scrape", s.scrape)
	r.Get("/search", s.search)

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.logger, http.StatusOK, map[string]string{
		"STATUS":  "OK",
		"MESSAGE": "Service is running.",
	})
}

func (s *Server) scrape(w http.ResponseWriter, r *http.Request) {
	var req scraper.ScrapeRequest
	if err := decodeRequest(r, &req, func(q queryValues) error {
		req.URL = q.Get("url")
		wait, err := q.intPtr("wait_to_load")
		req.WaitToLoad = wait
		return err
	}); err != nil {
		s.fail(w, r, err)
		return
	}

	res, err := s.service.FetchPage(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, res)
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	var req scraper.SearchRequest
	if err := decodeRequest(r, &req, func(q queryValues) error {
		req.Query = q.Get("query")
		wait, err := q.intPtr("wait_to_load")
		req.WaitToLoad = wait
		return err
	}); err != nil {
		s.fail(w, r, err)
		return
	}

	results, err := s.service.Search(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if results == nil {
		results = []scraper.SearchResult{}
	}
	writeJSON(w, s.logger, http.StatusOK, results)
}

// fail maps err onto a status and writes the error body. Unclassified
// failures are logged in full and reported generically.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, detail := statusFor(err)
	logger := s.logger.With(
		zap.String("request_id", RequestIDFromContext(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
	)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err))
	} else {
		logger.Info("request rejected", zap.Error(err))
	}
	writeError(w, s.logger, status, detail)
}

// statusClientClosedRequest is reported when the caller went away mid-request.
const statusClientClosedRequest = 499

// statusFor translates the error taxonomy into an HTTP status and the detail
// shown to the caller.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, scraper.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, scraper.ErrNavigation):
		return http.StatusBadRequest, "target could not be loaded"
	case errors.Is(err, scraper.ErrStructure):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, scraper.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "operation timed out"
	case errors.Is(err, scraper.ErrSessionClosed), errors.Is(err, scraper.ErrStartup):
		return http.StatusServiceUnavailable, "browser unavailable"
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest, "request canceled"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

type queryValues struct{ values map[string][]string }

func (q queryValues) Get(key string) string {
	if v := q.values[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

func (q queryValues) intPtr(key string) (*int, error) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be an integer", scraper.ErrValidation, key)
	}
	return &n, nil
}

// decodeRequest reads a JSON body into dst when one is present and falls
// back to query parameters otherwise.
func decodeRequest(r *http.Request, dst any, fromQuery func(queryValues) error) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: read body: %w", scraper.ErrValidation, err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return fromQuery(queryValues{values: r.URL.Query()})
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: invalid JSON: %w", scraper.ErrValidation, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Warn("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, logger *zap.Logger, status int, detail string) {
	writeJSON(w, logger, status, map[string]string{"detail": detail})
}
