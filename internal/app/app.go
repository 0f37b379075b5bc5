// Package app builds the service from configuration and owns its lifecycle:
// the browser is started before the listener opens and stopped, awaited, after
// the listener drains.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scraping-service/internal/admission"
	"github.com/JakeFAU/scraping-service/internal/api"
	"github.com/JakeFAU/scraping-service/internal/browser"
	"github.com/JakeFAU/scraping-service/internal/config"
	"github.com/JakeFAU/scraping-service/internal/extract"
	"github.com/JakeFAU/scraping-service/internal/logging"
	"github.com/JakeFAU/scraping-service/internal/retry"
	"github.com/JakeFAU/scraping-service/internal/scraper"
	"github.com/JakeFAU/scraping-service/internal/telemetry"
)

// Version is stamped into traces; overridden at link time.
var Version = "dev"

// Session is the browser lifecycle the app drives.
type Session interface {
	scraper.Browser
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Option customizes Build.
type Option func(*buildOptions)

type buildOptions struct {
	logger      *zap.Logger
	session     Session
	addr        string
	traceWriter io.Writer
}

// WithLogger replaces the logger built from configuration.
func WithLogger(logger *zap.Logger) Option {
	return func(o *buildOptions) { o.logger = logger }
}

// WithSession replaces the Chrome-backed browser session.
func WithSession(s Session) Option {
	return func(o *buildOptions) { o.session = s }
}

// WithAddr overrides the listen address derived from server.port.
func WithAddr(addr string) Option {
	return func(o *buildOptions) { o.addr = addr }
}

// WithTraceWriter sends exported spans to w when tracing is enabled.
func WithTraceWriter(w io.Writer) Option {
	return func(o *buildOptions) { o.traceWriter = w }
}

// App contains the application's dependencies.
type App struct {
	cfg            config.Config
	logger         *zap.Logger
	session        Session
	coordinator    *scraper.Coordinator
	apiServer      *api.Server
	addr           string
	tracerShutdown func(context.Context) error

	stopOnce sync.Once
	stopErr  error
}

// Build creates the application's dependencies without starting anything.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	o := buildOptions{
		addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		traceWriter: os.Stdout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		var err error
		logger, err = logging.New(logging.Options{
			Development: cfg.Logging.Development,
			Level:       cfg.Logging.Level,
			File:        cfg.Logging.File,
			MaxSizeMB:   cfg.Logging.MaxSizeMB,
			MaxBackups:  cfg.Logging.MaxBackups,
			MaxAgeDays:  cfg.Logging.MaxAgeDays,
			Compress:    cfg.Logging.Compress,
		})
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
	}

	a := &App{cfg: cfg, logger: logger, addr: o.addr}
	logger.Info("building application",
		zap.Int("port", cfg.Server.Port),
		zap.Int("concurrency_limit", cfg.Scraper.ConcurrencyLimit),
		zap.Bool("proxy", cfg.Browser.ProxyAddress != ""),
	)

	var writer io.Writer
	if cfg.Telemetry.TracingEnabled {
		writer = o.traceWriter
	}
	tp, err := telemetry.InitTracerProvider(ctx, telemetry.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     Version,
		Writer:      writer,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracerShutdown = tp.Shutdown

	a.session = o.session
	if a.session == nil {
		s, err := browser.New(browser.Config{
			Headless:          cfg.Browser.Headless,
			ExecPath:          cfg.Browser.ExecPath,
			NoSandbox:         cfg.Browser.NoSandbox,
			ProxyAddress:      cfg.Browser.ProxyAddress,
			BypassList:        cfg.Browser.BypassList,
			UserAgent:         cfg.Browser.UserAgent,
			WindowWidth:       cfg.Browser.WindowWidth,
			WindowHeight:      cfg.Browser.WindowHeight,
			NavigationTimeout: cfg.NavigationTimeout(),
			DomainQPS:         cfg.Browser.DomainQPS,
		}, logger.Named("browser"))
		if err != nil {
			return nil, fmt.Errorf("browser init failed: %w", err)
		}
		a.session = s
	}

	policy, err := retry.New(retry.Config{
		MaxAttempts:  cfg.Retry.MaxAttempts,
		InitialDelay: cfg.Retry.InitialDelay,
		Multiplier:   cfg.Retry.Multiplier,
		MaxDelay:     cfg.Retry.MaxDelay,
		ShouldRetry:  scraper.Retryable,
	}, logger.Named("retry"))
	if err != nil {
		return nil, fmt.Errorf("retry policy init failed: %w", err)
	}

	a.coordinator, err = scraper.NewCoordinator(
		a.session,
		admission.New(cfg.Scraper.ConcurrencyLimit),
		policy,
		extract.SearchResults,
		scraper.Config{
			DefaultWait:       cfg.DefaultWait(),
			SearchURLTemplate: cfg.Scraper.SearchURLTemplate,
		},
		logger.Named("scraper"),
	)
	if err != nil {
		return nil, fmt.Errorf("coordinator init failed: %w", err)
	}

	a.apiServer = api.NewServer(a.coordinator, logger.Named("api"), api.Options{
		RequestTimeout: cfg.Server.RequestTimeout,
	})
	return a, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Start launches the browser. It must succeed before any request is served.
func (a *App) Start(ctx context.Context) error {
	a.logger.Info("starting browser session")
	if err := a.session.Start(ctx); err != nil {
		if !errors.Is(err, scraper.ErrStartup) {
			err = fmt.Errorf("%w: %w", scraper.ErrStartup, err)
		}
		return err
	}
	return nil
}

// Stop rejects new operations and shuts the browser down, waiting for it to
// exit. Only the first call does any work; later calls return its result.
func (a *App) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() {
		a.logger.Info("stopping application")
		a.coordinator.Close()
		if err := a.session.Stop(ctx); err != nil {
			a.stopErr = fmt.Errorf("stop browser: %w", err)
			a.logger.Error("browser stop failed", zap.Error(err))
		}
		a.closeObservability(ctx)
	})
	return a.stopErr
}

// Run starts the browser, serves HTTP until ctx is canceled or a termination
// signal arrives, then drains the listener and stops the browser.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		_ = a.Stop(shutdownCtx)
		return err
	}

	ln, err := net.Listen("tcp", a.addr)
	if err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		_ = a.Stop(shutdownCtx)
		return fmt.Errorf("listen %s: %w", a.addr, err)
	}

	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if err := a.Stop(shutdownCtx); err != nil {
		return err
	}
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
