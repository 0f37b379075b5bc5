// Package browser owns the single headless Chrome process shared by every
// request. Each fetch runs in its own tab, which is closed before the fetch
// returns regardless of outcome.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/scraping-service/internal/ratelimit"
	"github.com/JakeFAU/scraping-service/internal/scraper"
	"github.com/JakeFAU/scraping-service/internal/telemetry"
)

type state int

const (
	stateIdle state = iota
	stateRunning
	stateStopped
)

// Session manages the browser lifecycle and hands out tabs.
type Session struct {
	cfg    Config
	logger *zap.Logger
	budget *ratelimit.Limiter

	// closeBrowser asks Chrome to exit; allocCancel kills it if that stalls.
	closeBrowser func(ctx context.Context) error

	mu          sync.Mutex
	state       state
	browserCtx  context.Context
	allocCancel context.CancelFunc
	tabs        sync.WaitGroup
}

// defaultCloseTimeout bounds the graceful close when Stop's ctx has no deadline.
const defaultCloseTimeout = 10 * time.Second

// New validates cfg and returns an unstarted Session.
func New(cfg Config, logger *zap.Logger) (*Session, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		cfg:    cfg,
		logger: logger,
		budget: ratelimit.New(ratelimit.Config{RPS: cfg.DomainQPS, Burst: 1}),

		closeBrowser: chromedp.Cancel,
	}, nil
}

// Start launches Chrome and waits until it answers. ctx bounds the launch only;
// the browser lives until Stop.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case stateRunning:
		return errors.New("browser session already started")
	case stateStopped:
		return fmt.Errorf("%w: session was stopped and cannot be restarted", scraper.ErrStartup)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(s.cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(s.logger.Sugar().Errorf),
	)

	warm := make(chan error, 1)
	go func() { warm <- chromedp.Run(browserCtx) }()
	var err error
	select {
	case err = <-warm:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("%w: %w", scraper.ErrStartup, err)
	}

	s.browserCtx = browserCtx
	s.allocCancel = func() {
		browserCancel()
		allocCancel()
	}
	s.state = stateRunning
	s.logger.Info("browser started",
		zap.Bool("headless", s.cfg.Headless),
		zap.Bool("proxy", s.cfg.ProxyAddress != ""),
		zap.Strings("bypass_list", s.cfg.BypassList),
	)
	go s.watch(browserCtx)
	return nil
}

// watch notes an unexpected browser exit so later fetches fail fast.
func (s *Session) watch(browserCtx context.Context) {
	<-browserCtx.Done()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateRunning && s.browserCtx == browserCtx {
		s.logger.Error("browser exited unexpectedly")
		s.state = stateStopped
	}
}

// Stop refuses new fetches, waits for open tabs and closes the browser, all
// bounded by ctx. When Chrome does not exit gracefully in time the process is
// killed. Stopping an unstarted or stopped session is a no-op.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != stateRunning {
		s.state = stateStopped
		cancel := s.allocCancel
		s.allocCancel = nil
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return nil
	}
	s.state = stateStopped
	browserCtx, cancel := s.browserCtx, s.allocCancel
	s.allocCancel = nil
	s.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		s.tabs.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		s.logger.Warn("closing browser with tabs still open", zap.Error(ctx.Err()))
	}

	closeCtx, cancelClose := closeContext(ctx, browserCtx)
	defer cancelClose()

	closed := make(chan error, 1)
	go func() { closed <- s.closeBrowser(closeCtx) }()

	var err error
	select {
	case err = <-closed:
	case <-closeCtx.Done():
		err = closeCtx.Err()
	}
	// Killing the process also unblocks a close that is still waiting on Chrome.
	cancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("browser did not close gracefully, process killed", zap.Error(err))
		return nil
	}
	s.logger.Info("browser stopped")
	return nil
}

// closeContext derives the context for the graceful close from browserCtx,
// which carries the chromedp handle, and bounds it by ctx.
func closeContext(ctx, browserCtx context.Context) (context.Context, context.CancelFunc) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultCloseTimeout)
	}
	closeCtx, cancel := context.WithDeadline(browserCtx, deadline)
	stopForward := forwardCancel(ctx, cancel)
	return closeCtx, func() {
		stopForward()
		cancel()
	}
}

// Running reports whether the session accepts fetches.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateRunning
}

// FetchRendered opens a tab, navigates to rawURL, waits for client-side
// rendering to settle and returns the document markup. The tab is closed
// before returning on every path.
func (s *Session) FetchRendered(ctx context.Context, rawURL string, wait time.Duration) (string, error) {
	if wait < 0 {
		wait = 0
	}
	if err := s.budget.Wait(ctx, rawURL); err != nil {
		return "", err
	}

	browserCtx, err := s.openTab()
	if err != nil {
		return "", err
	}
	defer s.tabs.Done()

	tabCtx, cancelTab := chromedp.NewContext(browserCtx)
	telemetry.TabOpened()
	start := time.Now()
	outcome := scraper.OutcomeFailed
	logger := s.logger.With(zap.String("url", rawURL))
	defer func() {
		if cerr := chromedp.Cancel(tabCtx); cerr != nil && !errors.Is(cerr, context.Canceled) {
			logger.Debug("tab close reported error", zap.Error(cerr))
		}
		cancelTab()
		telemetry.TabClosed(outcome, time.Since(start))
		logger.Debug("tab closed", zap.String("outcome", outcome), zap.Duration("duration", time.Since(start)))
	}()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, s.cfg.NavigationTimeout+wait)
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	var crashed atomic.Bool
	chromedp.ListenTarget(tabCtx, func(ev any) {
		if _, ok := ev.(*inspector.EventTargetCrashed); ok {
			crashed.Store(true)
			cancelTask()
		}
	})

	logger.Debug("tab opened", zap.Duration("wait", wait))
	html, err := s.render(taskCtx, rawURL, wait)
	if err != nil {
		return "", classify(ctx, taskCtx, browserCtx, crashed.Load(), rawURL, err)
	}
	outcome = scraper.OutcomeSuccess
	return html, nil
}

// openTab registers an in-flight tab while the session is running.
func (s *Session) openTab() (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateRunning {
		return nil, scraper.ErrSessionClosed
	}
	s.tabs.Add(1)
	return s.browserCtx, nil
}

func (s *Session) render(ctx context.Context, rawURL string, wait time.Duration) (string, error) {
	var html string
	tasks := chromedp.Tasks{
		chromedp.Navigate(rawURL),
		chromedp.Sleep(wait),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, tasks); err != nil {
		return "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, nil
}

// classify maps a failed tab run onto the error taxonomy.
func classify(parent, task, browserCtx context.Context, crashed bool, rawURL string, err error) error {
	switch {
	case errors.Is(parent.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: loading %s: %w", scraper.ErrTimeout, rawURL, parent.Err())
	case parent.Err() != nil:
		return fmt.Errorf("loading %s: %w", rawURL, parent.Err())
	case crashed:
		return fmt.Errorf("%w: tab crashed loading %s", scraper.ErrNavigation, rawURL)
	case browserCtx.Err() != nil:
		return fmt.Errorf("%w: %w", scraper.ErrSessionClosed, err)
	case errors.Is(task.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: loading %s: %w", scraper.ErrTimeout, rawURL, err)
	default:
		return fmt.Errorf("%w: loading %s: %w", scraper.ErrNavigation, rawURL, err)
	}
}

// forwardCancel cancels a task derived from the browser context when the
// caller's context ends. The returned func stops forwarding.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
