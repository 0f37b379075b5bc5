package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/scraping-service/internal/scraper"
)

func TestLaunchFlagsProxyAndHeadless(t *testing.T) {
	t.Parallel()

	flags := launchFlags(Config{
		Headless:     true,
		ProxyAddress: "http://proxy.internal:3128",
		BypassList:   []string{"a.example", "b.example"},
		NoSandbox:    true,
	})

	require.Equal(t, "new", flags["headless"])
	require.Equal(t, "http://proxy.internal:3128", flags["proxy-server"])
	require.Equal(t, "a.example,b.example", flags["proxy-bypass-list"])
	require.Equal(t, true, flags["no-sandbox"])
	require.Equal(t, false, flags["enable-automation"])
	require.Equal(t, "AutomationControlled", flags["disable-blink-features"])
	require.Equal(t, "imagesEnabled=false", flags["blink-settings"])
	require.Contains(t, flags["disable-features"], "OptimizationGuideModelDownloading")
}

func TestLaunchFlagsWithoutProxy(t *testing.T) {
	t.Parallel()

	flags := launchFlags(Config{})
	require.NotContains(t, flags, "proxy-server")
	require.NotContains(t, flags, "no-sandbox")
	require.Equal(t, false, flags["headless"])
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Config{}.withDefaults()
	require.NoError(t, err)
	require.Equal(t, defaultNavigationTimeout, cfg.NavigationTimeout)
	require.Equal(t, DefaultBypassList, cfg.BypassList)
	require.Equal(t, 1920, cfg.WindowWidth)
	require.Equal(t, 1080, cfg.WindowHeight)

	_, err = Config{NavigationTimeout: -time.Second}.withDefaults()
	require.Error(t, err)
	_, err = Config{DomainQPS: -1}.withDefaults()
	require.Error(t, err)
}

func TestAllocatorOptionsIncludeOverrides(t *testing.T) {
	t.Parallel()

	opts := allocatorOptions(Config{ExecPath: "/usr/bin/chromium", UserAgent: "agent"})
	require.Greater(t, len(opts), len(launchFlags(Config{})))
}

func TestStopBeforeStartIsNoop(t *testing.T) {
	t.Parallel()

	s, err := New(Config{}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
	require.False(t, s.Running())
}

func TestFetchBeforeStartFails(t *testing.T) {
	t.Parallel()

	s, err := New(Config{}, zap.NewNop())
	require.NoError(t, err)
	_, err = s.FetchRendered(context.Background(), "https://example.com", 0)
	require.ErrorIs(t, err, scraper.ErrSessionClosed)
}

func TestStartAfterStopFails(t *testing.T) {
	t.Parallel()

	s, err := New(Config{}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Stop(context.Background()))
	require.ErrorIs(t, s.Start(context.Background()), scraper.ErrStartup)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	live := context.Background()
	runErr := errors.New("net::ERR_NAME_NOT_RESOLVED")

	expired, cancelExpired := context.WithDeadline(live, time.Now().Add(-time.Second))
	defer cancelExpired()
	canceled, cancel := context.WithCancel(live)
	cancel()

	tests := []struct {
		name    string
		parent  context.Context
		task    context.Context
		browser context.Context
		crashed bool
		err     error
		want    error
	}{
		{name: "navigation", parent: live, task: live, browser: live, err: runErr, want: scraper.ErrNavigation},
		{name: "task deadline", parent: live, task: expired, browser: live, err: context.DeadlineExceeded, want: scraper.ErrTimeout},
		{name: "caller deadline", parent: expired, task: expired, browser: live, err: context.DeadlineExceeded, want: scraper.ErrTimeout},
		{name: "caller canceled", parent: canceled, task: canceled, browser: live, err: context.Canceled, want: context.Canceled},
		{name: "crashed", parent: live, task: canceled, browser: live, crashed: true, err: context.Canceled, want: scraper.ErrNavigation},
		{name: "browser gone", parent: live, task: canceled, browser: canceled, err: context.Canceled, want: scraper.ErrSessionClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := classify(tt.parent, tt.task, tt.browser, tt.crashed, "https://example.com", tt.err)
			require.ErrorIs(t, got, tt.want)
		})
	}
}

func TestForwardCancel(t *testing.T) {
	t.Parallel()

	parent, cancelParent := context.WithCancel(context.Background())
	task, cancelTask := context.WithCancel(context.Background())
	defer cancelTask()

	stop := forwardCancel(parent, cancelTask)
	defer stop()
	cancelParent()

	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatal("task context not canceled")
	}
}

func chromeAvailable() bool {
	for _, name := range []string{"google-chrome", "chromium", "chromium-browser", "headless-shell"} {
		if _, err := exec.LookPath(name); err == nil {
			return true
		}
	}
	return false
}

func TestSessionRendersClientSideContent(t *testing.T) {
	if testing.Short() || !chromeAvailable() {
		t.Skip("chrome not available")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<!doctype html><html><body><script>document.body.innerHTML = '<div id="late">late content</div>';</script></body></html>`)
	}))
	defer srv.Close()

	s, err := New(Config{Headless: true, NoSandbox: true, NavigationTimeout: 20 * time.Second}, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Skipf("chrome failed to start: %v", err)
	}
	defer func() { require.NoError(t, s.Stop(context.Background())) }()
	require.True(t, s.Running())

	html, err := s.FetchRendered(ctx, srv.URL, 0)
	if err != nil {
		t.Skipf("render failed: %v", err)
	}
	require.True(t, strings.Contains(html, "late content"))
}

// runningSession fakes a started session whose browser never answers close.
func runningSession(t *testing.T) (*Session, *atomic.Bool) {
	t.Helper()
	s, err := New(Config{}, zap.NewNop())
	require.NoError(t, err)

	browserCtx, browserCancel := context.WithCancel(context.Background())
	var killed atomic.Bool
	s.state = stateRunning
	s.browserCtx = browserCtx
	s.allocCancel = func() {
		killed.Store(true)
		browserCancel()
	}
	s.closeBrowser = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	return s, &killed
}

func TestStopIsBoundedWhenBrowserHangs(t *testing.T) {
	t.Parallel()

	s, killed := runningSession(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	require.NoError(t, s.Stop(ctx))

	require.Less(t, time.Since(start), time.Second)
	require.True(t, killed.Load())
	require.False(t, s.Running())
}

func TestStopKillsWhenCallerCancels(t *testing.T) {
	t.Parallel()

	s, killed := runningSession(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Stop(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after its context was canceled")
	}
	require.True(t, killed.Load())
}

func TestStopWaitsForOpenTabsWithinBound(t *testing.T) {
	t.Parallel()

	s, killed := runningSession(t)
	_, err := s.openTab()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	require.NoError(t, s.Stop(ctx))
	require.Less(t, time.Since(start), time.Second)
	require.True(t, killed.Load())
	s.tabs.Done()
}
