package app_test

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/scraping-service/internal/app"
	"github.com/JakeFAU/scraping-service/internal/config"
	"github.com/JakeFAU/scraping-service/internal/scraper"
)

type fakeSession struct {
	mu       sync.Mutex
	startErr error
	started  int
	stopped  int
	html     string
}

func (f *fakeSession) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	return f.startErr
}

func (f *fakeSession) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return nil
}

func (f *fakeSession) FetchRendered(context.Context, string, time.Duration) (string, error) {
	return f.html, nil
}

func (f *fakeSession) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started, f.stopped
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Scraper.DefaultWaitSeconds = 0
	cfg.Server.ShutdownTimeout = 2 * time.Second
	return cfg
}

func TestBuildStartStop(t *testing.T) {
	t.Parallel()

	session := &fakeSession{html: "<html>hi</html>"}
	a, err := app.Build(context.Background(), testConfig(t), app.WithSession(session), app.WithLogger(zap.NewNop()))
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/scrape?url=https://example.com")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, a.Stop(context.Background()))
	require.NoError(t, a.Stop(context.Background()))
	started, stopped := session.counts()
	require.Equal(t, 1, started)
	require.Equal(t, 1, stopped)

	resp, err = http.Get(srv.URL + "/scrape?url=https://example.com")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStartFailureIsStartupError(t *testing.T) {
	t.Parallel()

	session := &fakeSession{startErr: errors.New("chrome not found")}
	a, err := app.Build(context.Background(), testConfig(t), app.WithSession(session), app.WithLogger(zap.NewNop()))
	require.NoError(t, err)

	err = a.Start(context.Background())
	require.ErrorIs(t, err, scraper.ErrStartup)
}

func TestRunFailsFastWhenBrowserCannotStart(t *testing.T) {
	t.Parallel()

	session := &fakeSession{startErr: errors.New("chrome not found")}
	a, err := app.Build(context.Background(), testConfig(t),
		app.WithSession(session), app.WithLogger(zap.NewNop()), app.WithAddr("127.0.0.1:0"))
	require.NoError(t, err)

	err = a.Run(context.Background())
	require.ErrorIs(t, err, scraper.ErrStartup)
	_, stopped := session.counts()
	require.Equal(t, 1, stopped)
}

func TestRunServesUntilCanceled(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	session := &fakeSession{html: "<html></html>"}
	a, err := app.Build(context.Background(), testConfig(t),
		app.WithSession(session), app.WithLogger(zap.NewNop()), app.WithAddr(addr))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	started, stopped := session.counts()
	require.Equal(t, 1, started)
	require.Equal(t, 1, stopped)
}

// Not parallel: the tracer provider is process-global.
func TestTracingWritesSpans(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	cfg := testConfig(t)
	cfg.Telemetry.TracingEnabled = true

	session := &fakeSession{html: "<html></html>"}
	a, err := app.Build(context.Background(), cfg,
		app.WithSession(session), app.WithLogger(zap.NewNop()), app.WithTraceWriter(&lockedWriter{mu: &mu, w: &buf}))
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))

	req := httptest.NewRequest(http.MethodGet, "/scrape?url=https://example.com", nil)
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, a.Stop(context.Background()))
	mu.Lock()
	defer mu.Unlock()
	require.True(t, strings.Contains(buf.String(), "scraper.FetchPage"))
}

type lockedWriter struct {
	mu *sync.Mutex
	w  *bytes.Buffer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
