// Package retry wraps flaky operations with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scraping-service/internal/telemetry"
)

// Config controls Policy behavior.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	// MaxDelay caps a single backoff; zero leaves it uncapped.
	MaxDelay time.Duration
	// ShouldRetry filters errors; nil retries every failure.
	ShouldRetry func(error) bool
}

// DefaultConfig mirrors the service defaults: three tries, 2s delay, doubling.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 2 * time.Second,
		Multiplier:   2,
	}
}

// Policy retries an operation with exponential backoff. The last error is
// returned unchanged so callers can still tell failure kinds apart.
type Policy struct {
	cfg    Config
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// New builds a Policy after validating cfg.
func New(cfg Config, logger *zap.Logger) (*Policy, error) {
	if cfg.MaxAttempts <= 0 {
		return nil, fmt.Errorf("max attempts must be > 0, got %d", cfg.MaxAttempts)
	}
	if cfg.InitialDelay < 0 {
		return nil, fmt.Errorf("initial delay must be >= 0, got %v", cfg.InitialDelay)
	}
	if cfg.Multiplier < 1 {
		return nil, fmt.Errorf("multiplier must be >= 1, got %v", cfg.Multiplier)
	}
	if cfg.MaxDelay < 0 {
		return nil, fmt.Errorf("max delay must be >= 0, got %v", cfg.MaxDelay)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{
		cfg:    cfg,
		logger: logger,
		sleep:  sleepContext,
	}, nil
}

// Backoff returns the wait after the given failed attempt (1-based).
func (p *Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.cfg.InitialDelay) * math.Pow(p.cfg.Multiplier, float64(attempt-1))
	if p.cfg.MaxDelay > 0 && delay > float64(p.cfg.MaxDelay) {
		return p.cfg.MaxDelay
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// Run invokes op until it succeeds, attempts run out, ShouldRetry rejects the
// error, or ctx is done.
func (p *Policy) Run(ctx context.Context, op func(ctx context.Context) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = op(ctx)
		if err == nil {
			telemetry.ObserveAttempt(telemetry.AttemptSucceeded)
			return nil
		}
		telemetry.ObserveAttempt(telemetry.AttemptFailed)

		if attempt >= p.cfg.MaxAttempts || ctx.Err() != nil || !p.retryable(err) {
			if attempt > 1 {
				p.logger.Warn("giving up after retries", zap.Int("attempts", attempt), zap.Error(err))
			}
			return err
		}

		delay := p.Backoff(attempt)
		p.logger.Warn("attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.cfg.MaxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if sleepErr := p.sleep(ctx, delay); sleepErr != nil {
			return err
		}
	}
}

// Runner is anything that retries an operation the way Policy.Run does.
type Runner interface {
	Run(ctx context.Context, op func(ctx context.Context) error) error
}

// Do is Run for operations that produce a value. The value of the last
// successful attempt is returned.
func Do[T any](ctx context.Context, r Runner, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Run(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (p *Policy) retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if p.cfg.ShouldRetry == nil {
		return true
	}
	return p.cfg.ShouldRetry(err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
