// Package admission bounds how many scraping operations may use the browser
// at the same time.
package admission

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/scraping-service/internal/telemetry"
)

// DefaultLimit is the number of permits when none is configured.
const DefaultLimit = 5

// Gate is a process-wide counting permit pool. It does not promise FIFO
// fairness, only that at most Limit permits are held at once.
type Gate struct {
	sem      *semaphore.Weighted
	limit    int64
	inFlight atomic.Int64
}

// New returns a Gate with limit permits. A non-positive limit uses DefaultLimit.
func New(limit int) *Gate {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Gate{
		sem:   semaphore.NewWeighted(int64(limit)),
		limit: int64(limit),
	}
}

// Acquire blocks until a permit is free or ctx is done. The returned release
// func gives the permit back; extra calls are no-ops.
func (g *Gate) Acquire(ctx context.Context) (func(), error) {
	start := time.Now()
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("admission wait canceled: %w", err)
	}
	g.inFlight.Add(1)
	telemetry.PermitAcquired(time.Since(start))

	var once sync.Once
	return func() {
		once.Do(func() {
			g.inFlight.Add(-1)
			telemetry.PermitReleased()
			g.sem.Release(1)
		})
	}, nil
}

// InFlight reports how many permits are currently held.
func (g *Gate) InFlight() int {
	return int(g.inFlight.Load())
}

// Limit reports the configured permit count.
func (g *Gate) Limit() int {
	return int(g.limit)
}
