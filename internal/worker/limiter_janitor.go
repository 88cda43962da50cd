package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/farebox-io/farebox/internal/ratelimit"
)

const (
	janitorInterval = 10 * time.Minute
	limiterMaxIdle  = 30 * time.Minute
)

// LimiterJanitor periodically evicts idle per-DID rate limiters so the
// limiter map does not grow with caller churn.
type LimiterJanitor struct {
	registry *ratelimit.Registry
}

// NewLimiterJanitor creates a LimiterJanitor for registry.
func NewLimiterJanitor(registry *ratelimit.Registry) *LimiterJanitor {
	return &LimiterJanitor{registry: registry}
}

// Run evicts stale limiters until ctx is cancelled.
func (j *LimiterJanitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := j.registry.EvictStale(time.Now().Add(-limiterMaxIdle)); n > 0 {
				slog.Debug("evicted idle rate limiters", "count", n)
			}
		case <-ctx.Done():
			return nil
		}
	}
}
