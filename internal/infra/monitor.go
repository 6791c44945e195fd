// Package infra supplies infrastructure-health-aware score adjustments.
// Degraded payment rails cause benign anomalies (retries, odd timing) that
// should discount risk rather than inflate it.
package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/corridorsec/harrier/internal/domain"
)

// staleGrace is how long past its window a cached status may still be
// served as an explicitly stale fallback when a fresh fetch fails.
const staleGrace = 1

// Monitor caches corridor infrastructure status over a rolling window to
// avoid per-transaction calls to the upstream feed. Cache population is
// safe under concurrent misses; duplicate fetches are acceptable.
type Monitor struct {
	feed            domain.InfrastructureStatusFeed
	cache           domain.Cache
	window          time.Duration
	healthThreshold float64
	adjustment      float64
	fetchTimeout    time.Duration
}

// New creates an infrastructure health monitor.
func New(feed domain.InfrastructureStatusFeed, cache domain.Cache, cfg domain.ScoringConfig) *Monitor {
	window := cfg.InfraWindow
	if window <= 0 {
		window = time.Hour
	}
	timeout := cfg.LookupTimeout
	if timeout <= 0 {
		timeout = 100 * time.Millisecond
	}
	return &Monitor{
		feed:            feed,
		cache:           cache,
		window:          window,
		healthThreshold: cfg.InfraHealthThreshold,
		adjustment:      cfg.InfraAdjustment,
		fetchTimeout:    timeout,
	}
}

// Check returns the infrastructure status for a corridor at the given
// time. A cached status older than its window is treated as stale and
// re-fetched; if the re-fetch fails, the stale entry is returned flagged
// Stale so callers can mark the result degraded.
//
// The fetch runs detached from the caller's context: a cancelled caller
// never receives the result, but the fetch completes and populates the
// shared cache for subsequent requests.
func (m *Monitor) Check(ctx context.Context, corridorID string, at time.Time) (*domain.InfrastructureStatus, error) {
	cached := m.cachedStatus(ctx, corridorID)
	if cached != nil && at.Sub(cached.FetchedAt) < m.window {
		return cached, nil
	}

	fresh, err := m.fetch(ctx, corridorID)
	if err == nil {
		return fresh, nil
	}

	if cached != nil {
		stale := *cached
		stale.Stale = true
		slog.Warn("infrastructure feed unavailable, serving stale status",
			"corridor", corridorID,
			"age", at.Sub(cached.FetchedAt),
			"error", err,
		)
		return &stale, nil
	}

	return nil, &domain.ExternalTimeoutError{Source: "infrastructure status", Err: err}
}

// Adjustment applies the infrastructure discount rule: a retry on a rail
// with depressed health whose dominant error class is timeout gets the
// configured (negative) adjustment. The adjustment only ever reduces
// score.
func (m *Monitor) Adjustment(status *domain.InfrastructureStatus, tx *domain.Transaction) float64 {
	if status == nil || tx == nil {
		return 0
	}
	if status.Health < m.healthThreshold && tx.IsRetry && status.CommonError == domain.ErrorClassTimeout {
		return m.adjustment
	}
	return 0
}

func (m *Monitor) cachedStatus(ctx context.Context, corridorID string) *domain.InfrastructureStatus {
	if m.cache == nil {
		return nil
	}
	data, err := m.cache.Get(ctx, cacheKey(corridorID))
	if err != nil || data == nil {
		return nil
	}
	var status domain.InfrastructureStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil
	}
	return &status
}

// fetch retrieves a fresh status from the feed and populates the cache.
// The upstream call is bounded by the lookup timeout but detached from the
// caller's cancellation, so an abandoned request still warms the cache.
func (m *Monitor) fetch(ctx context.Context, corridorID string) (*domain.InfrastructureStatus, error) {
	type fetchResult struct {
		status *domain.InfrastructureStatus
		err    error
	}
	resultCh := make(chan fetchResult, 1)

	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.fetchTimeout)
	go func() {
		defer cancel()
		status, err := m.feed.Get(fetchCtx, corridorID, m.window)
		if err == nil {
			status.FetchedAt = time.Now().UTC()
			m.store(fetchCtx, status)
		}
		resultCh <- fetchResult{status: status, err: err}
	}()

	select {
	case r := <-resultCh:
		return r.status, r.err
	case <-ctx.Done():
		// Caller cancelled; the fetch completes in the background and
		// its result must not be delivered here.
		return nil, ctx.Err()
	}
}

func (m *Monitor) store(ctx context.Context, status *domain.InfrastructureStatus) {
	if m.cache == nil {
		return
	}
	data, err := json.Marshal(status)
	if err != nil {
		return
	}
	// Keep the entry one extra window beyond freshness for stale fallback.
	ttl := m.window * (1 + staleGrace)
	if err := m.cache.Set(ctx, cacheKey(status.Corridor), data, ttl); err != nil {
		slog.Warn("failed to cache infrastructure status",
			"corridor", status.Corridor,
			"error", err,
		)
	}
}

func cacheKey(corridorID string) string {
	return fmt.Sprintf("infra:%s", corridorID)
}
