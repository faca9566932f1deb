// Package monitoring derives read-only delivery rollups for dashboards.
package monitoring

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/model"
	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/repository"
)

// DeliveryStats is one recomputed-on-demand rollup over the attempt store.
type DeliveryStats struct {
	Total       int64                         `json:"total"`
	ByStatus    map[model.AttemptStatus]int64 `json:"by_status"`
	ByKind      map[model.MessageKind]int64   `json:"by_kind"`
	SuccessRate float64                       `json:"success_rate"`
	FailureRate float64                       `json:"failure_rate"`
	PendingRate float64                       `json:"pending_rate"`
	ComputedAt  time.Time                     `json:"computed_at"`
}

// AttemptCounter is the read-only slice of the attempt repository the
// aggregator needs.
type AttemptCounter interface {
	CountByStatus(ctx context.Context, filter repository.StatsFilter) (map[model.AttemptStatus]int64, error)
	CountByKind(ctx context.Context, filter repository.StatsFilter) (map[model.MessageKind]int64, error)
}

type Aggregator struct {
	attempts AttemptCounter
	cache    *gocache.Cache
}

func NewAggregator(attempts AttemptCounter, ttl time.Duration) *Aggregator {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Aggregator{
		attempts: attempts,
		cache:    gocache.New(ttl, 2*ttl),
	}
}

// Stats computes the rollup for the filter, serving a short-lived cached
// copy when one exists.
func (a *Aggregator) Stats(ctx context.Context, filter repository.StatsFilter) (*DeliveryStats, error) {
	key := cacheKey(filter)
	if cached, ok := a.cache.Get(key); ok {
		return cached.(*DeliveryStats), nil
	}

	byStatus, err := a.attempts.CountByStatus(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate by status: %w", err)
	}
	byKind, err := a.attempts.CountByKind(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate by kind: %w", err)
	}

	stats := &DeliveryStats{
		ByStatus:   byStatus,
		ByKind:     byKind,
		ComputedAt: time.Now(),
	}
	for _, count := range byStatus {
		stats.Total += count
	}
	if stats.Total > 0 {
		total := float64(stats.Total)
		succeeded := byStatus[model.AttemptStatusSent] +
			byStatus[model.AttemptStatusDelivered] +
			byStatus[model.AttemptStatusRead]
		pending := byStatus[model.AttemptStatusPending] +
			byStatus[model.AttemptStatusFailedRetry]

		stats.SuccessRate = float64(succeeded) / total
		stats.FailureRate = float64(byStatus[model.AttemptStatusFailedFinal]) / total
		stats.PendingRate = float64(pending) / total
	}

	a.cache.Set(key, stats, gocache.DefaultExpiration)
	return stats, nil
}

func cacheKey(filter repository.StatsFilter) string {
	app := "all"
	if filter.SourceApp != nil {
		app = string(*filter.SourceApp)
	}
	since, until := "-", "-"
	if filter.Since != nil {
		since = filter.Since.UTC().Format(time.RFC3339)
	}
	if filter.Until != nil {
		until = filter.Until.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("stats:%s:%s:%s", app, since, until)
}
