package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/model"
	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/repository"
)

type fakeCounter struct {
	byStatus map[model.AttemptStatus]int64
	byKind   map[model.MessageKind]int64
	calls    int
}

func (c *fakeCounter) CountByStatus(_ context.Context, _ repository.StatsFilter) (map[model.AttemptStatus]int64, error) {
	c.calls++
	return c.byStatus, nil
}

func (c *fakeCounter) CountByKind(_ context.Context, _ repository.StatsFilter) (map[model.MessageKind]int64, error) {
	return c.byKind, nil
}

func TestStatsRates(t *testing.T) {
	counter := &fakeCounter{
		byStatus: map[model.AttemptStatus]int64{
			model.AttemptStatusSent:        30,
			model.AttemptStatusDelivered:   40,
			model.AttemptStatusRead:        10,
			model.AttemptStatusFailedFinal: 5,
			model.AttemptStatusFailedRetry: 10,
			model.AttemptStatusPending:     5,
		},
		byKind: map[model.MessageKind]int64{
			model.MessageKindOTP:          20,
			model.MessageKindNotification: 80,
		},
	}
	agg := NewAggregator(counter, time.Minute)

	stats, err := agg.Stats(context.Background(), repository.StatsFilter{})
	require.NoError(t, err)

	assert.Equal(t, int64(100), stats.Total)
	assert.InDelta(t, 0.80, stats.SuccessRate, 1e-9)
	assert.InDelta(t, 0.05, stats.FailureRate, 1e-9)
	assert.InDelta(t, 0.15, stats.PendingRate, 1e-9)
	assert.Equal(t, int64(20), stats.ByKind[model.MessageKindOTP])
	assert.False(t, stats.ComputedAt.IsZero())
}

func TestStatsEmptyStore(t *testing.T) {
	agg := NewAggregator(&fakeCounter{
		byStatus: map[model.AttemptStatus]int64{},
		byKind:   map[model.MessageKind]int64{},
	}, time.Minute)

	stats, err := agg.Stats(context.Background(), repository.StatsFilter{})
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
	assert.Zero(t, stats.SuccessRate)
	assert.Zero(t, stats.FailureRate)
	assert.Zero(t, stats.PendingRate)
}

func TestStatsCached(t *testing.T) {
	counter := &fakeCounter{
		byStatus: map[model.AttemptStatus]int64{model.AttemptStatusSent: 1},
		byKind:   map[model.MessageKind]int64{},
	}
	agg := NewAggregator(counter, time.Minute)

	_, err := agg.Stats(context.Background(), repository.StatsFilter{})
	require.NoError(t, err)
	_, err = agg.Stats(context.Background(), repository.StatsFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, counter.calls, "second call within the TTL is served from cache")

	// A different filter is a different cache entry.
	app := model.SourceAppAgentMali
	_, err = agg.Stats(context.Background(), repository.StatsFilter{SourceApp: &app})
	require.NoError(t, err)
	assert.Equal(t, 2, counter.calls)
}
