package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/model"
	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/repository"
	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/service/delivery"
	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/service/instancerouter"
	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/pkg/logger"
	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/pkg/metrics"
)

// fakeStore mirrors the conditional-update semantics of the SQL repository
// in memory.
type fakeStore struct {
	mu       sync.Mutex
	attempts map[uuid.UUID]*model.MessageAttempt
}

func newFakeStore(attempts ...*model.MessageAttempt) *fakeStore {
	s := &fakeStore{attempts: make(map[uuid.UUID]*model.MessageAttempt)}
	for _, a := range attempts {
		s.attempts[a.ID] = a
	}
	return s
}

func (s *fakeStore) get(id uuid.UUID) *model.MessageAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.attempts[id]
	return &cp
}

func (s *fakeStore) setStatus(id uuid.UUID, status model.AttemptStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[id].Status = status
}

func (s *fakeStore) ListDue(_ context.Context, sourceApp *model.SourceApp, now time.Time, limit int) ([]*model.MessageAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*model.MessageAttempt
	for _, a := range s.attempts {
		if len(due) >= limit {
			break
		}
		if sourceApp != nil && a.SourceApp != *sourceApp {
			continue
		}
		if a.Status != model.AttemptStatusFailedRetry || !a.CanRetry(now) {
			continue
		}
		cp := *a
		due = append(due, &cp)
	}
	return due, nil
}

func (s *fakeStore) ClaimForSending(_ context.Context, id uuid.UUID, now time.Time) (*model.MessageAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if err := a.MarkSending(now); err != nil {
		return nil, repository.ErrStaleAttempt
	}
	cp := *a
	return &cp, nil
}

func (s *fakeStore) Update(_ context.Context, attempt *model.MessageAttempt, expectedStatus model.AttemptStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.attempts[attempt.ID]
	if !ok || stored.Status != expectedStatus {
		return repository.ErrStaleAttempt
	}
	cp := *attempt
	s.attempts[attempt.ID] = &cp
	return nil
}

// fakeClient returns canned results and records calls.
type fakeClient struct {
	mu      sync.Mutex
	results []delivery.Result
	calls   int
	onSend  func()
}

func (c *fakeClient) Send(_ context.Context, _ model.Region, _, _ string, _ model.MessageKind) delivery.Result {
	c.mu.Lock()
	idx := c.calls
	c.calls++
	c.mu.Unlock()
	if c.onSend != nil {
		c.onSend()
	}
	if idx < len(c.results) {
		return c.results[idx]
	}
	return delivery.Result{Outcome: delivery.OutcomeSuccess, ProviderMessageID: "wamid.default"}
}

func (c *fakeClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func usableRegions() *model.RegionSet {
	mk := func(code model.RegionCode) model.Region {
		return model.Region{
			Code:      code,
			Endpoint:  "https://wachap.example.com/api/send",
			AccountID: "acct",
			APIToken:  "token",
			Active:    true,
		}
	}
	return model.NewRegionSet(model.RegionMali,
		mk(model.RegionMali), mk(model.RegionChine), mk(model.RegionSystem))
}

func newTestScheduler(store AttemptStore, client DeliveryClient, regions *model.RegionSet) *Scheduler {
	return NewScheduler(
		store,
		instancerouter.NewRouter(regions),
		client,
		Config{BatchSize: 100, WorkerCount: 2},
		logger.FromZerolog(zerolog.Nop()),
		metrics.NewUnregistered("test"),
	)
}

func pendingAttempt() *model.MessageAttempt {
	return &model.MessageAttempt{
		ID:                 uuid.New(),
		Phone:              "+22370000000",
		SourceApp:          model.SourceAppAgentMali,
		Kind:               model.MessageKindNotification,
		Priority:           model.PriorityLowest,
		Status:             model.AttemptStatusPending,
		MaxAttempts:        3,
		RetryDelayBase:     300,
		ExponentialBackoff: true,
	}
}

func TestProcessAttemptSuccess(t *testing.T) {
	a := pendingAttempt()
	store := newFakeStore(a)
	client := &fakeClient{results: []delivery.Result{{
		Outcome:           delivery.OutcomeSuccess,
		ProviderMessageID: "wamid.ok",
		RawResponse:       `{"message_id":"wamid.ok"}`,
	}}}
	s := newTestScheduler(store, client, usableRegions())

	require.NoError(t, s.ProcessAttempt(context.Background(), a.ID))

	got := store.get(a.ID)
	assert.Equal(t, model.AttemptStatusSent, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	require.NotNil(t, got.ProviderMessageID)
	assert.Equal(t, "wamid.ok", *got.ProviderMessageID)
	assert.Nil(t, got.NextRetryAt)
}

func TestProcessAttemptHTTPErrorSchedulesRetry(t *testing.T) {
	a := pendingAttempt()
	store := newFakeStore(a)
	client := &fakeClient{results: []delivery.Result{{
		Outcome:      delivery.OutcomeHTTPError,
		StatusCode:   500,
		ErrorMessage: "provider returned status 500",
	}}}
	s := newTestScheduler(store, client, usableRegions())

	err := s.ProcessAttempt(context.Background(), a.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider returned status 500")

	got := store.get(a.ID)
	assert.Equal(t, model.AttemptStatusFailedRetry, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	require.NotNil(t, got.NextRetryAt)
	assert.WithinDuration(t, time.Now().Add(300*time.Second), *got.NextRetryAt, 5*time.Second)
	require.NotNil(t, got.ErrorCode)
	assert.Equal(t, "http_500", *got.ErrorCode)
}

func TestProcessAttemptExhaustion(t *testing.T) {
	a := pendingAttempt()
	a.Status = model.AttemptStatusFailedRetry
	a.AttemptCount = 2
	store := newFakeStore(a)
	client := &fakeClient{results: []delivery.Result{{
		Outcome:      delivery.OutcomeTimeout,
		ErrorMessage: "context deadline exceeded",
	}}}
	s := newTestScheduler(store, client, usableRegions())

	require.Error(t, s.ProcessAttempt(context.Background(), a.ID))

	got := store.get(a.ID)
	assert.Equal(t, model.AttemptStatusFailedFinal, got.Status)
	assert.Equal(t, 3, got.AttemptCount)
	assert.Nil(t, got.NextRetryAt)
}

func TestProcessAttemptTerminalIsSkipped(t *testing.T) {
	a := pendingAttempt()
	a.Status = model.AttemptStatusCancelled
	store := newFakeStore(a)
	client := &fakeClient{}
	s := newTestScheduler(store, client, usableRegions())

	err := s.ProcessAttempt(context.Background(), a.ID)
	assert.ErrorIs(t, err, repository.ErrStaleAttempt)
	assert.Zero(t, client.callCount())
}

func TestProcessAttemptCancelledMidSend(t *testing.T) {
	a := pendingAttempt()
	store := newFakeStore(a)
	client := &fakeClient{}
	client.onSend = func() {
		// Operator cancels while the provider call is in flight.
		store.setStatus(a.ID, model.AttemptStatusCancelled)
	}
	s := newTestScheduler(store, client, usableRegions())

	err := s.ProcessAttempt(context.Background(), a.ID)
	assert.ErrorIs(t, err, repository.ErrStaleAttempt)

	got := store.get(a.ID)
	assert.Equal(t, model.AttemptStatusCancelled, got.Status, "stale send result must not resurrect the row")
	assert.Nil(t, got.ProviderMessageID)
}

func TestProcessAttemptNoAvailableRegion(t *testing.T) {
	a := pendingAttempt()
	store := newFakeStore(a)
	client := &fakeClient{}

	inactive := model.NewRegionSet(model.RegionMali,
		model.Region{Code: model.RegionMali, Active: false},
	)
	s := newTestScheduler(store, client, inactive)

	require.Error(t, s.ProcessAttempt(context.Background(), a.ID))
	assert.Zero(t, client.callCount(), "unroutable attempts must not reach the provider")

	got := store.get(a.ID)
	assert.Equal(t, model.AttemptStatusFailedRetry, got.Status)
	require.NotNil(t, got.ErrorCode)
	assert.Equal(t, "no_available_region", *got.ErrorCode)
}

func TestRunProcessesDueBatch(t *testing.T) {
	past := time.Now().Add(-time.Minute)
	var stored []*model.MessageAttempt
	for i := 0; i < 5; i++ {
		a := pendingAttempt()
		a.Status = model.AttemptStatusFailedRetry
		a.AttemptCount = 1
		a.NextRetryAt = &past
		stored = append(stored, a)
	}
	// One attempt not yet due must stay untouched.
	future := time.Now().Add(time.Hour)
	notDue := pendingAttempt()
	notDue.Status = model.AttemptStatusFailedRetry
	notDue.AttemptCount = 1
	notDue.NextRetryAt = &future
	stored = append(stored, notDue)

	store := newFakeStore(stored...)
	client := &fakeClient{}
	s := newTestScheduler(store, client, usableRegions())

	res, err := s.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Processed)
	assert.Equal(t, 5, res.Succeeded)
	assert.Zero(t, res.Failed)
	assert.Equal(t, 5, client.callCount())

	assert.Equal(t, model.AttemptStatusFailedRetry, store.get(notDue.ID).Status)
	for _, a := range stored[:5] {
		assert.Equal(t, model.AttemptStatusSent, store.get(a.ID).Status)
	}
}

func TestRunSourceAppFilter(t *testing.T) {
	past := time.Now().Add(-time.Minute)
	mali := pendingAttempt()
	mali.Status = model.AttemptStatusFailedRetry
	mali.AttemptCount = 1
	mali.NextRetryAt = &past

	chine := pendingAttempt()
	chine.SourceApp = model.SourceAppAgentChine
	chine.Status = model.AttemptStatusFailedRetry
	chine.AttemptCount = 1
	chine.NextRetryAt = &past

	store := newFakeStore(mali, chine)
	client := &fakeClient{}
	s := newTestScheduler(store, client, usableRegions())

	app := model.SourceAppAgentChine
	res, err := s.Run(context.Background(), RunOptions{SourceApp: &app})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)

	assert.Equal(t, model.AttemptStatusSent, store.get(chine.ID).Status)
	assert.Equal(t, model.AttemptStatusFailedRetry, store.get(mali.ID).Status)
}

func TestRunDryRun(t *testing.T) {
	past := time.Now().Add(-time.Minute)
	a := pendingAttempt()
	a.Status = model.AttemptStatusFailedRetry
	a.AttemptCount = 1
	a.NextRetryAt = &past

	store := newFakeStore(a)
	client := &fakeClient{}
	s := newTestScheduler(store, client, usableRegions())

	res, err := s.Run(context.Background(), RunOptions{DryRun: true})
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Equal(t, 1, res.Processed)
	assert.Zero(t, client.callCount())

	got := store.get(a.ID)
	assert.Equal(t, model.AttemptStatusFailedRetry, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
}

func TestRunReportsPerItemErrors(t *testing.T) {
	past := time.Now().Add(-time.Minute)
	a := pendingAttempt()
	a.Status = model.AttemptStatusFailedRetry
	a.AttemptCount = 1
	a.NextRetryAt = &past

	store := newFakeStore(a)
	client := &fakeClient{results: []delivery.Result{{
		Outcome:      delivery.OutcomeNetworkError,
		ErrorMessage: "connection refused",
	}}}
	s := newTestScheduler(store, client, usableRegions())

	res, err := s.Run(context.Background(), RunOptions{})
	require.NoError(t, err, "per-item failures are results, not batch errors")
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, a.ID, res.Errors[0].AttemptID)
	assert.Contains(t, res.Errors[0].Error, "connection refused")
}
