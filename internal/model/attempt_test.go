package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAttempt() *MessageAttempt {
	return &MessageAttempt{
		Phone:              "+22370000000",
		SourceApp:          SourceAppAgentMali,
		Kind:               MessageKindNotification,
		Priority:           PriorityLowest,
		Status:             AttemptStatusPending,
		MaxAttempts:        3,
		RetryDelayBase:     300,
		ExponentialBackoff: true,
	}
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		name        string
		base        int
		retries     int
		exponential bool
		want        time.Duration
	}{
		{"first retry", 300, 0, true, 300 * time.Second},
		{"second retry", 300, 1, true, 600 * time.Second},
		{"third retry", 300, 2, true, 1200 * time.Second},
		{"fourth retry", 300, 3, true, 2400 * time.Second},
		{"capped at 2^5", 300, 5, true, 9600 * time.Second},
		{"beyond cap stays capped", 300, 7, true, 9600 * time.Second},
		{"linear ignores retries", 300, 4, false, 300 * time.Second},
		{"custom base", 60, 1, true, 120 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RetryDelay(tt.base, tt.retries, tt.exponential))
		})
	}
}

func TestMarkSendingClaimsOnce(t *testing.T) {
	now := time.Now()
	a := newTestAttempt()

	require.NoError(t, a.MarkSending(now))
	assert.Equal(t, AttemptStatusSending, a.Status)
	assert.Equal(t, 1, a.AttemptCount)
	require.NotNil(t, a.FirstAttemptAt)
	require.NotNil(t, a.LastAttemptAt)

	// Already sending: a second claim must be refused.
	assert.ErrorIs(t, a.MarkSending(now), ErrNotRetryable)
	assert.Equal(t, 1, a.AttemptCount)
}

func TestMarkSendingRespectsSchedule(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Minute)

	a := newTestAttempt()
	a.Status = AttemptStatusFailedRetry
	a.AttemptCount = 1
	a.NextRetryAt = &future

	assert.ErrorIs(t, a.MarkSending(now), ErrNotRetryable)
	require.NoError(t, a.MarkSending(future))
	assert.Equal(t, 2, a.AttemptCount)
}

func TestMarkSendingExhausted(t *testing.T) {
	a := newTestAttempt()
	a.Status = AttemptStatusFailedRetry
	a.AttemptCount = 3

	assert.ErrorIs(t, a.MarkSending(time.Now()), ErrNotRetryable)
}

func TestMarkFailedSchedulesRetry(t *testing.T) {
	now := time.Now()
	a := newTestAttempt()
	require.NoError(t, a.MarkSending(now))

	require.NoError(t, a.MarkFailed("provider returned 500", "http_500", false, now))
	assert.Equal(t, AttemptStatusFailedRetry, a.Status)
	require.NotNil(t, a.NextRetryAt)
	assert.Equal(t, now.Add(300*time.Second), *a.NextRetryAt)
	require.NotNil(t, a.ErrorCode)
	assert.Equal(t, "http_500", *a.ErrorCode)
}

func TestMarkFailedBackoffGrows(t *testing.T) {
	now := time.Now()
	a := newTestAttempt()
	a.MaxAttempts = 5

	require.NoError(t, a.MarkSending(now))
	require.NoError(t, a.MarkFailed("timeout", "timeout", false, now))
	first := *a.NextRetryAt

	require.NoError(t, a.MarkSending(first))
	require.NoError(t, a.MarkFailed("timeout", "timeout", false, first))
	second := *a.NextRetryAt

	assert.Equal(t, 300*time.Second, first.Sub(now))
	assert.Equal(t, 600*time.Second, second.Sub(first))
}

func TestMarkFailedExhaustsAtMaxAttempts(t *testing.T) {
	now := time.Now()
	a := newTestAttempt()

	for i := 0; i < 2; i++ {
		require.NoError(t, a.MarkSending(now))
		require.NoError(t, a.MarkFailed("err", "timeout", false, now))
		assert.Equal(t, AttemptStatusFailedRetry, a.Status)
		now = *a.NextRetryAt
	}

	require.NoError(t, a.MarkSending(now))
	require.NoError(t, a.MarkFailed("err", "timeout", false, now))
	assert.Equal(t, AttemptStatusFailedFinal, a.Status)
	assert.Equal(t, 3, a.AttemptCount)
	assert.Nil(t, a.NextRetryAt)
	assert.True(t, a.IsTerminal())
	assert.False(t, a.CanRetry(now))
}

func TestMarkFailedFinalFlag(t *testing.T) {
	now := time.Now()
	a := newTestAttempt()
	require.NoError(t, a.MarkSending(now))

	require.NoError(t, a.MarkFailed("account not configured", "config_error", true, now))
	assert.Equal(t, AttemptStatusFailedFinal, a.Status)
	assert.Nil(t, a.NextRetryAt)
}

func TestMarkSentClearsErrorState(t *testing.T) {
	now := time.Now()
	a := newTestAttempt()
	require.NoError(t, a.MarkSending(now))
	require.NoError(t, a.MarkFailed("flaky", "network_error", false, now))
	require.NoError(t, a.MarkSending(*a.NextRetryAt))

	require.NoError(t, a.MarkSent("wamid.123", `{"ok":true}`, now))
	assert.Equal(t, AttemptStatusSent, a.Status)
	require.NotNil(t, a.ProviderMessageID)
	assert.Equal(t, "wamid.123", *a.ProviderMessageID)
	assert.Nil(t, a.NextRetryAt)
	assert.Nil(t, a.ErrorMessage)
	assert.Nil(t, a.ErrorCode)
	require.NotNil(t, a.SentAt)
}

func TestDeliveryProgression(t *testing.T) {
	now := time.Now()
	a := newTestAttempt()
	require.NoError(t, a.MarkSending(now))
	require.NoError(t, a.MarkSent("wamid.123", "{}", now))

	require.NoError(t, a.MarkDelivered(now))
	assert.Equal(t, AttemptStatusDelivered, a.Status)
	require.NotNil(t, a.DeliveredAt)

	// Repeated delivery confirmations are no-ops.
	require.NoError(t, a.MarkDelivered(now.Add(time.Minute)))
	assert.Equal(t, now, *a.DeliveredAt)

	require.NoError(t, a.MarkRead(now))
	assert.Equal(t, AttemptStatusRead, a.Status)
	require.NoError(t, a.MarkRead(now))

	// Delivery after read must not regress the state.
	require.NoError(t, a.MarkDelivered(now))
	assert.Equal(t, AttemptStatusRead, a.Status)
}

func TestMarkReadBackfillsDelivered(t *testing.T) {
	now := time.Now()
	a := newTestAttempt()
	require.NoError(t, a.MarkSending(now))
	require.NoError(t, a.MarkSent("wamid.123", "{}", now))

	require.NoError(t, a.MarkRead(now))
	require.NotNil(t, a.DeliveredAt)
	require.NotNil(t, a.ReadAt)
}

func TestMarkDeliveredRequiresSent(t *testing.T) {
	a := newTestAttempt()
	assert.ErrorIs(t, a.MarkDelivered(time.Now()), ErrInvalidTransition)

	a.Status = AttemptStatusFailedFinal
	assert.ErrorIs(t, a.MarkRead(time.Now()), ErrInvalidTransition)
}

func TestCancel(t *testing.T) {
	now := time.Now()

	a := newTestAttempt()
	require.NoError(t, a.Cancel(now))
	assert.Equal(t, AttemptStatusCancelled, a.Status)
	assert.True(t, a.IsTerminal())
	assert.False(t, a.CanRetry(now))

	// Terminal states cannot be cancelled or resent.
	assert.ErrorIs(t, a.Cancel(now), ErrInvalidTransition)
	assert.ErrorIs(t, a.MarkSent("wamid.9", "{}", now), ErrInvalidTransition)
	assert.ErrorIs(t, a.MarkFailed("late result", "timeout", false, now), ErrInvalidTransition)

	b := newTestAttempt()
	b.Status = AttemptStatusFailedRetry
	next := now.Add(time.Hour)
	b.NextRetryAt = &next
	require.NoError(t, b.Cancel(now))
	assert.Nil(t, b.NextRetryAt)
}

func TestIsTerminal(t *testing.T) {
	terminal := []AttemptStatus{
		AttemptStatusSent, AttemptStatusDelivered, AttemptStatusRead,
		AttemptStatusFailedFinal, AttemptStatusCancelled,
	}
	open := []AttemptStatus{
		AttemptStatusPending, AttemptStatusSending,
		AttemptStatusFailed, AttemptStatusFailedRetry,
	}

	a := newTestAttempt()
	for _, s := range terminal {
		a.Status = s
		assert.True(t, a.IsTerminal(), string(s))
	}
	for _, s := range open {
		a.Status = s
		assert.False(t, a.IsTerminal(), string(s))
	}
}
