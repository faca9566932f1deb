// Package reconciler ingests asynchronous provider callbacks and merges them
// into attempt state. Every callback is persisted as a WebhookEvent before
// any matching is attempted: losing a webhook record is worse than a failed
// reconciliation.
package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/model"
	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/repository"
	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/pkg/logger"
	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/pkg/messaging"
	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/pkg/metrics"
)

// StatusChannel is the pub/sub channel carrying delivery status changes.
const StatusChannel = "notifications.status"

// Callback is one inbound provider webhook.
type Callback struct {
	ProviderMessageID string
	Kind              model.WebhookKind
	Status            string
	Payload           json.RawMessage
}

// StatusChange is published to the broker when a webhook advances an attempt.
type StatusChange struct {
	AttemptID         uuid.UUID           `json:"attempt_id"`
	ProviderMessageID string              `json:"provider_message_id"`
	Status            model.AttemptStatus `json:"status"`
	OccurredAt        time.Time           `json:"occurred_at"`
}

// EventStore is the slice of the webhook repository the reconciler needs.
type EventStore interface {
	Create(ctx context.Context, event *model.WebhookEvent) error
	MarkProcessed(ctx context.Context, id uuid.UUID, attemptID *uuid.UUID, processingError *string) error
	ListUnlinked(ctx context.Context, limit int) ([]*model.WebhookEvent, error)
}

// AttemptStore is the slice of the attempt repository the reconciler needs.
type AttemptStore interface {
	GetByProviderMessageID(ctx context.Context, providerMessageID string) (*model.MessageAttempt, error)
	Update(ctx context.Context, attempt *model.MessageAttempt, expectedStatus model.AttemptStatus) error
}

type Reconciler struct {
	events   EventStore
	attempts AttemptStore
	broker   messaging.Broker
	logger   *logger.Logger
	metrics  *metrics.Metrics
}

func NewReconciler(
	events EventStore,
	attempts AttemptStore,
	broker messaging.Broker,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *Reconciler {
	return &Reconciler{
		events:   events,
		attempts: attempts,
		broker:   broker,
		logger:   logger,
		metrics:  metrics,
	}
}

// Ingest records and applies one callback. The only error it can return is
// the failure to persist the audit row; every later problem is recorded on
// the event as a processing error and swallowed.
func (r *Reconciler) Ingest(ctx context.Context, cb Callback) error {
	event := &model.WebhookEvent{
		ProviderMessageID: cb.ProviderMessageID,
		Kind:              cb.Kind,
		ReportedStatus:    cb.Status,
		Payload:           cb.Payload,
	}
	if err := r.events.Create(ctx, event); err != nil {
		return fmt.Errorf("failed to persist webhook event: %w", err)
	}
	r.metrics.WebhookEvents.WithLabelValues(string(cb.Kind)).Inc()

	attemptID, procErr := r.apply(ctx, cb)
	if procErr != nil {
		msg := procErr.Error()
		if err := r.events.MarkProcessed(ctx, event.ID, attemptID, &msg); err != nil {
			r.logger.Error(err, "failed to record webhook processing error", "event_id", event.ID.String())
		}
		return nil
	}

	if err := r.events.MarkProcessed(ctx, event.ID, attemptID, nil); err != nil {
		r.logger.Error(err, "failed to mark webhook event processed", "event_id", event.ID.String())
	}
	return nil
}

// apply matches the callback to an attempt and advances it. A missing
// attempt is a normal condition (the webhook may have raced our own
// mark_sent write), reported with a nil attempt id and no error.
func (r *Reconciler) apply(ctx context.Context, cb Callback) (attemptID *uuid.UUID, procErr error) {
	defer func() {
		if p := recover(); p != nil {
			procErr = fmt.Errorf("panic while applying webhook: %v", p)
		}
	}()

	attempt, err := r.attempts.GetByProviderMessageID(ctx, cb.ProviderMessageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			r.metrics.WebhookUnmatched.Inc()
			r.logger.Debug("webhook without matching attempt",
				"provider_message_id", cb.ProviderMessageID)
			return nil, nil
		}
		return nil, err
	}

	changed, err := r.advance(ctx, attempt, cb.Kind)
	if err != nil {
		return &attempt.ID, err
	}

	if changed {
		r.publishStatusChange(ctx, attempt)
	}
	return &attempt.ID, nil
}

// advance applies the monotonic transition for the callback kind. It is
// idempotent: a repeated confirmation is acknowledged without touching the
// row, and cancellation permanently suppresses further transitions.
func (r *Reconciler) advance(ctx context.Context, attempt *model.MessageAttempt, kind model.WebhookKind) (bool, error) {
	if attempt.Status == model.AttemptStatusCancelled {
		return false, nil
	}

	previous := attempt.Status
	now := time.Now()

	var err error
	switch kind {
	case model.WebhookKindDelivery:
		err = attempt.MarkDelivered(now)
	case model.WebhookKindRead:
		err = attempt.MarkRead(now)
	default:
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cannot apply %s confirmation in status %s: %w", kind, previous, err)
	}
	if attempt.Status == previous {
		return false, nil
	}

	if err := r.attempts.Update(ctx, attempt, previous); err != nil {
		if errors.Is(err, repository.ErrStaleAttempt) {
			// Row moved under us (likely cancelled); the cancellation wins.
			r.logger.Warn("dropping stale webhook transition", "attempt_id", attempt.ID.String())
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *Reconciler) publishStatusChange(ctx context.Context, attempt *model.MessageAttempt) {
	if r.broker == nil {
		return
	}
	change := StatusChange{
		AttemptID:         attempt.ID,
		ProviderMessageID: strVal(attempt.ProviderMessageID),
		Status:            attempt.Status,
		OccurredAt:        time.Now(),
	}
	if err := r.broker.Publish(ctx, StatusChannel, change); err != nil {
		r.logger.Error(err, "failed to publish status change", "attempt_id", attempt.ID.String())
	}
}

// RematchUnlinked re-scans processed events that found no attempt at ingest
// time and applies those whose attempt has appeared since. Returns the
// number of events newly linked.
func (r *Reconciler) RematchUnlinked(ctx context.Context, limit int) (int, error) {
	events, err := r.events.ListUnlinked(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list unlinked webhook events: %w", err)
	}

	linked := 0
	for _, event := range events {
		attempt, err := r.attempts.GetByProviderMessageID(ctx, event.ProviderMessageID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return linked, err
		}

		changed, applyErr := r.advance(ctx, attempt, event.Kind)
		var procMsg *string
		if applyErr != nil {
			msg := applyErr.Error()
			procMsg = &msg
		}
		if err := r.events.MarkProcessed(ctx, event.ID, &attempt.ID, procMsg); err != nil {
			r.logger.Error(err, "failed to link webhook event", "event_id", event.ID.String())
			continue
		}
		linked++
		if changed {
			r.publishStatusChange(ctx, attempt)
		}
	}
	return linked, nil
}

func strVal(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
