package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/model"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrStaleAttempt is returned when a guarded update finds the attempt's
	// status moved since it was read. The caller's result is stale and must
	// be dropped, not forced.
	ErrStaleAttempt = errors.New("attempt status changed concurrently")
)

// StatsFilter narrows monitoring queries.
type StatsFilter struct {
	SourceApp *model.SourceApp
	Since     *time.Time
	Until     *time.Time
}

type AttemptRepository interface {
	Create(ctx context.Context, attempt *model.MessageAttempt) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.MessageAttempt, error)
	GetByProviderMessageID(ctx context.Context, providerMessageID string) (*model.MessageAttempt, error)

	// ListDue selects retryable attempts ordered by (priority, next_retry_at),
	// bounded by limit. Selection does not claim; ClaimForSending does.
	ListDue(ctx context.Context, sourceApp *model.SourceApp, now time.Time, limit int) ([]*model.MessageAttempt, error)

	// ClaimForSending atomically moves a retryable attempt to sending and
	// increments attempt_count. Returns ErrStaleAttempt if the row is no
	// longer claimable.
	ClaimForSending(ctx context.Context, id uuid.UUID, now time.Time) (*model.MessageAttempt, error)

	// Update writes the attempt back, guarded on the status the row had when
	// the caller read it. Returns ErrStaleAttempt on a lost race.
	Update(ctx context.Context, attempt *model.MessageAttempt, expectedStatus model.AttemptStatus) error

	CountByStatus(ctx context.Context, filter StatsFilter) (map[model.AttemptStatus]int64, error)
	CountByKind(ctx context.Context, filter StatsFilter) (map[model.MessageKind]int64, error)

	// DeleteTerminalBefore removes terminal rows older than the cutoff.
	DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error)
}

type WebhookEventRepository interface {
	Create(ctx context.Context, event *model.WebhookEvent) error
	MarkProcessed(ctx context.Context, id uuid.UUID, attemptID *uuid.UUID, processingError *string) error

	// ListUnlinked returns processed events with no attempt link, oldest
	// first, for the out-of-band re-matching pass.
	ListUnlinked(ctx context.Context, limit int) ([]*model.WebhookEvent, error)
}
