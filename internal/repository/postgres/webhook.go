package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/model"
	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/repository"
)

const webhookColumns = `
	id, provider_message_id, kind, reported_status, payload,
	processed, processing_error, attempt_id, created_at, updated_at`

type webhookEventRepository struct {
	BaseRepository
}

func NewWebhookEventRepository(base BaseRepository) repository.WebhookEventRepository {
	return &webhookEventRepository{base}
}

func (r *webhookEventRepository) Create(ctx context.Context, event *model.WebhookEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	now := time.Now()
	event.CreatedAt = now
	event.UpdatedAt = now

	query := `
		INSERT INTO webhook_events (` + webhookColumns + `)
		VALUES (
			:id, :provider_message_id, :kind, :reported_status, :payload,
			:processed, :processing_error, :attempt_id, :created_at, :updated_at
		)
	`
	if _, err := r.db.NamedExecContext(ctx, query, event); err != nil {
		return fmt.Errorf("failed to create webhook event: %w", err)
	}
	return nil
}

func (r *webhookEventRepository) MarkProcessed(ctx context.Context, id uuid.UUID, attemptID *uuid.UUID, processingError *string) error {
	query := `
		UPDATE webhook_events
		SET processed = TRUE,
			attempt_id = $2,
			processing_error = $3,
			updated_at = $4
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id, attemptID, processingError, time.Now()); err != nil {
		return fmt.Errorf("failed to mark webhook event processed: %w", err)
	}
	return nil
}

func (r *webhookEventRepository) ListUnlinked(ctx context.Context, limit int) ([]*model.WebhookEvent, error) {
	query := `
		SELECT ` + webhookColumns + `
		FROM webhook_events
		WHERE processed = TRUE
		AND attempt_id IS NULL
		AND processing_error IS NULL
		ORDER BY created_at ASC
		LIMIT $1
	`
	var events []*model.WebhookEvent
	if err := r.db.SelectContext(ctx, &events, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list unlinked webhook events: %w", err)
	}
	return events, nil
}
