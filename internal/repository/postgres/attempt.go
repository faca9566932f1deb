package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/model"
	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/repository"
)

const attemptColumns = `
	id, user_id, phone, source_app, kind, category, priority,
	title, body,
	status, attempt_count, max_attempts, retry_delay_base, exponential_backoff,
	next_retry_at, sender_role, region_override,
	provider_message_id, provider_response, error_message, error_code,
	context_data,
	created_at, updated_at, first_attempt_at, last_attempt_at, sent_at, delivered_at, read_at`

var terminalStatuses = []string{
	string(model.AttemptStatusSent),
	string(model.AttemptStatusDelivered),
	string(model.AttemptStatusRead),
	string(model.AttemptStatusFailedFinal),
	string(model.AttemptStatusCancelled),
}

type attemptRepository struct {
	BaseRepository
}

func NewAttemptRepository(base BaseRepository) repository.AttemptRepository {
	return &attemptRepository{base}
}

func (r *attemptRepository) Create(ctx context.Context, attempt *model.MessageAttempt) error {
	if attempt == nil {
		return fmt.Errorf("attempt cannot be nil")
	}

	if attempt.ID == uuid.Nil {
		attempt.ID = uuid.New()
	}
	now := time.Now()
	attempt.CreatedAt = now
	attempt.UpdatedAt = now
	if attempt.Status == "" {
		attempt.Status = model.AttemptStatusPending
	}

	query := `
		INSERT INTO message_attempts (` + attemptColumns + `)
		VALUES (
			:id, :user_id, :phone, :source_app, :kind, :category, :priority,
			:title, :body,
			:status, :attempt_count, :max_attempts, :retry_delay_base, :exponential_backoff,
			:next_retry_at, :sender_role, :region_override,
			:provider_message_id, :provider_response, :error_message, :error_code,
			:context_data,
			:created_at, :updated_at, :first_attempt_at, :last_attempt_at, :sent_at, :delivered_at, :read_at
		)
	`
	if _, err := r.db.NamedExecContext(ctx, query, attempt); err != nil {
		return fmt.Errorf("failed to create attempt: %w", err)
	}
	return nil
}

func (r *attemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.MessageAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM message_attempts WHERE id = $1`

	var attempt model.MessageAttempt
	if err := r.db.GetContext(ctx, &attempt, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}
	return &attempt, nil
}

func (r *attemptRepository) GetByProviderMessageID(ctx context.Context, providerMessageID string) (*model.MessageAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM message_attempts WHERE provider_message_id = $1`

	var attempt model.MessageAttempt
	if err := r.db.GetContext(ctx, &attempt, query, providerMessageID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get attempt by provider message id: %w", err)
	}
	return &attempt, nil
}

func (r *attemptRepository) ListDue(ctx context.Context, sourceApp *model.SourceApp, now time.Time, limit int) ([]*model.MessageAttempt, error) {
	query := `
		SELECT ` + attemptColumns + `
		FROM message_attempts
		WHERE status = $1
		AND next_retry_at <= $2
		AND attempt_count < max_attempts
	`
	args := []interface{}{model.AttemptStatusFailedRetry, now}

	if sourceApp != nil {
		args = append(args, *sourceApp)
		query += fmt.Sprintf(" AND source_app = $%d", len(args))
	}

	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY priority ASC, next_retry_at ASC LIMIT $%d", len(args))

	var attempts []*model.MessageAttempt
	if err := r.db.SelectContext(ctx, &attempts, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list due attempts: %w", err)
	}
	return attempts, nil
}

// ClaimForSending is the single concurrency-control point: the conditional
// UPDATE only succeeds while the row is still retryable, so two concurrent
// scheduler runs can never both send the same attempt.
func (r *attemptRepository) ClaimForSending(ctx context.Context, id uuid.UUID, now time.Time) (*model.MessageAttempt, error) {
	query := `
		UPDATE message_attempts
		SET status = $2,
			attempt_count = attempt_count + 1,
			first_attempt_at = COALESCE(first_attempt_at, $3),
			last_attempt_at = $3,
			updated_at = $3
		WHERE id = $1
		AND status IN ($4, $5, $6)
		AND attempt_count < max_attempts
		AND (next_retry_at IS NULL OR next_retry_at <= $3)
		RETURNING ` + attemptColumns

	var attempt model.MessageAttempt
	err := r.db.QueryRowxContext(ctx, query,
		id,
		model.AttemptStatusSending,
		now,
		model.AttemptStatusPending,
		model.AttemptStatusFailed,
		model.AttemptStatusFailedRetry,
	).StructScan(&attempt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrStaleAttempt
		}
		return nil, fmt.Errorf("failed to claim attempt: %w", err)
	}
	return &attempt, nil
}

func (r *attemptRepository) Update(ctx context.Context, attempt *model.MessageAttempt, expectedStatus model.AttemptStatus) error {
	query := `
		UPDATE message_attempts
		SET status = :status,
			attempt_count = :attempt_count,
			next_retry_at = :next_retry_at,
			provider_message_id = :provider_message_id,
			provider_response = :provider_response,
			error_message = :error_message,
			error_code = :error_code,
			updated_at = :updated_at,
			first_attempt_at = :first_attempt_at,
			last_attempt_at = :last_attempt_at,
			sent_at = :sent_at,
			delivered_at = :delivered_at,
			read_at = :read_at
		WHERE id = :id AND status = :expected_status
	`
	arg := struct {
		*model.MessageAttempt
		ExpectedStatus model.AttemptStatus `db:"expected_status"`
	}{attempt, expectedStatus}

	result, err := r.db.NamedExecContext(ctx, query, arg)
	if err != nil {
		return fmt.Errorf("failed to update attempt: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if rows == 0 {
		return repository.ErrStaleAttempt
	}
	return nil
}

func (r *attemptRepository) CountByStatus(ctx context.Context, filter repository.StatsFilter) (map[model.AttemptStatus]int64, error) {
	query := `SELECT status, COUNT(*) AS total FROM message_attempts WHERE 1=1`
	query, args := applyStatsFilter(query, nil, filter)
	query += " GROUP BY status"

	rows := []struct {
		Status model.AttemptStatus `db:"status"`
		Total  int64               `db:"total"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to count by status: %w", err)
	}

	counts := make(map[model.AttemptStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}

func (r *attemptRepository) CountByKind(ctx context.Context, filter repository.StatsFilter) (map[model.MessageKind]int64, error) {
	query := `SELECT kind, COUNT(*) AS total FROM message_attempts WHERE 1=1`
	query, args := applyStatsFilter(query, nil, filter)
	query += " GROUP BY kind"

	rows := []struct {
		Kind  model.MessageKind `db:"kind"`
		Total int64             `db:"total"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to count by kind: %w", err)
	}

	counts := make(map[model.MessageKind]int64, len(rows))
	for _, row := range rows {
		counts[row.Kind] = row.Total
	}
	return counts, nil
}

// DeleteTerminalBefore is the retention sweep: only rows already terminal are
// ever removed.
func (r *attemptRepository) DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error) {
	query := `
		DELETE FROM message_attempts
		WHERE status = ANY($1)
		AND created_at < $2
	`
	result, err := r.db.ExecContext(ctx, query, pq.Array(terminalStatuses), before)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep terminal attempts: %w", err)
	}
	return result.RowsAffected()
}

func applyStatsFilter(query string, args []interface{}, filter repository.StatsFilter) (string, []interface{}) {
	if filter.SourceApp != nil {
		args = append(args, *filter.SourceApp)
		query += fmt.Sprintf(" AND source_app = $%d", len(args))
	}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if filter.Until != nil {
		args = append(args, *filter.Until)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	return query, args
}
