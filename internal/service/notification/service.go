// Package notification is the upstream-facing entry point: business modules
// hand it a message request and it owns the attempt from there.
package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/model"
	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/internal/repository"
	apperrors "github.com/Le-dev-du-coin/ts-air-cargo-sub000/pkg/errors"
	"github.com/Le-dev-du-coin/ts-air-cargo-sub000/pkg/logger"
)

// Defaults applied when the caller leaves retry tuning unset.
type Defaults struct {
	MaxAttempts      int
	BaseDelaySeconds int
}

// CreateRequest is the contract consumed from the business domain. Body
// content is opaque to this core.
type CreateRequest struct {
	UserID         *uuid.UUID
	Phone          string
	SourceApp      model.SourceApp
	Kind           model.MessageKind
	Category       string
	Title          string
	Body           string
	Priority       int
	MaxAttempts    int
	SenderRole     *string
	RegionOverride *string
	ContextData    model.JSONMap
}

// AttemptStore is the slice of the attempt repository this service needs.
type AttemptStore interface {
	Create(ctx context.Context, attempt *model.MessageAttempt) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.MessageAttempt, error)
	Update(ctx context.Context, attempt *model.MessageAttempt, expectedStatus model.AttemptStatus) error
}

// Sender performs one immediate claim-and-send cycle.
type Sender interface {
	ProcessAttempt(ctx context.Context, id uuid.UUID) error
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*model.MessageAttempt, error)
	Get(ctx context.Context, id uuid.UUID) (*model.MessageAttempt, error)
	Cancel(ctx context.Context, id uuid.UUID) (*model.MessageAttempt, error)
}

type service struct {
	attempts  AttemptStore
	scheduler Sender
	defaults  Defaults
	logger    *logger.Logger
}

func NewService(attempts AttemptStore, sched Sender, defaults Defaults, logger *logger.Logger) Service {
	if defaults.MaxAttempts <= 0 {
		defaults.MaxAttempts = 3
	}
	if defaults.BaseDelaySeconds <= 0 {
		defaults.BaseDelaySeconds = 300
	}
	return &service{
		attempts:  attempts,
		scheduler: sched,
		defaults:  defaults,
		logger:    logger,
	}
}

func (s *service) Create(ctx context.Context, req CreateRequest) (*model.MessageAttempt, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	attempt := &model.MessageAttempt{
		ID:                 uuid.New(),
		UserID:             req.UserID,
		Phone:              req.Phone,
		SourceApp:          req.SourceApp,
		Kind:               req.Kind,
		Category:           req.Category,
		Priority:           req.Priority,
		Title:              req.Title,
		Body:               req.Body,
		Status:             model.AttemptStatusPending,
		MaxAttempts:        req.MaxAttempts,
		RetryDelayBase:     s.defaults.BaseDelaySeconds,
		ExponentialBackoff: true,
		SenderRole:         req.SenderRole,
		RegionOverride:     req.RegionOverride,
		ContextData:        req.ContextData,
	}
	if attempt.Priority == 0 {
		attempt.Priority = model.PriorityLowest
	}
	if attempt.MaxAttempts == 0 {
		attempt.MaxAttempts = s.defaults.MaxAttempts
	}

	if err := s.attempts.Create(ctx, attempt); err != nil {
		return nil, fmt.Errorf("failed to create attempt: %w", err)
	}

	// OTP and highest-priority messages go out synchronously; everything
	// else waits for the retry worker. A failed immediate send is already
	// recorded on the attempt, so it is not an error here.
	if attempt.Kind == model.MessageKindOTP || attempt.Priority == model.PriorityHighest {
		if err := s.scheduler.ProcessAttempt(ctx, attempt.ID); err != nil {
			s.logger.Warn("immediate send failed, attempt left for retry",
				"attempt_id", attempt.ID.String(), "error", err.Error())
		}
		return s.attempts.GetByID(ctx, attempt.ID)
	}

	return attempt, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*model.MessageAttempt, error) {
	return s.attempts.GetByID(ctx, id)
}

// Cancel short-circuits a non-terminal attempt. The guarded update means a
// concurrent send result cannot resurrect the row afterwards.
func (s *service) Cancel(ctx context.Context, id uuid.UUID) (*model.MessageAttempt, error) {
	attempt, err := s.attempts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	previous := attempt.Status
	if err := attempt.Cancel(time.Now()); err != nil {
		return nil, err
	}
	if err := s.attempts.Update(ctx, attempt, previous); err != nil {
		if errors.Is(err, repository.ErrStaleAttempt) {
			// One retry on a lost race; the row may have just finished a
			// send cycle and still be cancellable.
			return s.Cancel(ctx, id)
		}
		return nil, err
	}
	return attempt, nil
}

func validate(req CreateRequest) error {
	if req.Phone == "" {
		return apperrors.NewBadRequest("phone is required", nil)
	}
	if req.SourceApp == "" {
		return apperrors.NewBadRequest("source_app is required", nil)
	}
	if req.Kind == "" {
		return apperrors.NewBadRequest("kind is required", nil)
	}
	if req.Body == "" {
		return apperrors.NewBadRequest("body is required", nil)
	}
	if req.Priority < 0 || req.Priority > model.PriorityLowest {
		return apperrors.NewBadRequest(
			fmt.Sprintf("priority must be between %d and %d", model.PriorityHighest, model.PriorityLowest), nil)
	}
	return nil
}
