package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// AttemptStatus is the delivery lifecycle state of a MessageAttempt.
type AttemptStatus string

const (
	AttemptStatusPending     AttemptStatus = "pending"
	AttemptStatusSending     AttemptStatus = "sending"
	AttemptStatusSent        AttemptStatus = "sent"
	AttemptStatusFailed      AttemptStatus = "failed"
	AttemptStatusFailedRetry AttemptStatus = "failed_retry"
	AttemptStatusFailedFinal AttemptStatus = "failed_final"
	AttemptStatusDelivered   AttemptStatus = "delivered"
	AttemptStatusRead        AttemptStatus = "read"
	AttemptStatusCancelled   AttemptStatus = "cancelled"
)

// MessageKind classifies the business purpose of an outbound message.
type MessageKind string

const (
	MessageKindOTP          MessageKind = "otp"
	MessageKindAccount      MessageKind = "account"
	MessageKindSystem       MessageKind = "system"
	MessageKindNotification MessageKind = "notification"
	MessageKindUrgent       MessageKind = "urgent"
	MessageKindReport       MessageKind = "report"
	MessageKindOther        MessageKind = "other"
)

// SourceApp identifies the upstream module that requested a notification.
type SourceApp string

const (
	SourceAppAgentMali  SourceApp = "agent_mali"
	SourceAppAgentChine SourceApp = "agent_chine"
	SourceAppAdmin      SourceApp = "admin"
	SourceAppClient     SourceApp = "client_app"
	SourceAppSeller     SourceApp = "seller"
)

// Sender roles recognized by the instance router.
const (
	RoleAgentMali  = "agent_mali"
	RoleAgentChine = "agent_chine"
	RoleAdminMali  = "admin_mali"
	RoleAdminChine = "admin_chine"
	RoleSystem     = "system"
	RoleClient     = "client"
)

const (
	PriorityHighest = 1
	PriorityLowest  = 5

	// maxBackoffExponent caps exponential growth at base*2^5.
	maxBackoffExponent = 5
)

var (
	ErrInvalidTransition = errors.New("invalid attempt status transition")
	ErrNotRetryable      = errors.New("attempt is not retryable")
)

// MessageAttempt is one trackable outbound notification to a single recipient.
type MessageAttempt struct {
	ID        uuid.UUID   `db:"id" json:"id"`
	UserID    *uuid.UUID  `db:"user_id" json:"user_id,omitempty"`
	Phone     string      `db:"phone" json:"phone"`
	SourceApp SourceApp   `db:"source_app" json:"source_app"`
	Kind      MessageKind `db:"kind" json:"kind"`
	Category  string      `db:"category" json:"category"`
	Priority  int         `db:"priority" json:"priority"`

	Title string `db:"title" json:"title"`
	Body  string `db:"body" json:"body"`

	Status             AttemptStatus `db:"status" json:"status"`
	AttemptCount       int           `db:"attempt_count" json:"attempt_count"`
	MaxAttempts        int           `db:"max_attempts" json:"max_attempts"`
	RetryDelayBase     int           `db:"retry_delay_base" json:"retry_delay_base"`
	ExponentialBackoff bool          `db:"exponential_backoff" json:"exponential_backoff"`
	NextRetryAt        *time.Time    `db:"next_retry_at" json:"next_retry_at,omitempty"`
	SenderRole         *string       `db:"sender_role" json:"sender_role,omitempty"`
	RegionOverride     *string       `db:"region_override" json:"region_override,omitempty"`

	ProviderMessageID *string `db:"provider_message_id" json:"provider_message_id,omitempty"`
	ProviderResponse  *string `db:"provider_response" json:"provider_response,omitempty"`
	ErrorMessage      *string `db:"error_message" json:"error_message,omitempty"`
	ErrorCode         *string `db:"error_code" json:"error_code,omitempty"`

	ContextData JSONMap `db:"context_data" json:"context_data,omitempty"`

	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
	FirstAttemptAt *time.Time `db:"first_attempt_at" json:"first_attempt_at,omitempty"`
	LastAttemptAt  *time.Time `db:"last_attempt_at" json:"last_attempt_at,omitempty"`
	SentAt         *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	DeliveredAt    *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
	ReadAt         *time.Time `db:"read_at" json:"read_at,omitempty"`
}

// IsTerminal reports whether no further send may happen for this attempt.
// A plain "sent" is a resting state, not terminal: the provider may still
// confirm delivery or read for it.
func (a *MessageAttempt) IsTerminal() bool {
	switch a.Status {
	case AttemptStatusSent, AttemptStatusDelivered, AttemptStatusRead,
		AttemptStatusFailedFinal, AttemptStatusCancelled:
		return true
	}
	return false
}

// CanRetry reports whether a send may be attempted now.
func (a *MessageAttempt) CanRetry(now time.Time) bool {
	switch a.Status {
	case AttemptStatusPending, AttemptStatusFailed, AttemptStatusFailedRetry:
	default:
		return false
	}
	if a.AttemptCount >= a.MaxAttempts {
		return false
	}
	if a.NextRetryAt != nil && a.NextRetryAt.After(now) {
		return false
	}
	return true
}

// MarkSending claims the attempt for one send cycle. It is the single
// concurrency-control point: callers backed by a store must apply it as a
// conditional update that only succeeds while the row is still retryable.
func (a *MessageAttempt) MarkSending(now time.Time) error {
	if !a.CanRetry(now) {
		return ErrNotRetryable
	}
	a.AttemptCount++
	if a.FirstAttemptAt == nil {
		t := now
		a.FirstAttemptAt = &t
	}
	t := now
	a.LastAttemptAt = &t
	a.Status = AttemptStatusSending
	a.UpdatedAt = now
	return nil
}

// MarkSent records a successful provider hand-off.
func (a *MessageAttempt) MarkSent(providerMessageID, providerResponse string, now time.Time) error {
	if a.IsTerminal() {
		return ErrInvalidTransition
	}
	a.Status = AttemptStatusSent
	a.ProviderMessageID = &providerMessageID
	a.ProviderResponse = &providerResponse
	t := now
	a.SentAt = &t
	a.NextRetryAt = nil
	a.ErrorMessage = nil
	a.ErrorCode = nil
	a.UpdatedAt = now
	return nil
}

// MarkFailed records a failed send. With final set, or once max_attempts is
// exhausted, the attempt goes to failed_final; otherwise it is scheduled for
// retry after the backoff delay.
func (a *MessageAttempt) MarkFailed(errorMessage, errorCode string, final bool, now time.Time) error {
	if a.IsTerminal() {
		return ErrInvalidTransition
	}
	a.ErrorMessage = &errorMessage
	if errorCode != "" {
		a.ErrorCode = &errorCode
	}
	a.UpdatedAt = now

	if final || a.AttemptCount >= a.MaxAttempts {
		a.Status = AttemptStatusFailedFinal
		a.NextRetryAt = nil
		return nil
	}

	// AttemptCount was already incremented by the claim, so the first
	// failure backs off by the base delay.
	retries := a.AttemptCount - 1
	if retries < 0 {
		retries = 0
	}
	next := now.Add(RetryDelay(a.RetryDelayBase, retries, a.ExponentialBackoff))
	a.Status = AttemptStatusFailedRetry
	a.NextRetryAt = &next
	return nil
}

// MarkDelivered advances sent → delivered. Already delivered or read is a
// no-op, never an error.
func (a *MessageAttempt) MarkDelivered(now time.Time) error {
	switch a.Status {
	case AttemptStatusDelivered, AttemptStatusRead:
		return nil
	case AttemptStatusSent:
		a.Status = AttemptStatusDelivered
		t := now
		a.DeliveredAt = &t
		a.UpdatedAt = now
		return nil
	}
	return ErrInvalidTransition
}

// MarkRead advances sent/delivered → read. Already read is a no-op.
func (a *MessageAttempt) MarkRead(now time.Time) error {
	switch a.Status {
	case AttemptStatusRead:
		return nil
	case AttemptStatusSent, AttemptStatusDelivered:
		if a.DeliveredAt == nil {
			t := now
			a.DeliveredAt = &t
		}
		a.Status = AttemptStatusRead
		t := now
		a.ReadAt = &t
		a.UpdatedAt = now
		return nil
	}
	return ErrInvalidTransition
}

// Cancel moves any non-terminal attempt to cancelled. Cancellation wins:
// stale send results and webhooks arriving afterwards must be dropped.
func (a *MessageAttempt) Cancel(now time.Time) error {
	if a.IsTerminal() {
		return ErrInvalidTransition
	}
	a.Status = AttemptStatusCancelled
	a.NextRetryAt = nil
	a.UpdatedAt = now
	return nil
}

// RetryDelay computes the backoff before the next send. With exponential
// backoff the exponent is the number of completed retries, capped so the
// delay never exceeds base*2^5.
func RetryDelay(baseSeconds, retries int, exponential bool) time.Duration {
	base := time.Duration(baseSeconds) * time.Second
	if !exponential {
		return base
	}
	if retries > maxBackoffExponent {
		retries = maxBackoffExponent
	}
	return base * (1 << uint(retries))
}
