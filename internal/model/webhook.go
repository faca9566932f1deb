package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// WebhookKind is the category of a provider callback.
type WebhookKind string

const (
	WebhookKindDelivery WebhookKind = "delivery"
	WebhookKindRead     WebhookKind = "read"
	WebhookKindOther    WebhookKind = "other"
)

// WebhookEvent is the append-only audit record of one provider callback.
// A row is written for every inbound callback, whether or not it matches a
// known attempt; rows are never deleted by normal operation.
type WebhookEvent struct {
	ID                uuid.UUID       `db:"id" json:"id"`
	ProviderMessageID string          `db:"provider_message_id" json:"provider_message_id"`
	Kind              WebhookKind     `db:"kind" json:"kind"`
	ReportedStatus    string          `db:"reported_status" json:"reported_status"`
	Payload           json.RawMessage `db:"payload" json:"payload"`
	Processed         bool            `db:"processed" json:"processed"`
	ProcessingError   *string         `db:"processing_error" json:"processing_error,omitempty"`
	AttemptID         *uuid.UUID      `db:"attempt_id" json:"attempt_id,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}
