// Package domain contains webhook delivery records and the reconciler contract.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EventRecord is one gateway delivery. The unique event id turns replays
// into no-op inserts.
type EventRecord struct {
	ID          snowflake.ID   `json:"id" gorm:"primaryKey"`
	EventID     string         `json:"event_id" gorm:"type:text;not null;uniqueIndex"`
	EventType   string         `json:"event_type" gorm:"type:text;not null"`
	Payload     datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	ReceivedAt  time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt *time.Time     `json:"processed_at"`
}

// TableName sets the database table name.
func (EventRecord) TableName() string { return "webhook_events" }

type Repository interface {
	// InsertEvent stores the delivery, returning false when the event id was
	// seen before.
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, eventID string) (*EventRecord, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
}

type Service interface {
	// HandleEvent verifies the signature, then reconciles the event. Handler
	// failures after a valid signature are logged and swallowed so the
	// gateway sees a 2xx and stops retrying.
	HandleEvent(ctx context.Context, body []byte, signature, eventID string) error
}

var (
	ErrInvalidSignature = errors.New("invalid_webhook_signature")
	ErrMissingSecret    = errors.New("missing_webhook_secret")
)
