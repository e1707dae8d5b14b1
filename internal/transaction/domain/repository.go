package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// TerminalUpdate carries the fields stamped alongside a terminal transition.
type TerminalUpdate struct {
	ProcessedAt      time.Time
	FailureReason    *string
	GatewayOrderID   *string
	GatewayPaymentID *string
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, tx *Transaction) error

	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Transaction, error)
	FindByReference(ctx context.Context, db *gorm.DB, reference string) (*Transaction, error)
	FindByGatewayOrderID(ctx context.Context, db *gorm.DB, gatewayOrderID string) (*Transaction, error)
	ListForUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, limit int) ([]Transaction, error)

	// MarkSucceeded and MarkFailed flip PROCESSING rows to a terminal status.
	// They return false without error when the row was already terminal.
	MarkSucceeded(ctx context.Context, db *gorm.DB, id snowflake.ID, update TerminalUpdate) (bool, error)
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, update TerminalUpdate) (bool, error)

	// MergeMetadata folds extra keys into the metadata bag without touching
	// status. Used for late gateway confirmations on resolved rows.
	MergeMetadata(ctx context.Context, db *gorm.DB, id snowflake.ID, extra map[string]any) error

	// FailStaleProcessing force-fails PROCESSING rows created before cutoff
	// and returns how many rows it claimed.
	FailStaleProcessing(ctx context.Context, db *gorm.DB, cutoff time.Time, reason string, now time.Time) (int64, error)
}
