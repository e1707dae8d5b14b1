package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	FindByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*Subscription, error)
	FindActiveByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*Subscription, error)
	FindPendingByUserAndPlan(ctx context.Context, db *gorm.DB, userID, planID snowflake.ID) (*Subscription, error)

	// Activate flips the row to ACTIVE and opens a fresh period window.
	// Canceled rows are left untouched; the returned bool reports whether
	// the row is ACTIVE afterwards.
	Activate(ctx context.Context, db *gorm.DB, id snowflake.ID, periodStart, periodEnd time.Time) (bool, error)

	// ExtendPeriod advances both period bounds after a renewal charge.
	ExtendPeriod(ctx context.Context, db *gorm.DB, id snowflake.ID, periodStart, periodEnd time.Time) error

	// Cancel conditionally moves ACTIVE to CANCELED. Returns false without
	// error when the row was already canceled, so races converge.
	Cancel(ctx context.Context, db *gorm.DB, id snowflake.ID, canceledAt time.Time) (bool, error)

	SetExternalID(ctx context.Context, db *gorm.DB, id snowflake.ID, externalID string) error
	MergeMetadata(ctx context.Context, db *gorm.DB, id snowflake.ID, extra map[string]any) error
}
