package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BillingWindow is the per-user mirror of an open subscription period.
type BillingWindow struct {
	Status          AccountStatus
	PlanID          snowflake.ID
	NextBillingDate time.Time
	PeriodEnd       time.Time
}

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*User, error)
	FindByAPIToken(ctx context.Context, db *gorm.DB, token string) (*User, error)

	// CreditWallet applies a single atomic increment to wallet_balance.
	CreditWallet(ctx context.Context, db *gorm.DB, id snowflake.ID, amount decimal.Decimal) error

	// ApplyBillingWindow stamps a fresh subscription window onto the user and
	// resets invoice usage for the new period.
	ApplyBillingWindow(ctx context.Context, db *gorm.DB, id snowflake.ID, window BillingWindow) error

	// AdvanceBillingPeriod moves next_billing_date and subscription_end_date
	// forward after a renewal charge and resets invoice usage.
	AdvanceBillingPeriod(ctx context.Context, db *gorm.DB, id snowflake.ID, nextBillingDate, periodEnd time.Time) error

	// DemoteToFreePlan clears the paid window and points the user at planID.
	DemoteToFreePlan(ctx context.Context, db *gorm.DB, id snowflake.ID, planID *snowflake.ID) error
}
