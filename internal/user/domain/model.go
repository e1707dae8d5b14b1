// Package domain contains the billing projection of a user account.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// AccountStatus mirrors the user's subscription standing onto the account row
// so read paths never need a join.
type AccountStatus string

const (
	AccountStatusTrial    AccountStatus = "TRIAL"
	AccountStatusActive   AccountStatus = "ACTIVE"
	AccountStatusCanceled AccountStatus = "CANCELED"
	AccountStatusFree     AccountStatus = "FREE"
)

// User is the billing-facing projection of an account. Identity lives in an
// external provider; APIToken is the opaque handle it hands us.
type User struct {
	ID                  snowflake.ID    `json:"id" gorm:"primaryKey"`
	Email               string          `json:"email" gorm:"type:text;not null"`
	APIToken            string          `json:"-" gorm:"type:text;not null;uniqueIndex"`
	WalletBalance       decimal.Decimal `json:"wallet_balance" gorm:"type:numeric;not null;default:0"`
	SubscriptionStatus  AccountStatus   `json:"subscription_status" gorm:"type:text;not null;default:FREE"`
	PlanID              *snowflake.ID   `json:"plan_id" gorm:"index"`
	NextBillingDate     *time.Time      `json:"next_billing_date"`
	SubscriptionEndDate *time.Time      `json:"subscription_end_date"`
	InvoiceUsage        int             `json:"invoice_usage" gorm:"not null;default:0"`
	CreatedAt           time.Time       `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt           time.Time       `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }

var (
	ErrUserNotFound = errors.New("user_not_found")
	ErrInvalidToken = errors.New("invalid_token")
)
