// Package domain contains the payment transaction ledger models.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Status is the lifecycle state of a ledger row. PROCESSING is the only
// non-terminal state; SUCCESS and FAILED never change again.
type Status string

const (
	StatusProcessing Status = "PROCESSING"
	StatusSuccess    Status = "SUCCESS"
	StatusFailed     Status = "FAILED"
)

// Type is what the money was for.
type Type string

const (
	TypeSubscriptionPayment Type = "SUBSCRIPTION_PAYMENT"
	TypeWalletTopup         Type = "WALLET_TOPUP"
)

// Transaction is one money movement attempt. Rows are inserted PROCESSING
// and flipped exactly once to a terminal status by a conditional update.
type Transaction struct {
	ID               snowflake.ID      `json:"id" gorm:"primaryKey"`
	UserID           snowflake.ID      `json:"user_id" gorm:"not null;index"`
	Reference        string            `json:"reference" gorm:"type:text;not null;uniqueIndex"`
	Type             Type              `json:"type" gorm:"type:text;not null"`
	Status           Status            `json:"status" gorm:"type:text;not null"`
	Amount           decimal.Decimal   `json:"amount" gorm:"type:numeric;not null"`
	Currency         string            `json:"currency" gorm:"type:text;not null"`
	PaymentMethod    string            `json:"payment_method" gorm:"type:text"`
	Description      string            `json:"description" gorm:"type:text"`
	FailureReason    *string           `json:"failure_reason,omitempty"`
	GatewayOrderID   *string           `json:"gateway_order_id,omitempty" gorm:"type:text;index"`
	GatewayPaymentID *string           `json:"gateway_payment_id,omitempty" gorm:"type:text;index"`
	SubscriptionID   *snowflake.ID     `json:"subscription_id,omitempty" gorm:"index"`
	ProcessedAt      *time.Time        `json:"processed_at,omitempty"`
	Metadata         datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb"`
	CreatedAt        time.Time         `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time         `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Transaction) TableName() string { return "transactions" }

// IsTerminal reports whether the row can no longer change status.
func (t *Transaction) IsTerminal() bool {
	return t.Status == StatusSuccess || t.Status == StatusFailed
}

// NewReference mints a caller-facing transaction reference.
func NewReference() string {
	return "TXN-" + ulid.Make().String()
}

var (
	ErrTransactionNotFound = errors.New("transaction_not_found")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidType         = errors.New("invalid_transaction_type")
	ErrAlreadyTerminal     = errors.New("transaction_already_terminal")
)
