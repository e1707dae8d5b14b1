// Package domain contains the append-only billing history models.
package domain

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// BillingReason records why the charge happened.
type BillingReason string

const (
	ReasonSubscriptionPayment BillingReason = "subscription_payment"
	ReasonSubscriptionRenewal BillingReason = "subscription_renewal"
)

// Entry is one paid invoice line. The table is append-only; the unique
// gateway payment id makes webhook replays collapse into a single row.
type Entry struct {
	ID               snowflake.ID    `json:"id" gorm:"primaryKey"`
	UserID           snowflake.ID    `json:"user_id" gorm:"not null;index"`
	SubscriptionID   snowflake.ID    `json:"subscription_id" gorm:"not null;index"`
	TransactionID    *snowflake.ID   `json:"transaction_id,omitempty"`
	GatewayPaymentID *string         `json:"gateway_payment_id,omitempty" gorm:"type:text;uniqueIndex"`
	Amount           decimal.Decimal `json:"amount" gorm:"type:numeric;not null"`
	Currency         string          `json:"currency" gorm:"type:text;not null"`
	Status           string          `json:"status" gorm:"type:text;not null"`
	PlanName         string          `json:"plan_name" gorm:"type:text;not null"`
	BillingReason    BillingReason   `json:"billing_reason" gorm:"type:text;not null"`
	PeriodStart      time.Time       `json:"period_start" gorm:"not null"`
	PeriodEnd        time.Time       `json:"period_end" gorm:"not null"`
	PaidAt           time.Time       `json:"paid_at" gorm:"not null"`
	InvoiceNumber    string          `json:"invoice_number" gorm:"type:text;not null;uniqueIndex"`
	PaymentMethod    string          `json:"payment_method" gorm:"type:text"`
	CreatedAt        time.Time       `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Entry) TableName() string { return "billing_history" }

// StatusPaid is the only status written today; refunds would add more.
const StatusPaid = "PAID"

// NewInvoiceNumber mints a unique, sortable invoice number.
func NewInvoiceNumber(paidAt time.Time) string {
	return fmt.Sprintf("INV-%s-%s", paidAt.UTC().Format("20060102"), ulid.Make().String()[:10])
}
