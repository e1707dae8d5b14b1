// Package domain defines the billing orchestration contract.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"

	billinghistorydomain "github.com/invoza/invoza/internal/billinghistory/domain"
	transactiondomain "github.com/invoza/invoza/internal/transaction/domain"
)

// ProcessPaymentRequest is the API-facing charge request. IDs arrive as
// strings and are parsed before any write happens.
type ProcessPaymentRequest struct {
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	PaymentMethodID string          `json:"payment_method_id"`
	Type            string          `json:"type"`
	Description     string          `json:"description"`
	SubscriptionID  string          `json:"subscription_id,omitempty"`
}

type Service interface {
	// ProcessPayment runs a charge to a terminal transaction. A gateway
	// decline is a FAILED transaction with a nil error; errors mean nothing
	// user-visible happened or the attempt could not be resolved.
	ProcessPayment(ctx context.Context, userID snowflake.ID, req ProcessPaymentRequest) (*transactiondomain.Transaction, error)

	// GetTransaction looks up one of the user's transactions by snowflake id
	// or by reference.
	GetTransaction(ctx context.Context, userID snowflake.ID, idOrReference string) (*transactiondomain.Transaction, error)

	GetBillingHistory(ctx context.Context, userID snowflake.ID) ([]billinghistorydomain.Entry, error)
	GetWalletBalance(ctx context.Context, userID snowflake.ID) (decimal.Decimal, error)
}

var (
	ErrMissingSubscription  = errors.New("missing_subscription")
	ErrInvalidPaymentMethod = errors.New("invalid_payment_method")
)
