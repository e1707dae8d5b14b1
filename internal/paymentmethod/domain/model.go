// Package domain contains stored payment instruments.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// MethodType is the instrument family presented to the gateway.
type MethodType string

const (
	MethodCard       MethodType = "card"
	MethodUPI        MethodType = "upi"
	MethodNetbanking MethodType = "netbanking"
	MethodWallet     MethodType = "wallet"
)

// PaymentMethod is a stored instrument owned by one user. The gateway token
// itself stays with the provider; we keep only a label and type.
type PaymentMethod struct {
	ID         snowflake.ID `json:"id" gorm:"primaryKey"`
	UserID     snowflake.ID `json:"user_id" gorm:"not null;index"`
	Type       MethodType   `json:"type" gorm:"type:text;not null"`
	Label      string       `json:"label" gorm:"type:text;not null"`
	Active     bool         `json:"active" gorm:"not null;default:true"`
	LastUsedAt *time.Time   `json:"last_used_at"`
	CreatedAt  time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time    `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PaymentMethod) TableName() string { return "payment_methods" }

var ErrPaymentMethodNotFound = errors.New("payment_method_not_found")
