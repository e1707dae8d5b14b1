package service

import (
	"encoding/json"
	"fmt"
)

// Razorpay webhook event names this service reconciles.
const (
	EventPaymentCaptured       = "payment.captured"
	EventPaymentFailed         = "payment.failed"
	EventSubscriptionActivated = "subscription.activated"
	EventSubscriptionCancelled = "subscription.cancelled"
	EventSubscriptionCompleted = "subscription.completed"
	EventSubscriptionCharged   = "subscription.charged"
	EventSubscriptionUpdated   = "subscription.updated"
)

// Notes keys carrying our identifiers back from the gateway.
const (
	noteReference      = "invoza_reference"
	noteSubscriptionID = "invoza_subscription_id"
)

// Envelope is the Razorpay webhook envelope.
type Envelope struct {
	Entity    string   `json:"entity"`
	AccountID string   `json:"account_id"`
	Event     string   `json:"event"`
	Contains  []string `json:"contains"`
	Payload   Payload  `json:"payload"`
	CreatedAt int64    `json:"created_at"`
}

type Payload struct {
	Payment      *PaymentWrapper      `json:"payment,omitempty"`
	Subscription *SubscriptionWrapper `json:"subscription,omitempty"`
}

type PaymentWrapper struct {
	Entity PaymentEntity `json:"entity"`
}

type SubscriptionWrapper struct {
	Entity SubscriptionEntity `json:"entity"`
}

// PaymentEntity is the payment object inside the payload. Amounts arrive in
// the smallest currency unit (paise for INR).
type PaymentEntity struct {
	ID               string        `json:"id"`
	Amount           int64         `json:"amount"`
	Currency         string        `json:"currency"`
	Status           string        `json:"status"`
	OrderID          string        `json:"order_id"`
	Method           string        `json:"method"`
	Description      string        `json:"description"`
	ErrorCode        string        `json:"error_code"`
	ErrorDescription string        `json:"error_description"`
	Notes            FlexibleNotes `json:"notes"`
	CreatedAt        int64         `json:"created_at"`
}

// SubscriptionEntity is the subscription object inside the payload.
type SubscriptionEntity struct {
	ID           string        `json:"id"`
	PlanID       string        `json:"plan_id"`
	Status       string        `json:"status"`
	CurrentStart int64         `json:"current_start"`
	CurrentEnd   int64         `json:"current_end"`
	ChargeAt     int64         `json:"charge_at"`
	PaidCount    int           `json:"paid_count"`
	Notes        FlexibleNotes `json:"notes"`
	CreatedAt    int64         `json:"created_at"`
}

// FlexibleNotes tolerates Razorpay sending an empty array instead of an
// empty object for notes.
type FlexibleNotes map[string]any

func (fn *FlexibleNotes) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err == nil {
		*fn = m
		return nil
	}
	var arr []any
	if err := json.Unmarshal(data, &arr); err == nil {
		*fn = make(map[string]any)
		return nil
	}
	return fmt.Errorf("notes must be either object or array")
}

// Reference returns the transaction reference carried in notes, if any.
func (fn FlexibleNotes) Reference() string {
	if fn == nil {
		return ""
	}
	if v, ok := fn[noteReference].(string); ok {
		return v
	}
	return ""
}

// SubscriptionID returns the local subscription id carried in notes, if any.
func (fn FlexibleNotes) SubscriptionID() string {
	if fn == nil {
		return ""
	}
	if v, ok := fn[noteSubscriptionID].(string); ok {
		return v
	}
	return ""
}
