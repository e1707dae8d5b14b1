package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// ChangePlanRequest asks to move a user onto the plan identified by code.
type ChangePlanRequest struct {
	PlanCode string `json:"plan_code"`
}

// SubscribeRequest starts checkout for a paid plan.
type SubscribeRequest struct {
	PlanCode string `json:"plan_code"`
}

type Service interface {
	// GetCurrent returns the user's active subscription, ErrSubscriptionNotFound
	// when none exists.
	GetCurrent(ctx context.Context, userID snowflake.ID) (*Subscription, error)

	// Subscribe opens a PENDING subscription on a paid plan. The row becomes
	// ACTIVE once its charge is captured through the payment flow. Calling it
	// again before paying returns the same pending row.
	Subscribe(ctx context.Context, userID snowflake.ID, req SubscribeRequest) (*Subscription, error)

	// ChangePlan moves the user to a new plan. Free and downgrade targets
	// switch immediately without a charge; paid upgrades are rejected here and
	// must go through the payment flow.
	ChangePlan(ctx context.Context, userID snowflake.ID, req ChangePlanRequest) (*Subscription, error)

	// Cancel marks the active subscription CANCELED and demotes the user to
	// the free plan. Racing a gateway cancellation webhook is safe.
	Cancel(ctx context.Context, userID snowflake.ID) error

	// ActivateForPayment opens a subscription window after a captured charge.
	// Runs inside the caller's database transaction.
	ActivateForPayment(ctx context.Context, tx *gorm.DB, userID, subscriptionID snowflake.ID, now time.Time) (*Subscription, error)
}

var (
	ErrSubscriptionNotFound    = errors.New("subscription_not_found")
	ErrSubscriptionInactive    = errors.New("subscription_inactive")
	ErrPaidPlanRequiresPayment = errors.New("paid_plan_requires_payment")
	ErrAlreadyOnPlan           = errors.New("already_on_plan")
	ErrFreePlanNotBillable     = errors.New("free_plan_not_billable")
)
