// Package domain contains subscription lifecycle models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Status is the lifecycle state of a subscription record. PENDING rows wait
// for a captured charge. CANCELED is terminal per record; a new plan means a
// new row.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusActive   Status = "ACTIVE"
	StatusCanceled Status = "CANCELED"
)

// Subscription binds a user to a plan for a rolling billing period. The
// period invariant holds at all times: CurrentPeriodEnd is CurrentPeriodStart
// plus the plan interval times its count.
type Subscription struct {
	ID                 snowflake.ID      `json:"id" gorm:"primaryKey"`
	UserID             snowflake.ID      `json:"user_id" gorm:"not null;index"`
	PlanID             snowflake.ID      `json:"plan_id" gorm:"not null;index"`
	Status             Status            `json:"status" gorm:"type:text;not null"`
	CurrentPeriodStart time.Time         `json:"current_period_start" gorm:"not null"`
	CurrentPeriodEnd   time.Time         `json:"current_period_end" gorm:"not null"`
	CanceledAt         *time.Time        `json:"canceled_at,omitempty"`
	ExternalID         *string           `json:"external_id,omitempty" gorm:"type:text;uniqueIndex"`
	Metadata           datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb"`
	CreatedAt          time.Time         `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time         `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }
