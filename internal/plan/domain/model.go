// Package domain contains the plan catalog models.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// PlanInterval is the billing cadence of a plan.
type PlanInterval string

const (
	IntervalMonth PlanInterval = "month"
	IntervalYear  PlanInterval = "year"
)

// Plan is a catalog entry users subscribe to. Rows are reference data;
// the service never mutates them.
type Plan struct {
	ID            snowflake.ID    `json:"id" gorm:"primaryKey"`
	Code          string          `json:"code" gorm:"type:text;not null;uniqueIndex"`
	Name          string          `json:"name" gorm:"type:text;not null"`
	Price         decimal.Decimal `json:"price" gorm:"type:numeric;not null"`
	Currency      string          `json:"currency" gorm:"type:text;not null"`
	Interval      PlanInterval    `json:"interval" gorm:"column:billing_interval;type:text;not null"`
	IntervalCount int             `json:"interval_count" gorm:"not null;default:1"`
	Active        bool            `json:"active" gorm:"not null;default:true"`
	CreatedAt     time.Time       `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time       `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Plan) TableName() string { return "plans" }

// IsFree reports whether the plan costs nothing.
func (p Plan) IsFree() bool { return p.Price.IsZero() }

// PeriodEnd returns the end of a billing window opening at start.
func (p Plan) PeriodEnd(start time.Time) time.Time {
	count := p.IntervalCount
	if count <= 0 {
		count = 1
	}
	switch p.Interval {
	case IntervalYear:
		return start.AddDate(count, 0, 0)
	default:
		return start.AddDate(0, count, 0)
	}
}

var (
	ErrPlanNotFound = errors.New("plan_not_found")
	ErrPlanInactive = errors.New("plan_inactive")
)
