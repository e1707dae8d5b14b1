package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Plan, error)
	FindByCode(ctx context.Context, db *gorm.DB, code string) (*Plan, error)
	FindFreePlan(ctx context.Context, db *gorm.DB) (*Plan, error)
	ListActive(ctx context.Context, db *gorm.DB) ([]Plan, error)
}
