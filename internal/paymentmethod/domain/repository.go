package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// FindActiveForUser resolves an active method only when userID owns it.
	FindActiveForUser(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (*PaymentMethod, error)
	ListForUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]PaymentMethod, error)
	MarkUsed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
}
