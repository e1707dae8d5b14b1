package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// Insert appends an entry. When the gateway payment id already exists the
	// insert is silently skipped and false is returned.
	Insert(ctx context.Context, db *gorm.DB, entry *Entry) (bool, error)

	ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, limit int) ([]Entry, error)
	FindByGatewayPaymentID(ctx context.Context, db *gorm.DB, gatewayPaymentID string) (*Entry, error)
}
