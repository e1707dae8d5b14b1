package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/invoza/invoza/internal/paymentmethod/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindActiveForUser(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (*domain.PaymentMethod, error) {
	var item domain.PaymentMethod
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, type, label, active, last_used_at, created_at, updated_at
		 FROM payment_methods
		 WHERE id = ? AND user_id = ? AND active
		 LIMIT 1`,
		id,
		userID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListForUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]domain.PaymentMethod, error) {
	var items []domain.PaymentMethod
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, type, label, active, last_used_at, created_at, updated_at
		 FROM payment_methods
		 WHERE user_id = ?
		 ORDER BY created_at DESC`,
		userID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) MarkUsed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_methods
		 SET last_used_at = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		at,
		id,
	).Error
}
