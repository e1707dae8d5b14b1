package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/invoza/invoza/internal/plan/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Plan, error) {
	var item domain.Plan
	err := db.WithContext(ctx).Raw(
		`SELECT id, code, name, price, currency, billing_interval, interval_count, active, created_at, updated_at
		 FROM plans
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByCode(ctx context.Context, db *gorm.DB, code string) (*domain.Plan, error) {
	var item domain.Plan
	err := db.WithContext(ctx).Raw(
		`SELECT id, code, name, price, currency, billing_interval, interval_count, active, created_at, updated_at
		 FROM plans
		 WHERE code = ?
		 LIMIT 1`,
		code,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindFreePlan(ctx context.Context, db *gorm.DB) (*domain.Plan, error) {
	var item domain.Plan
	err := db.WithContext(ctx).Raw(
		`SELECT id, code, name, price, currency, billing_interval, interval_count, active, created_at, updated_at
		 FROM plans
		 WHERE price = 0 AND active
		 ORDER BY id
		 LIMIT 1`,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListActive(ctx context.Context, db *gorm.DB) ([]domain.Plan, error) {
	var items []domain.Plan
	err := db.WithContext(ctx).Raw(
		`SELECT id, code, name, price, currency, billing_interval, interval_count, active, created_at, updated_at
		 FROM plans
		 WHERE active
		 ORDER BY price, id`,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
