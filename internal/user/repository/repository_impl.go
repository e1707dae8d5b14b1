package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/invoza/invoza/internal/user/domain"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const userColumns = `id, email, api_token, wallet_balance, subscription_status, plan_id,
	next_billing_date, subscription_end_date, invoice_usage, created_at, updated_at`

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.User, error) {
	var item domain.User
	err := db.WithContext(ctx).Raw(
		`SELECT `+userColumns+`
		 FROM users
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

func (r *repo) FindByAPIToken(ctx context.Context, db *gorm.DB, token string) (*domain.User, error) {
	var item domain.User
	err := db.WithContext(ctx).Raw(
		`SELECT `+userColumns+`
		 FROM users
		 WHERE api_token = ?
		 LIMIT 1`,
		token,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) CreditWallet(ctx context.Context, db *gorm.DB, id snowflake.ID, amount decimal.Decimal) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE users
		 SET wallet_balance = wallet_balance + ?,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		amount,
		id,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (r *repo) ApplyBillingWindow(ctx context.Context, db *gorm.DB, id snowflake.ID, window domain.BillingWindow) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE users
		 SET subscription_status = ?,
		     plan_id = ?,
		     next_billing_date = ?,
		     subscription_end_date = ?,
		     invoice_usage = 0,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		window.Status,
		window.PlanID,
		window.NextBillingDate,
		window.PeriodEnd,
		id,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (r *repo) AdvanceBillingPeriod(ctx context.Context, db *gorm.DB, id snowflake.ID, nextBillingDate, periodEnd time.Time) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE users
		 SET next_billing_date = ?,
		     subscription_end_date = ?,
		     invoice_usage = 0,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		nextBillingDate,
		periodEnd,
		id,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (r *repo) DemoteToFreePlan(ctx context.Context, db *gorm.DB, id snowflake.ID, planID *snowflake.ID) error {
	status := domain.AccountStatusCanceled
	if planID != nil {
		status = domain.AccountStatusFree
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE users
		 SET subscription_status = ?,
		     plan_id = ?,
		     next_billing_date = NULL,
		     subscription_end_date = NULL,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		status,
		planID,
		id,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}
