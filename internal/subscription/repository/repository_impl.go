package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/invoza/invoza/internal/subscription/domain"
	pkgdb "github.com/invoza/invoza/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

const subscriptionColumns = `id, user_id, plan_id, status, current_period_start, current_period_end,
	canceled_at, external_id, metadata, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (
			id, user_id, plan_id, status, current_period_start, current_period_end,
			canceled_at, external_id, metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		subscription.ID,
		subscription.UserID,
		subscription.PlanID,
		subscription.Status,
		subscription.CurrentPeriodStart,
		subscription.CurrentPeriodEnd,
		subscription.CanceledAt,
		subscription.ExternalID,
		subscription.Metadata,
		subscription.CreatedAt,
		subscription.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, db, `id = ?`, id)
}

func (r *repo) FindByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, db, `external_id = ?`, externalID)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, where string, arg any) (*subscriptiondomain.Subscription, error) {
	var item subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE `+where+`
		 LIMIT 1`,
		arg,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindActiveByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var item subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE user_id = ? AND status = ?
		 ORDER BY created_at DESC
		 LIMIT 1`,
		userID,
		subscriptiondomain.StatusActive,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindPendingByUserAndPlan(ctx context.Context, db *gorm.DB, userID, planID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var item subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE user_id = ? AND plan_id = ? AND status = ?
		 ORDER BY created_at DESC
		 LIMIT 1`,
		userID,
		planID,
		subscriptiondomain.StatusPending,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) Activate(ctx context.Context, db *gorm.DB, id snowflake.ID, periodStart, periodEnd time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?,
		     current_period_start = ?,
		     current_period_end = ?,
		     canceled_at = NULL,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status != ?`,
		subscriptiondomain.StatusActive,
		periodStart,
		periodEnd,
		id,
		subscriptiondomain.StatusCanceled,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ExtendPeriod(ctx context.Context, db *gorm.DB, id snowflake.ID, periodStart, periodEnd time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET current_period_start = ?,
		     current_period_end = ?,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = ?`,
		periodStart,
		periodEnd,
		id,
		subscriptiondomain.StatusActive,
	).Error
}

func (r *repo) Cancel(ctx context.Context, db *gorm.DB, id snowflake.ID, canceledAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?,
		     canceled_at = ?,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = ?`,
		subscriptiondomain.StatusCanceled,
		canceledAt,
		id,
		subscriptiondomain.StatusActive,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) SetExternalID(ctx context.Context, db *gorm.DB, id snowflake.ID, externalID string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET external_id = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND external_id IS NULL`,
		externalID,
		id,
	).Error
}

func (r *repo) MergeMetadata(ctx context.Context, db *gorm.DB, id snowflake.ID, extra map[string]any) error {
	if len(extra) == 0 {
		return nil
	}
	payload, err := json.Marshal(extra)
	if err != nil {
		return err
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET metadata = `+pkgdb.JSONMergeExpr(db, "metadata")+`,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		string(payload),
		id,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return subscriptiondomain.ErrSubscriptionNotFound
	}
	return nil
}
