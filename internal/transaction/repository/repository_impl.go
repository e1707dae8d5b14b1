package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/invoza/invoza/internal/transaction/domain"
	pkgdb "github.com/invoza/invoza/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const txColumns = `id, user_id, reference, type, status, amount, currency, payment_method,
	description, failure_reason, gateway_order_id, gateway_payment_id, subscription_id,
	processed_at, metadata, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, tx *domain.Transaction) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO transactions (
			id, user_id, reference, type, status, amount, currency, payment_method,
			description, failure_reason, gateway_order_id, gateway_payment_id,
			subscription_id, processed_at, metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID,
		tx.UserID,
		tx.Reference,
		tx.Type,
		tx.Status,
		tx.Amount,
		tx.Currency,
		tx.PaymentMethod,
		tx.Description,
		tx.FailureReason,
		tx.GatewayOrderID,
		tx.GatewayPaymentID,
		tx.SubscriptionID,
		tx.ProcessedAt,
		tx.Metadata,
		tx.CreatedAt,
		tx.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Transaction, error) {
	return r.findOne(ctx, db, `id = ?`, id)
}

func (r *repo) FindByReference(ctx context.Context, db *gorm.DB, reference string) (*domain.Transaction, error) {
	return r.findOne(ctx, db, `reference = ?`, reference)
}

func (r *repo) FindByGatewayOrderID(ctx context.Context, db *gorm.DB, gatewayOrderID string) (*domain.Transaction, error) {
	return r.findOne(ctx, db, `gateway_order_id = ?`, gatewayOrderID)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, where string, arg any) (*domain.Transaction, error) {
	var item domain.Transaction
	err := db.WithContext(ctx).Raw(
		`SELECT `+txColumns+`
		 FROM transactions
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

func (r *repo) ListForUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	var items []domain.Transaction
	err := db.WithContext(ctx).Raw(
		`SELECT `+txColumns+`
		 FROM transactions
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		userID,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) MarkSucceeded(ctx context.Context, db *gorm.DB, id snowflake.ID, update domain.TerminalUpdate) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE transactions
		 SET status = ?,
		     processed_at = ?,
		     gateway_order_id = COALESCE(?, gateway_order_id),
		     gateway_payment_id = COALESCE(?, gateway_payment_id),
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = ?`,
		domain.StatusSuccess,
		update.ProcessedAt,
		update.GatewayOrderID,
		update.GatewayPaymentID,
		id,
		domain.StatusProcessing,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, update domain.TerminalUpdate) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE transactions
		 SET status = ?,
		     processed_at = ?,
		     failure_reason = ?,
		     gateway_order_id = COALESCE(?, gateway_order_id),
		     gateway_payment_id = COALESCE(?, gateway_payment_id),
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = ?`,
		domain.StatusFailed,
		update.ProcessedAt,
		update.FailureReason,
		update.GatewayOrderID,
		update.GatewayPaymentID,
		id,
		domain.StatusProcessing,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
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
		`UPDATE transactions
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
		return domain.ErrTransactionNotFound
	}
	return nil
}

func (r *repo) FailStaleProcessing(ctx context.Context, db *gorm.DB, cutoff time.Time, reason string, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE transactions
		 SET status = ?,
		     failure_reason = ?,
		     processed_at = ?,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE status = ? AND created_at < ?`,
		domain.StatusFailed,
		reason,
		now,
		domain.StatusProcessing,
		cutoff,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
