package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/invoza/invoza/internal/billinghistory/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const entryColumns = `id, user_id, subscription_id, transaction_id, gateway_payment_id, amount,
	currency, status, plan_name, billing_reason, period_start, period_end, paid_at,
	invoice_number, payment_method, created_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.Entry) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO billing_history (
			id, user_id, subscription_id, transaction_id, gateway_payment_id, amount,
			currency, status, plan_name, billing_reason, period_start, period_end,
			paid_at, invoice_number, payment_method, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (gateway_payment_id) DO NOTHING`,
		entry.ID,
		entry.UserID,
		entry.SubscriptionID,
		entry.TransactionID,
		entry.GatewayPaymentID,
		entry.Amount,
		entry.Currency,
		entry.Status,
		entry.PlanName,
		entry.BillingReason,
		entry.PeriodStart,
		entry.PeriodEnd,
		entry.PaidAt,
		entry.InvoiceNumber,
		entry.PaymentMethod,
		entry.CreatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, limit int) ([]domain.Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	var items []domain.Entry
	err := db.WithContext(ctx).Raw(
		`SELECT `+entryColumns+`
		 FROM billing_history
		 WHERE user_id = ?
		 ORDER BY paid_at DESC, id DESC
		 LIMIT ?`,
		userID,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) FindByGatewayPaymentID(ctx context.Context, db *gorm.DB, gatewayPaymentID string) (*domain.Entry, error) {
	var item domain.Entry
	err := db.WithContext(ctx).Raw(
		`SELECT `+entryColumns+`
		 FROM billing_history
		 WHERE gateway_payment_id = ?
		 LIMIT 1`,
		gatewayPaymentID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}
