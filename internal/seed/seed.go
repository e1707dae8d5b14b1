// Package seed bootstraps reference data a fresh deployment needs.
package seed

import (
	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	billinghistorydomain "github.com/invoza/invoza/internal/billinghistory/domain"
	paymentmethoddomain "github.com/invoza/invoza/internal/paymentmethod/domain"
	plandomain "github.com/invoza/invoza/internal/plan/domain"
	subscriptiondomain "github.com/invoza/invoza/internal/subscription/domain"
	transactiondomain "github.com/invoza/invoza/internal/transaction/domain"
	userdomain "github.com/invoza/invoza/internal/user/domain"
	webhookdomain "github.com/invoza/invoza/internal/webhook/domain"
)

// AutoMigrate builds the schema from the models. Production uses the SQL
// migrations instead.
func AutoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&plandomain.Plan{},
		&userdomain.User{},
		&paymentmethoddomain.PaymentMethod{},
		&transactiondomain.Transaction{},
		&subscriptiondomain.Subscription{},
		&billinghistorydomain.Entry{},
		&webhookdomain.EventRecord{},
	)
}

// EnsurePlans inserts the default plan catalog when the table is empty.
func EnsurePlans(conn *gorm.DB) error {
	var count int64
	if err := conn.Raw(`SELECT COUNT(*) FROM plans`).Scan(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	node, err := snowflake.NewNode(0)
	if err != nil {
		return err
	}

	plans := []plandomain.Plan{
		{
			ID:            node.Generate(),
			Code:          "free",
			Name:          "Free",
			Price:         decimal.Zero,
			Currency:      "INR",
			Interval:      plandomain.IntervalMonth,
			IntervalCount: 1,
			Active:        true,
		},
		{
			ID:            node.Generate(),
			Code:          "pro_monthly",
			Name:          "Pro Monthly",
			Price:         decimal.NewFromInt(999),
			Currency:      "INR",
			Interval:      plandomain.IntervalMonth,
			IntervalCount: 1,
			Active:        true,
		},
		{
			ID:            node.Generate(),
			Code:          "pro_yearly",
			Name:          "Pro Yearly",
			Price:         decimal.NewFromInt(9990),
			Currency:      "INR",
			Interval:      plandomain.IntervalYear,
			IntervalCount: 1,
			Active:        true,
		},
	}
	for i := range plans {
		if err := conn.Create(&plans[i]).Error; err != nil {
			return err
		}
	}
	return nil
}
