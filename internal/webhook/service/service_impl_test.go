package service_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	billinghistoryrepo "github.com/invoza/invoza/internal/billinghistory/repository"
	"github.com/invoza/invoza/internal/clock"
	"github.com/invoza/invoza/internal/config"
	plandomain "github.com/invoza/invoza/internal/plan/domain"
	planrepo "github.com/invoza/invoza/internal/plan/repository"
	"github.com/invoza/invoza/internal/seed"
	subscriptiondomain "github.com/invoza/invoza/internal/subscription/domain"
	subscriptionrepo "github.com/invoza/invoza/internal/subscription/repository"
	transactiondomain "github.com/invoza/invoza/internal/transaction/domain"
	transactionrepo "github.com/invoza/invoza/internal/transaction/repository"
	userdomain "github.com/invoza/invoza/internal/user/domain"
	userrepo "github.com/invoza/invoza/internal/user/repository"
	webhookdomain "github.com/invoza/invoza/internal/webhook/domain"
	webhookrepo "github.com/invoza/invoza/internal/webhook/repository"
	webhookservice "github.com/invoza/invoza/internal/webhook/service"
)

const testSecret = "whsec_test"

type fixture struct {
	db    *gorm.DB
	svc   webhookdomain.Service
	node  *snowflake.Node
	clock *clock.FakeClock
	user  *userdomain.User
	plan  *plandomain.Plan
}

func setupWebhook(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := seed.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(40)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	fake := clock.NewFakeClock(time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC))

	user := &userdomain.User{
		ID:                 node.Generate(),
		Email:              "owner@example.com",
		APIToken:           "tok_" + node.Generate().String(),
		WalletBalance:      decimal.Zero,
		SubscriptionStatus: userdomain.AccountStatusFree,
		CreatedAt:          fake.Now(),
		UpdatedAt:          fake.Now(),
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}

	plan := &plandomain.Plan{
		ID:            node.Generate(),
		Code:          "pro_monthly",
		Name:          "Pro Monthly",
		Price:         decimal.NewFromInt(999),
		Currency:      "INR",
		Interval:      plandomain.IntervalMonth,
		IntervalCount: 1,
		Active:        true,
		CreatedAt:     fake.Now(),
		UpdatedAt:     fake.Now(),
	}
	if err := db.Create(plan).Error; err != nil {
		t.Fatalf("seed plan: %v", err)
	}

	svc := webhookservice.NewService(webhookservice.Params{
		DB:          db,
		Log:         zap.NewNop(),
		Node:        node,
		Clock:       fake,
		Config:      config.Config{WebhookSecret: testSecret},
		Repo:        webhookrepo.Provide(),
		TxRepo:      transactionrepo.Provide(),
		UserRepo:    userrepo.Provide(),
		PlanRepo:    planrepo.Provide(),
		SubRepo:     subscriptionrepo.Provide(),
		HistoryRepo: billinghistoryrepo.Provide(),
	})

	return &fixture{db: db, svc: svc, node: node, clock: fake, user: user, plan: plan}
}

func assertCount(t *testing.T, db *gorm.DB, query string, want int64) {
	t.Helper()

	var got int64
	if err := db.Raw(query).Scan(&got).Error; err != nil {
		t.Fatalf("count query %q: %v", query, err)
	}
	if got != want {
		t.Fatalf("count query %q: got %d, want %d", query, got, want)
	}
}

func (f *fixture) insertTransaction(t *testing.T, txType transactiondomain.Type, status transactiondomain.Status, subID *snowflake.ID) *transactiondomain.Transaction {
	t.Helper()

	now := f.clock.Now()
	txn := &transactiondomain.Transaction{
		ID:             f.node.Generate(),
		UserID:         f.user.ID,
		Reference:      transactiondomain.NewReference(),
		Type:           txType,
		Status:         status,
		Amount:         decimal.NewFromInt(500),
		Currency:       "INR",
		PaymentMethod:  "card",
		SubscriptionID: subID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := f.db.Create(txn).Error; err != nil {
		t.Fatalf("seed transaction: %v", err)
	}
	return txn
}

func (f *fixture) insertSubscription(t *testing.T, status subscriptiondomain.Status, externalID string) *subscriptiondomain.Subscription {
	t.Helper()

	now := f.clock.Now()
	sub := &subscriptiondomain.Subscription{
		ID:                 f.node.Generate(),
		UserID:             f.user.ID,
		PlanID:             f.plan.ID,
		Status:             status,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if externalID != "" {
		sub.ExternalID = &externalID
	}
	if err := f.db.Create(sub).Error; err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
	return sub
}

func paymentEvent(t *testing.T, event, paymentID, orderID, reference string) []byte {
	t.Helper()

	notes := map[string]any{}
	if reference != "" {
		notes["invoza_reference"] = reference
	}
	body, err := json.Marshal(map[string]any{
		"entity":   "event",
		"event":    event,
		"contains": []string{"payment"},
		"payload": map[string]any{
			"payment": map[string]any{
				"entity": map[string]any{
					"id":       paymentID,
					"amount":   50000,
					"currency": "INR",
					"status":   "captured",
					"order_id": orderID,
					"method":   "card",
					"notes":    notes,
				},
			},
		},
		"created_at": time.Now().Unix(),
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return body
}

func subscriptionEvent(t *testing.T, event, externalID string, payment map[string]any) []byte {
	t.Helper()

	payload := map[string]any{
		"subscription": map[string]any{
			"entity": map[string]any{
				"id":     externalID,
				"status": "active",
				"notes":  []any{},
			},
		},
	}
	if payment != nil {
		payload["payment"] = map[string]any{"entity": payment}
	}
	body, err := json.Marshal(map[string]any{
		"entity":   "event",
		"event":    event,
		"contains": []string{"subscription"},
		"payload":  payload,
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return body
}

func (f *fixture) deliver(t *testing.T, body []byte, eventID string) {
	t.Helper()

	if err := f.svc.HandleEvent(context.Background(), body, webhookservice.Sign(body, testSecret), eventID); err != nil {
		t.Fatalf("handle event: %v", err)
	}
}

func TestInvalidSignatureMutatesNothing(t *testing.T) {
	f := setupWebhook(t)
	txn := f.insertTransaction(t, transactiondomain.TypeWalletTopup, transactiondomain.StatusProcessing, nil)

	body := paymentEvent(t, "payment.captured", "pay_1", "order_1", txn.Reference)
	err := f.svc.HandleEvent(context.Background(), body, "deadbeef", "evt_1")
	if err != webhookdomain.ErrInvalidSignature {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}

	assertCount(t, f.db, "SELECT COUNT(1) FROM webhook_events", 0)
	var status string
	if err := f.db.Raw(`SELECT status FROM transactions WHERE id = ?`, txn.ID).Scan(&status).Error; err != nil {
		t.Fatalf("read status: %v", err)
	}
	if status != string(transactiondomain.StatusProcessing) {
		t.Fatalf("expected untouched PROCESSING row, got %s", status)
	}
}

func TestPaymentCapturedReplayCreditsWalletOnce(t *testing.T) {
	f := setupWebhook(t)
	txn := f.insertTransaction(t, transactiondomain.TypeWalletTopup, transactiondomain.StatusProcessing, nil)

	body := paymentEvent(t, "payment.captured", "pay_1", "order_1", txn.Reference)
	f.deliver(t, body, "evt_1")
	// Same delivery replayed under a fresh event id; the CAS must not credit
	// the wallet again.
	f.deliver(t, body, "evt_2")
	// Exact redelivery with the original event id is skipped outright.
	f.deliver(t, body, "evt_1")

	var balance decimal.Decimal
	if err := f.db.Raw(`SELECT wallet_balance FROM users WHERE id = ?`, f.user.ID).Scan(&balance).Error; err != nil {
		t.Fatalf("read balance: %v", err)
	}
	if !balance.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("expected single credit of 500, got %s", balance)
	}

	var status string
	if err := f.db.Raw(`SELECT status FROM transactions WHERE id = ?`, txn.ID).Scan(&status).Error; err != nil {
		t.Fatalf("read status: %v", err)
	}
	if status != string(transactiondomain.StatusSuccess) {
		t.Fatalf("expected SUCCESS, got %s", status)
	}
	assertCount(t, f.db, "SELECT COUNT(1) FROM webhook_events", 2)
	assertCount(t, f.db, "SELECT COUNT(1) FROM webhook_events WHERE processed_at IS NOT NULL", 2)
}

func TestPaymentCapturedCorrelatesByGatewayOrderID(t *testing.T) {
	f := setupWebhook(t)
	txn := f.insertTransaction(t, transactiondomain.TypeWalletTopup, transactiondomain.StatusProcessing, nil)
	orderID := "order_corr"
	if err := f.db.Exec(`UPDATE transactions SET gateway_order_id = ? WHERE id = ?`, orderID, txn.ID).Error; err != nil {
		t.Fatalf("stamp order id: %v", err)
	}

	// No reference in notes; correlation falls back to the order id.
	body := paymentEvent(t, "payment.captured", "pay_2", orderID, "")
	f.deliver(t, body, "evt_corr")

	var status string
	if err := f.db.Raw(`SELECT status FROM transactions WHERE id = ?`, txn.ID).Scan(&status).Error; err != nil {
		t.Fatalf("read status: %v", err)
	}
	if status != string(transactiondomain.StatusSuccess) {
		t.Fatalf("expected SUCCESS, got %s", status)
	}
}

func TestPaymentFailedNeverDowngradesSuccess(t *testing.T) {
	f := setupWebhook(t)
	txn := f.insertTransaction(t, transactiondomain.TypeWalletTopup, transactiondomain.StatusSuccess, nil)

	body := paymentEvent(t, "payment.failed", "pay_3", "order_3", txn.Reference)
	f.deliver(t, body, "evt_fail")

	var stored transactiondomain.Transaction
	if err := f.db.Raw(`SELECT * FROM transactions WHERE id = ?`, txn.ID).Scan(&stored).Error; err != nil {
		t.Fatalf("read transaction: %v", err)
	}
	if stored.Status != transactiondomain.StatusSuccess {
		t.Fatalf("expected SUCCESS preserved, got %s", stored.Status)
	}
	if stored.Metadata["gateway_status"] != "captured" {
		t.Fatalf("expected gateway view recorded in metadata, got %v", stored.Metadata)
	}
}

func TestPaymentFailedResolvesProcessingRow(t *testing.T) {
	f := setupWebhook(t)
	txn := f.insertTransaction(t, transactiondomain.TypeWalletTopup, transactiondomain.StatusProcessing, nil)

	body := paymentEvent(t, "payment.failed", "pay_4", "order_4", txn.Reference)
	f.deliver(t, body, "evt_fail2")

	var stored transactiondomain.Transaction
	if err := f.db.Raw(`SELECT * FROM transactions WHERE id = ?`, txn.ID).Scan(&stored).Error; err != nil {
		t.Fatalf("read transaction: %v", err)
	}
	if stored.Status != transactiondomain.StatusFailed {
		t.Fatalf("expected FAILED, got %s", stored.Status)
	}
	if stored.FailureReason == nil || *stored.FailureReason != "payment_failed" {
		t.Fatalf("expected default failure reason, got %v", stored.FailureReason)
	}
}

func TestSubscriptionChargedReplayAdvancesPeriodOnce(t *testing.T) {
	f := setupWebhook(t)
	sub := f.insertSubscription(t, subscriptiondomain.StatusActive, "sub_ext_1")
	oldEnd := sub.CurrentPeriodEnd

	body := subscriptionEvent(t, "subscription.charged", "sub_ext_1", map[string]any{
		"id":       "pay_renew_1",
		"amount":   99900,
		"currency": "INR",
		"status":   "captured",
		"notes":    []any{},
	})
	f.deliver(t, body, "evt_charge_1")
	f.deliver(t, body, "evt_charge_2")

	assertCount(t, f.db, "SELECT COUNT(1) FROM billing_history", 1)

	var stored subscriptiondomain.Subscription
	if err := f.db.Raw(`SELECT * FROM subscriptions WHERE id = ?`, sub.ID).Scan(&stored).Error; err != nil {
		t.Fatalf("read subscription: %v", err)
	}
	wantEnd := f.plan.PeriodEnd(oldEnd)
	if !stored.CurrentPeriodEnd.Equal(wantEnd) {
		t.Fatalf("expected period end %s, got %s", wantEnd, stored.CurrentPeriodEnd)
	}
	if !stored.CurrentPeriodStart.Equal(oldEnd) {
		t.Fatalf("expected period start %s, got %s", oldEnd, stored.CurrentPeriodStart)
	}

	var entry struct {
		Amount        decimal.Decimal
		BillingReason string
	}
	if err := f.db.Raw(`SELECT amount, billing_reason FROM billing_history LIMIT 1`).Scan(&entry).Error; err != nil {
		t.Fatalf("read history: %v", err)
	}
	if !entry.Amount.Equal(decimal.NewFromInt(999)) {
		t.Fatalf("expected amount 999 from paise, got %s", entry.Amount)
	}
	if entry.BillingReason != "subscription_renewal" {
		t.Fatalf("expected renewal reason, got %s", entry.BillingReason)
	}
}

func TestSubscriptionCancelledConvergesWithAPICancel(t *testing.T) {
	f := setupWebhook(t)
	free := &plandomain.Plan{
		ID:            f.node.Generate(),
		Code:          "free",
		Name:          "Free",
		Price:         decimal.Zero,
		Currency:      "INR",
		Interval:      plandomain.IntervalMonth,
		IntervalCount: 1,
		Active:        true,
		CreatedAt:     f.clock.Now(),
		UpdatedAt:     f.clock.Now(),
	}
	if err := f.db.Create(free).Error; err != nil {
		t.Fatalf("seed free plan: %v", err)
	}
	// The cancel API already won the race.
	f.insertSubscription(t, subscriptiondomain.StatusCanceled, "sub_ext_2")

	body := subscriptionEvent(t, "subscription.cancelled", "sub_ext_2", nil)
	f.deliver(t, body, "evt_cancel")

	var user userdomain.User
	if err := f.db.Raw(`SELECT * FROM users WHERE id = ?`, f.user.ID).Scan(&user).Error; err != nil {
		t.Fatalf("read user: %v", err)
	}
	if user.SubscriptionStatus != userdomain.AccountStatusFree {
		t.Fatalf("expected FREE account after demotion, got %s", user.SubscriptionStatus)
	}
	if user.PlanID == nil || *user.PlanID != free.ID {
		t.Fatalf("expected demotion onto the free plan")
	}
	assertCount(t, f.db, "SELECT COUNT(1) FROM subscriptions WHERE status = 'CANCELED'", 1)
}

func TestSubscriptionActivatedAdoptsExternalIDFromNotes(t *testing.T) {
	f := setupWebhook(t)
	sub := f.insertSubscription(t, subscriptiondomain.StatusPending, "")

	body, err := json.Marshal(map[string]any{
		"entity": "event",
		"event":  "subscription.activated",
		"payload": map[string]any{
			"subscription": map[string]any{
				"entity": map[string]any{
					"id":     "sub_ext_adopt",
					"status": "active",
					"notes":  map[string]any{"invoza_subscription_id": sub.ID.String()},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	f.deliver(t, body, "evt_adopt")

	var stored subscriptiondomain.Subscription
	if err := f.db.Raw(`SELECT * FROM subscriptions WHERE id = ?`, sub.ID).Scan(&stored).Error; err != nil {
		t.Fatalf("read subscription: %v", err)
	}
	if stored.ExternalID == nil || *stored.ExternalID != "sub_ext_adopt" {
		t.Fatalf("expected external id adopted, got %v", stored.ExternalID)
	}
	if stored.Status != subscriptiondomain.StatusActive {
		t.Fatalf("expected ACTIVE after activation, got %s", stored.Status)
	}

	// Later deliveries correlate by the adopted external id.
	charged := subscriptionEvent(t, "subscription.charged", "sub_ext_adopt", map[string]any{
		"id":     "pay_adopt_renew",
		"amount": 99900,
		"notes":  []any{},
	})
	f.deliver(t, charged, "evt_adopt_charge")
	assertCount(t, f.db, "SELECT COUNT(1) FROM billing_history", 1)
}

func TestSubscriptionActivatedForUnknownExternalIDIsAcknowledged(t *testing.T) {
	f := setupWebhook(t)

	body := subscriptionEvent(t, "subscription.activated", "sub_ext_missing", nil)
	f.deliver(t, body, "evt_missing")

	assertCount(t, f.db, "SELECT COUNT(1) FROM webhook_events WHERE processed_at IS NOT NULL", 1)
	assertCount(t, f.db, "SELECT COUNT(1) FROM subscriptions", 0)
}

func TestUnknownEventTypeIsRecordedAndIgnored(t *testing.T) {
	f := setupWebhook(t)

	body, err := json.Marshal(map[string]any{
		"entity": "event",
		"event":  "invoice.paid",
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	f.deliver(t, body, "evt_unknown")

	assertCount(t, f.db, "SELECT COUNT(1) FROM webhook_events WHERE processed_at IS NOT NULL", 1)
}

func TestMalformedBodyIsAcknowledgedWithoutRecord(t *testing.T) {
	f := setupWebhook(t)

	body := []byte("{not json")
	f.deliver(t, body, "evt_bad")

	assertCount(t, f.db, "SELECT COUNT(1) FROM webhook_events", 0)
}

func TestMissingEventIDFallsBackToBodyDigest(t *testing.T) {
	f := setupWebhook(t)
	txn := f.insertTransaction(t, transactiondomain.TypeWalletTopup, transactiondomain.StatusProcessing, nil)

	body := paymentEvent(t, "payment.captured", "pay_5", "order_5", txn.Reference)
	f.deliver(t, body, "")
	f.deliver(t, body, "")

	// Both deliveries hash to the same digest key.
	assertCount(t, f.db, "SELECT COUNT(1) FROM webhook_events", 1)

	var balance decimal.Decimal
	if err := f.db.Raw(`SELECT wallet_balance FROM users WHERE id = ?`, f.user.ID).Scan(&balance).Error; err != nil {
		t.Fatalf("read balance: %v", err)
	}
	if !balance.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("expected single credit, got %s", balance)
	}
}

func TestSubscriptionActivatedNeverRevivesCanceledAccount(t *testing.T) {
	f := setupWebhook(t)
	// The cancel API already demoted the account; the activation arrives late.
	f.insertSubscription(t, subscriptiondomain.StatusCanceled, "sub_ext_late")

	body := subscriptionEvent(t, "subscription.activated", "sub_ext_late", nil)
	f.deliver(t, body, "evt_late_activate")

	var user userdomain.User
	if err := f.db.Raw(`SELECT * FROM users WHERE id = ?`, f.user.ID).Scan(&user).Error; err != nil {
		t.Fatalf("read user: %v", err)
	}
	if user.SubscriptionStatus != userdomain.AccountStatusFree {
		t.Fatalf("expected account to stay FREE, got %s", user.SubscriptionStatus)
	}
	if user.NextBillingDate != nil {
		t.Fatalf("expected no billing window on a canceled account, got %v", user.NextBillingDate)
	}
	assertCount(t, f.db, "SELECT COUNT(1) FROM subscriptions WHERE status = 'CANCELED'", 1)
	assertCount(t, f.db, "SELECT COUNT(1) FROM webhook_events WHERE processed_at IS NOT NULL", 1)
}

func TestPaymentCapturedForCanceledSubscriptionKeepsAccountDemoted(t *testing.T) {
	f := setupWebhook(t)
	sub := f.insertSubscription(t, subscriptiondomain.StatusCanceled, "sub_ext_gone")
	txn := f.insertTransaction(t, transactiondomain.TypeSubscriptionPayment, transactiondomain.StatusProcessing, &sub.ID)

	body := paymentEvent(t, "payment.captured", "pay_gone", "order_gone", txn.Reference)
	f.deliver(t, body, "evt_gone")

	// The money stays on the ledger.
	var status string
	if err := f.db.Raw(`SELECT status FROM transactions WHERE id = ?`, txn.ID).Scan(&status).Error; err != nil {
		t.Fatalf("read status: %v", err)
	}
	if status != string(transactiondomain.StatusSuccess) {
		t.Fatalf("expected SUCCESS, got %s", status)
	}

	var stored subscriptiondomain.Subscription
	if err := f.db.Raw(`SELECT * FROM subscriptions WHERE id = ?`, sub.ID).Scan(&stored).Error; err != nil {
		t.Fatalf("read subscription: %v", err)
	}
	if stored.Status != subscriptiondomain.StatusCanceled {
		t.Fatalf("expected subscription to stay CANCELED, got %s", stored.Status)
	}

	var user userdomain.User
	if err := f.db.Raw(`SELECT * FROM users WHERE id = ?`, f.user.ID).Scan(&user).Error; err != nil {
		t.Fatalf("read user: %v", err)
	}
	if user.SubscriptionStatus != userdomain.AccountStatusFree {
		t.Fatalf("expected account to stay FREE, got %s", user.SubscriptionStatus)
	}
	assertCount(t, f.db, "SELECT COUNT(1) FROM billing_history", 0)
}
