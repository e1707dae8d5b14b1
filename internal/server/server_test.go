package server_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	billingservice "github.com/invoza/invoza/internal/billing/service"
	billinghistoryrepo "github.com/invoza/invoza/internal/billinghistory/repository"
	"github.com/invoza/invoza/internal/clock"
	"github.com/invoza/invoza/internal/config"
	"github.com/invoza/invoza/internal/gateway"
	paymentmethoddomain "github.com/invoza/invoza/internal/paymentmethod/domain"
	paymentmethodrepo "github.com/invoza/invoza/internal/paymentmethod/repository"
	plandomain "github.com/invoza/invoza/internal/plan/domain"
	planrepo "github.com/invoza/invoza/internal/plan/repository"
	"github.com/invoza/invoza/internal/seed"
	"github.com/invoza/invoza/internal/server"
	subscriptionrepo "github.com/invoza/invoza/internal/subscription/repository"
	subscriptionservice "github.com/invoza/invoza/internal/subscription/service"
	transactionrepo "github.com/invoza/invoza/internal/transaction/repository"
	userdomain "github.com/invoza/invoza/internal/user/domain"
	userrepo "github.com/invoza/invoza/internal/user/repository"
	webhookrepo "github.com/invoza/invoza/internal/webhook/repository"
	webhookservice "github.com/invoza/invoza/internal/webhook/service"
)

const testSecret = "whsec_server_test"

type env struct {
	engine *gin.Engine
	db     *gorm.DB
	token  string
	user   *userdomain.User
	method *paymentmethoddomain.PaymentMethod
}

// setupEnv wires the full HTTP surface against sqlite with a pinned gateway
// decline rate.
func setupEnv(t *testing.T, declineRate float64) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := seed.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(70)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	fake := clock.NewFakeClock(time.Date(2025, 8, 1, 10, 0, 0, 0, time.UTC))
	log := zap.NewNop()
	cfg := config.Config{HTTPAddr: ":0", WebhookSecret: testSecret}

	token := "tok_" + node.Generate().String()
	user := &userdomain.User{
		ID:                 node.Generate(),
		Email:              "owner@example.com",
		APIToken:           token,
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

	method := &paymentmethoddomain.PaymentMethod{
		ID:        node.Generate(),
		UserID:    user.ID,
		Type:      paymentmethoddomain.MethodCard,
		Label:     "Visa 4242",
		Active:    true,
		CreatedAt: fake.Now(),
		UpdatedAt: fake.Now(),
	}
	if err := db.Create(method).Error; err != nil {
		t.Fatalf("seed payment method: %v", err)
	}

	policy := config.NewStaticGatewayPolicyHolder(config.GatewayPolicy{
		DeclineRates: map[string]float64{"card": declineRate},
	})

	subSvc := subscriptionservice.NewService(subscriptionservice.Params{
		DB:       db,
		Repo:     subscriptionrepo.Provide(),
		PlanRepo: planrepo.Provide(),
		UserRepo: userrepo.Provide(),
		Node:     node,
		Clock:    fake,
		Log:      log,
	})
	billingSvc := billingservice.NewService(billingservice.Params{
		DB:              db,
		Log:             log,
		Node:            node,
		Clock:           fake,
		Gateway:         gateway.NewSeededSimulator(policy, log, 3),
		TxRepo:          transactionrepo.Provide(),
		UserRepo:        userrepo.Provide(),
		PlanRepo:        planrepo.Provide(),
		MethodRepo:      paymentmethodrepo.Provide(),
		HistoryRepo:     billinghistoryrepo.Provide(),
		SubscriptionSvc: subSvc,
	})
	webhookSvc := webhookservice.NewService(webhookservice.Params{
		DB:          db,
		Log:         log,
		Node:        node,
		Clock:       fake,
		Config:      cfg,
		Repo:        webhookrepo.Provide(),
		TxRepo:      transactionrepo.Provide(),
		UserRepo:    userrepo.Provide(),
		PlanRepo:    planrepo.Provide(),
		SubRepo:     subscriptionrepo.Provide(),
		HistoryRepo: billinghistoryrepo.Provide(),
	})

	engine := server.NewEngine(log)
	server.NewServer(engine, server.Params{
		DB:         db,
		Log:        log,
		Config:     cfg,
		UserRepo:   userrepo.Provide(),
		BillingSvc: billingSvc,
		SubSvc:     subSvc,
		WebhookSvc: webhookSvc,
	})

	return &env{engine: engine, db: db, token: token, user: user, method: method}
}

func (e *env) request(t *testing.T, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Buffer
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewBuffer(raw)
	} else {
		body = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.engine.ServeHTTP(rec, req)
	return rec
}

func TestProcessPaymentEndpoint(t *testing.T) {
	e := setupEnv(t, 0)

	rec := e.request(t, http.MethodPost, "/v1/billing/process-payment", e.token, gin.H{
		"amount":            "500",
		"type":              "WALLET_TOPUP",
		"payment_method_id": e.method.ID.String(),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Success     bool `json:"success"`
		Transaction struct {
			Status    string `json:"status"`
			Reference string `json:"reference"`
		} `json:"transaction"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.Transaction.Status != "SUCCESS" {
		t.Fatalf("unexpected response %s", rec.Body.String())
	}

	// The wallet endpoint reflects the credit.
	rec = e.request(t, http.MethodGet, "/v1/billing/wallet", e.token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var wallet struct {
		WalletBalance decimal.Decimal `json:"wallet_balance"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &wallet); err != nil {
		t.Fatalf("decode wallet: %v", err)
	}
	if !wallet.WalletBalance.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("expected balance 500, got %s", wallet.WalletBalance)
	}

	// Lookup by reference through the GET route.
	rec = e.request(t, http.MethodGet, "/v1/billing/process-payment?reference="+resp.Transaction.Reference, e.token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestProcessPaymentDeclineReturns400(t *testing.T) {
	e := setupEnv(t, 1)

	rec := e.request(t, http.MethodPost, "/v1/billing/process-payment", e.token, gin.H{
		"amount":            "500",
		"type":              "WALLET_TOPUP",
		"payment_method_id": e.method.ID.String(),
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Success || resp.Message != "card_declined" {
		t.Fatalf("unexpected response %s", rec.Body.String())
	}
}

func TestAuthenticationRequired(t *testing.T) {
	e := setupEnv(t, 0)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/v1/billing/process-payment"},
		{http.MethodGet, "/v1/billing/history"},
		{http.MethodGet, "/v1/billing/wallet"},
		{http.MethodGet, "/v1/subscriptions/current"},
		{http.MethodPost, "/v1/subscriptions/change-plan"},
		{http.MethodPost, "/v1/subscriptions/cancel"},
	}
	for _, p := range paths {
		if rec := e.request(t, p.method, p.path, "", nil); rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s without token: expected 401, got %d", p.method, p.path, rec.Code)
		}
		if rec := e.request(t, p.method, p.path, "tok_bogus", nil); rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s with bad token: expected 401, got %d", p.method, p.path, rec.Code)
		}
	}
}

func TestSubscriptionEndpoints(t *testing.T) {
	e := setupEnv(t, 0)

	rec := e.request(t, http.MethodGet, "/v1/subscriptions/current", e.token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without a subscription, got %d", rec.Code)
	}

	rec = e.request(t, http.MethodPost, "/v1/subscriptions/change-plan", e.token, gin.H{"plan_code": "pro_monthly"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("paid upgrade without payment: expected 400, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = e.request(t, http.MethodPost, "/v1/subscriptions/change-plan", e.token, gin.H{"plan_code": "no_such_plan"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown plan: expected 404, got %d", rec.Code)
	}

	rec = e.request(t, http.MethodPost, "/v1/subscriptions/cancel", e.token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("cancel without subscription: expected 404, got %d", rec.Code)
	}
}

func TestPaidPlanCheckoutFlow(t *testing.T) {
	e := setupEnv(t, 0)

	rec := e.request(t, http.MethodPost, "/v1/subscriptions/subscribe", e.token, gin.H{"plan_code": "pro_monthly"})
	if rec.Code != http.StatusOK {
		t.Fatalf("subscribe: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var subscribed struct {
		Subscription struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"subscription"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &subscribed); err != nil {
		t.Fatalf("decode subscribe: %v", err)
	}
	if subscribed.Subscription.Status != "PENDING" {
		t.Fatalf("expected PENDING checkout, got %s", subscribed.Subscription.Status)
	}

	// Pending checkout is not the current subscription yet.
	rec = e.request(t, http.MethodGet, "/v1/subscriptions/current", e.token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before payment, got %d", rec.Code)
	}

	rec = e.request(t, http.MethodPost, "/v1/billing/process-payment", e.token, gin.H{
		"amount":            "999",
		"type":              "SUBSCRIPTION_PAYMENT",
		"payment_method_id": e.method.ID.String(),
		"subscription_id":   subscribed.Subscription.ID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("pay for subscription: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = e.request(t, http.MethodGet, "/v1/subscriptions/current", e.token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected active subscription after payment, got %d", rec.Code)
	}

	rec = e.request(t, http.MethodGet, "/v1/billing/history", e.token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history: expected 200, got %d", rec.Code)
	}
	var history struct {
		History []struct {
			BillingReason string `json:"billing_reason"`
		} `json:"history"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(history.History) != 1 || history.History[0].BillingReason != "subscription_payment" {
		t.Fatalf("unexpected history %s", rec.Body.String())
	}
}

func TestWebhookEndpoint(t *testing.T) {
	e := setupEnv(t, 0)

	body, err := json.Marshal(gin.H{
		"entity": "event",
		"event":  "payment.captured",
		"payload": gin.H{
			"payment": gin.H{"entity": gin.H{"id": "pay_x", "order_id": "order_x", "notes": gin.H{}}},
		},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/razorpay", bytes.NewReader(body))
	req.Header.Set("X-Razorpay-Signature", webhookservice.Sign(body, testSecret))
	req.Header.Set("X-Razorpay-Event-Id", "evt_http_1")
	rec := httptest.NewRecorder()
	e.engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// Tampered signature is rejected before any parsing.
	req = httptest.NewRequest(http.MethodPost, "/v1/webhooks/razorpay", bytes.NewReader(body))
	req.Header.Set("X-Razorpay-Signature", "bad")
	rec = httptest.NewRecorder()
	e.engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad signature, got %d", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	e := setupEnv(t, 0)

	rec := e.request(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
