package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	billingdomain "github.com/invoza/invoza/internal/billing/domain"
	billinghistorydomain "github.com/invoza/invoza/internal/billinghistory/domain"
	"github.com/invoza/invoza/internal/clock"
	"github.com/invoza/invoza/internal/gateway"
	"github.com/invoza/invoza/internal/observability/metrics"
	paymentmethoddomain "github.com/invoza/invoza/internal/paymentmethod/domain"
	plandomain "github.com/invoza/invoza/internal/plan/domain"
	subscriptiondomain "github.com/invoza/invoza/internal/subscription/domain"
	transactiondomain "github.com/invoza/invoza/internal/transaction/domain"
	userdomain "github.com/invoza/invoza/internal/user/domain"
)

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	Node            *snowflake.Node
	Clock           clock.Clock
	Gateway         gateway.Adapter
	TxRepo          transactiondomain.Repository
	UserRepo        userdomain.Repository
	PlanRepo        plandomain.Repository
	MethodRepo      paymentmethoddomain.Repository
	HistoryRepo     billinghistorydomain.Repository
	SubscriptionSvc subscriptiondomain.Service
}

type service struct {
	db          *gorm.DB
	log         *zap.Logger
	node        *snowflake.Node
	clock       clock.Clock
	gateway     gateway.Adapter
	txRepo      transactiondomain.Repository
	userRepo    userdomain.Repository
	planRepo    plandomain.Repository
	methodRepo  paymentmethoddomain.Repository
	historyRepo billinghistorydomain.Repository
	subSvc      subscriptiondomain.Service
}

func NewService(p Params) billingdomain.Service {
	return &service{
		db:          p.DB,
		log:         p.Log.Named("billing.service"),
		node:        p.Node,
		clock:       p.Clock,
		gateway:     p.Gateway,
		txRepo:      p.TxRepo,
		userRepo:    p.UserRepo,
		planRepo:    p.PlanRepo,
		methodRepo:  p.MethodRepo,
		historyRepo: p.HistoryRepo,
		subSvc:      p.SubscriptionSvc,
	}
}

func (s *service) ProcessPayment(ctx context.Context, userID snowflake.ID, req billingdomain.ProcessPaymentRequest) (*transactiondomain.Transaction, error) {
	txType, subscriptionID, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	methodID, err := snowflake.ParseString(strings.TrimSpace(req.PaymentMethodID))
	if err != nil {
		return nil, billingdomain.ErrInvalidPaymentMethod
	}
	method, err := s.methodRepo.FindActiveForUser(ctx, s.db, userID, methodID)
	if err != nil {
		return nil, err
	}
	if method == nil {
		return nil, paymentmethoddomain.ErrPaymentMethodNotFound
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "INR"
	}

	now := s.clock.Now()
	txn := &transactiondomain.Transaction{
		ID:             s.node.Generate(),
		UserID:         userID,
		Reference:      transactiondomain.NewReference(),
		Type:           txType,
		Status:         transactiondomain.StatusProcessing,
		Amount:         req.Amount,
		Currency:       currency,
		PaymentMethod:  string(method.Type),
		Description:    req.Description,
		SubscriptionID: subscriptionID,
		Metadata:       datatypes.JSONMap{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.txRepo.Insert(ctx, s.db, txn); err != nil {
		return nil, err
	}

	// From here on the row must reach a terminal status no matter how we
	// exit. The webhook reconciler may win the race instead; the CAS inside
	// MarkFailed makes that harmless.
	resolved := false
	defer func() {
		if resolved {
			return
		}
		reason := "internal_error_before_resolution"
		if _, ferr := s.txRepo.MarkFailed(context.WithoutCancel(ctx), s.db, txn.ID, transactiondomain.TerminalUpdate{
			ProcessedAt:   s.clock.Now(),
			FailureReason: &reason,
		}); ferr != nil {
			s.log.Error("force-fail of unresolved transaction failed",
				zap.String("reference", txn.Reference),
				zap.Error(ferr),
			)
		}
	}()

	result, err := s.gateway.AttemptCharge(ctx, *method, req.Amount)
	if err != nil {
		s.log.Error("gateway charge attempt errored",
			zap.String("reference", txn.Reference),
			zap.Error(err),
		)
		return nil, fmt.Errorf("attempt charge: %w", err)
	}

	if !result.Success {
		if err := s.resolveFailed(ctx, txn, result); err != nil {
			return nil, err
		}
	} else if err := s.resolveSucceeded(ctx, txn, method, result); err != nil {
		return nil, err
	}
	resolved = true

	// The webhook reconciler may have resolved the row to the other terminal
	// status first; report what the ledger actually says.
	out, err := s.reload(ctx, txn.ID)
	if err != nil {
		return nil, err
	}
	metrics.Billing().IncPaymentProcessed(string(txType), string(out.Status))
	return out, nil
}

func (s *service) validate(req billingdomain.ProcessPaymentRequest) (transactiondomain.Type, *snowflake.ID, error) {
	if !req.Amount.IsPositive() {
		return "", nil, transactiondomain.ErrInvalidAmount
	}

	txType := transactiondomain.Type(strings.ToUpper(strings.TrimSpace(req.Type)))
	switch txType {
	case transactiondomain.TypeWalletTopup:
		return txType, nil, nil
	case transactiondomain.TypeSubscriptionPayment:
		raw := strings.TrimSpace(req.SubscriptionID)
		if raw == "" {
			return "", nil, billingdomain.ErrMissingSubscription
		}
		id, err := snowflake.ParseString(raw)
		if err != nil {
			return "", nil, subscriptiondomain.ErrSubscriptionNotFound
		}
		return txType, &id, nil
	default:
		return "", nil, transactiondomain.ErrInvalidType
	}
}

func (s *service) resolveFailed(ctx context.Context, txn *transactiondomain.Transaction, result gateway.ChargeResult) error {
	reason := result.FailureReason
	update := transactiondomain.TerminalUpdate{
		ProcessedAt:   s.clock.Now(),
		FailureReason: &reason,
	}
	if result.GatewayOrderID != "" {
		update.GatewayOrderID = &result.GatewayOrderID
	}
	_, err := s.txRepo.MarkFailed(ctx, s.db, txn.ID, update)
	if err != nil {
		return err
	}
	s.log.Info("payment declined",
		zap.String("reference", txn.Reference),
		zap.String("reason", reason),
	)
	return nil
}

func (s *service) resolveSucceeded(ctx context.Context, txn *transactiondomain.Transaction, method *paymentmethoddomain.PaymentMethod, result gateway.ChargeResult) error {
	now := s.clock.Now()
	update := transactiondomain.TerminalUpdate{ProcessedAt: now}
	if result.GatewayOrderID != "" {
		update.GatewayOrderID = &result.GatewayOrderID
	}
	if result.GatewayPaymentID != "" {
		update.GatewayPaymentID = &result.GatewayPaymentID
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		flipped, err := s.txRepo.MarkSucceeded(ctx, tx, txn.ID, update)
		if err != nil {
			return err
		}
		if !flipped {
			// A webhook already resolved the row and applied side effects.
			return nil
		}

		switch txn.Type {
		case transactiondomain.TypeWalletTopup:
			if err := s.userRepo.CreditWallet(ctx, tx, txn.UserID, txn.Amount); err != nil {
				return err
			}
			metrics.Billing().IncWalletCredit()
		case transactiondomain.TypeSubscriptionPayment:
			if err := s.applySubscriptionPayment(ctx, tx, txn, result, now); err != nil {
				return err
			}
		}

		return s.methodRepo.MarkUsed(ctx, tx, method.ID, now)
	})
}

func (s *service) applySubscriptionPayment(ctx context.Context, tx *gorm.DB, txn *transactiondomain.Transaction, result gateway.ChargeResult, now time.Time) error {
	sub, err := s.subSvc.ActivateForPayment(ctx, tx, txn.UserID, *txn.SubscriptionID, now)
	if err != nil {
		return err
	}

	plan, err := s.planRepo.FindByID(ctx, tx, sub.PlanID)
	if err != nil {
		return err
	}
	planName := ""
	if plan != nil {
		planName = plan.Name
	}

	entry := &billinghistorydomain.Entry{
		ID:             s.node.Generate(),
		UserID:         txn.UserID,
		SubscriptionID: sub.ID,
		TransactionID:  &txn.ID,
		Amount:         txn.Amount,
		Currency:       txn.Currency,
		Status:         billinghistorydomain.StatusPaid,
		PlanName:       planName,
		BillingReason:  billinghistorydomain.ReasonSubscriptionPayment,
		PeriodStart:    sub.CurrentPeriodStart,
		PeriodEnd:      sub.CurrentPeriodEnd,
		PaidAt:         now,
		InvoiceNumber:  billinghistorydomain.NewInvoiceNumber(now),
		PaymentMethod:  txn.PaymentMethod,
		CreatedAt:      now,
	}
	if result.GatewayPaymentID != "" {
		entry.GatewayPaymentID = &result.GatewayPaymentID
	}
	inserted, err := s.historyRepo.Insert(ctx, tx, entry)
	if err != nil {
		return err
	}
	if inserted {
		metrics.Billing().IncBillingHistoryRow(string(billinghistorydomain.ReasonSubscriptionPayment))
	}
	return nil
}

func (s *service) reload(ctx context.Context, id snowflake.ID) (*transactiondomain.Transaction, error) {
	txn, err := s.txRepo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, transactiondomain.ErrTransactionNotFound
	}
	return txn, nil
}

func (s *service) GetTransaction(ctx context.Context, userID snowflake.ID, idOrReference string) (*transactiondomain.Transaction, error) {
	idOrReference = strings.TrimSpace(idOrReference)
	if idOrReference == "" {
		return nil, transactiondomain.ErrTransactionNotFound
	}

	var (
		txn *transactiondomain.Transaction
		err error
	)
	if id, perr := snowflake.ParseString(idOrReference); perr == nil {
		txn, err = s.txRepo.FindByID(ctx, s.db, id)
	} else {
		txn, err = s.txRepo.FindByReference(ctx, s.db, idOrReference)
	}
	if err != nil {
		return nil, err
	}
	if txn == nil || txn.UserID != userID {
		return nil, transactiondomain.ErrTransactionNotFound
	}
	return txn, nil
}

func (s *service) GetBillingHistory(ctx context.Context, userID snowflake.ID) ([]billinghistorydomain.Entry, error) {
	return s.historyRepo.ListByUser(ctx, s.db, userID, 0)
}

func (s *service) GetWalletBalance(ctx context.Context, userID snowflake.ID) (decimal.Decimal, error) {
	user, err := s.userRepo.FindByID(ctx, s.db, userID)
	if err != nil {
		return decimal.Zero, err
	}
	if user == nil {
		return decimal.Zero, userdomain.ErrUserNotFound
	}
	return user.WalletBalance, nil
}
