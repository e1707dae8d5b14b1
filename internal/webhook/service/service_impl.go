package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	billinghistorydomain "github.com/invoza/invoza/internal/billinghistory/domain"
	"github.com/invoza/invoza/internal/clock"
	"github.com/invoza/invoza/internal/config"
	"github.com/invoza/invoza/internal/observability/metrics"
	plandomain "github.com/invoza/invoza/internal/plan/domain"
	subscriptiondomain "github.com/invoza/invoza/internal/subscription/domain"
	transactiondomain "github.com/invoza/invoza/internal/transaction/domain"
	userdomain "github.com/invoza/invoza/internal/user/domain"
	"github.com/invoza/invoza/internal/webhook/domain"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Node        *snowflake.Node
	Clock       clock.Clock
	Config      config.Config
	Repo        domain.Repository
	TxRepo      transactiondomain.Repository
	UserRepo    userdomain.Repository
	PlanRepo    plandomain.Repository
	SubRepo     subscriptiondomain.Repository
	HistoryRepo billinghistorydomain.Repository
}

type service struct {
	db          *gorm.DB
	log         *zap.Logger
	node        *snowflake.Node
	clock       clock.Clock
	secret      string
	repo        domain.Repository
	txRepo      transactiondomain.Repository
	userRepo    userdomain.Repository
	planRepo    plandomain.Repository
	subRepo     subscriptiondomain.Repository
	historyRepo billinghistorydomain.Repository
}

func NewService(p Params) domain.Service {
	return &service{
		db:          p.DB,
		log:         p.Log.Named("webhook.service"),
		node:        p.Node,
		clock:       p.Clock,
		secret:      p.Config.WebhookSecret,
		repo:        p.Repo,
		txRepo:      p.TxRepo,
		userRepo:    p.UserRepo,
		planRepo:    p.PlanRepo,
		subRepo:     p.SubRepo,
		historyRepo: p.HistoryRepo,
	}
}

func (s *service) HandleEvent(ctx context.Context, body []byte, signature, eventID string) error {
	if err := VerifySignature(body, signature, s.secret); err != nil {
		metrics.Billing().IncSignatureRejection()
		return err
	}

	var envelope Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		s.log.Warn("webhook body is not valid json", zap.Error(err))
		metrics.Billing().IncWebhookEvent("unknown", "malformed")
		return nil
	}
	eventType := strings.TrimSpace(envelope.Event)
	if eventType == "" {
		metrics.Billing().IncWebhookEvent("unknown", "malformed")
		return nil
	}

	// Deliveries without an event id header are keyed by body digest.
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		sum := sha256.Sum256(body)
		eventID = "digest_" + hex.EncodeToString(sum[:])
	}

	now := s.clock.Now()
	record := &domain.EventRecord{
		ID:         s.node.Generate(),
		EventID:    eventID,
		EventType:  eventType,
		Payload:    datatypes.JSON(body),
		ReceivedAt: now,
	}
	inserted, err := s.repo.InsertEvent(ctx, s.db, record)
	if err != nil {
		s.log.Error("webhook event insert failed", zap.String("event", eventType), zap.Error(err))
		metrics.Billing().IncWebhookEvent(eventType, "error")
		return nil
	}
	if !inserted {
		stored, err := s.repo.FindEvent(ctx, s.db, eventID)
		if err != nil || stored == nil {
			metrics.Billing().IncWebhookEvent(eventType, "error")
			return nil
		}
		if stored.ProcessedAt != nil {
			s.log.Info("duplicate webhook delivery skipped",
				zap.String("event", eventType),
				zap.String("event_id", eventID),
			)
			metrics.Billing().IncWebhookEvent(eventType, "duplicate")
			return nil
		}
		record = stored
	}

	if err := s.dispatch(ctx, eventType, &envelope); err != nil {
		// Handlers are idempotent; the row stays unprocessed so a
		// redelivery can retry. The gateway still gets a 2xx.
		s.log.Error("webhook handler failed",
			zap.String("event", eventType),
			zap.String("event_id", eventID),
			zap.Error(err),
		)
		metrics.Billing().IncWebhookEvent(eventType, "error")
		return nil
	}

	if err := s.repo.MarkProcessed(ctx, s.db, record.ID, s.clock.Now()); err != nil {
		s.log.Error("webhook mark processed failed", zap.String("event_id", eventID), zap.Error(err))
	}
	metrics.Billing().IncWebhookEvent(eventType, "processed")
	return nil
}

func (s *service) dispatch(ctx context.Context, eventType string, envelope *Envelope) error {
	switch eventType {
	case EventPaymentCaptured:
		return s.handlePaymentCaptured(ctx, envelope)
	case EventPaymentFailed:
		return s.handlePaymentFailed(ctx, envelope)
	case EventSubscriptionActivated:
		return s.handleSubscriptionActivated(ctx, envelope)
	case EventSubscriptionCancelled, EventSubscriptionCompleted:
		return s.handleSubscriptionCancelled(ctx, envelope)
	case EventSubscriptionCharged:
		return s.handleSubscriptionCharged(ctx, envelope)
	case EventSubscriptionUpdated:
		return s.handleSubscriptionUpdated(ctx, envelope)
	default:
		s.log.Info("ignoring unhandled webhook event", zap.String("event", eventType))
		return nil
	}
}

// correlate finds the ledger row a gateway payment refers to, first by the
// reference we planted in notes, then by the gateway order id.
func (s *service) correlate(ctx context.Context, payment *PaymentEntity) (*transactiondomain.Transaction, error) {
	if ref := payment.Notes.Reference(); ref != "" {
		txn, err := s.txRepo.FindByReference(ctx, s.db, ref)
		if err != nil || txn != nil {
			return txn, err
		}
	}
	if payment.OrderID != "" {
		return s.txRepo.FindByGatewayOrderID(ctx, s.db, payment.OrderID)
	}
	return nil, nil
}

func (s *service) handlePaymentCaptured(ctx context.Context, envelope *Envelope) error {
	if envelope.Payload.Payment == nil {
		return nil
	}
	payment := &envelope.Payload.Payment.Entity

	txn, err := s.correlate(ctx, payment)
	if err != nil {
		return err
	}
	if txn == nil {
		s.log.Warn("payment.captured for unknown transaction",
			zap.String("gateway_payment_id", payment.ID),
			zap.String("gateway_order_id", payment.OrderID),
		)
		return nil
	}

	now := s.clock.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		update := transactiondomain.TerminalUpdate{ProcessedAt: now}
		if payment.OrderID != "" {
			update.GatewayOrderID = &payment.OrderID
		}
		if payment.ID != "" {
			update.GatewayPaymentID = &payment.ID
		}
		flipped, err := s.txRepo.MarkSucceeded(ctx, tx, txn.ID, update)
		if err != nil {
			return err
		}
		if !flipped {
			// Already resolved synchronously; keep the gateway's view.
			return s.txRepo.MergeMetadata(ctx, tx, txn.ID, map[string]any{
				"gateway_status":     payment.Status,
				"gateway_payment_id": payment.ID,
			})
		}
		return s.applyCapturedSideEffects(ctx, tx, txn, payment, now)
	})
}

func (s *service) applyCapturedSideEffects(ctx context.Context, tx *gorm.DB, txn *transactiondomain.Transaction, payment *PaymentEntity, now time.Time) error {
	switch txn.Type {
	case transactiondomain.TypeWalletTopup:
		if err := s.userRepo.CreditWallet(ctx, tx, txn.UserID, txn.Amount); err != nil {
			return err
		}
		metrics.Billing().IncWalletCredit()
		return nil
	case transactiondomain.TypeSubscriptionPayment:
		if txn.SubscriptionID == nil {
			return nil
		}
		sub, err := s.subRepo.FindByID(ctx, tx, *txn.SubscriptionID)
		if err != nil || sub == nil {
			return err
		}
		plan, err := s.planRepo.FindByID(ctx, tx, sub.PlanID)
		if err != nil {
			return err
		}
		if plan == nil {
			return plandomain.ErrPlanNotFound
		}
		periodEnd := plan.PeriodEnd(now)
		activated, err := s.subRepo.Activate(ctx, tx, sub.ID, now, periodEnd)
		if err != nil {
			return err
		}
		if !activated {
			// Canceled while the charge was in flight. The money stays on
			// the ledger; the account is never re-promoted.
			s.log.Warn("captured payment for canceled subscription",
				zap.String("reference", txn.Reference),
				zap.Int64("subscription_id", int64(sub.ID)),
			)
			return nil
		}
		if err := s.userRepo.ApplyBillingWindow(ctx, tx, txn.UserID, userdomain.BillingWindow{
			Status:          userdomain.AccountStatusActive,
			PlanID:          plan.ID,
			NextBillingDate: periodEnd,
			PeriodEnd:       periodEnd,
		}); err != nil {
			return err
		}
		entry := &billinghistorydomain.Entry{
			ID:             s.node.Generate(),
			UserID:         txn.UserID,
			SubscriptionID: sub.ID,
			TransactionID:  &txn.ID,
			Amount:         txn.Amount,
			Currency:       txn.Currency,
			Status:         billinghistorydomain.StatusPaid,
			PlanName:       plan.Name,
			BillingReason:  billinghistorydomain.ReasonSubscriptionPayment,
			PeriodStart:    now,
			PeriodEnd:      periodEnd,
			PaidAt:         now,
			InvoiceNumber:  billinghistorydomain.NewInvoiceNumber(now),
			PaymentMethod:  txn.PaymentMethod,
			CreatedAt:      now,
		}
		if payment.ID != "" {
			entry.GatewayPaymentID = &payment.ID
		}
		inserted, err := s.historyRepo.Insert(ctx, tx, entry)
		if err != nil {
			return err
		}
		if inserted {
			metrics.Billing().IncBillingHistoryRow(string(billinghistorydomain.ReasonSubscriptionPayment))
		}
		return nil
	default:
		return nil
	}
}

func (s *service) handlePaymentFailed(ctx context.Context, envelope *Envelope) error {
	if envelope.Payload.Payment == nil {
		return nil
	}
	payment := &envelope.Payload.Payment.Entity

	txn, err := s.correlate(ctx, payment)
	if err != nil {
		return err
	}
	if txn == nil {
		s.log.Warn("payment.failed for unknown transaction",
			zap.String("gateway_order_id", payment.OrderID),
		)
		return nil
	}

	reason := payment.ErrorDescription
	if reason == "" {
		reason = payment.ErrorCode
	}
	if reason == "" {
		reason = "payment_failed"
	}

	update := transactiondomain.TerminalUpdate{
		ProcessedAt:   s.clock.Now(),
		FailureReason: &reason,
	}
	if payment.OrderID != "" {
		update.GatewayOrderID = &payment.OrderID
	}
	flipped, err := s.txRepo.MarkFailed(ctx, s.db, txn.ID, update)
	if err != nil {
		return err
	}
	if !flipped {
		// Terminal rows never downgrade; only record the gateway's view.
		return s.txRepo.MergeMetadata(ctx, s.db, txn.ID, map[string]any{
			"gateway_status": payment.Status,
			"gateway_error":  reason,
		})
	}
	return nil
}

func (s *service) handleSubscriptionActivated(ctx context.Context, envelope *Envelope) error {
	if envelope.Payload.Subscription == nil {
		return nil
	}
	external := &envelope.Payload.Subscription.Entity

	sub, err := s.subRepo.FindByExternalID(ctx, s.db, external.ID)
	if err != nil {
		return err
	}
	if sub == nil {
		sub, err = s.adoptExternalID(ctx, external)
		if err != nil {
			return err
		}
	}
	if sub == nil {
		s.log.Warn("subscription.activated for unknown subscription",
			zap.String("external_id", external.ID),
		)
		return nil
	}
	if sub.Status == subscriptiondomain.StatusActive {
		return nil
	}

	plan, err := s.planRepo.FindByID(ctx, s.db, sub.PlanID)
	if err != nil {
		return err
	}
	if plan == nil {
		return plandomain.ErrPlanNotFound
	}

	now := s.clock.Now()
	periodEnd := plan.PeriodEnd(now)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		activated, err := s.subRepo.Activate(ctx, tx, sub.ID, now, periodEnd)
		if err != nil {
			return err
		}
		if !activated {
			// A cancellation got there first; a late activation must not
			// revive the account.
			return nil
		}
		return s.userRepo.ApplyBillingWindow(ctx, tx, sub.UserID, userdomain.BillingWindow{
			Status:          userdomain.AccountStatusActive,
			PlanID:          plan.ID,
			NextBillingDate: periodEnd,
			PeriodEnd:       periodEnd,
		})
	})
}

// adoptExternalID attaches the gateway's subscription id to the local row
// named in the event notes. First activation delivery wins; the guarded
// update never overwrites an id already attached.
func (s *service) adoptExternalID(ctx context.Context, external *SubscriptionEntity) (*subscriptiondomain.Subscription, error) {
	raw := external.Notes.SubscriptionID()
	if raw == "" {
		return nil, nil
	}
	localID, err := snowflake.ParseString(raw)
	if err != nil {
		return nil, nil
	}
	sub, err := s.subRepo.FindByID(ctx, s.db, localID)
	if err != nil || sub == nil {
		return nil, err
	}
	if sub.ExternalID != nil {
		if *sub.ExternalID != external.ID {
			return nil, nil
		}
		return sub, nil
	}
	if err := s.subRepo.SetExternalID(ctx, s.db, sub.ID, external.ID); err != nil {
		return nil, err
	}
	externalID := external.ID
	sub.ExternalID = &externalID
	return sub, nil
}

func (s *service) handleSubscriptionCancelled(ctx context.Context, envelope *Envelope) error {
	if envelope.Payload.Subscription == nil {
		return nil
	}
	external := &envelope.Payload.Subscription.Entity

	sub, err := s.subRepo.FindByExternalID(ctx, s.db, external.ID)
	if err != nil {
		return err
	}
	if sub == nil {
		s.log.Warn("subscription cancellation for unknown subscription",
			zap.String("external_id", external.ID),
		)
		return nil
	}

	freePlan, err := s.planRepo.FindFreePlan(ctx, s.db)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// A lost CAS means the cancel API got there first; the demotion
		// below lands on the same state either way.
		if _, err := s.subRepo.Cancel(ctx, tx, sub.ID, now); err != nil {
			return err
		}
		var planID *snowflake.ID
		if freePlan != nil {
			planID = &freePlan.ID
		}
		return s.userRepo.DemoteToFreePlan(ctx, tx, sub.UserID, planID)
	})
}

func (s *service) handleSubscriptionCharged(ctx context.Context, envelope *Envelope) error {
	if envelope.Payload.Subscription == nil {
		return nil
	}
	external := &envelope.Payload.Subscription.Entity

	sub, err := s.subRepo.FindByExternalID(ctx, s.db, external.ID)
	if err != nil {
		return err
	}
	if sub == nil {
		s.log.Warn("subscription.charged for unknown subscription",
			zap.String("external_id", external.ID),
		)
		return nil
	}

	plan, err := s.planRepo.FindByID(ctx, s.db, sub.PlanID)
	if err != nil {
		return err
	}
	if plan == nil {
		return plandomain.ErrPlanNotFound
	}

	amount := plan.Price
	currency := plan.Currency
	var gatewayPaymentID *string
	if envelope.Payload.Payment != nil {
		payment := &envelope.Payload.Payment.Entity
		if payment.ID != "" {
			gatewayPaymentID = &payment.ID
		}
		if payment.Amount > 0 {
			amount = decimal.NewFromInt(payment.Amount).Div(decimal.NewFromInt(100))
		}
		if payment.Currency != "" {
			currency = payment.Currency
		}
	}

	now := s.clock.Now()
	periodStart := sub.CurrentPeriodEnd
	periodEnd := plan.PeriodEnd(periodStart)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry := &billinghistorydomain.Entry{
			ID:               s.node.Generate(),
			UserID:           sub.UserID,
			SubscriptionID:   sub.ID,
			GatewayPaymentID: gatewayPaymentID,
			Amount:           amount,
			Currency:         currency,
			Status:           billinghistorydomain.StatusPaid,
			PlanName:         plan.Name,
			BillingReason:    billinghistorydomain.ReasonSubscriptionRenewal,
			PeriodStart:      periodStart,
			PeriodEnd:        periodEnd,
			PaidAt:           now,
			InvoiceNumber:    billinghistorydomain.NewInvoiceNumber(now),
			CreatedAt:        now,
		}
		inserted, err := s.historyRepo.Insert(ctx, tx, entry)
		if err != nil {
			return err
		}
		if !inserted {
			// Replay of a charge already recorded; period was advanced then.
			return nil
		}
		metrics.Billing().IncBillingHistoryRow(string(billinghistorydomain.ReasonSubscriptionRenewal))

		if err := s.subRepo.ExtendPeriod(ctx, tx, sub.ID, periodStart, periodEnd); err != nil {
			return err
		}
		return s.userRepo.AdvanceBillingPeriod(ctx, tx, sub.UserID, periodEnd, periodEnd)
	})
}

func (s *service) handleSubscriptionUpdated(ctx context.Context, envelope *Envelope) error {
	if envelope.Payload.Subscription == nil {
		return nil
	}
	external := &envelope.Payload.Subscription.Entity

	sub, err := s.subRepo.FindByExternalID(ctx, s.db, external.ID)
	if err != nil {
		return err
	}
	if sub == nil {
		return nil
	}
	return s.subRepo.MergeMetadata(ctx, s.db, sub.ID, map[string]any{
		"gateway_status":     external.Status,
		"gateway_updated_at": s.clock.Now().Unix(),
	})
}
