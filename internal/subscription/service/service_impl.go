package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/invoza/invoza/internal/clock"
	plandomain "github.com/invoza/invoza/internal/plan/domain"
	subscriptiondomain "github.com/invoza/invoza/internal/subscription/domain"
	userdomain "github.com/invoza/invoza/internal/user/domain"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Repo     subscriptiondomain.Repository
	PlanRepo plandomain.Repository
	UserRepo userdomain.Repository
	Node     *snowflake.Node
	Clock    clock.Clock
	Log      *zap.Logger
}

type service struct {
	db       *gorm.DB
	repo     subscriptiondomain.Repository
	planRepo plandomain.Repository
	userRepo userdomain.Repository
	node     *snowflake.Node
	clock    clock.Clock
	log      *zap.Logger
}

func NewService(p Params) subscriptiondomain.Service {
	return &service{
		db:       p.DB,
		repo:     p.Repo,
		planRepo: p.PlanRepo,
		userRepo: p.UserRepo,
		node:     p.Node,
		clock:    p.Clock,
		log:      p.Log.Named("subscription.service"),
	}
}

func (s *service) GetCurrent(ctx context.Context, userID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	sub, err := s.repo.FindActiveByUser(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	return sub, nil
}

// Subscribe opens checkout for a paid plan: a PENDING row the payment flow
// later activates. Repeat calls before payment return the same row.
func (s *service) Subscribe(ctx context.Context, userID snowflake.ID, req subscriptiondomain.SubscribeRequest) (*subscriptiondomain.Subscription, error) {
	plan, err := s.planRepo.FindByCode(ctx, s.db, req.PlanCode)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, plandomain.ErrPlanNotFound
	}
	if !plan.Active {
		return nil, plandomain.ErrPlanInactive
	}
	if plan.IsFree() {
		return nil, subscriptiondomain.ErrFreePlanNotBillable
	}

	user, err := s.userRepo.FindByID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, userdomain.ErrUserNotFound
	}

	current, err := s.repo.FindActiveByUser(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if current != nil && current.PlanID == plan.ID {
		return nil, subscriptiondomain.ErrAlreadyOnPlan
	}

	pending, err := s.repo.FindPendingByUserAndPlan(ctx, s.db, userID, plan.ID)
	if err != nil {
		return nil, err
	}
	if pending != nil {
		return pending, nil
	}

	now := s.clock.Now()
	sub := &subscriptiondomain.Subscription{
		ID:     s.node.Generate(),
		UserID: userID,
		PlanID: plan.ID,
		Status: subscriptiondomain.StatusPending,
		// The real window opens when the charge is captured.
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.repo.Insert(ctx, s.db, sub); err != nil {
		return nil, err
	}

	s.log.Info("subscription checkout opened",
		zap.Int64("user_id", int64(userID)),
		zap.String("plan_code", plan.Code),
	)
	return sub, nil
}

// ChangePlan switches the user onto plan req.PlanCode. Targets that cost the
// same or less than the current plan switch immediately; anything more
// expensive must be paid for first and is rejected here.
func (s *service) ChangePlan(ctx context.Context, userID snowflake.ID, req subscriptiondomain.ChangePlanRequest) (*subscriptiondomain.Subscription, error) {
	target, err := s.planRepo.FindByCode(ctx, s.db, req.PlanCode)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, plandomain.ErrPlanNotFound
	}
	if !target.Active {
		return nil, plandomain.ErrPlanInactive
	}

	user, err := s.userRepo.FindByID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, userdomain.ErrUserNotFound
	}

	current, err := s.repo.FindActiveByUser(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if current != nil && current.PlanID == target.ID {
		return nil, subscriptiondomain.ErrAlreadyOnPlan
	}

	if !s.switchableWithoutCharge(ctx, current, target) {
		return nil, subscriptiondomain.ErrPaidPlanRequiresPayment
	}

	now := s.clock.Now()
	var created *subscriptiondomain.Subscription

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if current != nil {
			if _, err := s.repo.Cancel(ctx, tx, current.ID, now); err != nil {
				return err
			}
		}

		if target.IsFree() {
			planID := target.ID
			return s.userRepo.DemoteToFreePlan(ctx, tx, userID, &planID)
		}

		periodEnd := target.PeriodEnd(now)
		sub := &subscriptiondomain.Subscription{
			ID:                 s.node.Generate(),
			UserID:             userID,
			PlanID:             target.ID,
			Status:             subscriptiondomain.StatusActive,
			CurrentPeriodStart: now,
			CurrentPeriodEnd:   periodEnd,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := s.repo.Insert(ctx, tx, sub); err != nil {
			return err
		}
		if err := s.userRepo.ApplyBillingWindow(ctx, tx, userID, userdomain.BillingWindow{
			Status:          userdomain.AccountStatusActive,
			PlanID:          target.ID,
			NextBillingDate: periodEnd,
			PeriodEnd:       periodEnd,
		}); err != nil {
			return err
		}
		created = sub
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("plan changed",
		zap.Int64("user_id", int64(userID)),
		zap.String("plan_code", target.Code),
	)
	return created, nil
}

// switchableWithoutCharge allows free targets and downgrades. A user without
// an active paid subscription pays for any paid target.
func (s *service) switchableWithoutCharge(ctx context.Context, current *subscriptiondomain.Subscription, target *plandomain.Plan) bool {
	if target.IsFree() {
		return true
	}
	if current == nil {
		return false
	}
	currentPlan, err := s.planRepo.FindByID(ctx, s.db, current.PlanID)
	if err != nil || currentPlan == nil {
		return false
	}
	return target.Price.LessThan(currentPlan.Price)
}

func (s *service) Cancel(ctx context.Context, userID snowflake.ID) error {
	current, err := s.repo.FindActiveByUser(ctx, s.db, userID)
	if err != nil {
		return err
	}
	if current == nil {
		return subscriptiondomain.ErrSubscriptionNotFound
	}

	freePlan, err := s.planRepo.FindFreePlan(ctx, s.db)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// A concurrent gateway cancellation lands on the same terminal
		// state, so a lost CAS is not an error.
		if _, err := s.repo.Cancel(ctx, tx, current.ID, now); err != nil {
			return err
		}
		var planID *snowflake.ID
		if freePlan != nil {
			planID = &freePlan.ID
		}
		return s.userRepo.DemoteToFreePlan(ctx, tx, userID, planID)
	})
	if err != nil {
		return err
	}

	s.log.Info("subscription canceled", zap.Int64("user_id", int64(userID)))
	return nil
}

func (s *service) ActivateForPayment(ctx context.Context, tx *gorm.DB, userID, subscriptionID snowflake.ID, now time.Time) (*subscriptiondomain.Subscription, error) {
	sub, err := s.repo.FindByID(ctx, tx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub == nil || sub.UserID != userID {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	if sub.Status == subscriptiondomain.StatusCanceled {
		return nil, subscriptiondomain.ErrSubscriptionInactive
	}

	plan, err := s.planRepo.FindByID(ctx, tx, sub.PlanID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, plandomain.ErrPlanNotFound
	}

	periodEnd := plan.PeriodEnd(now)
	activated, err := s.repo.Activate(ctx, tx, sub.ID, now, periodEnd)
	if err != nil {
		return nil, err
	}
	if !activated {
		// Canceled between the status check above and the update.
		return nil, subscriptiondomain.ErrSubscriptionInactive
	}
	if err := s.userRepo.ApplyBillingWindow(ctx, tx, userID, userdomain.BillingWindow{
		Status:          userdomain.AccountStatusActive,
		PlanID:          plan.ID,
		NextBillingDate: periodEnd,
		PeriodEnd:       periodEnd,
	}); err != nil {
		return nil, err
	}

	sub.Status = subscriptiondomain.StatusActive
	sub.CurrentPeriodStart = now
	sub.CurrentPeriodEnd = periodEnd
	return sub, nil
}
