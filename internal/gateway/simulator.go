package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/invoza/invoza/internal/config"
	paymentmethoddomain "github.com/invoza/invoza/internal/paymentmethod/domain"
)

// Simulator stands in for the real gateway. It declines a configurable share
// of charges per method type and mints order/payment ids in the gateway's
// shape so the webhook path exercises the same correlation logic as prod.
type Simulator struct {
	policy *config.GatewayPolicyHolder
	log    *zap.Logger

	mu   sync.Mutex
	rand *rand.Rand
}

// NewSimulator builds a simulator seeded from the current time.
func NewSimulator(policy *config.GatewayPolicyHolder, log *zap.Logger) *Simulator {
	return &Simulator{
		policy: policy,
		log:    log.Named("gateway.simulator"),
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewSeededSimulator pins the random source. Tests use it to force a charge
// outcome through a decline rate of 0 or 1.
func NewSeededSimulator(policy *config.GatewayPolicyHolder, log *zap.Logger, seed int64) *Simulator {
	sim := NewSimulator(policy, log)
	sim.rand = rand.New(rand.NewSource(seed))
	return sim
}

func (s *Simulator) AttemptCharge(ctx context.Context, method paymentmethoddomain.PaymentMethod, amount decimal.Decimal) (ChargeResult, error) {
	if err := ctx.Err(); err != nil {
		return ChargeResult{}, err
	}

	policy := s.policy.Get()
	rate := policy.DeclineRates[string(method.Type)]

	s.mu.Lock()
	roll := s.rand.Float64()
	orderID := fmt.Sprintf("order_%012x", s.rand.Uint64()&0xffffffffffff)
	paymentID := fmt.Sprintf("pay_%012x", s.rand.Uint64()&0xffffffffffff)
	s.mu.Unlock()

	if delay := s.latency(policy.Latency); delay > 0 {
		select {
		case <-ctx.Done():
			return ChargeResult{}, ctx.Err()
		case <-time.After(delay):
		}
	}

	if roll < rate {
		reason := declineReason(method.Type)
		s.log.Info("charge declined",
			zap.String("method_type", string(method.Type)),
			zap.String("gateway_order_id", orderID),
			zap.String("reason", reason),
		)
		return ChargeResult{
			Success:        false,
			GatewayOrderID: orderID,
			FailureReason:  reason,
		}, nil
	}

	s.log.Info("charge captured",
		zap.String("method_type", string(method.Type)),
		zap.String("gateway_order_id", orderID),
		zap.String("gateway_payment_id", paymentID),
		zap.String("amount", amount.String()),
	)
	return ChargeResult{
		Success:          true,
		GatewayOrderID:   orderID,
		GatewayPaymentID: paymentID,
	}, nil
}

func (s *Simulator) latency(policy config.LatencyPolicy) time.Duration {
	if policy.MaxMillis <= 0 {
		return 0
	}
	min := policy.MinMillis
	if min < 0 {
		min = 0
	}
	span := policy.MaxMillis - min
	if span <= 0 {
		return time.Duration(min) * time.Millisecond
	}
	s.mu.Lock()
	jitter := s.rand.Intn(span)
	s.mu.Unlock()
	return time.Duration(min+jitter) * time.Millisecond
}

func declineReason(methodType paymentmethoddomain.MethodType) string {
	switch methodType {
	case paymentmethoddomain.MethodCard:
		return "card_declined"
	case paymentmethoddomain.MethodUPI:
		return "upi_collect_expired"
	case paymentmethoddomain.MethodNetbanking:
		return "bank_gateway_timeout"
	case paymentmethoddomain.MethodWallet:
		return "insufficient_wallet_funds"
	default:
		return "payment_declined"
	}
}
