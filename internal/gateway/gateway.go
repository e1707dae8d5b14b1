// Package gateway defines the payment gateway contract and its simulator.
package gateway

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	paymentmethoddomain "github.com/invoza/invoza/internal/paymentmethod/domain"
)

// ChargeResult is the synchronous outcome of a charge attempt. A declined
// charge is a result, not an error; errors mean the attempt itself failed.
type ChargeResult struct {
	Success          bool
	GatewayOrderID   string
	GatewayPaymentID string
	FailureReason    string
}

// Adapter is the boundary to the payment gateway. Implementations must be
// side-effect free with respect to local state.
type Adapter interface {
	AttemptCharge(ctx context.Context, method paymentmethoddomain.PaymentMethod, amount decimal.Decimal) (ChargeResult, error)
}

var ErrGatewayUnavailable = errors.New("gateway_unavailable")
