package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	billingdomain "github.com/invoza/invoza/internal/billing/domain"
	paymentmethoddomain "github.com/invoza/invoza/internal/paymentmethod/domain"
	plandomain "github.com/invoza/invoza/internal/plan/domain"
	subscriptiondomain "github.com/invoza/invoza/internal/subscription/domain"
	transactiondomain "github.com/invoza/invoza/internal/transaction/domain"
	userdomain "github.com/invoza/invoza/internal/user/domain"
	webhookdomain "github.com/invoza/invoza/internal/webhook/domain"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, userdomain.ErrInvalidToken):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: err.Error(),
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, transactiondomain.ErrInvalidAmount),
		errors.Is(err, transactiondomain.ErrInvalidType),
		errors.Is(err, billingdomain.ErrMissingSubscription),
		errors.Is(err, billingdomain.ErrInvalidPaymentMethod),
		errors.Is(err, plandomain.ErrPlanInactive),
		errors.Is(err, subscriptiondomain.ErrPaidPlanRequiresPayment),
		errors.Is(err, subscriptiondomain.ErrAlreadyOnPlan),
		errors.Is(err, subscriptiondomain.ErrSubscriptionInactive),
		errors.Is(err, subscriptiondomain.ErrFreePlanNotBillable),
		errors.Is(err, webhookdomain.ErrInvalidSignature):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, transactiondomain.ErrTransactionNotFound),
		errors.Is(err, paymentmethoddomain.ErrPaymentMethodNotFound),
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound),
		errors.Is(err, plandomain.ErrPlanNotFound),
		errors.Is(err, userdomain.ErrUserNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}
