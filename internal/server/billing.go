package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	billingdomain "github.com/invoza/invoza/internal/billing/domain"
	transactiondomain "github.com/invoza/invoza/internal/transaction/domain"
)

type processPaymentResponse struct {
	Success     bool                           `json:"success"`
	Message     string                         `json:"message"`
	Transaction *transactiondomain.Transaction `json:"transaction"`
}

func (s *Server) HandleProcessPayment(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req billingdomain.ProcessPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	txn, err := s.billingSvc.ProcessPayment(c.Request.Context(), user.ID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if txn.Status == transactiondomain.StatusFailed {
		message := "payment declined"
		if txn.FailureReason != nil && *txn.FailureReason != "" {
			message = *txn.FailureReason
		}
		c.JSON(http.StatusBadRequest, processPaymentResponse{
			Success:     false,
			Message:     message,
			Transaction: txn,
		})
		return
	}

	c.JSON(http.StatusOK, processPaymentResponse{
		Success:     true,
		Message:     "payment processed",
		Transaction: txn,
	})
}

func (s *Server) HandleGetTransaction(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	idOrReference := strings.TrimSpace(c.Query("transaction_id"))
	if idOrReference == "" {
		idOrReference = strings.TrimSpace(c.Query("reference"))
	}
	if idOrReference == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	txn, err := s.billingSvc.GetTransaction(c.Request.Context(), user.ID, idOrReference)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": txn})
}

func (s *Server) HandleGetBillingHistory(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	history, err := s.billingSvc.GetBillingHistory(c.Request.Context(), user.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"history": history})
}

func (s *Server) HandleGetWallet(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	balance, err := s.billingSvc.GetWalletBalance(c.Request.Context(), user.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"wallet_balance": balance})
}
