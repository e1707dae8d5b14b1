package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	signatureHeader = "X-Razorpay-Signature"
	eventIDHeader   = "X-Razorpay-Event-Id"
)

// HandleRazorpayWebhook acknowledges any delivery whose signature verifies.
// Per-event failures are logged server-side; a non-2xx would only make the
// gateway redeliver an event we already recorded.
func (s *Server) HandleRazorpayWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	err = s.webhookSvc.HandleEvent(
		c.Request.Context(),
		body,
		c.GetHeader(signatureHeader),
		c.GetHeader(eventIDHeader),
	)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}
