package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/vetclinic/internal/payment/domain"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// HandleStripeWebhook answers 400 only when the signature cannot be
// verified. Everything else is acknowledged so Stripe stops retrying.
func (s *Server) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	err = s.webhooks.Ingest(c.Request.Context(), "stripe", payload, c.Request.Header)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrInvalidSignature) {
			AbortWithError(c, err)
			return
		}
		s.log.Error("webhook ingest failed", zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
