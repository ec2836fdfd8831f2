package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

func (s *Server) HandleWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	err = s.fulfillmentSvc.Reconcile(c.Request.Context(), provider, payload, c.Request.Header)
	if err != nil {
		s.countDelivery(provider, "rejected")
		AbortWithError(c, err)
		return
	}

	s.countDelivery(provider, "accepted")
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) countDelivery(provider, outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.WebhookDeliveries.WithLabelValues(provider, outcome).Inc()
}
