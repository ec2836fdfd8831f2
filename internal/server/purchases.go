package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

func (s *Server) ListPurchases(c *gin.Context) {
	buyer := strings.TrimSpace(c.Query("buyer"))
	if buyer == "" {
		AbortWithError(c, invalidRequestError())
		return
	}

	items, err := s.fulfillmentSvc.History(c.Request.Context(), buyer)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"purchases": items})
}
