package server

import (
	"context"
	"errors"
	"math"
	"net/http"
	"time"

	economydomain "github.com/bloxmart/bloxmart/internal/economy/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type quoteRequest struct {
	Username string `json:"username"`
	Amount   int64  `json:"amount"`
}

type quoteResponse struct {
	UserID     int64   `json:"user_id"`
	Username   string  `json:"username"`
	Amount     int64   `json:"amount"`
	PriceCents int64   `json:"price_cents"`
	Price      float64 `json:"price"`
	Eligible   bool    `json:"eligible"`
	Reason     string  `json:"reason,omitempty"`
}

// GetQuote prices an order before checkout and reports whether the buyer's
// account clears the membership checks. The quoted price uses the configured
// rate per thousand, so the storefront and the decoder agree on the math.
func (s *Server) GetQuote(c *gin.Context) {
	var req quoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.Username == "" || req.Amount < s.cfg.MinOrderAmount {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()

	userID, err := s.economy.ResolveUser(ctx, req.Username)
	if err != nil {
		if errors.Is(err, economydomain.ErrUserNotFound) {
			AbortWithError(c, err)
			return
		}
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	resp := quoteResponse{
		UserID:     userID,
		Username:   req.Username,
		Amount:     req.Amount,
		PriceCents: priceCents(req.Amount, s.cfg.RatePerMille),
	}
	resp.Price = float64(resp.PriceCents) / 100

	resp.Eligible, resp.Reason = s.checkEligibility(ctx, userID)

	c.JSON(http.StatusOK, resp)
}

func (s *Server) checkEligibility(ctx context.Context, userID int64) (bool, string) {
	inGroup, err := s.economy.InGroup(ctx, userID)
	if err != nil {
		s.log.Warn("group membership check failed", zap.Error(err))
		return false, "membership check unavailable"
	}
	if !inGroup {
		return false, "not a group member"
	}

	created, err := s.economy.AccountCreated(ctx, userID)
	if err != nil {
		s.log.Warn("account age check failed", zap.Error(err))
		return false, "account age check unavailable"
	}
	minAge := time.Duration(s.cfg.MinMemberDays) * 24 * time.Hour
	if time.Since(created) < minAge {
		return false, "account too new"
	}

	return true, ""
}

func priceCents(amount int64, ratePerMille float64) int64 {
	return int64(math.Ceil(float64(amount) / 1000 * ratePerMille * 100))
}
