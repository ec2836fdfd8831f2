package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bloxmart/bloxmart/internal/config"
	"github.com/bloxmart/bloxmart/internal/fulfillment/domain"
	gatewaydomain "github.com/bloxmart/bloxmart/internal/gateway/domain"
	gatewayservice "github.com/bloxmart/bloxmart/internal/gateway/service"
	"github.com/bloxmart/bloxmart/internal/metrics"
	orderdomain "github.com/bloxmart/bloxmart/internal/order/domain"
	orderservice "github.com/bloxmart/bloxmart/internal/order/service"
	"github.com/bloxmart/bloxmart/internal/providers/ops"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Cfg        config.Config
	GatewaySvc *gatewayservice.Service
	Decoder    *orderservice.Service
	Exec       domain.Executor
	Repo       domain.Repository
	Ops        ops.Provider     `optional:"true"`
	Metrics    *metrics.Metrics `optional:"true"`
}

// Service sequences one webhook delivery through
// authenticate → decode → execute → log. Financial capture is final by the
// time a notification arrives: every failure past authentication is absorbed
// into a failed ledger record and the gateway still gets a success
// acknowledgement.
type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	cfg        config.Config
	gatewaySvc *gatewayservice.Service
	decoder    *orderservice.Service
	exec       domain.Executor
	repo       domain.Repository
	ops        ops.Provider
	metrics    *metrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("fulfillment.service"),
		genID:      p.GenID,
		cfg:        p.Cfg,
		gatewaySvc: p.GatewaySvc,
		decoder:    p.Decoder,
		exec:       p.Exec,
		repo:       p.Repo,
		ops:        p.Ops,
		metrics:    p.Metrics,
	}
}

// Reconcile handles one delivery end to end. A non-nil return means the
// notification could not be authenticated and the gateway should redeliver;
// every other outcome acknowledges receipt.
func (s *Service) Reconcile(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	notice, err := s.gatewaySvc.Authenticate(ctx, provider, payload, headers)
	if err != nil {
		switch {
		case errors.Is(err, gatewaydomain.ErrEventIgnored):
			return nil
		case errors.Is(err, gatewaydomain.ErrInvalidPayload),
			errors.Is(err, gatewaydomain.ErrInvalidEvent):
			// Authentic but unreadable: record and acknowledge so the gateway
			// does not redeliver forever.
			s.recordUnreadable(ctx, provider, err)
			return nil
		default:
			return err
		}
	}

	attemptID := notice.Provider + ":" + notice.EventID

	order, derr := s.decoder.Decode(ctx, notice)
	if derr != nil {
		if orderdomain.IsMalformed(derr) {
			s.recordMalformed(ctx, attemptID, notice, derr)
			return nil
		}
		return derr
	}

	attempt := s.newAttempt(attemptID, notice, order)
	inserted, err := s.repo.InsertAttempt(ctx, s.db, attempt)
	if err != nil {
		s.escalateLedger(ctx, attemptID, err)
		return nil
	}
	if !inserted {
		// Redelivery. The first delivery owns execution; never run the
		// economy action twice for one event.
		existing, ferr := s.repo.FindAttempt(ctx, s.db, attemptID)
		if ferr == nil && existing != nil {
			s.log.Info("duplicate webhook delivery",
				zap.String("attempt_id", attemptID),
				zap.String("status", string(existing.Status)),
			)
		}
		return nil
	}

	started := time.Now()
	status, detail, delta := s.execute(ctx, order)
	if s.metrics != nil {
		s.metrics.ExecuteDuration.Observe(time.Since(started).Seconds())
	}

	if err := s.repo.MarkOutcome(ctx, s.db, attempt.ID, status, detail, delta, time.Now().UTC()); err != nil {
		s.escalateLedger(ctx, attemptID, err)
	}

	s.recordMetrics(string(order.Kind), status)
	s.notify(ctx, attemptID, notice, order, status, detail)
	return nil
}

// History returns the buyer's ledger records in insertion order. The match on
// buyer identity is case-insensitive and exact.
func (s *Service) History(ctx context.Context, buyer string) ([]domain.Attempt, error) {
	return s.repo.QueryByBuyer(ctx, s.db, buyer)
}

func (s *Service) execute(ctx context.Context, order *orderdomain.Order) (domain.Status, string, int64) {
	switch order.Kind {
	case orderdomain.KindPayout:
		return s.executePayout(ctx, order)
	case orderdomain.KindPurchase:
		if err := s.exec.BuyProduct(ctx, order.ProductID, order.ItemPrice); err != nil {
			return domain.StatusFailed, err.Error(), 0
		}
		return domain.StatusSucceeded, "", 0
	default:
		return domain.StatusFailed, orderdomain.ErrUnknownKind.Error(), 0
	}
}

// executePayout runs the payout and, when the balance is readable, verifies
// the effect by diffing group funds around the call. A reported success with
// no observable movement is downgraded to failed; failures to merely read the
// balance leave the executor's result standing.
func (s *Service) executePayout(ctx context.Context, order *orderdomain.Order) (domain.Status, string, int64) {
	before, beforeErr := s.exec.GroupFunds(ctx)
	if beforeErr != nil {
		s.log.Warn("balance read failed before payout", zap.Error(beforeErr))
	}

	if err := s.exec.GroupPayout(ctx, order.RecipientID, order.Amount); err != nil {
		return domain.StatusFailed, err.Error(), 0
	}
	if beforeErr != nil {
		return domain.StatusSucceeded, "", 0
	}

	s.settle(ctx)

	after, afterErr := s.exec.GroupFunds(ctx)
	if afterErr != nil {
		s.log.Warn("balance read failed after payout", zap.Error(afterErr))
		return domain.StatusSucceeded, "", 0
	}

	delta := before - after
	if delta == 0 {
		return domain.StatusFailed, "no observable effect", 0
	}
	return domain.StatusSucceeded, "", delta
}

func (s *Service) settle(ctx context.Context) {
	if s.cfg.SettleDelay <= 0 {
		return
	}
	timer := time.NewTimer(s.cfg.SettleDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (s *Service) newAttempt(attemptID string, notice *gatewaydomain.Notice, order *orderdomain.Order) *domain.Attempt {
	attempt := &domain.Attempt{
		ID:         s.genID.Generate(),
		AttemptID:  attemptID,
		Provider:   notice.Provider,
		EventID:    notice.EventID,
		AmountPaid: notice.AmountPaid,
		Currency:   notice.Currency,
		Method:     notice.Method,
		Status:     domain.StatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	if order != nil {
		attempt.Buyer = order.Buyer
		attempt.BuyerID = order.BuyerID
		attempt.Amount = order.Amount
		attempt.Kind = string(order.Kind)
		switch order.Kind {
		case orderdomain.KindPayout:
			attempt.Target = order.RecipientID
		case orderdomain.KindPurchase:
			attempt.Target = order.ProductID
		}
	}
	return attempt
}

func (s *Service) recordMalformed(ctx context.Context, attemptID string, notice *gatewaydomain.Notice, derr error) {
	attempt := s.newAttempt(attemptID, notice, nil)
	attempt.Buyer = notice.Metadata["username"]
	attempt.Kind = notice.Metadata["kind"]
	attempt.Status = domain.StatusFailed
	attempt.ErrorDetail = derr.Error()
	now := time.Now().UTC()
	attempt.SettledAt = &now

	if _, err := s.repo.InsertAttempt(ctx, s.db, attempt); err != nil {
		s.escalateLedger(ctx, attemptID, err)
		return
	}

	s.recordMetrics(attempt.Kind, domain.StatusFailed)
	s.notify(ctx, attemptID, notice, nil, domain.StatusFailed, attempt.ErrorDetail)
}

func (s *Service) recordUnreadable(ctx context.Context, provider string, perr error) {
	attempt := &domain.Attempt{
		ID:        s.genID.Generate(),
		AttemptID: fmt.Sprintf("%s:unreadable:%s", provider, s.genID.Generate()),
		Provider:  provider,
		Status:    domain.StatusFailed,
		CreatedAt: time.Now().UTC(),
	}
	attempt.ErrorDetail = perr.Error()
	now := attempt.CreatedAt
	attempt.SettledAt = &now

	if _, err := s.repo.InsertAttempt(ctx, s.db, attempt); err != nil {
		s.escalateLedger(ctx, attempt.AttemptID, err)
	}
}

func (s *Service) escalateLedger(ctx context.Context, attemptID string, err error) {
	s.log.Error("ledger write failed",
		zap.String("attempt_id", attemptID),
		zap.Error(err),
	)
	if s.ops == nil {
		return
	}
	message := fmt.Sprintf("LEDGER WRITE FAILED for %s: %v (manual reconciliation required)", attemptID, err)
	if perr := s.ops.PostMessage(ctx, message); perr != nil {
		s.log.Warn("ops escalation failed", zap.Error(perr))
	}
}

func (s *Service) recordMetrics(kind string, status domain.Status) {
	if s.metrics == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	s.metrics.Fulfillments.WithLabelValues(kind, string(status)).Inc()
}

func (s *Service) notify(ctx context.Context, attemptID string, notice *gatewaydomain.Notice, order *orderdomain.Order, status domain.Status, detail string) {
	if s.ops == nil {
		return
	}

	var message string
	switch status {
	case domain.StatusSucceeded:
		message = fmt.Sprintf("fulfilled %s: %d for %s via %s", attemptID, order.Amount, order.Buyer, notice.Method)
	default:
		buyer := "unknown"
		if order != nil {
			buyer = order.Buyer
		} else if name := notice.Metadata["username"]; name != "" {
			buyer = name
		}
		message = fmt.Sprintf("fulfillment FAILED %s for %s: %s", attemptID, buyer, detail)
	}

	if err := s.ops.PostMessage(ctx, message); err != nil {
		s.log.Warn("ops notification failed", zap.Error(err))
	}
}
