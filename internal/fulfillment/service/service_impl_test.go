package service_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bloxmart/bloxmart/internal/config"
	fulfillmentdomain "github.com/bloxmart/bloxmart/internal/fulfillment/domain"
	fulfillmentrepo "github.com/bloxmart/bloxmart/internal/fulfillment/repository"
	fulfillmentservice "github.com/bloxmart/bloxmart/internal/fulfillment/service"
	"github.com/bloxmart/bloxmart/internal/gateway/adapters"
	"github.com/bloxmart/bloxmart/internal/gateway/adapters/stripe"
	gatewaydomain "github.com/bloxmart/bloxmart/internal/gateway/domain"
	gatewayservice "github.com/bloxmart/bloxmart/internal/gateway/service"
	orderservice "github.com/bloxmart/bloxmart/internal/order/service"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const stripeSecret = "whsec_test"

type fakeExecutor struct {
	mu       sync.Mutex
	funds    int64
	noEffect bool

	payoutErr error
	buyErr    error
	fundsErr  error

	payouts []int64
	buys    []int64
}

func (f *fakeExecutor) GroupPayout(ctx context.Context, recipientID int64, amount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.payoutErr != nil {
		return f.payoutErr
	}
	f.payouts = append(f.payouts, amount)
	if !f.noEffect {
		f.funds -= amount
	}
	return nil
}

func (f *fakeExecutor) BuyProduct(ctx context.Context, productID int64, expectedPrice int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buyErr != nil {
		return f.buyErr
	}
	f.buys = append(f.buys, productID)
	return nil
}

func (f *fakeExecutor) GroupFunds(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fundsErr != nil {
		return 0, f.fundsErr
	}
	return f.funds, nil
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&fulfillmentdomain.Attempt{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newFulfillmentService(t *testing.T, db *gorm.DB, exec fulfillmentdomain.Executor, cfg config.Config) *fulfillmentservice.Service {
	t.Helper()

	node, err := snowflake.NewNode(7)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	gatewaySvc := gatewayservice.NewService(gatewayservice.Params{
		Log:      zap.NewNop(),
		Cfg:      cfg,
		Adapters: adapters.NewRegistry(stripe.NewFactory()),
	})
	decoder := orderservice.NewService(orderservice.Params{
		Log: zap.NewNop(),
		Cfg: cfg,
	})

	return fulfillmentservice.NewService(fulfillmentservice.Params{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Cfg:        cfg,
		GatewaySvc: gatewaySvc,
		Decoder:    decoder,
		Exec:       exec,
		Repo:       fulfillmentrepo.Provide(),
	})
}

func testConfig() config.Config {
	return config.Config{
		StripeWebhookSecret: stripeSecret,
		MinOrderAmount:      100,
	}
}

func payoutPayload(eventID string, amount int64) []byte {
	created := time.Now().UTC().Unix()
	return []byte(fmt.Sprintf(
		`{"id":"%s","type":"checkout.session.completed","created":%d,"data":{"object":{"id":"cs_%s","amount_total":350,"currency":"usd","payment_status":"paid","created":%d,"metadata":{"username":"Builderman","amount":%d,"user_id":"156","kind":"payout"}}}}`,
		eventID, created, eventID, created, amount,
	))
}

func signedHeader(payload []byte) http.Header {
	headers := http.Header{}
	headers.Set("Stripe-Signature", buildStripeSignatureHeader(stripeSecret, payload, time.Now().Unix()))
	return headers
}

func findAttempt(t *testing.T, db *gorm.DB, attemptID string) *fulfillmentdomain.Attempt {
	t.Helper()

	attempt, err := fulfillmentrepo.Provide().FindAttempt(context.Background(), db, attemptID)
	if err != nil {
		t.Fatalf("find attempt: %v", err)
	}
	if attempt == nil {
		t.Fatalf("expected attempt %s to exist", attemptID)
	}
	return attempt
}

func TestReconcilePayoutSucceeds(t *testing.T) {
	db := setupTestDB(t)
	exec := &fakeExecutor{funds: 5000}
	svc := newFulfillmentService(t, db, exec, testConfig())

	payload := payoutPayload("evt_ok", 150)
	if err := svc.Reconcile(context.Background(), "stripe", payload, signedHeader(payload)); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if len(exec.payouts) != 1 || exec.payouts[0] != 150 {
		t.Fatalf("expected one payout of 150, got %v", exec.payouts)
	}

	attempt := findAttempt(t, db, "stripe:evt_ok")
	if attempt.Status != fulfillmentdomain.StatusSucceeded {
		t.Fatalf("expected succeeded, got %s (%s)", attempt.Status, attempt.ErrorDetail)
	}
	if attempt.BalanceDelta != 150 {
		t.Fatalf("expected balance delta 150, got %d", attempt.BalanceDelta)
	}
	if attempt.SettledAt == nil {
		t.Fatalf("expected settled timestamp")
	}
}

func TestReconcileRejectsBadSignature(t *testing.T) {
	db := setupTestDB(t)
	exec := &fakeExecutor{funds: 5000}
	svc := newFulfillmentService(t, db, exec, testConfig())

	payload := payoutPayload("evt_bad_sig", 150)
	headers := http.Header{}
	headers.Set("Stripe-Signature", buildStripeSignatureHeader("wrong", payload, time.Now().Unix()))

	err := svc.Reconcile(context.Background(), "stripe", payload, headers)
	if !errors.Is(err, gatewaydomain.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}

	if len(exec.payouts) != 0 {
		t.Fatalf("expected no payouts, got %v", exec.payouts)
	}
	var count int64
	if err := db.Model(&fulfillmentdomain.Attempt{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no ledger records, got %d", count)
	}
}

func TestReconcileRecordsMalformedOrder(t *testing.T) {
	db := setupTestDB(t)
	exec := &fakeExecutor{funds: 5000}
	svc := newFulfillmentService(t, db, exec, testConfig())

	// Below the configured minimum; never reaches the executor.
	payload := payoutPayload("evt_small", 50)
	if err := svc.Reconcile(context.Background(), "stripe", payload, signedHeader(payload)); err != nil {
		t.Fatalf("expected malformed order to be acknowledged, got %v", err)
	}

	if len(exec.payouts) != 0 {
		t.Fatalf("expected no payouts, got %v", exec.payouts)
	}

	attempt := findAttempt(t, db, "stripe:evt_small")
	if attempt.Status != fulfillmentdomain.StatusFailed {
		t.Fatalf("expected failed, got %s", attempt.Status)
	}
	if attempt.ErrorDetail == "" {
		t.Fatalf("expected failure reason")
	}
	if attempt.Buyer != "Builderman" {
		t.Fatalf("expected buyer from metadata, got %q", attempt.Buyer)
	}
}

func TestReconcileRedeliveryRunsOnce(t *testing.T) {
	db := setupTestDB(t)
	exec := &fakeExecutor{funds: 5000}
	svc := newFulfillmentService(t, db, exec, testConfig())

	payload := payoutPayload("evt_dup", 150)
	headers := signedHeader(payload)

	for i := 0; i < 3; i++ {
		if err := svc.Reconcile(context.Background(), "stripe", payload, headers); err != nil {
			t.Fatalf("reconcile %d: %v", i, err)
		}
	}

	if len(exec.payouts) != 1 {
		t.Fatalf("expected the payout to run once, got %d", len(exec.payouts))
	}
	var count int64
	if err := db.Model(&fulfillmentdomain.Attempt{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one ledger record, got %d", count)
	}
}

func TestReconcileFailedAttemptNotRetriedOnRedelivery(t *testing.T) {
	db := setupTestDB(t)
	exec := &fakeExecutor{funds: 5000, payoutErr: errors.New("payout rejected")}
	svc := newFulfillmentService(t, db, exec, testConfig())

	payload := payoutPayload("evt_failed", 150)
	headers := signedHeader(payload)

	if err := svc.Reconcile(context.Background(), "stripe", payload, headers); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	attempt := findAttempt(t, db, "stripe:evt_failed")
	if attempt.Status != fulfillmentdomain.StatusFailed {
		t.Fatalf("expected failed, got %s", attempt.Status)
	}

	// Redelivery of an already-failed event acknowledges without re-executing.
	exec.payoutErr = nil
	if err := svc.Reconcile(context.Background(), "stripe", payload, headers); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if len(exec.payouts) != 0 {
		t.Fatalf("expected no payout on redelivery, got %v", exec.payouts)
	}
}

func TestReconcilePayoutWithoutObservableEffect(t *testing.T) {
	db := setupTestDB(t)
	exec := &fakeExecutor{funds: 5000, noEffect: true}
	svc := newFulfillmentService(t, db, exec, testConfig())

	payload := payoutPayload("evt_ghost", 150)
	if err := svc.Reconcile(context.Background(), "stripe", payload, signedHeader(payload)); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	attempt := findAttempt(t, db, "stripe:evt_ghost")
	if attempt.Status != fulfillmentdomain.StatusFailed {
		t.Fatalf("expected failed, got %s", attempt.Status)
	}
	if attempt.ErrorDetail != "no observable effect" {
		t.Fatalf("expected no observable effect, got %q", attempt.ErrorDetail)
	}
}

func TestReconcileUnreadableBalanceKeepsSuccess(t *testing.T) {
	db := setupTestDB(t)
	exec := &fakeExecutor{fundsErr: errors.New("balance unavailable")}
	svc := newFulfillmentService(t, db, exec, testConfig())

	payload := payoutPayload("evt_blind", 150)
	if err := svc.Reconcile(context.Background(), "stripe", payload, signedHeader(payload)); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	attempt := findAttempt(t, db, "stripe:evt_blind")
	if attempt.Status != fulfillmentdomain.StatusSucceeded {
		t.Fatalf("expected succeeded despite unreadable balance, got %s (%s)", attempt.Status, attempt.ErrorDetail)
	}
	if attempt.BalanceDelta != 0 {
		t.Fatalf("expected no recorded delta, got %d", attempt.BalanceDelta)
	}
}

func TestHistoryIsCaseInsensitive(t *testing.T) {
	db := setupTestDB(t)
	exec := &fakeExecutor{funds: 5000}
	svc := newFulfillmentService(t, db, exec, testConfig())

	first := payoutPayload("evt_hist_1", 150)
	if err := svc.Reconcile(context.Background(), "stripe", first, signedHeader(first)); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	second := payoutPayload("evt_hist_2", 200)
	if err := svc.Reconcile(context.Background(), "stripe", second, signedHeader(second)); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	items, err := svc.History(context.Background(), "bUiLdErMaN")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 records, got %d", len(items))
	}
	if items[0].Amount != 150 || items[1].Amount != 200 {
		t.Fatalf("expected insertion order, got %d then %d", items[0].Amount, items[1].Amount)
	}

	if !strings.EqualFold(items[0].Buyer, "Builderman") {
		t.Fatalf("unexpected buyer %q", items[0].Buyer)
	}
}

func TestReconcileIgnoresUnhandledEvents(t *testing.T) {
	db := setupTestDB(t)
	exec := &fakeExecutor{funds: 5000}
	svc := newFulfillmentService(t, db, exec, testConfig())

	payload := []byte(`{"id":"evt_other","type":"invoice.paid","data":{"object":{}}}`)
	if err := svc.Reconcile(context.Background(), "stripe", payload, signedHeader(payload)); err != nil {
		t.Fatalf("expected ignored event to acknowledge, got %v", err)
	}

	var count int64
	if err := db.Model(&fulfillmentdomain.Attempt{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no ledger records, got %d", count)
	}
}

func buildStripeSignatureHeader(secret string, payload []byte, timestamp int64) string {
	signedPayload := fmt.Sprintf("%d.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signedPayload))
	signature := hex.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, signature)
}
