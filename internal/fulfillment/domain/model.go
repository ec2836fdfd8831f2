package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Attempt is one execution of an order against the economy API and its
// durable ledger projection. AttemptID derives deterministically from the
// gateway event id; the unique index on it is what makes redeliveries
// idempotent. Records are append-only: corrections are new records, never
// updates beyond the single pending→terminal transition.
type Attempt struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	AttemptID string       `json:"attempt_id" gorm:"type:text;not null;uniqueIndex:ux_fulfillment_attempts_attempt_id"`
	Provider  string       `json:"provider" gorm:"type:text;not null"`
	EventID   string       `json:"event_id" gorm:"type:text;not null"`

	Buyer   string `json:"buyer" gorm:"type:text;not null;index"`
	BuyerID int64  `json:"buyer_id"`
	Amount  int64  `json:"amount" gorm:"not null"`
	Kind    string `json:"kind" gorm:"type:text;not null"`
	Target  int64  `json:"target"`

	AmountPaid int64  `json:"amount_paid"`
	Currency   string `json:"currency" gorm:"type:text"`
	Method     string `json:"method" gorm:"type:text"`

	Status       Status `json:"status" gorm:"type:text;not null"`
	ErrorDetail  string `json:"error_detail" gorm:"type:text"`
	BalanceDelta int64  `json:"balance_delta"`

	CreatedAt time.Time  `json:"created_at" gorm:"not null"`
	SettledAt *time.Time `json:"settled_at"`
}

func (Attempt) TableName() string { return "fulfillment_attempts" }

// Executor performs the economy API actions behind a fulfillment.
type Executor interface {
	GroupPayout(ctx context.Context, recipientID int64, amount int64) error
	BuyProduct(ctx context.Context, productID int64, expectedPrice int64) error
	GroupFunds(ctx context.Context) (int64, error)
}

// Repository is the append-only purchase ledger.
type Repository interface {
	InsertAttempt(ctx context.Context, db *gorm.DB, attempt *Attempt) (bool, error)
	FindAttempt(ctx context.Context, db *gorm.DB, attemptID string) (*Attempt, error)
	MarkOutcome(ctx context.Context, db *gorm.DB, id snowflake.ID, status Status, errorDetail string, balanceDelta int64, settledAt time.Time) error
	QueryByBuyer(ctx context.Context, db *gorm.DB, buyer string) ([]Attempt, error)
}
