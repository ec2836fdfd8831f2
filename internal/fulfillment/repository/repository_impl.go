package repository

import (
	"context"
	"time"

	"github.com/bloxmart/bloxmart/internal/fulfillment/domain"
	pkgdb "github.com/bloxmart/bloxmart/pkg/db"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// InsertAttempt is compare-and-insert on the attempt id: the delivery that
// wins the unique index owns execution, every other delivery observes false.
func (r *repo) InsertAttempt(ctx context.Context, db *gorm.DB, attempt *domain.Attempt) (bool, error) {
	err := db.WithContext(ctx).Create(attempt).Error
	if err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *repo) FindAttempt(ctx context.Context, db *gorm.DB, attemptID string) (*domain.Attempt, error) {
	var item domain.Attempt
	err := db.WithContext(ctx).Raw(
		`SELECT id, attempt_id, provider, event_id, buyer, buyer_id, amount, kind,
			target, amount_paid, currency, method, status, error_detail,
			balance_delta, created_at, settled_at
		 FROM fulfillment_attempts
		 WHERE attempt_id = ?
		 LIMIT 1`,
		attemptID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) MarkOutcome(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.Status, errorDetail string, balanceDelta int64, settledAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE fulfillment_attempts
		 SET status = ?, error_detail = ?, balance_delta = ?, settled_at = ?
		 WHERE id = ? AND status = ?`,
		status,
		errorDetail,
		balanceDelta,
		settledAt,
		id,
		domain.StatusPending,
	).Error
}

func (r *repo) QueryByBuyer(ctx context.Context, db *gorm.DB, buyer string) ([]domain.Attempt, error) {
	items := []domain.Attempt{}
	err := db.WithContext(ctx).Raw(
		`SELECT id, attempt_id, provider, event_id, buyer, buyer_id, amount, kind,
			target, amount_paid, currency, method, status, error_detail,
			balance_delta, created_at, settled_at
		 FROM fulfillment_attempts
		 WHERE LOWER(buyer) = LOWER(?)
		 ORDER BY id ASC`,
		buyer,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
