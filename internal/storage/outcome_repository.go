package storage

import (
	"context"
	"time"

	apperrors "github.com/magickw/linkDAO-sub011/internal/errors"
	"github.com/magickw/linkDAO-sub011/internal/models"
)

// OutcomeRepository appends settlement outcomes to ClickHouse. Rows are
// write-once; the health monitor aggregates them for failure-rate alerts.
type OutcomeRepository struct {
	db *ClickHouseDB
}

// NewOutcomeRepository creates a new outcome repository
func NewOutcomeRepository(db *ClickHouseDB) *OutcomeRepository {
	return &OutcomeRepository{db: db}
}

// Insert appends one settlement outcome
func (r *OutcomeRepository) Insert(ctx context.Context, outcome *models.OrderOutcome) error {
	if outcome.Timestamp.IsZero() {
		outcome.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO order_outcomes (ts, order_id, payment_path, status, failure_reason)
		VALUES (?, ?, ?, ?, ?)
	`

	err := r.db.Exec(ctx, query,
		outcome.Timestamp,
		outcome.OrderID,
		string(outcome.PaymentPath),
		string(outcome.Status),
		outcome.FailureReason,
	)
	if err != nil {
		return apperrors.NewDatabaseError("insert order outcome", err)
	}

	return nil
}

// FailureSince returns the failed and total settlement counts since the
// given instant.
func (r *OutcomeRepository) FailureSince(ctx context.Context, since time.Time) (failed, total uint64, err error) {
	query := `
		SELECT countIf(status = 'failed'), count()
		FROM order_outcomes
		WHERE ts >= ?
	`

	row := r.db.Conn().QueryRow(ctx, query, since)
	if err := row.Scan(&failed, &total); err != nil {
		return 0, 0, apperrors.NewDatabaseError("count order outcomes", err)
	}

	return failed, total, nil
}
