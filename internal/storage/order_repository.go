package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	apperrors "github.com/magickw/linkDAO-sub011/internal/errors"
	"github.com/magickw/linkDAO-sub011/internal/models"
	"github.com/magickw/linkDAO-sub011/internal/types"
)

const orderColumns = `id, session_id, user_id, payment_path, status, method_type, amount_usd,
		transaction_id, failure_reason, created_at, updated_at,
		paid_at, shipped_at, delivered_at, completed_at, cancelled_at, failed_at, disputed_at`

// milestoneColumns maps a status to the timestamp column stamped when the
// order first reaches it. COALESCE keeps the first value on replays.
var milestoneColumns = map[types.OrderStatus]string{
	types.OrderPaid:      "paid_at",
	types.OrderShipped:   "shipped_at",
	types.OrderDelivered: "delivered_at",
	types.OrderCompleted: "completed_at",
	types.OrderCancelled: "cancelled_at",
	types.OrderFailed:    "failed_at",
	types.OrderDisputed:  "disputed_at",
}

// OrderRepository handles order persistence. Status mutations are
// compare-and-swap: the UPDATE carries the allowed source statuses, so a
// lost race affects zero rows instead of clobbering a concurrent winner.
type OrderRepository struct {
	db *PostgresDB
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db *PostgresDB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts a new order row
func (r *OrderRepository) Create(ctx context.Context, order *models.Order) error {
	if order.ID == "" {
		order.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	order.CreatedAt = now
	order.UpdatedAt = now
	if order.Status == "" {
		order.Status = types.OrderCreated
	}

	query := `
		INSERT INTO orders (id, session_id, user_id, payment_path, status, method_type, amount_usd, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		order.ID,
		order.SessionID,
		order.UserID,
		order.PaymentPath,
		order.Status,
		order.MethodType,
		order.AmountUSD,
		order.CreatedAt,
		order.UpdatedAt,
	)

	if err != nil {
		return apperrors.NewDatabaseError("create order", err)
	}

	return nil
}

// GetByID retrieves an order by ID
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	query := fmt.Sprintf(`SELECT %s FROM orders WHERE id = $1`, orderColumns)
	return r.scanOne(ctx, query, id)
}

// GetBySessionID retrieves the order created for a checkout session
func (r *OrderRepository) GetBySessionID(ctx context.Context, sessionID string) (*models.Order, error) {
	query := fmt.Sprintf(`SELECT %s FROM orders WHERE session_id = $1 ORDER BY created_at DESC LIMIT 1`, orderColumns)
	return r.scanOne(ctx, query, sessionID)
}

func (r *OrderRepository) scanOne(ctx context.Context, query string, arg interface{}) (*models.Order, error) {
	var order models.Order

	err := r.db.Pool().QueryRow(ctx, query, arg).Scan(
		&order.ID,
		&order.SessionID,
		&order.UserID,
		&order.PaymentPath,
		&order.Status,
		&order.MethodType,
		&order.AmountUSD,
		&order.TransactionID,
		&order.FailureReason,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.PaidAt,
		&order.ShippedAt,
		&order.DeliveredAt,
		&order.CompletedAt,
		&order.CancelledAt,
		&order.FailedAt,
		&order.DisputedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("order", fmt.Sprintf("%v", arg))
		}
		return nil, apperrors.NewDatabaseError("get order", err)
	}

	return &order, nil
}

// UpdateStatus moves an order to a new status if and only if its current
// status is one of the allowed source statuses. Returns false when the
// guard did not match (another writer won, or the caller's view is stale).
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, from []types.OrderStatus, to types.OrderStatus) (bool, error) {
	now := time.Now().UTC()

	query := `UPDATE orders SET status = $2, updated_at = $3`
	if col, ok := milestoneColumns[to]; ok {
		query += fmt.Sprintf(", %s = COALESCE(%s, $3)", col, col)
	}
	query += ` WHERE id = $1 AND status = ANY($4)`

	result, err := r.db.Pool().Exec(ctx, query, orderID, to, now, statusStrings(from))
	if err != nil {
		return false, apperrors.NewDatabaseError("update order status", err)
	}

	return result.RowsAffected() > 0, nil
}

// BeginProcessing claims the order for settlement, recording the chosen
// method and rail in the same statement that moves it to processing. Only
// one caller can win the created/pending -> processing transition.
func (r *OrderRepository) BeginProcessing(ctx context.Context, orderID string, method types.MethodType, path types.PaymentPath) (bool, error) {
	query := `
		UPDATE orders
		SET status = $2, method_type = $3, payment_path = $4, updated_at = $5
		WHERE id = $1 AND status = ANY($6)
	`

	from := statusStrings([]types.OrderStatus{types.OrderCreated, types.OrderPending})
	result, err := r.db.Pool().Exec(ctx, query,
		orderID, types.OrderProcessing, method, path, time.Now().UTC(), from)
	if err != nil {
		return false, apperrors.NewDatabaseError("begin processing", err)
	}

	return result.RowsAffected() > 0, nil
}

// SetTransactionID records the backend transaction for an order still in
// flight, so the reconciler can probe it if confirmation never arrives.
func (r *OrderRepository) SetTransactionID(ctx context.Context, orderID, transactionID string) error {
	query := `UPDATE orders SET transaction_id = $2, updated_at = $3 WHERE id = $1`

	_, err := r.db.Pool().Exec(ctx, query, orderID, transactionID, time.Now().UTC())
	if err != nil {
		return apperrors.NewDatabaseError("set transaction id", err)
	}

	return nil
}

// MarkPaid records a successful settlement: processing -> paid with the
// backend transaction ID captured in the same statement.
func (r *OrderRepository) MarkPaid(ctx context.Context, orderID, transactionID string) (bool, error) {
	now := time.Now().UTC()

	query := `
		UPDATE orders
		SET status = $2, transaction_id = $3, updated_at = $4, paid_at = COALESCE(paid_at, $4)
		WHERE id = $1 AND status = ANY($5)
	`

	result, err := r.db.Pool().Exec(ctx, query,
		orderID,
		types.OrderPaid,
		transactionID,
		now,
		statusStrings([]types.OrderStatus{types.OrderProcessing}),
	)
	if err != nil {
		return false, apperrors.NewDatabaseError("mark order paid", err)
	}

	return result.RowsAffected() > 0, nil
}

// MarkFailed records a failed settlement with a human-readable reason
func (r *OrderRepository) MarkFailed(ctx context.Context, orderID string, from []types.OrderStatus, reason string) (bool, error) {
	now := time.Now().UTC()

	query := `
		UPDATE orders
		SET status = $2, failure_reason = $3, updated_at = $4, failed_at = COALESCE(failed_at, $4)
		WHERE id = $1 AND status = ANY($5)
	`

	result, err := r.db.Pool().Exec(ctx, query,
		orderID,
		types.OrderFailed,
		reason,
		now,
		statusStrings(from),
	)
	if err != nil {
		return false, apperrors.NewDatabaseError("mark order failed", err)
	}

	return result.RowsAffected() > 0, nil
}

// ListStuck returns orders sitting in the given status for longer than the
// threshold. The reconciler sweeps these to resolve ambiguous outcomes.
func (r *OrderRepository) ListStuck(ctx context.Context, status types.OrderStatus, stuckFor time.Duration, limit int) ([]*models.Order, error) {
	cutoff := time.Now().UTC().Add(-stuckFor)

	query := fmt.Sprintf(`
		SELECT %s FROM orders
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`, orderColumns)

	rows, err := r.db.Pool().Query(ctx, query, status, cutoff, limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list stuck orders", err)
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		var order models.Order
		err := rows.Scan(
			&order.ID,
			&order.SessionID,
			&order.UserID,
			&order.PaymentPath,
			&order.Status,
			&order.MethodType,
			&order.AmountUSD,
			&order.TransactionID,
			&order.FailureReason,
			&order.CreatedAt,
			&order.UpdatedAt,
			&order.PaidAt,
			&order.ShippedAt,
			&order.DeliveredAt,
			&order.CompletedAt,
			&order.CancelledAt,
			&order.FailedAt,
			&order.DisputedAt,
		)
		if err != nil {
			return nil, apperrors.NewDatabaseError("scan stuck order", err)
		}
		orders = append(orders, &order)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("iterate stuck orders", err)
	}

	return orders, nil
}

func statusStrings(statuses []types.OrderStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
