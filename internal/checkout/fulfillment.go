package checkout

import (
	"context"
	"fmt"
	"sync"

	apperrors "github.com/magickw/linkDAO-sub011/internal/errors"
	"github.com/magickw/linkDAO-sub011/internal/models"
	"github.com/magickw/linkDAO-sub011/internal/types"
)

// CanMarkShipped reports whether a seller may mark the order shipped.
func CanMarkShipped(status types.OrderStatus) bool {
	return status == types.OrderPaid
}

// CanConfirmDelivery reports whether the buyer may confirm delivery.
func CanConfirmDelivery(status types.OrderStatus) bool {
	return status == types.OrderShipped
}

// CanReleaseFunds reports whether held funds may be released to the seller.
func CanReleaseFunds(status types.OrderStatus) bool {
	return status == types.OrderDelivered
}

// CanDispute reports whether the order may be disputed. Disputes are only
// meaningful once money has moved and before the order completes.
func CanDispute(status types.OrderStatus) bool {
	switch status {
	case types.OrderPaid, types.OrderShipped, types.OrderDelivered:
		return true
	default:
		return false
	}
}

// CanCancel reports whether the order may still be cancelled. Once
// settlement starts the order can only fail or pay, never cancel.
func CanCancel(status types.OrderStatus) bool {
	return status == types.OrderCreated || status == types.OrderPending
}

// MarkShipped moves a paid order to shipped.
func (o *Orchestrator) MarkShipped(ctx context.Context, orderID string) (*models.Order, error) {
	return o.transition(ctx, orderID, "mark_shipped",
		[]types.OrderStatus{types.OrderPaid}, types.OrderShipped)
}

// ConfirmDelivery moves a shipped order to delivered.
func (o *Orchestrator) ConfirmDelivery(ctx context.Context, orderID string) (*models.Order, error) {
	return o.transition(ctx, orderID, "confirm_delivery",
		[]types.OrderStatus{types.OrderShipped}, types.OrderDelivered)
}

// ReleaseFunds releases the held settlement to the seller and completes the
// order. The backend capture runs before the status flips so a capture
// failure leaves the order in delivered, where the action can be retried.
func (o *Orchestrator) ReleaseFunds(ctx context.Context, orderID string) (*models.Order, error) {
	unlock := o.locks.lock(orderID)
	defer unlock()

	order, err := o.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !CanReleaseFunds(order.Status) {
		return nil, apperrors.NewInvalidTransitionError(orderID, string(order.Status), "release_funds")
	}

	backend, ok := o.backends[order.PaymentPath]
	if !ok || backend == nil {
		return nil, apperrors.NewInternalError(fmt.Sprintf("no settlement backend for path %s", order.PaymentPath), nil)
	}
	if order.TransactionID != nil && *order.TransactionID != "" {
		if err := backend.Capture(ctx, order.ID, *order.TransactionID); err != nil {
			o.logger.WithError(err).WithOrder(orderID).Error("Failed to release held funds")
			return nil, err
		}
	}

	updated, err := o.orders.UpdateStatus(ctx, orderID,
		[]types.OrderStatus{types.OrderDelivered}, types.OrderCompleted)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, o.staleTransition(ctx, orderID, "release_funds")
	}

	o.publish(orderID, types.OrderCompleted)
	o.recorder.IncCounter("order_completed", map[string]string{"target": string(order.PaymentPath)})
	return o.orders.GetByID(ctx, orderID)
}

// OpenDispute freezes the order in disputed for manual resolution. Held
// funds stay where they are until an operator intervenes.
func (o *Orchestrator) OpenDispute(ctx context.Context, orderID string) (*models.Order, error) {
	return o.transition(ctx, orderID, "dispute",
		[]types.OrderStatus{types.OrderPaid, types.OrderShipped, types.OrderDelivered}, types.OrderDisputed)
}

// CancelOrder cancels an order no money has moved for.
func (o *Orchestrator) CancelOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return o.transition(ctx, orderID, "cancel",
		[]types.OrderStatus{types.OrderCreated, types.OrderPending}, types.OrderCancelled)
}

func (o *Orchestrator) transition(ctx context.Context, orderID, action string, from []types.OrderStatus, to types.OrderStatus) (*models.Order, error) {
	unlock := o.locks.lock(orderID)
	defer unlock()

	updated, err := o.orders.UpdateStatus(ctx, orderID, from, to)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, o.staleTransition(ctx, orderID, action)
	}

	o.publish(orderID, to)
	o.recorder.IncCounter("order_transition", map[string]string{"target": string(to)})
	return o.orders.GetByID(ctx, orderID)
}

// staleTransition reports the order's actual status after a guard miss so
// the caller learns what state beat them to it.
func (o *Orchestrator) staleTransition(ctx context.Context, orderID, action string) error {
	order, err := o.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	return apperrors.NewInvalidTransitionError(orderID, string(order.Status), action)
}

// orderLocks serializes fulfillment actions per order so read-check-act
// sequences (release then complete) cannot interleave in-process. Entries
// are reference counted and removed when the last holder releases.
type orderLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newOrderLocks() *orderLocks {
	return &orderLocks{entries: make(map[string]*lockEntry)}
}

func (l *orderLocks) lock(orderID string) func() {
	l.mu.Lock()
	entry, ok := l.entries[orderID]
	if !ok {
		entry = &lockEntry{}
		l.entries[orderID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.entries, orderID)
		}
		l.mu.Unlock()
	}
}
