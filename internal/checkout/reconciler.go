package checkout

import (
	"context"
	"time"

	"github.com/magickw/linkDAO-sub011/internal/config"
	"github.com/magickw/linkDAO-sub011/internal/logging"
	"github.com/magickw/linkDAO-sub011/internal/metrics"
	"github.com/magickw/linkDAO-sub011/internal/models"
	"github.com/magickw/linkDAO-sub011/internal/settlement"
	"github.com/magickw/linkDAO-sub011/internal/types"
)

const (
	leaderLeaseKey = "reconcile:leader"
	sweepBatchSize = 50

	// stuckGrace is added to the session TTL before an order counts as
	// stuck. Nothing legitimate can still confirm after the session
	// deadline, so the grace only covers clock skew and slow probes.
	stuckGrace = 5 * time.Minute
)

// LeaderLock elects one reconciler instance per sweep interval.
type LeaderLock interface {
	AcquireLease(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Reconciler resolves orders the checkout flow left in flight: processing
// rows whose settlement outcome never landed, and disputes whose underlying
// settlement has since reverted. It is safe to run on every instance; a
// redis lease keeps one sweeper active at a time.
type Reconciler struct {
	orders   OrderStore
	outcomes OutcomeSink
	backends map[types.PaymentPath]settlement.Backend
	events   *EventHub
	lock     LeaderLock
	recorder metrics.Recorder
	cfg      config.CheckoutConfig
	logger   *logging.Logger
}

// NewReconciler creates a reconciler sharing the orchestrator's collaborators.
func NewReconciler(deps Deps, lock LeaderLock, cfg config.CheckoutConfig) *Reconciler {
	return &Reconciler{
		orders:   deps.Orders,
		outcomes: deps.Outcomes,
		backends: map[types.PaymentPath]settlement.Backend{
			types.PathCrypto: deps.Escrow,
			types.PathFiat:   deps.Card,
		},
		events:   deps.Events,
		lock:     lock,
		recorder: deps.Recorder,
		cfg:      cfg,
		logger:   logging.GetGlobalLogger().WithField("component", "reconciler"),
	}
}

// Run sweeps on a ticker until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.ReconcileEvery)
	defer ticker.Stop()

	r.logger.WithField("interval", r.cfg.ReconcileEvery.String()).Info("Reconciler started")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Reconciler stopped")
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reconciler) sweep(ctx context.Context) {
	if r.lock != nil {
		held, err := r.lock.AcquireLease(ctx, leaderLeaseKey, r.cfg.ReconcileEvery)
		if err != nil {
			r.logger.WithError(err).Warn("Failed to acquire reconcile lease")
			return
		}
		if !held {
			return
		}
	}

	resolved := r.ReconcileOnce(ctx)
	if resolved > 0 {
		r.logger.WithField("resolved", resolved).Info("Reconcile sweep resolved orders")
	}
}

// ReconcileOnce runs a single sweep and returns how many orders it resolved.
func (r *Reconciler) ReconcileOnce(ctx context.Context) int {
	return r.resolveProcessing(ctx) + r.resolveDisputed(ctx)
}

// resolveProcessing lands stuck processing orders on paid or failed by
// probing the settlement backend for the recorded transaction.
func (r *Reconciler) resolveProcessing(ctx context.Context) int {
	stuckAfter := r.cfg.SessionTTL + stuckGrace

	orders, err := r.orders.ListStuck(ctx, types.OrderProcessing, stuckAfter, sweepBatchSize)
	if err != nil {
		r.logger.WithError(err).Error("Failed to list stuck processing orders")
		return 0
	}

	resolved := 0
	for _, order := range orders {
		if r.resolveOrder(ctx, order) {
			resolved++
		}
	}
	return resolved
}

func (r *Reconciler) resolveOrder(ctx context.Context, order *models.Order) bool {
	log := r.logger.WithOrder(order.ID)

	if order.TransactionID == nil || *order.TransactionID == "" {
		// No transaction was ever recorded and the session deadline has
		// passed, so no settlement can still land.
		return r.fail(ctx, order, []types.OrderStatus{types.OrderProcessing}, "SETTLEMENT_UNCONFIRMED")
	}

	backend := r.backends[order.PaymentPath]
	if backend == nil {
		log.WithField("paymentPath", string(order.PaymentPath)).Error("No backend to probe for stuck order")
		return false
	}

	status, err := backend.Status(ctx, *order.TransactionID)
	if err != nil {
		log.WithError(err).Warn("Settlement probe failed, leaving order for next sweep")
		return false
	}

	switch status.State {
	case settlement.TxConfirmed:
		paid, err := r.orders.MarkPaid(ctx, order.ID, *order.TransactionID)
		if err != nil {
			log.WithError(err).Error("Failed to mark reconciled order paid")
			return false
		}
		if paid {
			r.publish(order.ID, types.OrderPaid)
			r.recordOutcome(ctx, order, types.OrderPaid, "")
			r.recorder.IncCounter("reconcile_resolved", map[string]string{"target": "paid"})
			log.Info("Reconciled stuck order to paid")
		}
		return paid
	case settlement.TxFailed:
		reason := status.FailureReason
		if reason == "" {
			reason = "SETTLEMENT_FAILED"
		}
		return r.fail(ctx, order, []types.OrderStatus{types.OrderProcessing}, reason)
	default:
		// Still pending at the backend; try again next sweep.
		return false
	}
}

// resolveDisputed closes disputes whose underlying settlement has reverted.
// The buyer already has the funds back, so there is nothing left to resolve
// manually. Disputes with live settlements stay put for an operator.
func (r *Reconciler) resolveDisputed(ctx context.Context) int {
	stuckAfter := r.cfg.SessionTTL + stuckGrace

	orders, err := r.orders.ListStuck(ctx, types.OrderDisputed, stuckAfter, sweepBatchSize)
	if err != nil {
		r.logger.WithError(err).Error("Failed to list stuck disputed orders")
		return 0
	}

	resolved := 0
	for _, order := range orders {
		if order.TransactionID == nil || *order.TransactionID == "" {
			continue
		}
		backend := r.backends[order.PaymentPath]
		if backend == nil {
			continue
		}

		status, err := backend.Status(ctx, *order.TransactionID)
		if err != nil || status.State != settlement.TxFailed {
			continue
		}

		reason := status.FailureReason
		if reason == "" {
			reason = "SETTLEMENT_REVERTED"
		}
		if r.fail(ctx, order, []types.OrderStatus{types.OrderDisputed}, reason) {
			resolved++
		}
	}
	return resolved
}

func (r *Reconciler) fail(ctx context.Context, order *models.Order, from []types.OrderStatus, reason string) bool {
	failed, err := r.orders.MarkFailed(ctx, order.ID, from, reason)
	if err != nil {
		r.logger.WithError(err).WithOrder(order.ID).Error("Failed to mark reconciled order failed")
		return false
	}
	if failed {
		r.publish(order.ID, types.OrderFailed)
		r.recordOutcome(ctx, order, types.OrderFailed, reason)
		r.recorder.IncCounter("reconcile_resolved", map[string]string{"target": "failed"})
		r.logger.WithOrder(order.ID).WithField("reason", reason).Info("Reconciled stuck order to failed")
	}
	return failed
}

func (r *Reconciler) publish(orderID string, status types.OrderStatus) {
	r.events.Publish(StatusEvent{OrderID: orderID, Status: status, At: time.Now().UTC()})
}

func (r *Reconciler) recordOutcome(ctx context.Context, order *models.Order, status types.OrderStatus, reason string) {
	err := r.outcomes.Insert(ctx, &models.OrderOutcome{
		Timestamp:     time.Now().UTC(),
		OrderID:       order.ID,
		PaymentPath:   order.PaymentPath,
		Status:        status,
		FailureReason: reason,
	})
	if err != nil {
		r.logger.WithError(err).WithOrder(order.ID).Warn("Failed to record reconcile outcome")
	}
}
