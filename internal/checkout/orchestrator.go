// Package checkout owns the order lifecycle: session creation, settlement
// dispatch, the fulfillment state machine, and reconciliation of orders the
// happy path left behind. All order status transitions flow through this
// package, serialized per order by a keyed lock in-process and by
// compare-and-swap updates at the store.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/magickw/linkDAO-sub011/internal/config"
	apperrors "github.com/magickw/linkDAO-sub011/internal/errors"
	"github.com/magickw/linkDAO-sub011/internal/logging"
	"github.com/magickw/linkDAO-sub011/internal/metrics"
	"github.com/magickw/linkDAO-sub011/internal/models"
	"github.com/magickw/linkDAO-sub011/internal/retry"
	"github.com/magickw/linkDAO-sub011/internal/settlement"
	"github.com/magickw/linkDAO-sub011/internal/types"
)

// OrderStore is the order persistence the orchestrator drives. Mutations
// are conditional on the order's current status and report whether they won.
type OrderStore interface {
	Create(ctx context.Context, order *models.Order) error
	GetByID(ctx context.Context, id string) (*models.Order, error)
	BeginProcessing(ctx context.Context, orderID string, method types.MethodType, path types.PaymentPath) (bool, error)
	SetTransactionID(ctx context.Context, orderID, transactionID string) error
	MarkPaid(ctx context.Context, orderID, transactionID string) (bool, error)
	MarkFailed(ctx context.Context, orderID string, from []types.OrderStatus, reason string) (bool, error)
	UpdateStatus(ctx context.Context, orderID string, from []types.OrderStatus, to types.OrderStatus) (bool, error)
	ListStuck(ctx context.Context, status types.OrderStatus, stuckFor time.Duration, limit int) ([]*models.Order, error)
}

// SessionStore persists checkout sessions.
type SessionStore interface {
	Save(ctx context.Context, session *models.CheckoutSession) error
	Get(ctx context.Context, sessionID string) (*models.CheckoutSession, error)
	Delete(ctx context.Context, sessionID string) error
}

// OutcomeSink records settlement outcomes for the analytics store.
type OutcomeSink interface {
	Insert(ctx context.Context, outcome *models.OrderOutcome) error
}

// Prioritizer ranks candidate payment methods for a context.
type Prioritizer interface {
	Prioritize(ctx context.Context, pctx *models.PaymentContext) (*models.PrioritizationResult, error)
}

// SnapshotSource supplies the market snapshot prioritization runs against.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*models.MarketConditions, error)
}

// UsageRecorder turns a successful payment into a preference usage event.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, userID string, methodType types.MethodType) error
}

// CreateSessionInput starts a checkout.
type CreateSessionInput struct {
	UserID       string
	Chain        types.ChainID
	Items        []models.LineItem
	BuyerAddress string
	Balances     []models.WalletBalance
	Shipping     *models.ShippingAddress
}

// ProcessCheckoutInput executes a checkout with the buyer's chosen method.
type ProcessCheckoutInput struct {
	SessionID string
	MethodID  string
	CardToken string
	Shipping  *models.ShippingAddress
}

// CheckoutResult reports the settlement outcome. Crypto and fiat failures
// carry the same shape and the same error text: callers never see provider
// internals.
type CheckoutResult struct {
	OrderID       string            `json:"orderId"`
	SessionID     string            `json:"sessionId"`
	PaymentPath   types.PaymentPath `json:"paymentPath"`
	TransactionID string            `json:"transactionId,omitempty"`
	Status        types.OrderStatus `json:"status"`
	NextSteps     []string          `json:"nextSteps"`
	Error         string            `json:"error,omitempty"`
}

// Deps wires the orchestrator's collaborators.
type Deps struct {
	Orders      OrderStore
	Sessions    SessionStore
	Outcomes    OutcomeSink
	Prioritizer Prioritizer
	Snapshots   SnapshotSource
	Usage       UsageRecorder
	Escrow      settlement.Backend
	Card        settlement.Backend
	Events      *EventHub
	Recorder    metrics.Recorder
}

// Orchestrator drives checkouts end to end.
type Orchestrator struct {
	orders      OrderStore
	sessions    SessionStore
	outcomes    OutcomeSink
	prioritizer Prioritizer
	snapshots   SnapshotSource
	usage       UsageRecorder
	backends    map[types.PaymentPath]settlement.Backend
	events      *EventHub
	recorder    metrics.Recorder
	cfg         config.CheckoutConfig
	locks       *orderLocks
	logger      *logging.Logger
}

// NewOrchestrator creates a checkout orchestrator
func NewOrchestrator(deps Deps, cfg config.CheckoutConfig) *Orchestrator {
	return &Orchestrator{
		orders:      deps.Orders,
		sessions:    deps.Sessions,
		outcomes:    deps.Outcomes,
		prioritizer: deps.Prioritizer,
		snapshots:   deps.Snapshots,
		usage:       deps.Usage,
		backends: map[types.PaymentPath]settlement.Backend{
			types.PathCrypto: deps.Escrow,
			types.PathFiat:   deps.Card,
		},
		events:   deps.Events,
		recorder: deps.Recorder,
		cfg:      cfg,
		locks:    newOrderLocks(),
		logger:   logging.GetGlobalLogger().WithField("component", "checkout"),
	}
}

// CreateSession computes the session totals, creates the backing order, and
// attaches a prioritization result when the buyer's wallet is known.
func (o *Orchestrator) CreateSession(ctx context.Context, input *CreateSessionInput) (*models.CheckoutSession, error) {
	if input.UserID == "" {
		return nil, apperrors.NewValidationError("userId", "user id is required")
	}
	if len(input.Items) == 0 {
		return nil, apperrors.NewValidationError("items", "at least one line item is required")
	}
	for _, item := range input.Items {
		if item.Quantity <= 0 {
			return nil, apperrors.NewValidationError("items", fmt.Sprintf("non-positive quantity for listing %s", item.ListingID))
		}
		if !item.UnitPrice.IsPositive() {
			return nil, apperrors.NewValidationError("items", fmt.Sprintf("non-positive unit price for listing %s", item.ListingID))
		}
	}

	now := time.Now().UTC()
	sessionID := uuid.New().String()
	totals := o.computeTotals(input.Items)

	order := &models.Order{
		SessionID: sessionID,
		UserID:    input.UserID,
		Status:    types.OrderCreated,
		AmountUSD: totals.Total,
	}
	if err := o.orders.Create(ctx, order); err != nil {
		return nil, err
	}

	session := &models.CheckoutSession{
		ID:           sessionID,
		OrderID:      order.ID,
		UserID:       input.UserID,
		BuyerAddress: input.BuyerAddress,
		Chain:        input.Chain,
		Items:        input.Items,
		Totals:       totals,
		Shipping:     input.Shipping,
		CreatedAt:    now,
		ExpiresAt:    now.Add(o.cfg.SessionTTL),
	}

	if input.BuyerAddress != "" {
		result, err := o.prioritize(ctx, session, input.Balances)
		if err != nil {
			o.logger.WithError(err).WithSession(sessionID).Warn("Prioritization unavailable at session creation")
		} else {
			session.Prioritization = result
		}
	}

	if err := o.sessions.Save(ctx, session); err != nil {
		return nil, err
	}

	o.recorder.IncCounter("checkout_session_created", map[string]string{"target": string(input.Chain)})
	return session, nil
}

// GetSession returns a session by ID. Expired sessions remain readable for
// a short retention window so callers can tell expiry from absence.
func (o *Orchestrator) GetSession(ctx context.Context, sessionID string) (*models.CheckoutSession, error) {
	return o.sessions.Get(ctx, sessionID)
}

// GetOrder returns the authoritative order record.
func (o *Orchestrator) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return o.orders.GetByID(ctx, orderID)
}

// ProcessCheckout settles the session with the chosen method. The session
// expiry is a hard precondition and the retry deadline: settlement attempts
// never outlive the session.
func (o *Orchestrator) ProcessCheckout(ctx context.Context, input *ProcessCheckoutInput) (*CheckoutResult, error) {
	if input.SessionID == "" {
		return nil, apperrors.NewValidationError("sessionId", "session id is required")
	}
	if input.MethodID == "" {
		return nil, apperrors.NewValidationError("methodId", "method id is required")
	}

	session, err := o.sessions.Get(ctx, input.SessionID)
	if err != nil {
		return nil, err
	}
	if session.Expired(time.Now().UTC()) {
		return nil, apperrors.NewSessionExpiredError(session.ID)
	}

	selected, err := o.selectMethod(session, input.MethodID)
	if err != nil {
		return nil, err
	}
	if selected.AvailabilityStatus != types.AvailabilityAvailable {
		return nil, apperrors.NewMethodUnavailableError(string(selected.Method.Type), string(selected.AvailabilityStatus))
	}

	order, err := o.orders.GetByID(ctx, session.OrderID)
	if err != nil {
		return nil, err
	}

	path := types.PathForMethod(selected.Method.Type)
	backend, ok := o.backends[path]
	if !ok || backend == nil {
		return nil, apperrors.NewInternalError(fmt.Sprintf("no settlement backend for path %s", path), nil)
	}

	claimed, err := o.orders.BeginProcessing(ctx, order.ID, selected.Method.Type, path)
	if err != nil {
		return nil, err
	}
	if !claimed {
		status := order.Status
		if current, getErr := o.orders.GetByID(ctx, order.ID); getErr == nil {
			status = current.Status
		}
		return nil, apperrors.NewInvalidTransitionError(order.ID, string(status), "process_payment")
	}
	o.publish(order.ID, types.OrderProcessing)

	if input.Shipping != nil {
		session.Shipping = input.Shipping
	}
	methodCopy := selected.Method
	session.SelectedMethod = &methodCopy
	if err := o.sessions.Save(ctx, session); err != nil {
		o.logger.WithError(err).WithSession(session.ID).Warn("Failed to persist method selection")
	}

	req := &settlement.AuthorizeRequest{
		OrderID:      order.ID,
		UserID:       session.UserID,
		AmountUSD:    order.AmountUSD,
		MethodType:   selected.Method.Type,
		Chain:        selected.Method.Chain,
		BuyerAddress: session.BuyerAddress,
		CardToken:    input.CardToken,
	}
	if selected.Method.Token != nil {
		req.TokenAddress = selected.Method.Token.Address
	}

	return o.settle(ctx, session, order, backend, req), nil
}

// settle runs the authorize call under the session-deadline retry policy
// and lands the order in paid, failed, or processing-awaiting-confirmation.
func (o *Orchestrator) settle(ctx context.Context, session *models.CheckoutSession, order *models.Order, backend settlement.Backend, req *settlement.AuthorizeRequest) *CheckoutResult {
	path := types.PathForMethod(req.MethodType)

	retryCfg := &retry.RetryConfig{
		MaxAttempts:  o.cfg.RetryMaxAttempts,
		InitialDelay: o.cfg.RetryBaseDelay,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		ShouldRetry:  apperrors.IsRetryable,
	}

	var auth *settlement.AuthorizeResult
	outcome := retry.WithDeadline(ctx, session.ExpiresAt, retryCfg, func(ctx context.Context, attempt int) error {
		actx, cancel := context.WithTimeout(ctx, o.cfg.SettleTimeout)
		defer cancel()

		var authErr error
		auth, authErr = backend.Authorize(actx, req)
		return authErr
	})

	if !outcome.Success {
		return o.failCheckout(ctx, session, order, path, outcome.LastError)
	}

	if auth.TransactionID != "" {
		if err := o.orders.SetTransactionID(ctx, order.ID, auth.TransactionID); err != nil {
			o.logger.WithError(err).WithOrder(order.ID).Error("Failed to record settlement transaction")
		}
	}

	if auth.State != settlement.TxConfirmed {
		o.logger.WithOrder(order.ID).WithField("transactionId", auth.TransactionID).Info("Settlement accepted, awaiting confirmation")
		return &CheckoutResult{
			OrderID:       order.ID,
			SessionID:     session.ID,
			PaymentPath:   path,
			TransactionID: auth.TransactionID,
			Status:        types.OrderProcessing,
			NextSteps:     nextStepsFor(types.OrderProcessing, path),
		}
	}

	paid, err := o.orders.MarkPaid(ctx, order.ID, auth.TransactionID)
	if err != nil || !paid {
		// Funds are held; the reconciler resolves the row from the
		// transaction we recorded above.
		if err != nil {
			o.logger.WithError(err).WithOrder(order.ID).Error("Failed to mark order paid after settlement")
		}
		return &CheckoutResult{
			OrderID:       order.ID,
			SessionID:     session.ID,
			PaymentPath:   path,
			TransactionID: auth.TransactionID,
			Status:        types.OrderProcessing,
			NextSteps:     nextStepsFor(types.OrderProcessing, path),
		}
	}

	o.publish(order.ID, types.OrderPaid)
	o.recordOutcome(ctx, order.ID, path, types.OrderPaid, "")
	o.recordUsage(ctx, session.UserID, req.MethodType)
	o.recorder.IncCounter("checkout_paid", map[string]string{"target": string(path)})

	return &CheckoutResult{
		OrderID:       order.ID,
		SessionID:     session.ID,
		PaymentPath:   path,
		TransactionID: auth.TransactionID,
		Status:        types.OrderPaid,
		NextSteps:     nextStepsFor(types.OrderPaid, path),
	}
}

func (o *Orchestrator) failCheckout(ctx context.Context, session *models.CheckoutSession, order *models.Order, path types.PaymentPath, cause error) *CheckoutResult {
	reason := failureCode(cause)
	o.logger.WithError(cause).WithOrder(order.ID).WithField("reason", reason).Warn("Settlement failed")

	failed, err := o.orders.MarkFailed(ctx, order.ID, []types.OrderStatus{types.OrderProcessing}, reason)
	if err != nil {
		o.logger.WithError(err).WithOrder(order.ID).Error("Failed to mark order failed")
	}
	if failed {
		o.publish(order.ID, types.OrderFailed)
		o.recordOutcome(ctx, order.ID, path, types.OrderFailed, reason)
		o.recorder.IncCounter("checkout_failed", map[string]string{"target": string(path)})
	}

	return &CheckoutResult{
		OrderID:     order.ID,
		SessionID:   session.ID,
		PaymentPath: path,
		Status:      types.OrderFailed,
		Error:       "payment could not be completed",
		NextSteps:   nextStepsFor(types.OrderFailed, path),
	}
}

// selectMethod resolves the chosen method against the session's
// prioritization. Fiat needs no wallet context, so it stays selectable on
// sessions created without a buyer address.
func (o *Orchestrator) selectMethod(session *models.CheckoutSession, methodID string) (*models.PrioritizedPaymentMethod, error) {
	if session.Prioritization != nil {
		for i := range session.Prioritization.Methods {
			if session.Prioritization.Methods[i].Method.ID == methodID {
				return &session.Prioritization.Methods[i], nil
			}
		}
	}

	if methodID == "fiat-card" {
		return &models.PrioritizedPaymentMethod{
			Method:             models.PaymentMethod{ID: methodID, Type: types.MethodFiatCard},
			AvailabilityStatus: types.AvailabilityAvailable,
		}, nil
	}

	return nil, apperrors.NewValidationError("methodId", "method not offered for this session")
}

func (o *Orchestrator) prioritize(ctx context.Context, session *models.CheckoutSession, balances []models.WalletBalance) (*models.PrioritizationResult, error) {
	snapshot, err := o.snapshots.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	amount, _ := session.Totals.Total.Float64()
	return o.prioritizer.Prioritize(ctx, &models.PaymentContext{
		UserID:    session.UserID,
		Chain:     session.Chain,
		AmountUSD: amount,
		Balances:  balances,
		Market:    snapshot,
	})
}

func (o *Orchestrator) computeTotals(items []models.LineItem) models.SessionTotals {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	shipping := decimal.NewFromFloat(o.cfg.ShippingFlatUSD)
	tax := subtotal.Mul(decimal.NewFromFloat(o.cfg.TaxRate)).Round(2)
	fee := subtotal.Mul(decimal.NewFromFloat(o.cfg.PlatformFeeRate)).Round(2)

	return models.SessionTotals{
		Subtotal:    subtotal,
		Shipping:    shipping,
		Tax:         tax,
		PlatformFee: fee,
		Total:       subtotal.Add(shipping).Add(tax).Add(fee),
	}
}

func (o *Orchestrator) publish(orderID string, status types.OrderStatus) {
	o.events.Publish(StatusEvent{OrderID: orderID, Status: status, At: time.Now().UTC()})
}

func (o *Orchestrator) recordOutcome(ctx context.Context, orderID string, path types.PaymentPath, status types.OrderStatus, reason string) {
	err := o.outcomes.Insert(ctx, &models.OrderOutcome{
		Timestamp:     time.Now().UTC(),
		OrderID:       orderID,
		PaymentPath:   path,
		Status:        status,
		FailureReason: reason,
	})
	if err != nil {
		o.logger.WithError(err).WithOrder(orderID).Warn("Failed to record order outcome")
	}
}

func (o *Orchestrator) recordUsage(ctx context.Context, userID string, methodType types.MethodType) {
	if o.usage == nil {
		return
	}
	if err := o.usage.RecordUsage(ctx, userID, methodType); err != nil {
		o.logger.WithError(err).WithField("userId", userID).Warn("Failed to record method usage")
	}
}

// failureCode condenses a settlement failure into the reason stored on the
// order and in analytics. Callers see a uniform error either way.
func failureCode(err error) string {
	if err == nil {
		return "SETTLEMENT_FAILED"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "SETTLEMENT_DEADLINE_EXCEEDED"
	}
	if catErr := apperrors.Categorize(err); catErr != nil {
		return catErr.Code
	}
	return "SETTLEMENT_FAILED"
}

func nextStepsFor(status types.OrderStatus, path types.PaymentPath) []string {
	switch status {
	case types.OrderProcessing:
		return []string{
			"Payment confirmation is in progress",
			"Check the order status for updates",
		}
	case types.OrderPaid:
		if path == types.PathCrypto {
			return []string{
				"Funds are held in escrow",
				"The seller prepares your shipment",
			}
		}
		return []string{
			"Your card was charged",
			"The seller prepares your shipment",
		}
	case types.OrderFailed:
		return []string{
			"Select a different payment method and try again",
		}
	default:
		return nil
	}
}
