package checkout

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magickw/linkDAO-sub011/internal/config"
	apperrors "github.com/magickw/linkDAO-sub011/internal/errors"
	"github.com/magickw/linkDAO-sub011/internal/metrics"
	"github.com/magickw/linkDAO-sub011/internal/models"
	"github.com/magickw/linkDAO-sub011/internal/settlement"
	"github.com/magickw/linkDAO-sub011/internal/storage"
	"github.com/magickw/linkDAO-sub011/internal/types"
)

// memOrderStore is an in-memory OrderStore with the same compare-and-swap
// guarantees as the Postgres repository.
type memOrderStore struct {
	mu     sync.Mutex
	seq    int
	orders map[string]*models.Order
}

func newMemOrderStore() *memOrderStore {
	return &memOrderStore{orders: make(map[string]*models.Order)}
}

func cloneOrder(o *models.Order) *models.Order {
	c := *o
	return &c
}

func (s *memOrderStore) Create(ctx context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	order.ID = fmt.Sprintf("order-%d", s.seq)
	now := time.Now().UTC()
	order.CreatedAt = now
	order.UpdatedAt = now
	s.orders[order.ID] = cloneOrder(order)
	return nil
}

func (s *memOrderStore) GetByID(ctx context.Context, id string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("order", id)
	}
	return cloneOrder(order), nil
}

func statusIn(status types.OrderStatus, from []types.OrderStatus) bool {
	for _, f := range from {
		if status == f {
			return true
		}
	}
	return false
}

func (s *memOrderStore) BeginProcessing(ctx context.Context, orderID string, method types.MethodType, path types.PaymentPath) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok || !statusIn(order.Status, []types.OrderStatus{types.OrderCreated, types.OrderPending}) {
		return false, nil
	}
	order.Status = types.OrderProcessing
	order.MethodType = method
	order.PaymentPath = path
	order.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *memOrderStore) SetTransactionID(ctx context.Context, orderID, transactionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return apperrors.NewNotFoundError("order", orderID)
	}
	order.TransactionID = &transactionID
	order.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memOrderStore) MarkPaid(ctx context.Context, orderID, transactionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok || order.Status != types.OrderProcessing {
		return false, nil
	}
	now := time.Now().UTC()
	order.Status = types.OrderPaid
	order.TransactionID = &transactionID
	order.PaidAt = &now
	order.UpdatedAt = now
	return true, nil
}

func (s *memOrderStore) MarkFailed(ctx context.Context, orderID string, from []types.OrderStatus, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok || !statusIn(order.Status, from) {
		return false, nil
	}
	now := time.Now().UTC()
	order.Status = types.OrderFailed
	order.FailureReason = &reason
	order.FailedAt = &now
	order.UpdatedAt = now
	return true, nil
}

func (s *memOrderStore) UpdateStatus(ctx context.Context, orderID string, from []types.OrderStatus, to types.OrderStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok || !statusIn(order.Status, from) {
		return false, nil
	}
	now := time.Now().UTC()
	order.Status = to
	order.UpdatedAt = now
	switch to {
	case types.OrderShipped:
		order.ShippedAt = &now
	case types.OrderDelivered:
		order.DeliveredAt = &now
	case types.OrderCompleted:
		order.CompletedAt = &now
	case types.OrderCancelled:
		order.CancelledAt = &now
	case types.OrderDisputed:
		order.DisputedAt = &now
	}
	return true, nil
}

func (s *memOrderStore) ListStuck(ctx context.Context, status types.OrderStatus, stuckFor time.Duration, limit int) ([]*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().UTC().Add(-stuckFor)
	var out []*models.Order
	for _, order := range s.orders {
		if order.Status == status && order.UpdatedAt.Before(cutoff) {
			out = append(out, cloneOrder(order))
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// age backdates an order's last update so it qualifies as stuck.
func (s *memOrderStore) age(orderID string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if order, ok := s.orders[orderID]; ok {
		order.UpdatedAt = order.UpdatedAt.Add(-d)
	}
}

type memOutcomeSink struct {
	mu       sync.Mutex
	outcomes []*models.OrderOutcome
}

func (s *memOutcomeSink) Insert(ctx context.Context, outcome *models.OrderOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, outcome)
	return nil
}

func (s *memOutcomeSink) all() []*models.OrderOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.OrderOutcome{}, s.outcomes...)
}

// stubPrioritizer returns a fixed ranking regardless of context.
type stubPrioritizer struct {
	result *models.PrioritizationResult
	err    error
}

func (s *stubPrioritizer) Prioritize(ctx context.Context, pctx *models.PaymentContext) (*models.PrioritizationResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type stubSnapshots struct{}

func (stubSnapshots) Snapshot(ctx context.Context) (*models.MarketConditions, error) {
	return &models.MarketConditions{AsOf: time.Now().UTC()}, nil
}

type stubUsage struct {
	mu    sync.Mutex
	calls []string
}

func (s *stubUsage) RecordUsage(ctx context.Context, userID string, methodType types.MethodType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, fmt.Sprintf("%s:%s", userID, methodType))
	return nil
}

// fakeBackend is a scriptable settlement backend.
type fakeBackend struct {
	mu         sync.Mutex
	name       string
	authErrs   []error
	authState  settlement.TxState
	txID       string
	captureErr error
	statuses   map[string]*settlement.TxStatus
	statusErr  error
	authCalls  int
	authReqs   []*settlement.AuthorizeRequest
	captures   []string
}

func newFakeBackend(name string) *fakeBackend {
	return &fakeBackend{
		name:      name,
		authState: settlement.TxConfirmed,
		txID:      name + "-tx-1",
		statuses:  make(map[string]*settlement.TxStatus),
	}
}

func (b *fakeBackend) Authorize(ctx context.Context, req *settlement.AuthorizeRequest) (*settlement.AuthorizeResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.authCalls++
	b.authReqs = append(b.authReqs, req)
	if len(b.authErrs) > 0 {
		err := b.authErrs[0]
		b.authErrs = b.authErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &settlement.AuthorizeResult{TransactionID: b.txID, State: b.authState}, nil
}

func (b *fakeBackend) Capture(ctx context.Context, orderID, txID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.captureErr != nil {
		return b.captureErr
	}
	b.captures = append(b.captures, txID)
	return nil
}

func (b *fakeBackend) Cancel(ctx context.Context, orderID, txID string) error { return nil }

func (b *fakeBackend) Refund(ctx context.Context, orderID, txID string, amount decimal.Decimal) error {
	return nil
}

func (b *fakeBackend) Status(ctx context.Context, txID string) (*settlement.TxStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.statusErr != nil {
		return nil, b.statusErr
	}
	if st, ok := b.statuses[txID]; ok {
		return st, nil
	}
	return &settlement.TxStatus{TransactionID: txID, State: settlement.TxPending, AsOf: time.Now().UTC()}, nil
}

func (b *fakeBackend) Name() string { return b.name }

type checkoutHarness struct {
	orch     *Orchestrator
	orders   *memOrderStore
	sessions *storage.SessionStore
	outcomes *memOutcomeSink
	escrow   *fakeBackend
	card     *fakeBackend
	usage    *stubUsage
	events   *EventHub
	cfg      config.CheckoutConfig
}

func defaultRanking() *models.PrioritizationResult {
	chain := types.ChainEthereum
	return &models.PrioritizationResult{
		Methods: []models.PrioritizedPaymentMethod{
			{
				Method: models.PaymentMethod{
					ID:    "usdc-ethereum",
					Type:  types.MethodStablecoinUSDC,
					Chain: &chain,
					Token: &models.TokenDescriptor{Address: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", Symbol: "USDC", Decimals: 6},
				},
				Priority:           1,
				AvailabilityStatus: types.AvailabilityAvailable,
			},
			{
				Method: models.PaymentMethod{
					ID:    "native-ethereum",
					Type:  types.MethodNativeToken,
					Chain: &chain,
				},
				Priority:           2,
				AvailabilityStatus: types.AvailabilityAvailable,
			},
			{
				Method: models.PaymentMethod{
					ID:   "fiat-card",
					Type: types.MethodFiatCard,
				},
				Priority:           3,
				AvailabilityStatus: types.AvailabilityAvailable,
			},
		},
		GeneratedAt: time.Now().UTC(),
	}
}

func newCheckoutHarness(t *testing.T) *checkoutHarness {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cache := storage.NewCacheService(storage.NewRedisCacheFromClient(client), time.Minute)

	h := &checkoutHarness{
		orders:   newMemOrderStore(),
		sessions: storage.NewSessionStore(cache),
		outcomes: &memOutcomeSink{},
		escrow:   newFakeBackend("escrow"),
		card:     newFakeBackend("card"),
		usage:    &stubUsage{},
		events:   NewEventHub(),
		cfg: config.CheckoutConfig{
			SessionTTL:       30 * time.Minute,
			ShippingFlatUSD:  5.0,
			TaxRate:          0.08,
			PlatformFeeRate:  0.02,
			SettleTimeout:    2 * time.Second,
			RetryMaxAttempts: 3,
			RetryBaseDelay:   time.Millisecond,
			ReconcileEvery:   time.Minute,
		},
	}

	h.orch = NewOrchestrator(Deps{
		Orders:      h.orders,
		Sessions:    h.sessions,
		Outcomes:    h.outcomes,
		Prioritizer: &stubPrioritizer{result: defaultRanking()},
		Snapshots:   stubSnapshots{},
		Usage:       h.usage,
		Escrow:      h.escrow,
		Card:        h.card,
		Events:      h.events,
		Recorder:    metrics.NoopRecorder{},
	}, h.cfg)

	return h
}

func sessionInput() *CreateSessionInput {
	return &CreateSessionInput{
		UserID: "user-1",
		Chain:  types.ChainEthereum,
		Items: []models.LineItem{
			{ListingID: "listing-1", Title: "Mechanical keyboard", Quantity: 1, UnitPrice: decimal.NewFromInt(80)},
			{ListingID: "listing-2", Title: "Keycap set", Quantity: 2, UnitPrice: decimal.NewFromInt(10)},
		},
		BuyerAddress: "0xbuyer",
		Balances: []models.WalletBalance{
			{Chain: types.ChainEthereum, Symbol: "USDC", BalanceUSD: 500},
		},
	}
}

func mustCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	catErr := apperrors.Categorize(err)
	require.NotNil(t, catErr)
	assert.Equal(t, code, catErr.Code)
}

func TestCreateSessionComputesTotals(t *testing.T) {
	h := newCheckoutHarness(t)
	ctx := context.Background()

	session, err := h.orch.CreateSession(ctx, sessionInput())
	require.NoError(t, err)

	assert.Equal(t, "100", session.Totals.Subtotal.String())
	assert.Equal(t, "5", session.Totals.Shipping.String())
	assert.Equal(t, "8", session.Totals.Tax.String())
	assert.Equal(t, "2", session.Totals.PlatformFee.String())
	assert.Equal(t, "115", session.Totals.Total.String())

	require.NotNil(t, session.Prioritization)
	assert.Len(t, session.Prioritization.Methods, 3)

	order, err := h.orders.GetByID(ctx, session.OrderID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderCreated, order.Status)
	assert.Equal(t, "115", order.AmountUSD.String())

	saved, err := h.orch.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.OrderID, saved.OrderID)
}

func TestCreateSessionValidation(t *testing.T) {
	h := newCheckoutHarness(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*CreateSessionInput)
	}{
		{"missing user", func(in *CreateSessionInput) { in.UserID = "" }},
		{"no items", func(in *CreateSessionInput) { in.Items = nil }},
		{"zero quantity", func(in *CreateSessionInput) { in.Items[0].Quantity = 0 }},
		{"negative price", func(in *CreateSessionInput) { in.Items[0].UnitPrice = decimal.NewFromInt(-1) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := sessionInput()
			tt.mutate(in)
			_, err := h.orch.CreateSession(ctx, in)
			mustCode(t, err, "VALIDATION_ERROR")
		})
	}
}

func TestCreateSessionWithoutWalletSkipsPrioritization(t *testing.T) {
	h := newCheckoutHarness(t)
	ctx := context.Background()

	in := sessionInput()
	in.BuyerAddress = ""
	in.Balances = nil

	session, err := h.orch.CreateSession(ctx, in)
	require.NoError(t, err)
	assert.Nil(t, session.Prioritization)
}

func TestProcessCheckoutHappyPath(t *testing.T) {
	h := newCheckoutHarness(t)
	ctx := context.Background()

	session, err := h.orch.CreateSession(ctx, sessionInput())
	require.NoError(t, err)

	events, cancel := h.events.Subscribe(session.OrderID)
	defer cancel()

	result, err := h.orch.ProcessCheckout(ctx, &ProcessCheckoutInput{
		SessionID: session.ID,
		MethodID:  "usdc-ethereum",
	})
	require.NoError(t, err)

	assert.Equal(t, types.OrderPaid, result.Status)
	assert.Equal(t, types.PathCrypto, result.PaymentPath)
	assert.Equal(t, "escrow-tx-1", result.TransactionID)
	assert.Empty(t, result.Error)
	assert.NotEmpty(t, result.NextSteps)

	order, err := h.orders.GetByID(ctx, session.OrderID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderPaid, order.Status)
	assert.Equal(t, types.MethodStablecoinUSDC, order.MethodType)
	require.NotNil(t, order.TransactionID)
	assert.Equal(t, "escrow-tx-1", *order.TransactionID)
	assert.NotNil(t, order.PaidAt)

	require.Len(t, h.escrow.authReqs, 1)
	req := h.escrow.authReqs[0]
	assert.Equal(t, session.OrderID, req.OrderID)
	assert.Equal(t, "115", req.AmountUSD.String())
	assert.Equal(t, "0xbuyer", req.BuyerAddress)
	assert.Equal(t, "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", req.TokenAddress)
	require.NotNil(t, req.Chain)
	assert.Equal(t, types.ChainEthereum, *req.Chain)

	outcomes := h.outcomes.all()
	require.Len(t, outcomes, 1)
	assert.Equal(t, types.OrderPaid, outcomes[0].Status)

	assert.Equal(t, []string{"user-1:stablecoin-usdc"}, h.usage.calls)

	statuses := drainEvents(events)
	assert.Contains(t, statuses, types.OrderProcessing)
	assert.Contains(t, statuses, types.OrderPaid)
}

func drainEvents(ch <-chan StatusEvent) []types.OrderStatus {
	var statuses []types.OrderStatus
	for {
		select {
		case ev := <-ch:
			statuses = append(statuses, ev.Status)
		default:
			return statuses
		}
	}
}

func TestProcessCheckoutExpiredSession(t *testing.T) {
	h := newCheckoutHarness(t)
	ctx := context.Background()

	session, err := h.orch.CreateSession(ctx, sessionInput())
	require.NoError(t, err)

	session.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, h.sessions.Save(ctx, session))

	_, err = h.orch.ProcessCheckout(ctx, &ProcessCheckoutInput{SessionID: session.ID, MethodID: "usdc-ethereum"})
	mustCode(t, err, "SESSION_EXPIRED")
	assert.Equal(t, 0, h.escrow.authCalls)
}

func TestProcessCheckoutUnknownMethod(t *testing.T) {
	h := newCheckoutHarness(t)
	ctx := context.Background()

	session, err := h.orch.CreateSession(ctx, sessionInput())
	require.NoError(t, err)

	_, err = h.orch.ProcessCheckout(ctx, &ProcessCheckoutInput{SessionID: session.ID, MethodID: "usdt-polygon"})
	mustCode(t, err, "VALIDATION_ERROR")
}

func TestProcessCheckoutUnavailableMethod(t *testing.T) {
	h := newCheckoutHarness(t)
	ctx := context.Background()

	ranking := defaultRanking()
	ranking.Methods[0].AvailabilityStatus = types.AvailabilityInsufficientBalance
	h.orch.prioritizer = &stubPrioritizer{result: ranking}

	session, err := h.orch.CreateSession(ctx, sessionInput())
	require.NoError(t, err)

	_, err = h.orch.ProcessCheckout(ctx, &ProcessCheckoutInput{SessionID: session.ID, MethodID: "usdc-ethereum"})
	mustCode(t, err, "METHOD_NOT_AVAILABLE")
	assert.Equal(t, 0, h.escrow.authCalls)
}

func TestProcessCheckoutFiatWithoutPrioritization(t *testing.T) {
	h := newCheckoutHarness(t)
	ctx := context.Background()

	in := sessionInput()
	in.BuyerAddress = ""
	in.Balances = nil
	session, err := h.orch.CreateSession(ctx, in)
	require.NoError(t, err)

	result, err := h.orch.ProcessCheckout(ctx, &ProcessCheckoutInput{
		SessionID: session.ID,
		MethodID:  "fiat-card",
		CardToken: "tok_visa",
	})
	require.NoError(t, err)

	assert.Equal(t, types.OrderPaid, result.Status)
	assert.Equal(t, types.PathFiat, result.PaymentPath)
	require.Len(t, h.card.authReqs, 1)
	assert.Equal(t, "tok_visa", h.card.authReqs[0].CardToken)
	assert.Equal(t, 0, h.escrow.authCalls)
}

func TestProcessCheckoutDeclineFailsOrder(t *testing.T) {
	h := newCheckoutHarness(t)
	ctx := context.Background()

	h.card.authErrs = []error{apperrors.NewPaymentDeclinedError("card", "insufficient_funds")}

	session, err := h.orch.CreateSession(ctx, sessionInput())
	require.NoError(t, err)

	result, err := h.orch.ProcessCheckout(ctx, &ProcessCheckoutInput{
		SessionID: session.ID,
		MethodID:  "fiat-card",
		CardToken: "tok_visa",
	})
	require.NoError(t, err)

	assert.Equal(t, types.OrderFailed, result.Status)
	assert.Equal(t, "payment could not be completed", result.Error)
	assert.Equal(t, 1, h.card.authCalls, "declines must not be retried")

	order, err := h.orders.GetByID(ctx, session.OrderID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderFailed, order.Status)
	require.NotNil(t, order.FailureReason)
	assert.Equal(t, "PAYMENT_DECLINED", *order.FailureReason)

	outcomes := h.outcomes.all()
	require.Len(t, outcomes, 1)
	assert.Equal(t, types.OrderFailed, outcomes[0].Status)
	assert.Equal(t, "PAYMENT_DECLINED", outcomes[0].FailureReason)
}

func TestProcessCheckoutRetriesTransientErrors(t *testing.T) {
	h := newCheckoutHarness(t)
	ctx := context.Background()

	h.escrow.authErrs = []error{
		apperrors.NewProviderError("escrow", fmt.Errorf("connection reset")),
		nil,
	}

	session, err := h.orch.CreateSession(ctx, sessionInput())
	require.NoError(t, err)

	result, err := h.orch.ProcessCheckout(ctx, &ProcessCheckoutInput{SessionID: session.ID, MethodID: "usdc-ethereum"})
	require.NoError(t, err)

	assert.Equal(t, types.OrderPaid, result.Status)
	assert.Equal(t, 2, h.escrow.authCalls)
}

func TestProcessCheckoutPendingLeavesProcessing(t *testing.T) {
	h := newCheckoutHarness(t)
	ctx := context.Background()

	h.escrow.authState = settlement.TxPending

	session, err := h.orch.CreateSession(ctx, sessionInput())
	require.NoError(t, err)

	result, err := h.orch.ProcessCheckout(ctx, &ProcessCheckoutInput{SessionID: session.ID, MethodID: "usdc-ethereum"})
	require.NoError(t, err)

	assert.Equal(t, types.OrderProcessing, result.Status)
	assert.Equal(t, "escrow-tx-1", result.TransactionID)

	order, err := h.orders.GetByID(ctx, session.OrderID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderProcessing, order.Status)
	require.NotNil(t, order.TransactionID)
	assert.Equal(t, "escrow-tx-1", *order.TransactionID)

	assert.Empty(t, h.outcomes.all(), "no outcome until settlement concludes")
}

func TestProcessCheckoutSingleWinner(t *testing.T) {
	h := newCheckoutHarness(t)
	ctx := context.Background()

	session, err := h.orch.CreateSession(ctx, sessionInput())
	require.NoError(t, err)

	input := &ProcessCheckoutInput{SessionID: session.ID, MethodID: "usdc-ethereum"}

	var wg sync.WaitGroup
	results := make([]*CheckoutResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.orch.ProcessCheckout(ctx, input)
		}(i)
	}
	wg.Wait()

	var wins, losses int
	for i := range results {
		if errs[i] == nil {
			wins++
			assert.Equal(t, types.OrderPaid, results[i].Status)
		} else {
			losses++
			mustCode(t, errs[i], "INVALID_TRANSITION")
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, losses)
	assert.Equal(t, 1, h.escrow.authCalls)
}

// payOrder drives a session through a successful escrow checkout.
func payOrder(t *testing.T, h *checkoutHarness) *models.Order {
	t.Helper()
	ctx := context.Background()

	session, err := h.orch.CreateSession(ctx, sessionInput())
	require.NoError(t, err)

	result, err := h.orch.ProcessCheckout(ctx, &ProcessCheckoutInput{SessionID: session.ID, MethodID: "usdc-ethereum"})
	require.NoError(t, err)
	require.Equal(t, types.OrderPaid, result.Status)

	order, err := h.orders.GetByID(ctx, session.OrderID)
	require.NoError(t, err)
	return order
}

func TestFulfillmentFlow(t *testing.T) {
	h := newCheckoutHarness(t)
	ctx := context.Background()

	order := payOrder(t, h)

	shipped, err := h.orch.MarkShipped(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderShipped, shipped.Status)
	assert.NotNil(t, shipped.ShippedAt)

	delivered, err := h.orch.ConfirmDelivery(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderDelivered, delivered.Status)

	completed, err := h.orch.ReleaseFunds(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderCompleted, completed.Status)
	assert.NotNil(t, completed.CompletedAt)

	assert.Equal(t, []string{"escrow-tx-1"}, h.escrow.captures)
}

func TestFulfillmentGuards(t *testing.T) {
	h := newCheckoutHarness(t)
	ctx := context.Background()

	order := payOrder(t, h)

	tests := []struct {
		name string
		call func() error
	}{
		{"cancel paid order", func() error { _, err := h.orch.CancelOrder(ctx, order.ID); return err }},
		{"deliver before ship", func() error { _, err := h.orch.ConfirmDelivery(ctx, order.ID); return err }},
		{"release before delivery", func() error { _, err := h.orch.ReleaseFunds(ctx, order.ID); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mustCode(t, tt.call(), "INVALID_TRANSITION")
		})
	}

	// The guard errors must not have moved the order.
	current, err := h.orders.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderPaid, current.Status)
	assert.Empty(t, h.escrow.captures)
}

func TestReleaseFundsCaptureFailureKeepsDelivered(t *testing.T) {
	h := newCheckoutHarness(t)
	ctx := context.Background()

	order := payOrder(t, h)
	_, err := h.orch.MarkShipped(ctx, order.ID)
	require.NoError(t, err)
	_, err = h.orch.ConfirmDelivery(ctx, order.ID)
	require.NoError(t, err)

	h.escrow.captureErr = apperrors.NewProviderError("escrow", fmt.Errorf("rpc unavailable"))
	_, err = h.orch.ReleaseFunds(ctx, order.ID)
	mustCode(t, err, "PROVIDER_ERROR")

	current, err := h.orders.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderDelivered, current.Status)

	h.escrow.captureErr = nil
	completed, err := h.orch.ReleaseFunds(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderCompleted, completed.Status)
}

func TestCancelBeforePayment(t *testing.T) {
	h := newCheckoutHarness(t)
	ctx := context.Background()

	session, err := h.orch.CreateSession(ctx, sessionInput())
	require.NoError(t, err)

	cancelled, err := h.orch.CancelOrder(ctx, session.OrderID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CancelledAt)

	_, err = h.orch.ProcessCheckout(ctx, &ProcessCheckoutInput{SessionID: session.ID, MethodID: "usdc-ethereum"})
	mustCode(t, err, "INVALID_TRANSITION")
	assert.Equal(t, 0, h.escrow.authCalls)
}

func TestDisputeFreezesOrder(t *testing.T) {
	h := newCheckoutHarness(t)
	ctx := context.Background()

	order := payOrder(t, h)

	disputed, err := h.orch.OpenDispute(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderDisputed, disputed.Status)
	assert.NotNil(t, disputed.DisputedAt)

	_, err = h.orch.MarkShipped(ctx, order.ID)
	mustCode(t, err, "INVALID_TRANSITION")
	_, err = h.orch.ReleaseFunds(ctx, order.ID)
	mustCode(t, err, "INVALID_TRANSITION")
}

func TestConcurrentReleaseFundsSingleCapture(t *testing.T) {
	h := newCheckoutHarness(t)
	ctx := context.Background()

	order := payOrder(t, h)
	_, err := h.orch.MarkShipped(ctx, order.ID)
	require.NoError(t, err)
	_, err = h.orch.ConfirmDelivery(ctx, order.ID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.orch.ReleaseFunds(ctx, order.ID)
		}(i)
	}
	wg.Wait()

	var wins int
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			mustCode(t, err, "INVALID_TRANSITION")
		}
	}
	assert.Equal(t, 1, wins)
	assert.Len(t, h.escrow.captures, 1, "funds must be released exactly once")
}

func TestOrderStatusView(t *testing.T) {
	h := newCheckoutHarness(t)
	ctx := context.Background()

	order := payOrder(t, h)
	_, err := h.orch.MarkShipped(ctx, order.ID)
	require.NoError(t, err)

	view, err := h.orch.OrderStatus(ctx, order.ID)
	require.NoError(t, err)

	assert.Equal(t, types.OrderShipped, view.Status)
	assert.Equal(t, 3, view.Progress.CurrentStep)
	assert.Equal(t, 5, view.Progress.TotalSteps)
	assert.Equal(t, "Item Shipped", view.Progress.Label)
	assert.Equal(t, []string{"confirm_delivery", "dispute"}, view.Actions)
	assert.Equal(t, "escrow-tx-1", view.TransactionID)

	require.Len(t, view.Timeline, 3)
	assert.Equal(t, types.OrderCreated, view.Timeline[0].Status)
	assert.Equal(t, types.OrderPaid, view.Timeline[1].Status)
	assert.Equal(t, types.OrderShipped, view.Timeline[2].Status)
}

func TestOrderStatusViewFailedOrder(t *testing.T) {
	h := newCheckoutHarness(t)
	ctx := context.Background()

	h.card.authErrs = []error{apperrors.NewPaymentDeclinedError("card", "do_not_honor")}

	session, err := h.orch.CreateSession(ctx, sessionInput())
	require.NoError(t, err)
	result, err := h.orch.ProcessCheckout(ctx, &ProcessCheckoutInput{SessionID: session.ID, MethodID: "fiat-card", CardToken: "tok"})
	require.NoError(t, err)
	require.Equal(t, types.OrderFailed, result.Status)

	view, err := h.orch.OrderStatus(ctx, session.OrderID)
	require.NoError(t, err)

	assert.Equal(t, 1, view.Progress.CurrentStep)
	assert.Equal(t, "Payment Failed", view.Progress.Label)
	assert.Empty(t, view.Actions)
	assert.Equal(t, "PAYMENT_DECLINED", view.FailureReason)
}

func TestOrderStatusViewCreatedOrderOffersOnlyCancel(t *testing.T) {
	h := newCheckoutHarness(t)
	ctx := context.Background()

	session, err := h.orch.CreateSession(ctx, sessionInput())
	require.NoError(t, err)

	view, err := h.orch.OrderStatus(ctx, session.OrderID)
	require.NoError(t, err)

	assert.Equal(t, types.OrderCreated, view.Status)
	assert.Equal(t, []string{"cancel"}, view.Actions)
}

func TestReconcilerResolvesStuckOrders(t *testing.T) {
	h := newCheckoutHarness(t)
	ctx := context.Background()

	h.escrow.authState = settlement.TxPending

	confirmLater := func() string {
		session, err := h.orch.CreateSession(ctx, sessionInput())
		require.NoError(t, err)
		result, err := h.orch.ProcessCheckout(ctx, &ProcessCheckoutInput{SessionID: session.ID, MethodID: "usdc-ethereum"})
		require.NoError(t, err)
		require.Equal(t, types.OrderProcessing, result.Status)
		return session.OrderID
	}

	confirmedID := confirmLater()
	failedID := confirmLater()
	pendingID := confirmLater()

	// All three orders share the fake's single transaction ID, so resolve
	// them one at a time: age an order, script the probe, sweep.
	h.escrow.statuses["escrow-tx-1"] = &settlement.TxStatus{
		TransactionID: "escrow-tx-1",
		State:         settlement.TxConfirmed,
		AsOf:          time.Now().UTC(),
	}

	rec := NewReconciler(Deps{
		Orders:   h.orders,
		Outcomes: h.outcomes,
		Escrow:   h.escrow,
		Card:     h.card,
		Events:   h.events,
		Recorder: metrics.NoopRecorder{},
	}, nil, h.cfg)

	stuck := h.cfg.SessionTTL + stuckGrace + time.Minute
	h.orders.age(confirmedID, stuck)

	resolved := rec.ReconcileOnce(ctx)
	assert.Equal(t, 1, resolved)

	confirmed, err := h.orders.GetByID(ctx, confirmedID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderPaid, confirmed.Status)

	// Now fail the transaction and age the second order.
	h.escrow.statuses["escrow-tx-1"] = &settlement.TxStatus{
		TransactionID: "escrow-tx-1",
		State:         settlement.TxFailed,
		FailureReason: "ESCROW_REVERTED",
		AsOf:          time.Now().UTC(),
	}
	h.orders.age(failedID, stuck)

	resolved = rec.ReconcileOnce(ctx)
	assert.Equal(t, 1, resolved)

	failed, err := h.orders.GetByID(ctx, failedID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderFailed, failed.Status)
	require.NotNil(t, failed.FailureReason)
	assert.Equal(t, "ESCROW_REVERTED", *failed.FailureReason)

	// The un-aged order is untouched.
	pending, err := h.orders.GetByID(ctx, pendingID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderProcessing, pending.Status)
}

func TestReconcilerFailsOrdersWithoutTransaction(t *testing.T) {
	h := newCheckoutHarness(t)
	ctx := context.Background()

	session, err := h.orch.CreateSession(ctx, sessionInput())
	require.NoError(t, err)

	claimed, err := h.orders.BeginProcessing(ctx, session.OrderID, types.MethodStablecoinUSDC, types.PathCrypto)
	require.NoError(t, err)
	require.True(t, claimed)

	rec := NewReconciler(Deps{
		Orders:   h.orders,
		Outcomes: h.outcomes,
		Escrow:   h.escrow,
		Card:     h.card,
		Events:   h.events,
		Recorder: metrics.NoopRecorder{},
	}, nil, h.cfg)

	h.orders.age(session.OrderID, h.cfg.SessionTTL+stuckGrace+time.Minute)

	resolved := rec.ReconcileOnce(ctx)
	assert.Equal(t, 1, resolved)

	order, err := h.orders.GetByID(ctx, session.OrderID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderFailed, order.Status)
	require.NotNil(t, order.FailureReason)
	assert.Equal(t, "SETTLEMENT_UNCONFIRMED", *order.FailureReason)
}
