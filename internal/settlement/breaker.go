package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/magickw/linkDAO-sub011/internal/circuitbreaker"
	apperrors "github.com/magickw/linkDAO-sub011/internal/errors"
	"github.com/magickw/linkDAO-sub011/internal/metrics"
)

// breakerBackend wraps a Backend with a circuit breaker and call metrics.
// Only transient failures count against the breaker: a decline is the
// provider answering, not the provider failing.
type breakerBackend struct {
	inner    Backend
	breaker  *circuitbreaker.CircuitBreaker
	recorder metrics.Recorder
}

// WithBreaker wraps a backend in a settlement-tuned circuit breaker.
func WithBreaker(inner Backend, manager *circuitbreaker.Manager, recorder metrics.Recorder) Backend {
	name := "settlement:" + inner.Name()
	return &breakerBackend{
		inner:    inner,
		breaker:  manager.GetOrCreate(name, circuitbreaker.SettlementConfig(name)),
		recorder: recorder,
	}
}

func (b *breakerBackend) Name() string {
	return b.inner.Name()
}

func (b *breakerBackend) Authorize(ctx context.Context, req *AuthorizeRequest) (*AuthorizeResult, error) {
	var result *AuthorizeResult
	err := b.execute(ctx, "authorize", func() error {
		var innerErr error
		result, innerErr = b.inner.Authorize(ctx, req)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (b *breakerBackend) Capture(ctx context.Context, orderID, txID string) error {
	return b.execute(ctx, "capture", func() error {
		return b.inner.Capture(ctx, orderID, txID)
	})
}

func (b *breakerBackend) Cancel(ctx context.Context, orderID, txID string) error {
	return b.execute(ctx, "cancel", func() error {
		return b.inner.Cancel(ctx, orderID, txID)
	})
}

func (b *breakerBackend) Refund(ctx context.Context, orderID, txID string, amount decimal.Decimal) error {
	return b.execute(ctx, "refund", func() error {
		return b.inner.Refund(ctx, orderID, txID, amount)
	})
}

func (b *breakerBackend) Status(ctx context.Context, txID string) (*TxStatus, error) {
	var status *TxStatus
	err := b.execute(ctx, "status", func() error {
		var innerErr error
		status, innerErr = b.inner.Status(ctx, txID)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}

func (b *breakerBackend) execute(ctx context.Context, op string, fn func() error) error {
	labels := map[string]string{"target": b.inner.Name()}

	var permanent error
	start := time.Now()
	err := b.breaker.Execute(ctx, func() error {
		callErr := fn()
		if callErr != nil && !apperrors.IsRetryable(callErr) {
			permanent = callErr
			return nil
		}
		return callErr
	})
	b.recorder.ObserveLatency("settlement_"+op, time.Since(start), labels)

	if err == nil {
		err = permanent
	}
	if err == nil {
		return nil
	}

	b.recorder.IncCounter("settlement_"+op+"_failed", labels)
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		return apperrors.NewServiceUnavailableError(b.inner.Name())
	}
	return err
}
