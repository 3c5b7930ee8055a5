package settlement

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/magickw/linkDAO-sub011/internal/config"
	apperrors "github.com/magickw/linkDAO-sub011/internal/errors"
)

// EscrowBackend settles crypto payments through the escrow-contract gateway.
// Authorize locks the buyer's funds in the contract, Capture releases them
// to the seller, Refund returns them to the buyer.
type EscrowBackend struct {
	client *backendClient
}

// NewEscrowBackend creates the escrow gateway client
func NewEscrowBackend(cfg *config.SettlementConfig) *EscrowBackend {
	return &EscrowBackend{
		client: newBackendClient("escrow", cfg.EscrowBaseURL, cfg.EscrowAPIKey, cfg.RequestTimeout),
	}
}

// Name identifies this backend in orders, logs, and breaker names
func (b *EscrowBackend) Name() string {
	return "escrow"
}

type escrowLockRequest struct {
	OrderID   string `json:"orderId"`
	Buyer     string `json:"buyer"`
	Chain     string `json:"chain"`
	Token     string `json:"token,omitempty"`
	AmountUSD string `json:"amountUsd"`
}

type escrowLockResponse struct {
	LockID string `json:"lockId"`
	State  string `json:"state"`
}

type escrowActionRequest struct {
	OrderID   string `json:"orderId"`
	AmountUSD string `json:"amountUsd,omitempty"`
}

type escrowStatusResponse struct {
	LockID    string `json:"lockId"`
	State     string `json:"state"`
	Reason    string `json:"reason,omitempty"`
	UpdatedAt int64  `json:"updatedAt"`
}

// Authorize locks the order amount in the escrow contract.
func (b *EscrowBackend) Authorize(ctx context.Context, req *AuthorizeRequest) (*AuthorizeResult, error) {
	if req.Chain == nil {
		return nil, apperrors.NewValidationError("chain", "escrow settlement requires a chain")
	}
	if req.BuyerAddress == "" {
		return nil, apperrors.NewValidationError("buyerAddress", "escrow settlement requires the buyer wallet")
	}

	payload := escrowLockRequest{
		OrderID:   req.OrderID,
		Buyer:     req.BuyerAddress,
		Chain:     string(*req.Chain),
		Token:     req.TokenAddress,
		AmountUSD: req.AmountUSD.String(),
	}

	var resp escrowLockResponse
	if err := b.client.doJSON(ctx, http.MethodPost, "/v1/escrow/locks", payload, &resp); err != nil {
		return nil, err
	}

	return &AuthorizeResult{
		TransactionID: resp.LockID,
		State:         escrowState(resp.State),
	}, nil
}

// Capture releases the locked funds to the seller.
func (b *EscrowBackend) Capture(ctx context.Context, orderID, txID string) error {
	return b.client.doJSON(ctx, http.MethodPost,
		"/v1/escrow/locks/"+url.PathEscape(txID)+"/release",
		escrowActionRequest{OrderID: orderID}, nil)
}

// Cancel returns an unreleased lock to the buyer.
func (b *EscrowBackend) Cancel(ctx context.Context, orderID, txID string) error {
	return b.client.doJSON(ctx, http.MethodPost,
		"/v1/escrow/locks/"+url.PathEscape(txID)+"/cancel",
		escrowActionRequest{OrderID: orderID}, nil)
}

// Refund returns released funds to the buyer.
func (b *EscrowBackend) Refund(ctx context.Context, orderID, txID string, amount decimal.Decimal) error {
	return b.client.doJSON(ctx, http.MethodPost,
		"/v1/escrow/locks/"+url.PathEscape(txID)+"/refund",
		escrowActionRequest{OrderID: orderID, AmountUSD: amount.String()}, nil)
}

// Status probes the gateway for the lock's current state.
func (b *EscrowBackend) Status(ctx context.Context, txID string) (*TxStatus, error) {
	var resp escrowStatusResponse
	if err := b.client.doJSON(ctx, http.MethodGet,
		"/v1/escrow/locks/"+url.PathEscape(txID), nil, &resp); err != nil {
		return nil, err
	}

	asOf := time.Now().UTC()
	if resp.UpdatedAt > 0 {
		asOf = time.Unix(resp.UpdatedAt, 0).UTC()
	}

	return &TxStatus{
		TransactionID: resp.LockID,
		State:         escrowState(resp.State),
		FailureReason: resp.Reason,
		AsOf:          asOf,
	}, nil
}

// escrowState maps gateway lock states onto the transaction states. Released
// and refunded locks are conclusive outcomes of a confirmed hold.
func escrowState(state string) TxState {
	switch state {
	case "locked", "released", "refunded", "confirmed":
		return TxConfirmed
	case "reverted", "failed", "expired":
		return TxFailed
	default:
		return TxPending
	}
}
