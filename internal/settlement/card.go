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

// CardBackend settles fiat payments through the card processor. The
// processor authorizes a hold on the buyer's card which capture converts
// into a charge.
type CardBackend struct {
	client *backendClient
}

// NewCardBackend creates the card processor client
func NewCardBackend(cfg *config.SettlementConfig) *CardBackend {
	return &CardBackend{
		client: newBackendClient("card", cfg.CardBaseURL, cfg.CardAPIKey, cfg.RequestTimeout),
	}
}

// Name identifies this backend in orders, logs, and breaker names
func (b *CardBackend) Name() string {
	return "card"
}

type chargeRequest struct {
	OrderID   string `json:"orderId"`
	UserID    string `json:"userId"`
	AmountUSD string `json:"amountUsd"`
	Currency  string `json:"currency"`
	CardToken string `json:"cardToken,omitempty"`
}

type chargeResponse struct {
	ChargeID string `json:"chargeId"`
	State    string `json:"state"`
	Reason   string `json:"reason,omitempty"`
}

type chargeActionRequest struct {
	OrderID   string `json:"orderId"`
	AmountUSD string `json:"amountUsd,omitempty"`
}

type chargeStatusResponse struct {
	ChargeID  string `json:"chargeId"`
	State     string `json:"state"`
	Reason    string `json:"reason,omitempty"`
	UpdatedAt int64  `json:"updatedAt"`
}

// Authorize places a hold on the buyer's card for the order amount.
func (b *CardBackend) Authorize(ctx context.Context, req *AuthorizeRequest) (*AuthorizeResult, error) {
	payload := chargeRequest{
		OrderID:   req.OrderID,
		UserID:    req.UserID,
		AmountUSD: req.AmountUSD.String(),
		Currency:  "USD",
		CardToken: req.CardToken,
	}

	var resp chargeResponse
	if err := b.client.doJSON(ctx, http.MethodPost, "/v1/charges", payload, &resp); err != nil {
		return nil, err
	}

	// Some processors report declines in a 200 body instead of a 402
	if resp.State == "declined" {
		reason := resp.Reason
		if reason == "" {
			reason = "declined"
		}
		return nil, apperrors.NewPaymentDeclinedError(b.Name(), reason)
	}

	return &AuthorizeResult{
		TransactionID: resp.ChargeID,
		State:         chargeState(resp.State),
	}, nil
}

// Capture converts the hold into a charge.
func (b *CardBackend) Capture(ctx context.Context, orderID, txID string) error {
	return b.client.doJSON(ctx, http.MethodPost,
		"/v1/charges/"+url.PathEscape(txID)+"/capture",
		chargeActionRequest{OrderID: orderID}, nil)
}

// Cancel voids an uncaptured hold.
func (b *CardBackend) Cancel(ctx context.Context, orderID, txID string) error {
	return b.client.doJSON(ctx, http.MethodPost,
		"/v1/charges/"+url.PathEscape(txID)+"/void",
		chargeActionRequest{OrderID: orderID}, nil)
}

// Refund returns captured funds to the card.
func (b *CardBackend) Refund(ctx context.Context, orderID, txID string, amount decimal.Decimal) error {
	return b.client.doJSON(ctx, http.MethodPost,
		"/v1/charges/"+url.PathEscape(txID)+"/refunds",
		chargeActionRequest{OrderID: orderID, AmountUSD: amount.String()}, nil)
}

// Status probes the processor for the charge's current state.
func (b *CardBackend) Status(ctx context.Context, txID string) (*TxStatus, error) {
	var resp chargeStatusResponse
	if err := b.client.doJSON(ctx, http.MethodGet,
		"/v1/charges/"+url.PathEscape(txID), nil, &resp); err != nil {
		return nil, err
	}

	asOf := time.Now().UTC()
	if resp.UpdatedAt > 0 {
		asOf = time.Unix(resp.UpdatedAt, 0).UTC()
	}

	return &TxStatus{
		TransactionID: resp.ChargeID,
		State:         chargeState(resp.State),
		FailureReason: resp.Reason,
		AsOf:          asOf,
	}, nil
}

// chargeState maps processor charge states onto the transaction states
func chargeState(state string) TxState {
	switch state {
	case "authorized", "captured", "refunded", "succeeded":
		return TxConfirmed
	case "declined", "failed", "voided":
		return TxFailed
	default:
		return TxPending
	}
}
