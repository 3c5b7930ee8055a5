// Package settlement moves money. It defines the Backend interface the
// checkout orchestrator drives and two implementations: an escrow-contract
// gateway for on-chain payments and a card processor for fiat. Transient
// provider failures (timeouts, 5xx) surface as retryable errors; conclusive
// provider answers (declines, rejections) surface as permanent ones.
package settlement

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/magickw/linkDAO-sub011/internal/types"
)

// TxState is the provider-side state of a settlement transaction
type TxState string

const (
	// TxPending means the provider accepted the transaction but has not
	// finalized it
	TxPending TxState = "pending"
	// TxConfirmed means the provider finalized the transaction
	TxConfirmed TxState = "confirmed"
	// TxFailed means the provider conclusively failed the transaction
	TxFailed TxState = "failed"
)

// AuthorizeRequest asks a backend to take custody of the buyer's funds.
// Chain, BuyerAddress, and TokenAddress apply to the crypto rail; CardToken
// applies to the fiat rail.
type AuthorizeRequest struct {
	OrderID      string
	UserID       string
	AmountUSD    decimal.Decimal
	MethodType   types.MethodType
	Chain        *types.ChainID
	BuyerAddress string
	TokenAddress string
	CardToken    string
}

// AuthorizeResult reports the provider's hold on the funds.
type AuthorizeResult struct {
	TransactionID string
	State         TxState
}

// TxStatus is the provider's current view of a transaction, used by the
// reconciler to resolve orders stuck in processing.
type TxStatus struct {
	TransactionID string
	State         TxState
	FailureReason string
	AsOf          time.Time
}

// Backend settles payments on one rail. Authorize takes custody of the
// funds, Capture releases them to the seller, Cancel returns an
// unreleased hold, Refund returns captured funds to the buyer.
type Backend interface {
	Authorize(ctx context.Context, req *AuthorizeRequest) (*AuthorizeResult, error)
	Capture(ctx context.Context, orderID, txID string) error
	Cancel(ctx context.Context, orderID, txID string) error
	Refund(ctx context.Context, orderID, txID string, amount decimal.Decimal) error
	Status(ctx context.Context, txID string) (*TxStatus, error)
	Name() string
}
