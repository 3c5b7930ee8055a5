package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/magickw/linkDAO-sub011/internal/types"
)

// Order represents the authoritative record of one checkout. All status
// transitions go through the orchestrator; milestone timestamps are set
// exactly once when the matching status is first reached.
type Order struct {
	ID            string            `json:"id" db:"id"`
	SessionID     string            `json:"sessionId" db:"session_id"`
	UserID        string            `json:"userId" db:"user_id"`
	PaymentPath   types.PaymentPath `json:"paymentPath" db:"payment_path"`
	Status        types.OrderStatus `json:"status" db:"status"`
	MethodType    types.MethodType  `json:"methodType" db:"method_type"`
	AmountUSD     decimal.Decimal   `json:"amountUsd" db:"amount_usd"`
	TransactionID *string           `json:"transactionId,omitempty" db:"transaction_id"`
	FailureReason *string           `json:"failureReason,omitempty" db:"failure_reason"`
	CreatedAt     time.Time         `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time         `json:"updatedAt" db:"updated_at"`
	PaidAt        *time.Time        `json:"paidAt,omitempty" db:"paid_at"`
	ShippedAt     *time.Time        `json:"shippedAt,omitempty" db:"shipped_at"`
	DeliveredAt   *time.Time        `json:"deliveredAt,omitempty" db:"delivered_at"`
	CompletedAt   *time.Time        `json:"completedAt,omitempty" db:"completed_at"`
	CancelledAt   *time.Time        `json:"cancelledAt,omitempty" db:"cancelled_at"`
	FailedAt      *time.Time        `json:"failedAt,omitempty" db:"failed_at"`
	DisputedAt    *time.Time        `json:"disputedAt,omitempty" db:"disputed_at"`
}
