package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/magickw/linkDAO-sub011/internal/types"
)

// LineItem represents one listing in a checkout session.
type LineItem struct {
	ListingID string          `json:"listingId"`
	Title     string          `json:"title"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// ShippingAddress is the delivery destination captured at checkout.
type ShippingAddress struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// SessionTotals holds the computed money breakdown for a session.
type SessionTotals struct {
	Subtotal    decimal.Decimal `json:"subtotal"`
	Shipping    decimal.Decimal `json:"shipping"`
	Tax         decimal.Decimal `json:"tax"`
	PlatformFee decimal.Decimal `json:"platformFee"`
	Total       decimal.Decimal `json:"total"`
}

// CheckoutSession represents an in-flight checkout. Sessions expire a fixed
// interval after creation; an expired session must be recreated, not reused.
type CheckoutSession struct {
	ID             string                `json:"id"`
	OrderID        string                `json:"orderId"`
	UserID         string                `json:"userId"`
	BuyerAddress   string                `json:"buyerAddress,omitempty"`
	Chain          types.ChainID         `json:"chain"`
	Items          []LineItem            `json:"items"`
	Totals         SessionTotals         `json:"totals"`
	Shipping       *ShippingAddress      `json:"shipping,omitempty"`
	SelectedMethod *PaymentMethod        `json:"selectedMethod,omitempty"`
	Prioritization *PrioritizationResult `json:"prioritization,omitempty"`
	CreatedAt      time.Time             `json:"createdAt"`
	ExpiresAt      time.Time             `json:"expiresAt"`
}

// Expired reports whether the session TTL has elapsed at the given instant.
func (s *CheckoutSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
