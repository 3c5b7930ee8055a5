package models

import (
	"time"

	"github.com/magickw/linkDAO-sub011/internal/types"
)

// MonitorSample is one health probe observation, appended to ClickHouse and
// to the monitor's in-memory rolling window.
type MonitorSample struct {
	Timestamp  time.Time `json:"timestamp"`
	Source     string    `json:"source"`
	Target     string    `json:"target"`
	OK         bool      `json:"ok"`
	LatencyMS  int64     `json:"latencyMs"`
	Confidence float64   `json:"confidence"`
}

// OrderOutcome records a settlement result for analytics. One row is written
// when an order's settlement concludes, on the first transition to paid or
// failed.
type OrderOutcome struct {
	Timestamp     time.Time         `json:"timestamp"`
	OrderID       string            `json:"orderId"`
	PaymentPath   types.PaymentPath `json:"paymentPath"`
	Status        types.OrderStatus `json:"status"`
	FailureReason string            `json:"failureReason,omitempty"`
}
