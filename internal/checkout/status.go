package checkout

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/magickw/linkDAO-sub011/internal/models"
	"github.com/magickw/linkDAO-sub011/internal/types"
)

const totalSteps = 5

var stepLabels = [totalSteps]string{
	"Order Created",
	"Payment Processed",
	"Item Shipped",
	"Delivery Confirmed",
	"Order Completed",
}

// Progress places the order on the five-step fulfillment ladder.
type Progress struct {
	CurrentStep int    `json:"currentStep"`
	TotalSteps  int    `json:"totalSteps"`
	Label       string `json:"label"`
}

// TimelineEntry is one milestone the order has passed, in wall-clock order.
type TimelineEntry struct {
	Status types.OrderStatus `json:"status"`
	Label  string            `json:"label"`
	At     time.Time         `json:"at"`
}

// OrderStatusView is the buyer-facing read model for one order: where it
// stands, what happened so far, and which actions are currently permitted.
type OrderStatusView struct {
	OrderID       string            `json:"orderId"`
	Status        types.OrderStatus `json:"status"`
	PaymentPath   types.PaymentPath `json:"paymentPath,omitempty"`
	MethodType    types.MethodType  `json:"methodType,omitempty"`
	AmountUSD     decimal.Decimal   `json:"amountUsd"`
	TransactionID string            `json:"transactionId,omitempty"`
	FailureReason string            `json:"failureReason,omitempty"`
	Progress      Progress          `json:"progress"`
	Actions       []string          `json:"actions"`
	Timeline      []TimelineEntry   `json:"timeline"`
}

// OrderStatus builds the status view for an order.
func (o *Orchestrator) OrderStatus(ctx context.Context, orderID string) (*OrderStatusView, error) {
	order, err := o.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	view := &OrderStatusView{
		OrderID:     order.ID,
		Status:      order.Status,
		PaymentPath: order.PaymentPath,
		MethodType:  order.MethodType,
		AmountUSD:   order.AmountUSD,
		Progress:    progressFor(order),
		Actions:     actionsFor(order.Status),
		Timeline:    timelineFor(order),
	}
	if order.TransactionID != nil {
		view.TransactionID = *order.TransactionID
	}
	if order.FailureReason != nil {
		view.FailureReason = *order.FailureReason
	}
	return view, nil
}

// progressFor counts the milestones the order has cleared. Disputed orders
// keep the progress of the last milestone reached; failed and cancelled
// orders never cleared payment.
func progressFor(order *models.Order) Progress {
	step := 1
	switch order.Status {
	case types.OrderPaid:
		step = 2
	case types.OrderShipped:
		step = 3
	case types.OrderDelivered:
		step = 4
	case types.OrderCompleted:
		step = 5
	case types.OrderDisputed:
		switch {
		case order.DeliveredAt != nil:
			step = 4
		case order.ShippedAt != nil:
			step = 3
		case order.PaidAt != nil:
			step = 2
		}
	}

	label := stepLabels[step-1]
	switch order.Status {
	case types.OrderProcessing:
		label = "Payment Processing"
	case types.OrderFailed:
		label = "Payment Failed"
	case types.OrderCancelled:
		label = "Order Cancelled"
	case types.OrderDisputed:
		label = "In Dispute"
	}

	return Progress{CurrentStep: step, TotalSteps: totalSteps, Label: label}
}

func actionsFor(status types.OrderStatus) []string {
	actions := []string{}
	if CanCancel(status) {
		actions = append(actions, "cancel")
	}
	if CanMarkShipped(status) {
		actions = append(actions, "mark_shipped")
	}
	if CanConfirmDelivery(status) {
		actions = append(actions, "confirm_delivery")
	}
	if CanReleaseFunds(status) {
		actions = append(actions, "release_funds")
	}
	if CanDispute(status) {
		actions = append(actions, "dispute")
	}
	return actions
}

func timelineFor(order *models.Order) []TimelineEntry {
	entries := []TimelineEntry{
		{Status: types.OrderCreated, Label: "Order created", At: order.CreatedAt},
	}

	milestones := []struct {
		at     *time.Time
		status types.OrderStatus
		label  string
	}{
		{order.PaidAt, types.OrderPaid, "Payment processed"},
		{order.ShippedAt, types.OrderShipped, "Item shipped"},
		{order.DeliveredAt, types.OrderDelivered, "Delivery confirmed"},
		{order.CompletedAt, types.OrderCompleted, "Order completed"},
		{order.CancelledAt, types.OrderCancelled, "Order cancelled"},
		{order.FailedAt, types.OrderFailed, "Payment failed"},
		{order.DisputedAt, types.OrderDisputed, "Dispute opened"},
	}
	for _, m := range milestones {
		if m.at != nil {
			entries = append(entries, TimelineEntry{Status: m.status, Label: m.label, At: *m.at})
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].At.Before(entries[j].At)
	})
	return entries
}
