package checkout

import (
	"sync"
	"time"

	"github.com/magickw/linkDAO-sub011/internal/types"
)

// StatusEvent announces one order status transition.
type StatusEvent struct {
	OrderID string            `json:"orderId"`
	Status  types.OrderStatus `json:"status"`
	At      time.Time         `json:"at"`
}

const eventBufferSize = 8

// EventHub fans order status transitions out to in-process subscribers,
// primarily the websocket stream. Delivery is best-effort: a subscriber
// that stops draining loses events rather than blocking the orchestrator.
type EventHub struct {
	mu   sync.RWMutex
	subs map[string]map[chan StatusEvent]struct{}
}

// NewEventHub creates an event hub
func NewEventHub() *EventHub {
	return &EventHub{subs: make(map[string]map[chan StatusEvent]struct{})}
}

// Subscribe registers for one order's transitions. The returned cancel
// function must be called to release the subscription.
func (h *EventHub) Subscribe(orderID string) (<-chan StatusEvent, func()) {
	ch := make(chan StatusEvent, eventBufferSize)

	h.mu.Lock()
	if h.subs[orderID] == nil {
		h.subs[orderID] = make(map[chan StatusEvent]struct{})
	}
	h.subs[orderID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[orderID], ch)
			if len(h.subs[orderID]) == 0 {
				delete(h.subs, orderID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}

	return ch, cancel
}

// Publish delivers an event to the order's subscribers without blocking.
func (h *EventHub) Publish(event StatusEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs[event.OrderID] {
		select {
		case ch <- event:
		default:
		}
	}
}
