package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/magickw/linkDAO-sub011/internal/checkout"
	apperrors "github.com/magickw/linkDAO-sub011/internal/errors"
	"github.com/magickw/linkDAO-sub011/internal/logging"
	"github.com/magickw/linkDAO-sub011/internal/models"
)

// handleOrderStatus handles GET /orders/{id}/status.
func (s *Server) handleOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]

	view, err := s.orderService.OrderStatus(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, view)
}

// handleFulfillOrder handles POST /orders/{id}/fulfill.
func (s *Server) handleFulfillOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]

	var req fulfillRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	var (
		order *models.Order
		err   error
	)
	switch req.Action {
	case "mark_shipped":
		order, err = s.orderService.MarkShipped(r.Context(), orderID)
	case "confirm_delivery":
		order, err = s.orderService.ConfirmDelivery(r.Context(), orderID)
	case "release_funds":
		order, err = s.orderService.ReleaseFunds(r.Context(), orderID)
	case "dispute":
		order, err = s.orderService.OpenDispute(r.Context(), orderID)
	case "cancel":
		order, err = s.orderService.CancelOrder(r.Context(), orderID)
	default:
		writeError(w, apperrors.NewValidationError("action", "unknown fulfillment action"))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, order)
}

const (
	streamPingInterval = 30 * time.Second
	streamWriteWait    = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Cross-origin access mirrors the CORS middleware
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleOrderStream handles GET /orders/{id}/stream. It upgrades to a
// websocket, sends the order's current status, then forwards transition
// events until the order reaches a terminal state or the client leaves.
func (s *Server) handleOrderStream(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]
	logger := logging.FromContext(r.Context()).WithOrder(orderID)

	// Resolve the order before upgrading so missing IDs get a plain 404
	view, err := s.orderService.OrderStatus(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client
		logger.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	events, cancel := s.events.Subscribe(orderID)
	defer cancel()

	// Current status first so subscribers never miss the transition that
	// happened between the HTTP lookup and the subscription.
	snapshot := checkout.StatusEvent{OrderID: orderID, Status: view.Status, At: time.Now().UTC()}
	if err := conn.WriteJSON(snapshot); err != nil {
		return
	}
	if view.Status.IsTerminal() {
		s.closeStream(conn)
		return
	}

	// Reader loop notices client disconnects and answers control frames
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pings := time.NewTicker(streamPingInterval)
	defer pings.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
			if event.Status.IsTerminal() {
				s.closeStream(conn)
				return
			}
		case <-pings.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) closeStream(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "order reached a terminal state")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(streamWriteWait))
}
