package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// handleCreateSession handles POST /checkout/session.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	input := req.toInput()
	session, err := s.checkoutService.CreateSession(r.Context(), &input)
	if err != nil {
		writeError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, session)
}

// handleProcessCheckout handles POST /checkout/process. Settlement outcomes
// come back 200 regardless of payment success; the result status carries
// paid, failed, or processing.
func (s *Server) handleProcessCheckout(w http.ResponseWriter, r *http.Request) {
	var req processCheckoutRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	input := req.toInput()
	result, err := s.checkoutService.ProcessCheckout(r.Context(), &input)
	if err != nil {
		writeError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// handleGetSession handles GET /checkout/session/{id}.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	session, err := s.checkoutService.GetSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, session)
}
