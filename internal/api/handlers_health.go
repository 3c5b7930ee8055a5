package api

import (
	"net/http"
)

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snapshot := s.healthMonitor.Snapshot()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  snapshot.Status,
		"service": "payment-prioritization",
		"asOf":    snapshot.AsOf,
		"alerts":  len(snapshot.Alerts),
	})
}

// handleHealthAlerts handles GET /health/alerts.
func (s *Server) handleHealthAlerts(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.healthMonitor.Snapshot())
}
