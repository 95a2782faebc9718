package server

import (
	"net/http"
	"time"
)

type healthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
	Store  string `json:"store"`
}

// handleHealth implements GET /healthz. Beyond a process-alive check it
// round-trips a query through the Store, matching the DB connectivity
// probe of the original implementation's /db-health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	storeStatus := "ok"
	if _, err := s.store.ListTasks(r.Context()); err != nil {
		storeStatus = "unavailable"
	}

	respondOK(w, reqID, healthResponse{
		Status: "healthy",
		Uptime: time.Since(s.startTime).Round(time.Second).String(),
		Store:  storeStatus,
	})
}
