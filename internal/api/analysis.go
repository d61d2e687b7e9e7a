package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/banshee-data/bledoubt/internal/httputil"
)

func (s *Server) requireController(w http.ResponseWriter) bool {
	if s.controller == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "analysis scheduler not running")
		return false
	}
	return true
}

func (s *Server) analysisStatus(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) || !s.requireController(w) {
		return
	}
	httputil.WriteJSONOK(w, s.controller.Status())
}

func (s *Server) analysisRun(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodPost) || !s.requireController(w) {
		return
	}
	queued := s.controller.TriggerManualRun()
	httputil.WriteJSON(w, http.StatusAccepted, map[string]bool{"queued": queued})
}

// analysisEnabled switches between analysis and logging mode.
func (s *Server) analysisEnabled(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodPost) || !s.requireController(w) {
		return
	}
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		httputil.BadRequest(w, `body must be {"enabled": true|false}`)
		return
	}
	s.controller.SetEnabled(*req.Enabled)
	httputil.WriteJSONOK(w, s.controller.Status())
}

func (s *Server) analysisRuns(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 || n > 1000 {
			httputil.BadRequest(w, "invalid 'limit' parameter")
			return
		}
		limit = n
	}
	runs, err := s.db.RecentAnalysisRuns(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list analysis runs: %v", err))
		return
	}
	httputil.WriteJSONOK(w, runs)
}
