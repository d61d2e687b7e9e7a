package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/banshee-data/bledoubt/internal/httputil"
	"github.com/banshee-data/bledoubt/internal/monitoring"
)

const maxImportBody = 256 << 20

func (s *Server) exportHistory(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	doc, err := s.db.Snapshot(r.Context())
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to export history: %v", err))
		return
	}
	filename := fmt.Sprintf("bledoubt-history-%s.json", time.Now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	httputil.WriteJSONOK(w, doc)
}

// importHistory replaces the stored history with the uploaded document. A
// document that fails to parse leaves the store untouched.
func (s *Server) importHistory(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.db.ImportJSON(r.Context(), http.MaxBytesReader(w, r.Body, maxImportBody)); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("failed to import history: %v", err))
		return
	}
	monitoring.Logf("api: history imported")
	s.writeCounts(w, r)
}

func (s *Server) clearHistory(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.db.ClearAll(r.Context()); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to clear history: %v", err))
		return
	}
	monitoring.Logf("api: history cleared")
	s.writeCounts(w, r)
}

func (s *Server) writeCounts(w http.ResponseWriter, r *http.Request) {
	doc, err := s.db.Snapshot(r.Context())
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]int{
		"devices":    len(doc.Devices),
		"detections": len(doc.Detections),
	})
}
