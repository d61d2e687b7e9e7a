package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/banshee-data/bledoubt/internal/db"
	"github.com/banshee-data/bledoubt/internal/httputil"
)

// streamDevices sends the device list as Server-Sent Events: the current
// list first, then the latest list after every change. A slow client skips
// intermediate lists.
func (s *Server) streamDevices(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	f, err := db.ParseDeviceFilter(r.URL.Query().Get("filter"))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.InternalServerError(w, "streaming unsupported")
		return
	}

	id, snapshots, err := s.db.Subscribe(r.Context(), f)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to subscribe: %v", err))
		return
	}
	defer s.db.Unsubscribe(id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx
	w.WriteHeader(http.StatusOK)

	for {
		select {
		case list, ok := <-snapshots:
			if !ok {
				return
			}
			data, err := json.Marshal(list)
			if err != nil {
				return
			}
			if _, err := fmt.Fprintf(w, "event: devices\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
