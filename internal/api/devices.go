package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/banshee-data/bledoubt/internal/classifier"
	"github.com/banshee-data/bledoubt/internal/db"
	"github.com/banshee-data/bledoubt/internal/httputil"
	"github.com/banshee-data/bledoubt/internal/ingest"
	"github.com/banshee-data/bledoubt/internal/trajectory"
	"github.com/banshee-data/bledoubt/internal/units"
)

const maxDetectionBody = 64 * 1024

func addressParam(r *http.Request) string {
	return strings.ToUpper(strings.TrimSpace(r.PathValue("address")))
}

func (s *Server) listDevices(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	f, err := db.ParseDeviceFilter(r.URL.Query().Get("filter"))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	devices, err := s.db.Devices(r.Context(), f)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list devices: %v", err))
		return
	}
	httputil.WriteJSONOK(w, devices)
}

func (s *Server) showDevice(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	dev, err := s.db.Device(r.Context(), addressParam(r))
	if errors.Is(err, db.ErrDeviceNotFound) {
		httputil.NotFound(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load device: %v", err))
		return
	}
	httputil.WriteJSONOK(w, dev)
}

type detectionPoint struct {
	Timestamp int64   `json:"timestamp"`
	RSSI      int     `json:"rssi"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Accuracy  float64 `json:"accuracy"`
}

type componentResponse struct {
	classifier.ComponentSummary
	Diameter           float64          `json:"diameter"`
	DiameterLowerBound float64          `json:"diameter_lower_bound"`
	Points             []detectionPoint `json:"points"`
}

type trajectoryResponse struct {
	Address    string              `json:"address"`
	Units      string              `json:"units"`
	Detections int                 `json:"detections"`
	Suspicious bool                `json:"suspicious"`
	Params     classifier.Params   `json:"params"`
	Components []componentResponse `json:"components"`
}

// showTrajectory returns the device's epsilon components with the classifier
// diagnostics. Distances are reported in meters plus the requested units.
func (s *Server) showTrajectory(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	unit := r.URL.Query().Get("units")
	if unit == "" {
		unit = units.Meters
	}
	if !units.IsValid(unit) {
		httputil.BadRequest(w, fmt.Sprintf("invalid units %q (valid: %s)", unit, units.GetValidUnitsString()))
		return
	}

	address := addressParam(r)
	if _, err := s.db.Device(r.Context(), address); err != nil {
		if errors.Is(err, db.ErrDeviceNotFound) {
			httputil.NotFound(w, err.Error())
			return
		}
		httputil.InternalServerError(w, fmt.Sprintf("failed to load device: %v", err))
		return
	}
	traj, err := s.db.Trajectory(r.Context(), address)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load trajectory: %v", err))
		return
	}

	params := s.classifier.Params()
	verdict := s.classifier.Evaluate(traj)
	comps, err := traj.EpsilonComponents(params.EpsilonSeconds)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}

	resp := trajectoryResponse{
		Address:    address,
		Units:      unit,
		Detections: traj.Len(),
		Suspicious: verdict.Suspicious,
		Params:     params,
		Components: make([]componentResponse, 0, len(comps)),
	}
	for i, comp := range comps {
		summary := verdict.Components[i]
		resp.Components = append(resp.Components, componentResponse{
			ComponentSummary:   summary,
			Diameter:           units.ConvertDistance(summary.DiameterMeters, unit),
			DiameterLowerBound: units.ConvertDistance(summary.DiameterLowerBoundMeters, unit),
			Points:             points(comp),
		})
	}
	httputil.WriteJSONOK(w, resp)
}

func points(t trajectory.Trajectory) []detectionPoint {
	out := make([]detectionPoint, 0, t.Len())
	for _, d := range t.Detections() {
		out = append(out, detectionPoint{
			Timestamp: d.Timestamp.Unix(),
			RSSI:      d.SignalDBm,
			Latitude:  d.Position.Latitude,
			Longitude: d.Position.Longitude,
			Accuracy:  d.Position.AccuracyMeters,
		})
	}
	return out
}

func (s *Server) setSafe(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Safe *bool `json:"safe"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Safe == nil {
		httputil.BadRequest(w, `body must be {"safe": true|false}`)
		return
	}

	address := addressParam(r)
	changed, err := s.db.MarkSafe(r.Context(), address, *req.Safe)
	if errors.Is(err, db.ErrDeviceNotFound) {
		httputil.NotFound(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to update device: %v", err))
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"address": address,
		"safe":    *req.Safe,
		"changed": changed,
	})
}

// postDetection records one scanner report. The body is the same JSON object
// the serial scanner emits.
func (s *Server) postDetection(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodPost) {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxDetectionBody))
	if err != nil {
		httputil.BadRequest(w, fmt.Sprintf("failed to read body: %v", err))
		return
	}

	err = s.ingest.HandleLine(r.Context(), string(body))
	switch {
	case errors.Is(err, ingest.ErrMalformed):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, ingest.ErrOutOfRange):
		httputil.WriteJSONError(w, http.StatusUnprocessableEntity, err.Error())
	case err != nil:
		httputil.InternalServerError(w, fmt.Sprintf("failed to record detection: %v", err))
	default:
		httputil.WriteJSON(w, http.StatusAccepted, s.ingest.Stats())
	}
}
