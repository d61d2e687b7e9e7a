package api

import (
	"bytes"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/banshee-data/bledoubt/internal/trajectory"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// echartsAssetsPrefix serves the echarts bundle from the public CDN.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// trajectoryChart renders the observer positions for one device as an HTML
// scatter plot, one series per epsilon component. Debugging only.
// Query params:
//   - address (required)
func (s *Server) trajectoryChart(w http.ResponseWriter, r *http.Request) {
	address := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("address")))
	if address == "" {
		http.Error(w, "missing address", http.StatusBadRequest)
		return
	}
	traj, err := s.db.Trajectory(r.Context(), address)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to load trajectory: %v", err), http.StatusInternalServerError)
		return
	}
	if traj.Len() == 0 {
		http.Error(w, "no positioned detections for "+address, http.StatusNotFound)
		return
	}

	params := s.classifier.Params()
	comps, err := traj.EpsilonComponents(params.EpsilonSeconds)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	verdict := s.classifier.Evaluate(traj)

	var buf bytes.Buffer
	if err := renderTrajectoryChart(&buf, address, comps, verdict.Suspicious); err != nil {
		http.Error(w, fmt.Sprintf("failed to render trajectory chart: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func renderTrajectoryChart(buf *bytes.Buffer, address string, comps []trajectory.Trajectory, suspicious bool) error {
	minLat, maxLat, minLon, maxLon := math.Inf(1), math.Inf(-1), math.Inf(1), math.Inf(-1)
	for _, comp := range comps {
		for _, d := range comp.Detections() {
			minLat = math.Min(minLat, d.Position.Latitude)
			maxLat = math.Max(maxLat, d.Position.Latitude)
			minLon = math.Min(minLon, d.Position.Longitude)
			maxLon = math.Max(maxLon, d.Position.Longitude)
		}
	}
	padLat := math.Max((maxLat-minLat)*0.05, 1e-4)
	padLon := math.Max((maxLon-minLon)*0.05, 1e-4)

	scatter := charts.NewScatter()
	subtitle := fmt.Sprintf("components=%d suspicious=%t", len(comps), suspicious)
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Trajectory " + address, Theme: "dark", Width: "900px", Height: "900px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: address, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Bottom: "0"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Longitude", NameLocation: "middle", NameGap: 25, Min: minLon - padLon, Max: maxLon + padLon}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Latitude", NameLocation: "middle", NameGap: 40, Min: minLat - padLat, Max: maxLat + padLat}),
	)
	for i, comp := range comps {
		pts := make([]opts.ScatterData, 0, comp.Len())
		for _, d := range comp.Detections() {
			pts = append(pts, opts.ScatterData{Value: []interface{}{d.Position.Longitude, d.Position.Latitude}})
		}
		name := fmt.Sprintf("#%d %s", i+1, comp.Start().UTC().Format("2006-01-02 15:04"))
		scatter.AddSeries(name, pts, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))
	}
	return scatter.Render(buf)
}
