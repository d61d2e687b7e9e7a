package main

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/bledoubt/internal/testutil"
	"github.com/banshee-data/bledoubt/internal/trajectory"
	"gonum.org/v1/plot/vg"
)

func TestOffsetMeters(t *testing.T) {
	origin := trajectory.Position{Latitude: 45, Longitude: 7}
	e, n := offsetMeters(origin, trajectory.Position{Latitude: 45 + 900/testutil.MetersPerDegreeLat, Longitude: 7})
	if math.Abs(e) > 1e-9 || math.Abs(n-900) > 1 {
		t.Errorf("offset = (%.2f, %.2f), want (0, 900)", e, n)
	}
}

func TestPlotComponents_Saves(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var dets []trajectory.Detection
	for _, f := range testutil.Walk(start, 5*time.Minute, 30*time.Second, 45, 7, 1.5) {
		dets = append(dets, trajectory.Detection{Address: "AA", Timestamp: f.Time, Position: trajectory.Position{Latitude: f.Latitude, Longitude: f.Longitude, AccuracyMeters: 5}})
	}
	for _, f := range testutil.Walk(start.Add(time.Hour), 2*time.Minute, 30*time.Second, 45.01, 7, 1) {
		dets = append(dets, trajectory.Detection{Address: "AA", Timestamp: f.Time, Position: trajectory.Position{Latitude: f.Latitude, Longitude: f.Longitude, AccuracyMeters: 5}})
	}
	traj := trajectory.New(dets)
	comps, err := traj.EpsilonComponents(60)
	if err != nil {
		t.Fatal(err)
	}
	if len(comps) != 2 {
		t.Fatalf("components = %d, want 2", len(comps))
	}

	p, err := plotComponents("AA", traj.At(0).Position, comps)
	if err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(t.TempDir(), "t.png")
	if err := p.Save(4*vg.Inch, 4*vg.Inch, out); err != nil {
		t.Fatal(err)
	}
	if info, err := os.Stat(out); err != nil || info.Size() == 0 {
		t.Fatalf("png not written: %v", err)
	}
}

func TestSanitize(t *testing.T) {
	if got := sanitize("AA:BB:cc"); got != "AA_BB_cc" {
		t.Errorf("sanitize = %q", got)
	}
}
