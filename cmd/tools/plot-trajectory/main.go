// Command plot-trajectory renders a device's observer track to a PNG, one
// scatter series per epsilon component, with axes in meters east and north
// of the first fix.
package main

import (
	"context"
	"flag"
	"fmt"
	"image/color"
	"log"
	"math"

	"github.com/banshee-data/bledoubt/internal/classifier"
	"github.com/banshee-data/bledoubt/internal/db"
	"github.com/banshee-data/bledoubt/internal/trajectory"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

var (
	dbPath  = flag.String("db", "bledoubt.db", "Path to the SQLite database")
	address = flag.String("address", "", "Device address to plot (required)")
	output  = flag.String("out", "", "Output PNG path (default trajectory-<address>.png)")
	epsilon = flag.Float64("epsilon", classifier.DefaultEpsilonSeconds, "Epsilon gap in seconds")
)

func main() {
	flag.Parse()
	if *address == "" {
		log.Fatal("-address is required")
	}
	out := *output
	if out == "" {
		out = fmt.Sprintf("trajectory-%s.png", sanitize(*address))
	}

	store, err := db.OpenDB(*dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer store.Close()

	traj, err := store.Trajectory(context.Background(), *address)
	if err != nil {
		log.Fatalf("failed to load trajectory: %v", err)
	}
	if traj.Len() == 0 {
		log.Fatalf("no positioned detections for %s", *address)
	}
	comps, err := traj.EpsilonComponents(*epsilon)
	if err != nil {
		log.Fatalf("invalid epsilon: %v", err)
	}

	p, err := plotComponents(*address, traj.At(0).Position, comps)
	if err != nil {
		log.Fatalf("failed to build plot: %v", err)
	}
	if err := p.Save(8*vg.Inch, 8*vg.Inch, out); err != nil {
		log.Fatalf("failed to save plot: %v", err)
	}
	log.Printf("wrote %s (%d detections, %d components)", out, traj.Len(), len(comps))
}

// offsetMeters projects pos onto a local east/north plane centred on origin.
func offsetMeters(origin, pos trajectory.Position) (east, north float64) {
	const rad = math.Pi / 180
	north = (pos.Latitude - origin.Latitude) * rad * trajectory.EarthRadiusMeters
	east = (pos.Longitude - origin.Longitude) * rad * trajectory.EarthRadiusMeters * math.Cos(origin.Latitude*rad)
	return east, north
}

func plotComponents(address string, origin trajectory.Position, comps []trajectory.Trajectory) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s (%d components)", address, len(comps))
	p.X.Label.Text = "East (m)"
	p.Y.Label.Text = "North (m)"
	p.Add(plotter.NewGrid())

	for i, comp := range comps {
		pts := make(plotter.XYs, 0, comp.Len())
		for _, d := range comp.Detections() {
			e, n := offsetMeters(origin, d.Position)
			pts = append(pts, plotter.XY{X: e, Y: n})
		}
		s, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, err
		}
		s.GlyphStyle.Color = plotutil.Color(i)
		s.GlyphStyle.Shape = plotutil.Shape(i)
		s.GlyphStyle.Radius = vg.Points(2)
		p.Add(s)
		p.Legend.Add(fmt.Sprintf("#%d %s", i+1, comp.Start().UTC().Format("15:04")), s)
	}
	p.Legend.Top = true
	p.Legend.TextStyle.Color = color.Black
	return p, nil
}

func sanitize(s string) string {
	b := []byte(s)
	for i, c := range b {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
			b[i] = '_'
		}
	}
	return string(b)
}
