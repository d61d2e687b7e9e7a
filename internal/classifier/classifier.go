// Package classifier decides whether a device's trajectory looks like a
// beacon travelling with the user.
//
// A device is suspicious when some epsilon component of its trajectory lasts
// longer than MinDurationSeconds and spreads wider than MinDiameterMeters.
// Segmenting first means two short encounters far apart in time (the same
// shop beacon on two different days) are never read as one long episode.
package classifier

import (
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/bledoubt/internal/trajectory"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Default thresholds.
const (
	DefaultEpsilonSeconds     = 60
	DefaultMinDiameterMeters  = 300
	DefaultMinDurationSeconds = 300
)

// Params are the classification thresholds. They are fixed for the lifetime
// of a Classifier.
type Params struct {
	EpsilonSeconds     float64 `json:"epsilon_seconds"`
	MinDiameterMeters  float64 `json:"min_diameter_meters"`
	MinDurationSeconds float64 `json:"min_duration_seconds"`
}

// DefaultParams returns the stock thresholds (60 s, 300 m, 300 s).
func DefaultParams() Params {
	return Params{
		EpsilonSeconds:     DefaultEpsilonSeconds,
		MinDiameterMeters:  DefaultMinDiameterMeters,
		MinDurationSeconds: DefaultMinDurationSeconds,
	}
}

// Validate rejects negative or NaN thresholds.
func (p Params) Validate() error {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"epsilon_seconds", p.EpsilonSeconds},
		{"min_diameter_meters", p.MinDiameterMeters},
		{"min_duration_seconds", p.MinDurationSeconds},
	} {
		if math.IsNaN(f.v) || f.v < 0 {
			return fmt.Errorf("%s must be non-negative, got %v: %w", f.name, f.v, trajectory.ErrInvalidParameter)
		}
	}
	return nil
}

// Classifier is stateless apart from its parameters and is safe for
// concurrent use.
type Classifier struct {
	params Params
}

// New returns a Classifier, or an error wrapping
// trajectory.ErrInvalidParameter if any threshold is negative.
func New(p Params) (*Classifier, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Classifier{params: p}, nil
}

// Params returns the thresholds the classifier was built with.
func (c *Classifier) Params() Params {
	return c.params
}

// ComponentSummary describes one epsilon component for diagnostics.
type ComponentSummary struct {
	Start                    time.Time `json:"start"`
	End                      time.Time `json:"end"`
	Detections               int       `json:"detections"`
	DurationSeconds          float64   `json:"duration_seconds"`
	DiameterMeters           float64   `json:"diameter_m"`
	DiameterLowerBoundMeters float64   `json:"diameter_lower_bound_m"`
	MeanSignalDBm            float64   `json:"mean_rssi_dbm"`
	MaxSignalDBm             float64   `json:"max_rssi_dbm"`

	DurationExceeded bool `json:"duration_exceeded"`
	// LowerBoundTriggered is the guaranteed trigger: the spread holds even
	// under worst-case GPS error.
	LowerBoundTriggered bool `json:"lower_bound_triggered"`
	// PointEstimateTriggered is the sensitive trigger.
	PointEstimateTriggered bool `json:"point_estimate_triggered"`
	Suspicious             bool `json:"suspicious"`
}

// Verdict is the classification result for one trajectory.
type Verdict struct {
	Suspicious bool `json:"suspicious"`
	// Evidence is the first component that satisfied the predicate.
	Evidence   *ComponentSummary  `json:"evidence,omitempty"`
	Components []ComponentSummary `json:"components"`
}

// IsSuspicious reports whether any epsilon component of t exceeds both the
// duration and the diameter thresholds.
func (c *Classifier) IsSuspicious(t trajectory.Trajectory) bool {
	comps, err := t.EpsilonComponents(c.params.EpsilonSeconds)
	if err != nil {
		// epsilon was validated in New
		return false
	}
	for _, comp := range comps {
		if c.satisfies(comp) {
			return true
		}
	}
	return false
}

// Evaluate classifies t and summarises every component.
func (c *Classifier) Evaluate(t trajectory.Trajectory) Verdict {
	comps, err := t.EpsilonComponents(c.params.EpsilonSeconds)
	if err != nil {
		return Verdict{}
	}

	v := Verdict{Components: make([]ComponentSummary, 0, len(comps))}
	for _, comp := range comps {
		s := c.summarise(comp)
		v.Components = append(v.Components, s)
		if s.Suspicious && v.Evidence == nil {
			v.Suspicious = true
			ev := s
			v.Evidence = &ev
		}
	}
	return v
}

func (c *Classifier) satisfies(comp trajectory.Trajectory) bool {
	if comp.DurationSeconds() <= c.params.MinDurationSeconds {
		return false
	}
	// The lower bound never exceeds the point estimate, so the second term
	// decides on its own. Both are kept so diagnostics can report each.
	return comp.DiameterLowerBoundMeters() > c.params.MinDiameterMeters ||
		comp.DiameterMeters() > c.params.MinDiameterMeters
}

func (c *Classifier) summarise(comp trajectory.Trajectory) ComponentSummary {
	s := ComponentSummary{
		Start:                    comp.Start(),
		End:                      comp.End(),
		Detections:               comp.Len(),
		DurationSeconds:          comp.DurationSeconds(),
		DiameterMeters:           comp.DiameterMeters(),
		DiameterLowerBoundMeters: comp.DiameterLowerBoundMeters(),
	}
	if comp.Len() > 0 {
		rssi := make([]float64, comp.Len())
		for i := range rssi {
			rssi[i] = float64(comp.At(i).SignalDBm)
		}
		s.MeanSignalDBm = stat.Mean(rssi, nil)
		s.MaxSignalDBm = floats.Max(rssi)
	}

	s.DurationExceeded = s.DurationSeconds > c.params.MinDurationSeconds
	s.LowerBoundTriggered = s.DiameterLowerBoundMeters > c.params.MinDiameterMeters
	s.PointEstimateTriggered = s.DiameterMeters > c.params.MinDiameterMeters
	s.Suspicious = s.DurationExceeded && (s.LowerBoundTriggered || s.PointEstimateTriggered)
	return s
}
