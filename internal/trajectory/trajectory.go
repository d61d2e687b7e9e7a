package trajectory

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// ErrInvalidParameter is returned when a segmentation or classification
// threshold is negative or not a number.
var ErrInvalidParameter = errors.New("invalid parameter")

// Detection is one observation of one device, paired with where the observer
// was at the time. Detections are values and are never mutated.
type Detection struct {
	Address   string    `json:"address"`
	Timestamp time.Time `json:"timestamp"`
	SignalDBm int       `json:"rssi"`
	Position  Position  `json:"position"`
}

// Valid reports whether the detection carries a timestamp and a usable fix.
func (d Detection) Valid() bool {
	return !d.Timestamp.IsZero() && d.Position.Valid()
}

// Trajectory is an immutable, timestamp-ordered sequence of detections for a
// single device.
type Trajectory struct {
	detections []Detection
}

// New builds a Trajectory from detections in any order. Invalid detections
// are dropped so that one bad record does not abort analysis of a device.
// Timestamps are truncated to whole seconds.
func New(detections []Detection) Trajectory {
	kept := make([]Detection, 0, len(detections))
	for _, d := range detections {
		if !d.Valid() {
			continue
		}
		d.Timestamp = d.Timestamp.Truncate(time.Second)
		kept = append(kept, d)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Timestamp.Before(kept[j].Timestamp)
	})
	return Trajectory{detections: kept}
}

// Len returns the number of detections.
func (t Trajectory) Len() int {
	return len(t.detections)
}

// Detections returns a copy of the ordered detections.
func (t Trajectory) Detections() []Detection {
	out := make([]Detection, len(t.detections))
	copy(out, t.detections)
	return out
}

// At returns the i-th detection.
func (t Trajectory) At(i int) Detection {
	return t.detections[i]
}

// Start returns the first timestamp, or the zero time for an empty trajectory.
func (t Trajectory) Start() time.Time {
	if len(t.detections) == 0 {
		return time.Time{}
	}
	return t.detections[0].Timestamp
}

// End returns the last timestamp, or the zero time for an empty trajectory.
func (t Trajectory) End() time.Time {
	if len(t.detections) == 0 {
		return time.Time{}
	}
	return t.detections[len(t.detections)-1].Timestamp
}

// DurationSeconds is the time between the first and last detection.
func (t Trajectory) DurationSeconds() float64 {
	if len(t.detections) < 2 {
		return 0
	}
	return t.End().Sub(t.Start()).Seconds()
}

// DiameterMeters is the largest great-circle distance between any two
// observer positions in the trajectory.
func (t Trajectory) DiameterMeters() float64 {
	return t.farthestPair(DistanceMeters)
}

// DiameterLowerBoundMeters is the largest pairwise distance after removing
// both accuracy radii, floored at zero. The true diameter is at least this
// value wherever inside their accuracy circles the real positions lie.
func (t Trajectory) DiameterLowerBoundMeters() float64 {
	return t.farthestPair(lowerBoundDistanceMeters)
}

// farthestPair is an exact O(n²) scan. Detection counts per device and window
// are in the tens to low hundreds.
func (t Trajectory) farthestPair(dist func(a, b Position) float64) float64 {
	best := 0.0
	for i := 0; i < len(t.detections); i++ {
		for j := i + 1; j < len(t.detections); j++ {
			if d := dist(t.detections[i].Position, t.detections[j].Position); d > best {
				best = d
			}
		}
	}
	return best
}

// EpsilonComponents splits the trajectory into maximal runs in which no two
// consecutive detections are more than epsilonSeconds apart. The components
// partition the trajectory and keep its order.
func (t Trajectory) EpsilonComponents(epsilonSeconds float64) ([]Trajectory, error) {
	if math.IsNaN(epsilonSeconds) || epsilonSeconds < 0 {
		return nil, fmt.Errorf("epsilon %v: %w", epsilonSeconds, ErrInvalidParameter)
	}
	if len(t.detections) == 0 {
		return nil, nil
	}

	var components []Trajectory
	start := 0
	for i := 1; i < len(t.detections); i++ {
		gap := t.detections[i].Timestamp.Sub(t.detections[i-1].Timestamp).Seconds()
		if gap > epsilonSeconds {
			components = append(components, Trajectory{detections: t.detections[start:i:i]})
			start = i
		}
	}
	components = append(components, Trajectory{detections: t.detections[start:len(t.detections):len(t.detections)]})
	return components, nil
}
