// Package trajectory owns the detection data model used by the tailing
// analysis.
//
// Responsibilities: the Detection record, the immutable Trajectory view over
// one device's detections, temporal segmentation into epsilon components,
// and spatial extent (point-estimate and lower-bound diameter).
// Key types: Detection, Position, Trajectory.
//
// No SQL/database code is allowed in this package.
package trajectory
