// Package pointsurf provides the core value types shared by the surface
// reconstruction pipeline: timestamped colored sample points captured from a
// mixed-reality sensor and the mesh buffer bundle the generators produce.
//
// The heavy lifting lives in the subpackages: spatial (uniform grid index),
// voxel (density field sampling), mc (marching cubes extraction), mesh
// (builder functions) and generate (asynchronous job scheduling).
package pointsurf

import (
	"image/color"
	"time"

	"github.com/pointsurf/pointsurf/internal/d3"
	"gonum.org/v1/gonum/spatial/r3"
)

// SamplePoint is a single colored sensor sample in world space. Values are
// immutable once created; containers copy points rather than share them so
// concurrent generation jobs never observe mutation.
type SamplePoint struct {
	Position  r3.Vec
	Color     color.NRGBA
	Intensity float32
	Normal    r3.Vec
	Timestamp float64 // seconds since the unix epoch.
}

// NewSamplePoint returns a sample at position p with the given color,
// unit intensity, an up-facing normal and the current time.
func NewSamplePoint(p r3.Vec, c color.NRGBA) SamplePoint {
	return SamplePoint{
		Position:  p,
		Color:     c,
		Intensity: 1,
		Normal:    r3.Vec{Z: 1},
		Timestamp: Now(),
	}
}

// Now returns the current time as fractional seconds since the unix epoch,
// the timestamp convention used by SamplePoint.
func Now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// Equal reports value equality of two sample points. The spatial index uses
// it for exact-value removal.
func (p SamplePoint) Equal(q SamplePoint) bool {
	return p.Position == q.Position &&
		p.Color == q.Color &&
		p.Intensity == q.Intensity &&
		p.Normal == q.Normal &&
		p.Timestamp == q.Timestamp
}

// White is the default point color.
var White = color.NRGBA{R: 255, G: 255, B: 255, A: 255}

// Bounds returns the axis aligned bounding box of a point set. Returns a zero
// box for an empty set.
func Bounds(points []SamplePoint) r3.Box {
	if len(points) == 0 {
		return r3.Box{}
	}
	bb := r3.Box{Min: points[0].Position, Max: points[0].Position}
	for _, p := range points[1:] {
		bb.Min = d3.MinElem(bb.Min, p.Position)
		bb.Max = d3.MaxElem(bb.Max, p.Position)
	}
	return bb
}
