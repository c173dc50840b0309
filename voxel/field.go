// Package voxel samples a scalar density field induced by a point cloud over
// a regular 3D lattice. The lattice feeds the marching cubes extractor in
// package mc.
package voxel

import (
	"image/color"

	"github.com/chewxy/math32"
	"github.com/pointsurf/pointsurf"
	"github.com/pointsurf/pointsurf/spatial"
	"gonum.org/v1/gonum/spatial/r3"
)

// PointSource returns candidate points near position for density sampling.
// Implementations may overshoot; points beyond the search radius contribute
// zero weight regardless.
type PointSource func(position r3.Vec, radius float64) []pointsurf.SamplePoint

// SliceSource returns a source that hands every point to each sample. This is
// the brute force O(n) per-sample scan; prefer IndexSource for large scenes.
func SliceSource(points []pointsurf.SamplePoint) PointSource {
	return func(r3.Vec, float64) []pointsurf.SamplePoint {
		return points
	}
}

// IndexSource returns a source backed by a spatial index radius query,
// bounding each density sample to the local neighborhood.
func IndexSource(idx *spatial.Index) PointSource {
	return idx.QueryRadius
}

// Density sums the contribution of every point within radius of position
// using a quadratic falloff weight (1 - dist/radius)^2 scaled by the point's
// intensity. Points at or beyond radius contribute nothing.
func Density(position r3.Vec, points []pointsurf.SamplePoint, radius float64) float32 {
	if radius <= 0 {
		return 0
	}
	var density float32
	radius2 := radius * radius
	r := float32(radius)
	for i := range points {
		dist2 := r3.Norm2(r3.Sub(position, points[i].Position))
		if dist2 >= radius2 {
			continue
		}
		w := 1 - math32.Sqrt(float32(dist2))/r
		density += w * w * points[i].Intensity
	}
	return density
}

// Sample is Density plus the falloff-weighted mean color of the contributing
// points. With no contributors the color is white.
func Sample(position r3.Vec, points []pointsurf.SamplePoint, radius float64) (float32, color.NRGBA) {
	if radius <= 0 {
		return 0, pointsurf.White
	}
	var (
		density    float32
		wsum       float32
		r, g, b, a float32
	)
	radius2 := radius * radius
	rad := float32(radius)
	for i := range points {
		dist2 := r3.Norm2(r3.Sub(position, points[i].Position))
		if dist2 >= radius2 {
			continue
		}
		w := 1 - math32.Sqrt(float32(dist2))/rad
		w *= w
		density += w * points[i].Intensity
		c := points[i].Color
		r += w * float32(c.R)
		g += w * float32(c.G)
		b += w * float32(c.B)
		a += w * float32(c.A)
		wsum += w
	}
	if wsum == 0 {
		return density, pointsurf.White
	}
	return density, color.NRGBA{
		R: uint8(r/wsum + 0.5),
		G: uint8(g/wsum + 0.5),
		B: uint8(b/wsum + 0.5),
		A: uint8(a/wsum + 0.5),
	}
}
