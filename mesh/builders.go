// Package mesh builds renderable MeshBuffers bundles from sample point sets.
// Builders are pure functions: they allocate fresh buffers, never retain the
// input slice and poll a cancellation callback while iterating so long builds
// abandon promptly.
package mesh

import (
	"math"

	"github.com/pkg/errors"
	"github.com/pointsurf/pointsurf"
	"github.com/pointsurf/pointsurf/mc"
	"github.com/pointsurf/pointsurf/spatial"
	"github.com/pointsurf/pointsurf/voxel"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrCancelled is returned by every builder when the cancel callback fires
// mid-build. Partial buffers are discarded.
var ErrCancelled = errors.New("mesh build cancelled")

// Cancel reports whether the caller wants the build abandoned. Builders poll
// it every cancelStride elements. A nil Cancel never cancels.
type Cancel func() bool

// cancelStride is how many elements a builder processes between cancel polls.
const cancelStride = 1000

func cancelled(c Cancel) bool { return c != nil && c() }

// CubeSplat emits one axis aligned cube of the given side length per point,
// colored by the point and flat-shaded with the point normal. 8 vertices and
// 12 triangles per point, no sharing between cubes.
func CubeSplat(points []pointsurf.SamplePoint, size float64, cancel Cancel) (pointsurf.MeshBuffers, error) {
	var m pointsurf.MeshBuffers
	m.Grow(8*len(points), 12*len(points))
	half := size / 2
	for i, p := range points {
		if i%cancelStride == 0 && cancelled(cancel) {
			return pointsurf.MeshBuffers{}, ErrCancelled
		}
		m.AppendCube(p.Position, half, p.Color, p.Normal)
	}
	return m, nil
}

// Fan triangulates the points as a fan anchored at the first point: triangles
// (0, i, i+1) for i in [1, n-2]. Vertices keep their point color and normal;
// UVs are projected over the XY extent of the set. Fewer than 3 points yield
// empty buffers.
func Fan(points []pointsurf.SamplePoint, cancel Cancel) (pointsurf.MeshBuffers, error) {
	var m pointsurf.MeshBuffers
	if len(points) < 3 {
		return m, nil
	}
	bb := pointsurf.Bounds(points)
	size := r3.Sub(bb.Max, bb.Min)
	m.Grow(len(points), len(points)-2)
	for i, p := range points {
		if i%cancelStride == 0 && cancelled(cancel) {
			return pointsurf.MeshBuffers{}, ErrCancelled
		}
		var uv r2.Vec
		if size.X > 0 {
			uv.X = (p.Position.X - bb.Min.X) / size.X
		}
		if size.Y > 0 {
			uv.Y = (p.Position.Y - bb.Min.Y) / size.Y
		}
		m.Positions = append(m.Positions, p.Position)
		m.Normals = append(m.Normals, p.Normal)
		m.UVs = append(m.UVs, uv)
		m.Colors = append(m.Colors, p.Color)
	}
	for i := 1; i < len(points)-1; i++ {
		m.Indices = append(m.Indices, 0, int32(i), int32(i+1))
	}
	return m, nil
}

// VoxelCubes snaps each point to a voxel cell of the given size and emits one
// white cube per occupied cell, deduplicated. Cubes are centered on their
// cell.
func VoxelCubes(points []pointsurf.SamplePoint, voxelSize float64, cancel Cancel) (pointsurf.MeshBuffers, error) {
	var m pointsurf.MeshBuffers
	if voxelSize <= 0 {
		voxelSize = 1
	}
	type cellKey struct{ x, y, z int }
	occupied := make(map[cellKey]struct{})
	for i, p := range points {
		if i%cancelStride == 0 && cancelled(cancel) {
			return pointsurf.MeshBuffers{}, ErrCancelled
		}
		k := cellKey{
			x: int(math.Floor(p.Position.X / voxelSize)),
			y: int(math.Floor(p.Position.Y / voxelSize)),
			z: int(math.Floor(p.Position.Z / voxelSize)),
		}
		if _, seen := occupied[k]; seen {
			continue
		}
		occupied[k] = struct{}{}
		center := r3.Vec{
			X: (float64(k.x) + 0.5) * voxelSize,
			Y: (float64(k.y) + 0.5) * voxelSize,
			Z: (float64(k.z) + 0.5) * voxelSize,
		}
		m.AppendCube(center, voxelSize/2, pointsurf.White, r3.Vec{Z: 1})
	}
	return m, nil
}

// MarchingCubes voxelizes the points over cfg and extracts the isosurface
// into index buffers. Points are loaded into a uniform grid index so density
// sampling stays local. Triangles are emitted unwelded, three fresh vertices
// each.
func MarchingCubes(points []pointsurf.SamplePoint, cfg voxel.GridConfig, cancel Cancel) (pointsurf.MeshBuffers, error) {
	if cancelled(cancel) {
		return pointsurf.MeshBuffers{}, ErrCancelled
	}
	cfg = cfg.Clamped()
	idx := spatial.NewIndex(cfg.VoxelSize*2, r3.Box{Min: cfg.GridMin, Max: cfg.GridMax})
	idx.InsertBatch(points)
	grid, err := voxel.BuildGrid(voxel.IndexSource(idx), cfg)
	if err != nil {
		return pointsurf.MeshBuffers{}, err
	}
	if cancelled(cancel) {
		return pointsurf.MeshBuffers{}, ErrCancelled
	}
	return Triangles(mc.Extract(grid, cfg), cancel)
}

// Triangles flattens extracted triangles into MeshBuffers without welding:
// every triangle contributes three vertices and three sequential indices.
func Triangles(tris []mc.Triangle, cancel Cancel) (pointsurf.MeshBuffers, error) {
	var m pointsurf.MeshBuffers
	m.Grow(3*len(tris), len(tris))
	for i, t := range tris {
		if i%cancelStride == 0 && cancelled(cancel) {
			return pointsurf.MeshBuffers{}, ErrCancelled
		}
		base := int32(len(m.Positions))
		for _, v := range t {
			m.Positions = append(m.Positions, v.Position)
			m.Normals = append(m.Normals, v.Normal)
			m.UVs = append(m.UVs, v.UV)
			m.Colors = append(m.Colors, v.Color)
		}
		m.Indices = append(m.Indices, base, base+1, base+2)
	}
	return m, nil
}
