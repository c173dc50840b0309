package pointsurf

import (
	"image/color"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// MeshBuffers is the renderable output of every generator: flat vertex
// attribute arrays plus a triangle index list. Buffers are owned values; a
// builder returns a fresh bundle and never shares backing arrays.
type MeshBuffers struct {
	Positions []r3.Vec
	Indices   []int32
	Normals   []r3.Vec
	UVs       []r2.Vec
	Colors    []color.NRGBA
}

// VertexCount returns the number of vertices in the bundle.
func (m *MeshBuffers) VertexCount() int { return len(m.Positions) }

// TriangleCount returns the number of triangles indexed by the bundle.
func (m *MeshBuffers) TriangleCount() int { return len(m.Indices) / 3 }

// Grow reserves capacity for n additional vertices and t additional
// triangles.
func (m *MeshBuffers) Grow(n, t int) {
	m.Positions = grow(m.Positions, n)
	m.Normals = grow(m.Normals, n)
	m.UVs = grow(m.UVs, n)
	m.Colors = grow(m.Colors, n)
	m.Indices = grow(m.Indices, 3*t)
}

func grow[E any](s []E, n int) []E {
	if cap(s)-len(s) >= n {
		return s
	}
	return append(make([]E, 0, len(s)+n), s...)
}

// cubeFaces indexes the 8 cube corners laid down by AppendCube, two triangles
// per face, wound outward.
var cubeFaces = [36]int32{
	0, 1, 2, 0, 2, 3, // front
	5, 4, 7, 5, 7, 6, // back
	4, 0, 3, 4, 3, 7, // left
	1, 5, 6, 1, 6, 2, // right
	3, 2, 6, 3, 6, 7, // top
	4, 5, 1, 4, 1, 0, // bottom
}

// AppendCube appends an axis aligned cube centered at c with the given half
// side length: 8 vertices and 12 triangles, all vertices sharing one color
// and normal. Both the point-cloud splat and the voxel builders emit this
// topology.
func (m *MeshBuffers) AppendCube(c r3.Vec, half float64, col color.NRGBA, normal r3.Vec) {
	base := int32(len(m.Positions))
	m.Positions = append(m.Positions,
		r3.Add(c, r3.Vec{X: -half, Y: -half, Z: -half}),
		r3.Add(c, r3.Vec{X: half, Y: -half, Z: -half}),
		r3.Add(c, r3.Vec{X: half, Y: half, Z: -half}),
		r3.Add(c, r3.Vec{X: -half, Y: half, Z: -half}),
		r3.Add(c, r3.Vec{X: -half, Y: -half, Z: half}),
		r3.Add(c, r3.Vec{X: half, Y: -half, Z: half}),
		r3.Add(c, r3.Vec{X: half, Y: half, Z: half}),
		r3.Add(c, r3.Vec{X: -half, Y: half, Z: half}),
	)
	for i := 0; i < 8; i++ {
		m.Colors = append(m.Colors, col)
		m.Normals = append(m.Normals, normal)
		m.UVs = append(m.UVs, r2.Vec{})
	}
	for _, idx := range cubeFaces {
		m.Indices = append(m.Indices, base+idx)
	}
}
