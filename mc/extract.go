// Package mc extracts a triangle isosurface from a voxel density grid with
// the marching cubes algorithm. Triangles carry interpolated positions and
// colors, flat face normals and planar UVs; an optional post-pass averages
// normals over nearby vertices.
package mc

import (
	"image/color"
	"math"

	"github.com/chewxy/math32"
	"github.com/pointsurf/pointsurf/voxel"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// epsilon guards the edge interpolation against division by a vanishing
// density difference and snaps near-iso corners to the lattice.
const epsilon = 1e-5

// cornerOffsets maps marching cubes corner indices 0..7 to lattice offsets
// within one cube, bottom face counterclockwise then top face.
var cornerOffsets = [8][3]int{
	{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0},
	{0, 0, 1}, {1, 0, 1}, {1, 1, 1}, {0, 1, 1},
}

// Vertex is one corner of an extracted triangle.
type Vertex struct {
	Position r3.Vec
	Normal   r3.Vec
	UV       r2.Vec
	Color    color.NRGBA
}

// Triangle is a single extracted surface triangle, counterclockwise when
// viewed from outside the surface.
type Triangle [3]Vertex

// Extract runs marching cubes over the grid and returns the isosurface
// triangles. The grid must have been produced with the same config; a length
// mismatch or a grid too small to hold one cube yields no triangles.
func Extract(grid []voxel.Voxel, cfg voxel.GridConfig) []Triangle {
	cfg = cfg.Clamped()
	nx, ny, nz := cfg.Resolution[0], cfg.Resolution[1], cfg.Resolution[2]
	if len(grid) < 8 || len(grid) != nx*ny*nz {
		return nil
	}

	var tris []Triangle
	var corners [8]voxel.Voxel
	var everts [12]Vertex
	for z := 0; z < nz-1; z++ {
		for y := 0; y < ny-1; y++ {
			for x := 0; x < nx-1; x++ {
				cubeIndex := 0
				for i, off := range cornerOffsets {
					corners[i] = grid[cfg.VoxelIndex(x+off[0], y+off[1], z+off[2])]
					if corners[i].Density < cfg.IsoValue {
						cubeIndex |= 1 << i
					}
				}
				edges := edgeTable[cubeIndex]
				if edges == 0 {
					continue
				}
				for e := 0; e < 12; e++ {
					if edges&(1<<e) == 0 {
						continue
					}
					a, b := cubeEdges[e][0], cubeEdges[e][1]
					pos, col := interpolate(cfg.IsoValue, corners[a], corners[b])
					everts[e] = Vertex{Position: pos, UV: planarUV(pos, cfg), Color: col}
				}
				row := &triTable[cubeIndex]
				for i := 0; i < 3*marchingCubesMaxTriangles && row[i] != -1; i += 3 {
					tri := Triangle{everts[row[i]], everts[row[i+1]], everts[row[i+2]]}
					n := faceNormal(tri)
					tri[0].Normal, tri[1].Normal, tri[2].Normal = n, n, n
					tris = append(tris, tri)
				}
			}
		}
	}
	if cfg.SmoothNormals && cfg.SmoothingFactor > 0 {
		smoothNormals(tris, cfg.SmoothingFactor)
	}
	return tris
}

// ExtractFromPoints voxelizes the source over cfg and extracts the surface in
// one call.
func ExtractFromPoints(source voxel.PointSource, cfg voxel.GridConfig) ([]Triangle, error) {
	grid, err := voxel.BuildGrid(source, cfg)
	if err != nil {
		return nil, err
	}
	return Extract(grid, cfg), nil
}

// interpolate places a vertex on the edge between voxels a and b where the
// density crosses iso. Corners within epsilon of the iso value, or edges with
// near-equal endpoint densities, snap to a lattice corner instead of dividing
// by a tiny difference.
func interpolate(iso float32, a, b voxel.Voxel) (r3.Vec, color.NRGBA) {
	if math32.Abs(iso-a.Density) < epsilon {
		return a.Position, a.Color
	}
	if math32.Abs(iso-b.Density) < epsilon {
		return b.Position, b.Color
	}
	if math32.Abs(a.Density-b.Density) < epsilon {
		return a.Position, a.Color
	}
	mu := float64((iso - a.Density) / (b.Density - a.Density))
	pos := r3.Add(a.Position, r3.Scale(mu, r3.Sub(b.Position, a.Position)))
	return pos, lerpColor(a.Color, b.Color, mu)
}

func lerpColor(a, b color.NRGBA, t float64) color.NRGBA {
	lerp := func(x, y uint8) uint8 {
		return uint8(float64(x) + t*(float64(y)-float64(x)) + 0.5)
	}
	return color.NRGBA{
		R: lerp(a.R, b.R),
		G: lerp(a.G, b.G),
		B: lerp(a.B, b.B),
		A: lerp(a.A, b.A),
	}
}

// faceNormal is the unit normal of the triangle plane, +Z for degenerate
// triangles.
func faceNormal(t Triangle) r3.Vec {
	n := r3.Cross(
		r3.Sub(t[1].Position, t[0].Position),
		r3.Sub(t[2].Position, t[0].Position),
	)
	if r3.Norm2(n) == 0 {
		return r3.Vec{Z: 1}
	}
	return r3.Unit(n)
}

// planarUV projects the vertex onto the XY extent of the grid bounds.
func planarUV(pos r3.Vec, cfg voxel.GridConfig) r2.Vec {
	size := r3.Sub(cfg.GridMax, cfg.GridMin)
	var uv r2.Vec
	if size.X > 0 {
		uv.X = (pos.X - cfg.GridMin.X) / size.X
	}
	if size.Y > 0 {
		uv.Y = (pos.Y - cfg.GridMin.Y) / size.Y
	}
	return uv
}

// smoothNormals replaces each vertex normal with the normalized average of
// every vertex normal within radius, including its own. Vertices are bucketed
// on a uniform grid of cell size radius so only the 27 surrounding buckets
// need scanning per vertex.
func smoothNormals(tris []Triangle, radius float64) {
	type bucketKey struct{ x, y, z int }
	type ref struct{ t, v int }
	buckets := make(map[bucketKey][]ref)
	keyOf := func(p r3.Vec) bucketKey {
		return bucketKey{
			x: int(math.Floor(p.X / radius)),
			y: int(math.Floor(p.Y / radius)),
			z: int(math.Floor(p.Z / radius)),
		}
	}
	for ti := range tris {
		for vi := range tris[ti] {
			k := keyOf(tris[ti][vi].Position)
			buckets[k] = append(buckets[k], ref{ti, vi})
		}
	}

	r2lim := radius * radius
	smoothed := make([]r3.Vec, 0, len(tris)*3)
	for ti := range tris {
		for vi := range tris[ti] {
			p := tris[ti][vi].Position
			k := keyOf(p)
			var sum r3.Vec
			for dx := -1; dx <= 1; dx++ {
				for dy := -1; dy <= 1; dy++ {
					for dz := -1; dz <= 1; dz++ {
						for _, r := range buckets[bucketKey{k.x + dx, k.y + dy, k.z + dz}] {
							q := tris[r.t][r.v]
							if r3.Norm2(r3.Sub(q.Position, p)) < r2lim {
								sum = r3.Add(sum, q.Normal)
							}
						}
					}
				}
			}
			if r3.Norm2(sum) == 0 {
				sum = tris[ti][vi].Normal
			} else {
				sum = r3.Unit(sum)
			}
			smoothed = append(smoothed, sum)
		}
	}
	i := 0
	for ti := range tris {
		for vi := range tris[ti] {
			tris[ti][vi].Normal = smoothed[i]
			i++
		}
	}
}
