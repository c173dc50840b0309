package voxel

import (
	"image/color"

	"github.com/pkg/errors"
	"github.com/pointsurf/pointsurf/internal/d3"
	"gonum.org/v1/gonum/spatial/r3"
)

// Voxel is one scalar sample of the density field with attributes derived at
// voxelization time. Voxels live in a flat row-major array indexed
// z*resX*resY + y*resX + x.
type Voxel struct {
	Density  float32
	Position r3.Vec
	Normal   r3.Vec
	Color    color.NRGBA
}

// Per-axis resolution bounds. The grid allocates resX*resY*resZ voxels, so
// unchecked resolutions blow up memory on pathological configs. Two lattice
// points per axis is the smallest grid holding one marching cube.
const (
	MinResolution = 2
	MaxResolution = 200
)

// voxelBytes is the in-memory footprint of one Voxel used for the grid
// allocation check: 4 (density) + 24+24 (vectors) + 4 (color), rounded to 64
// by alignment padding.
const voxelBytes = 64

// GridConfig configures voxelization and the downstream marching cubes pass.
type GridConfig struct {
	// VoxelSize sets the density search radius (VoxelSize*2 per sample).
	VoxelSize float64
	// IsoValue is the density threshold defining the isosurface.
	IsoValue float32
	// GridMin and GridMax are the world-space lattice corners.
	GridMin r3.Vec
	GridMax r3.Vec
	// Resolution is the per-axis lattice point count, clamped to
	// [MinResolution, MaxResolution].
	Resolution [3]int
	// SmoothNormals enables the post-extraction normal averaging pass.
	SmoothNormals bool
	// SmoothingFactor is the world-space neighbor radius for smoothing.
	SmoothingFactor float64
	// MaxGridBytes caps grid memory; BuildGrid fails before allocating more.
	// Zero means DefaultMaxGridBytes.
	MaxGridBytes int64
}

// DefaultMaxGridBytes bounds grid allocations to the largest clamped
// resolution (200^3 voxels) and no further.
const DefaultMaxGridBytes = MaxResolution * MaxResolution * MaxResolution * voxelBytes

// DefaultGridConfig returns the configuration used when the caller has no
// scene-specific tuning: a centered 1000-unit cube at 100^3 resolution.
func DefaultGridConfig() GridConfig {
	return GridConfig{
		VoxelSize:       10,
		IsoValue:        0.5,
		GridMin:         d3.Elem(-500),
		GridMax:         d3.Elem(500),
		Resolution:      [3]int{100, 100, 100},
		SmoothNormals:   false,
		SmoothingFactor: 0.5,
	}
}

// ErrGridTooLarge is returned when a grid would exceed the configured memory
// ceiling.
var ErrGridTooLarge = errors.New("voxel grid exceeds memory ceiling")

// Clamped returns a copy of the config with tuning values forced into safe
// ranges. Invalid tuning is corrected, not rejected.
func (c GridConfig) Clamped() GridConfig {
	if c.VoxelSize <= 0 {
		c.VoxelSize = 1
	}
	for i := range c.Resolution {
		if c.Resolution[i] < MinResolution {
			c.Resolution[i] = MinResolution
		} else if c.Resolution[i] > MaxResolution {
			c.Resolution[i] = MaxResolution
		}
	}
	if (d3.Box{Min: c.GridMin, Max: c.GridMax}).Degenerate() {
		c.GridMin, c.GridMax = d3.MinElem(c.GridMin, c.GridMax), d3.MaxElem(c.GridMin, c.GridMax)
	}
	if c.MaxGridBytes <= 0 {
		c.MaxGridBytes = DefaultMaxGridBytes
	}
	return c
}

// VoxelIndex returns the flat row-major index of lattice point (x, y, z).
func (c GridConfig) VoxelIndex(x, y, z int) int {
	return z*c.Resolution[0]*c.Resolution[1] + y*c.Resolution[0] + x
}

// Spacing returns the world distance between adjacent lattice points per
// axis.
func (c GridConfig) Spacing() r3.Vec {
	size := r3.Sub(c.GridMax, c.GridMin)
	return r3.Vec{
		X: size.X / float64(c.Resolution[0]-1),
		Y: size.Y / float64(c.Resolution[1]-1),
		Z: size.Z / float64(c.Resolution[2]-1),
	}
}

// BuildGrid samples the density field at every lattice point and returns the
// voxel array. Surface voxels (density above the iso value) get a normal
// estimated from the density gradient by central differences. The grid
// allocation is validated against the config memory ceiling first.
func BuildGrid(source PointSource, cfg GridConfig) ([]Voxel, error) {
	cfg = cfg.Clamped()
	nx, ny, nz := cfg.Resolution[0], cfg.Resolution[1], cfg.Resolution[2]
	total := int64(nx) * int64(ny) * int64(nz)
	if total*voxelBytes > cfg.MaxGridBytes {
		return nil, errors.Wrapf(ErrGridTooLarge,
			"%dx%dx%d voxels need %d bytes, ceiling %d", nx, ny, nz, total*voxelBytes, cfg.MaxGridBytes)
	}

	spacing := cfg.Spacing()
	searchRadius := cfg.VoxelSize * 2
	grid := make([]Voxel, total)
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				pos := r3.Vec{
					X: cfg.GridMin.X + float64(x)*spacing.X,
					Y: cfg.GridMin.Y + float64(y)*spacing.Y,
					Z: cfg.GridMin.Z + float64(z)*spacing.Z,
				}
				density, col := Sample(pos, source(pos, searchRadius), searchRadius)
				v := Voxel{
					Density:  density,
					Position: pos,
					Normal:   r3.Vec{Z: 1},
					Color:    col,
				}
				if density > cfg.IsoValue {
					v.Normal = gradientNormal(source, pos, spacing, searchRadius)
				}
				grid[cfg.VoxelIndex(x, y, z)] = v
			}
		}
	}
	return grid, nil
}

// gradientNormal estimates the surface normal at pos as the negated,
// normalized central-difference gradient of the density field. The density
// decreases away from the point cloud, so the negative gradient points out of
// the surface. Falls back to +Z for a vanishing gradient.
func gradientNormal(source PointSource, pos, spacing r3.Vec, radius float64) r3.Vec {
	sampleAt := func(p r3.Vec) float64 {
		return float64(Density(p, source(p, radius), radius))
	}
	grad := r3.Vec{
		X: sampleAt(r3.Vec{X: pos.X + spacing.X, Y: pos.Y, Z: pos.Z}) - sampleAt(r3.Vec{X: pos.X - spacing.X, Y: pos.Y, Z: pos.Z}),
		Y: sampleAt(r3.Vec{X: pos.X, Y: pos.Y + spacing.Y, Z: pos.Z}) - sampleAt(r3.Vec{X: pos.X, Y: pos.Y - spacing.Y, Z: pos.Z}),
		Z: sampleAt(r3.Vec{X: pos.X, Y: pos.Y, Z: pos.Z + spacing.Z}) - sampleAt(r3.Vec{X: pos.X, Y: pos.Y, Z: pos.Z - spacing.Z}),
	}
	if r3.Norm2(grad) == 0 {
		return r3.Vec{Z: 1}
	}
	return r3.Unit(r3.Scale(-1, grad))
}
