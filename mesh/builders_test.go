package mesh_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/pointsurf/pointsurf"
	"github.com/pointsurf/pointsurf/mesh"
	"github.com/pointsurf/pointsurf/voxel"
	"gonum.org/v1/gonum/spatial/r3"
)

func clusterPoints() []pointsurf.SamplePoint {
	return []pointsurf.SamplePoint{
		pointsurf.NewSamplePoint(r3.Vec{}, pointsurf.White),
		pointsurf.NewSamplePoint(r3.Vec{X: 1}, pointsurf.White),
		pointsurf.NewSamplePoint(r3.Vec{Y: 1}, pointsurf.White),
	}
}

func TestCubeSplat(t *testing.T) {
	points := clusterPoints()
	m, err := mesh.CubeSplat(points, 0.5, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := m.VertexCount(); got != 8*len(points) {
		t.Errorf("vertex count. got %d. want %d", got, 8*len(points))
	}
	if got := m.TriangleCount(); got != 12*len(points) {
		t.Errorf("triangle count. got %d. want %d", got, 12*len(points))
	}
	// First cube is centered on the first point with half extent 0.25.
	if got := m.Positions[0]; got != (r3.Vec{X: -0.25, Y: -0.25, Z: -0.25}) {
		t.Errorf("first cube corner. got %v", got)
	}
	for _, c := range m.Colors[:8] {
		if c != points[0].Color {
			t.Errorf("splat cube color. got %v. want %v", c, points[0].Color)
		}
	}
}

func TestFan(t *testing.T) {
	points := clusterPoints()
	m, err := mesh.Fan(points, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := m.VertexCount(); got != len(points) {
		t.Errorf("vertex count. got %d. want %d", got, len(points))
	}
	if got := m.TriangleCount(); got != len(points)-2 {
		t.Errorf("triangle count. got %d. want %d", got, len(points)-2)
	}
	if m.Indices[0] != 0 {
		t.Error("fan triangles must anchor at vertex 0")
	}

	// Undersized input yields empty buffers, not an error.
	m, err = mesh.Fan(points[:2], nil)
	if err != nil {
		t.Fatal(err)
	}
	if m.VertexCount() != 0 || m.TriangleCount() != 0 {
		t.Errorf("2-point fan. got %d vertices %d triangles. want empty", m.VertexCount(), m.TriangleCount())
	}
}

func TestVoxelCubesDedup(t *testing.T) {
	points := []pointsurf.SamplePoint{
		pointsurf.NewSamplePoint(r3.Vec{X: 0.1, Y: 0.1}, pointsurf.White),
		pointsurf.NewSamplePoint(r3.Vec{X: 0.9, Y: 0.9}, pointsurf.White), // same cell
		pointsurf.NewSamplePoint(r3.Vec{X: 5.5}, pointsurf.White),
	}
	m, err := mesh.VoxelCubes(points, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := m.TriangleCount(); got != 24 {
		t.Errorf("deduplicated cube triangles. got %d. want 24", got)
	}
	for _, c := range m.Colors {
		if c != pointsurf.White {
			t.Errorf("voxel cube color. got %v. want white", c)
		}
	}
	// First cube is centered on its cell, not on the point.
	if got := m.Positions[0]; got != (r3.Vec{}) {
		t.Errorf("first voxel cube corner. got %v. want cell origin", got)
	}
}

func TestBuilderCancellation(t *testing.T) {
	cancelNow := func() bool { return true }
	if _, err := mesh.CubeSplat(clusterPoints(), 1, cancelNow); !errors.Is(err, mesh.ErrCancelled) {
		t.Errorf("cube splat cancel. got %v. want ErrCancelled", err)
	}
	if _, err := mesh.Fan(clusterPoints(), cancelNow); !errors.Is(err, mesh.ErrCancelled) {
		t.Errorf("fan cancel. got %v. want ErrCancelled", err)
	}
	if _, err := mesh.VoxelCubes(clusterPoints(), 1, cancelNow); !errors.Is(err, mesh.ErrCancelled) {
		t.Errorf("voxel cubes cancel. got %v. want ErrCancelled", err)
	}
	if _, err := mesh.MarchingCubes(clusterPoints(), voxel.DefaultGridConfig(), cancelNow); !errors.Is(err, mesh.ErrCancelled) {
		t.Errorf("marching cubes cancel. got %v. want ErrCancelled", err)
	}
}

func TestMarchingCubes(t *testing.T) {
	cfg := voxel.GridConfig{
		VoxelSize:  1,
		IsoValue:   0.5,
		GridMin:    r3.Vec{},
		GridMax:    r3.Vec{X: 2, Y: 2, Z: 2},
		Resolution: [3]int{2, 2, 2},
	}
	m, err := mesh.MarchingCubes(clusterPoints(), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if m.TriangleCount() == 0 {
		t.Fatal("marching cubes produced no triangles for a covered cluster")
	}
	// Unwelded output: three fresh vertices per triangle, sequential indices.
	if got := m.VertexCount(); got != 3*m.TriangleCount() {
		t.Errorf("vertex count. got %d. want %d", got, 3*m.TriangleCount())
	}
	for i, idx := range m.Indices {
		if int(idx) != i {
			t.Fatalf("index %d. got %d. want %d", i, idx, i)
		}
	}
	if len(m.Normals) != m.VertexCount() || len(m.UVs) != m.VertexCount() || len(m.Colors) != m.VertexCount() {
		t.Error("attribute buffers must match vertex count")
	}
}
