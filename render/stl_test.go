package render_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/pointsurf/pointsurf"
	"github.com/pointsurf/pointsurf/mesh"
	"github.com/pointsurf/pointsurf/render"
	"gonum.org/v1/gonum/spatial/r3"
)

func splatMesh(t *testing.T) pointsurf.MeshBuffers {
	t.Helper()
	points := []pointsurf.SamplePoint{
		pointsurf.NewSamplePoint(r3.Vec{}, pointsurf.White),
		pointsurf.NewSamplePoint(r3.Vec{X: 3}, pointsurf.White),
		pointsurf.NewSamplePoint(r3.Vec{Y: 2, Z: 1}, pointsurf.White),
	}
	m, err := mesh.CubeSplat(points, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestSTLWriteReadback(t *testing.T) {
	input := splatMesh(t)
	var b bytes.Buffer
	if err := render.WriteSTL(&b, &input); err != nil {
		t.Fatal(err)
	}
	if got, want := b.Len(), 84+50*input.TriangleCount(); got != want {
		t.Fatalf("binary STL size. got %d. want %d", got, want)
	}

	output, err := render.ReadSTL(&b)
	if err != nil {
		t.Fatal(err)
	}
	if got := output.TriangleCount(); got != input.TriangleCount() {
		t.Fatalf("triangles read back. got %d. want %d", got, input.TriangleCount())
	}

	const tol = 1e-6
	for i, idx := range input.Indices {
		want := input.Positions[idx]
		got := output.Positions[output.Indices[i]]
		if r3.Norm(r3.Sub(got, want)) > tol {
			t.Fatalf("vertex %d position. got %v. want %v", i, got, want)
		}
	}
}

func TestSTLEmptyMesh(t *testing.T) {
	var b bytes.Buffer
	var m pointsurf.MeshBuffers
	if err := render.WriteSTL(&b, &m); err == nil {
		t.Fatal("empty mesh write must fail")
	}
	if _, err := render.ReadSTL(bytes.NewReader(make([]byte, 84))); err == nil {
		t.Fatal("zero-triangle STL read must fail")
	}
}

func TestSaveSTL(t *testing.T) {
	input := splatMesh(t)
	path := filepath.Join(t.TempDir(), "splat.stl")
	if err := render.SaveSTL(path, &input); err != nil {
		t.Fatal(err)
	}
	fp, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer fp.Close()
	output, err := render.ReadSTL(fp)
	if err != nil {
		t.Fatal(err)
	}
	if output.TriangleCount() != input.TriangleCount() {
		t.Fatalf("triangles in saved file. got %d. want %d", output.TriangleCount(), input.TriangleCount())
	}
}

func TestToSDFX(t *testing.T) {
	input := splatMesh(t)
	tris := render.ToSDFX(&input)
	if len(tris) != input.TriangleCount() {
		t.Fatalf("sdfx triangle count. got %d. want %d", len(tris), input.TriangleCount())
	}
	first := input.Positions[input.Indices[0]]
	if tris[0].V[0].X != first.X || tris[0].V[0].Y != first.Y || tris[0].V[0].Z != first.Z {
		t.Fatalf("sdfx first vertex. got %v. want %v", tris[0].V[0], first)
	}
}

func TestPreviewPNG(t *testing.T) {
	input := splatMesh(t)
	path := filepath.Join(t.TempDir(), "splat.png")
	if err := render.PreviewPNG(path, &input, 64, 48, render.DefaultView()); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() == 0 {
		t.Fatal("preview PNG is empty")
	}

	var empty pointsurf.MeshBuffers
	if err := render.PreviewPNG(path, &empty, 64, 48, render.DefaultView()); err == nil {
		t.Fatal("empty mesh preview must fail")
	}
}
