package pointsurf

import (
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

func TestBounds(t *testing.T) {
	points := []SamplePoint{
		NewSamplePoint(r3.Vec{X: 1, Y: -2, Z: 3}, White),
		NewSamplePoint(r3.Vec{X: -4, Y: 5, Z: 0}, White),
		NewSamplePoint(r3.Vec{X: 2, Y: 0, Z: -1}, White),
	}
	bb := Bounds(points)
	if bb.Min != (r3.Vec{X: -4, Y: -2, Z: -1}) {
		t.Errorf("bounds min. got %v", bb.Min)
	}
	if bb.Max != (r3.Vec{X: 2, Y: 5, Z: 3}) {
		t.Errorf("bounds max. got %v", bb.Max)
	}
	if got := Bounds(nil); got != (r3.Box{}) {
		t.Errorf("empty set bounds. got %v. want zero box", got)
	}
}

func TestSamplePointEqual(t *testing.T) {
	p := NewSamplePoint(r3.Vec{X: 1}, White)
	q := p
	if !p.Equal(q) {
		t.Error("copies must compare equal")
	}
	q.Intensity = 2
	if p.Equal(q) {
		t.Error("differing intensity must compare unequal")
	}
}

func TestAppendCube(t *testing.T) {
	var m MeshBuffers
	m.AppendCube(r3.Vec{X: 1, Y: 2, Z: 3}, 0.5, White, r3.Vec{Z: 1})
	if got := m.VertexCount(); got != 8 {
		t.Fatalf("cube vertex count. got %d. want 8", got)
	}
	if got := m.TriangleCount(); got != 12 {
		t.Fatalf("cube triangle count. got %d. want 12", got)
	}
	for _, idx := range m.Indices {
		if idx < 0 || int(idx) >= m.VertexCount() {
			t.Fatalf("cube index %d out of range", idx)
		}
	}
	// A second cube must index only its own vertices.
	m.AppendCube(r3.Vec{}, 1, White, r3.Vec{Z: 1})
	for _, idx := range m.Indices[36:] {
		if idx < 8 {
			t.Fatalf("second cube reuses vertex %d of the first", idx)
		}
	}
}

func TestGrow(t *testing.T) {
	var m MeshBuffers
	m.Grow(100, 50)
	if cap(m.Positions) < 100 || cap(m.Indices) < 150 {
		t.Fatalf("grow capacity. got %d vertices %d indices", cap(m.Positions), cap(m.Indices))
	}
	if m.VertexCount() != 0 || m.TriangleCount() != 0 {
		t.Fatal("grow must not change lengths")
	}
}
