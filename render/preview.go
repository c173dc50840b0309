package render

import (
	"errors"

	"github.com/fogleman/fauxgl"
	"github.com/nfnt/resize"
	"github.com/pointsurf/pointsurf"
	"github.com/pointsurf/pointsurf/internal/d3"
	"gonum.org/v1/gonum/spatial/r3"
)

// View positions the preview camera. The mesh is first fit into a bi-unit
// cube centered at the origin, so eye positions are in that normalized space.
type View struct {
	// LookAt is the point the camera faces.
	LookAt r3.Vec
	// Up is the camera up direction.
	Up r3.Vec
	// Eye is the camera position.
	Eye  r3.Vec
	Near float64
	Far  float64
}

// DefaultView looks at the origin from an isometric vantage.
func DefaultView() View {
	return View{
		Up:   r3.Vec{Z: 1},
		Eye:  d3.Elem(2.4), // iso view.
		Near: 1,
		Far:  10,
	}
}

// PreviewPNG rasterizes the mesh with a phong shader at twice the requested
// resolution, downsamples for antialiasing and writes the image to path.
// Vertex colors shade the surface.
func PreviewPNG(path string, m *pointsurf.MeshBuffers, width, height int, view View) error {
	if m.TriangleCount() == 0 {
		return errors.New("empty mesh")
	}
	if width <= 0 || height <= 0 {
		return errors.New("non-positive preview dimensions")
	}

	tris := make([]*fauxgl.Triangle, 0, m.TriangleCount())
	for i := 0; i+2 < len(m.Indices); i += 3 {
		t := &fauxgl.Triangle{
			V1: fauxglVertex(m, m.Indices[i]),
			V2: fauxglVertex(m, m.Indices[i+1]),
			V3: fauxglVertex(m, m.Indices[i+2]),
		}
		tris = append(tris, t)
	}
	mesh := fauxgl.NewTriangleMesh(tris)
	// fit mesh in a bi-unit cube centered at the origin
	mesh.BiUnitCube()

	const (
		scale = 2 // supersampling
		fovy  = 30
	)
	eye := fauxgl.V(view.Eye.X, view.Eye.Y, view.Eye.Z)
	center := fauxgl.V(view.LookAt.X, view.LookAt.Y, view.LookAt.Z)
	up := fauxgl.V(view.Up.X, view.Up.Y, view.Up.Z)
	light := fauxgl.V(-0.75, 1, 0.25).Normalize()

	context := fauxgl.NewContext(width*scale, height*scale)
	context.ClearColorBufferWith(fauxgl.HexColor("#FFF8E3"))
	aspect := float64(width) / float64(height)
	matrix := fauxgl.LookAt(eye, center, up).Perspective(fovy, aspect, view.Near, view.Far)
	shader := fauxgl.NewPhongShader(matrix, light, eye)
	context.Shader = shader
	context.DrawMesh(mesh)

	// downsample image for antialiasing
	image := resize.Resize(uint(width), uint(height), context.Image(), resize.Bilinear)
	return fauxgl.SavePNG(path, image)
}

func fauxglVertex(m *pointsurf.MeshBuffers, i int32) fauxgl.Vertex {
	p := m.Positions[i]
	n := m.Normals[i]
	c := m.Colors[i]
	return fauxgl.Vertex{
		Position: fauxgl.V(p.X, p.Y, p.Z),
		Normal:   fauxgl.V(n.X, n.Y, n.Z),
		Texture:  fauxgl.V(m.UVs[i].X, m.UVs[i].Y, 0),
		Color:    fauxgl.MakeColor(c),
	}
}
