package render

import (
	sdfxrender "github.com/deadsy/sdfx/render"
	"github.com/deadsy/sdfx/sdf"
	"github.com/pointsurf/pointsurf"
)

// ToSDFX converts mesh buffers to sdfx render triangles, the interchange type
// accepted by sdfx writers such as render.SaveSTL. Only positions survive the
// conversion.
func ToSDFX(m *pointsurf.MeshBuffers) []*sdfxrender.Triangle3 {
	tris := make([]*sdfxrender.Triangle3, 0, m.TriangleCount())
	for i := 0; i+2 < len(m.Indices); i += 3 {
		var t sdfxrender.Triangle3
		for k := 0; k < 3; k++ {
			p := m.Positions[m.Indices[i+k]]
			t.V[k] = sdf.V3{X: p.X, Y: p.Y, Z: p.Z}
		}
		tris = append(tris, &t)
	}
	return tris
}
