// Package spatial implements a uniform grid index over sample points for
// fast radius, k-nearest, box and ray neighborhood queries under incremental
// insertion and removal.
package spatial

import (
	"container/heap"
	"math"
	"sort"

	"github.com/pointsurf/pointsurf"
	"github.com/pointsurf/pointsurf/internal/d3"
	"gonum.org/v1/gonum/spatial/r3"
)

// minCellSize guards against zero or negative cell sizes which would
// degenerate the grid keying.
const minCellSize = 1e-3

// CellCoord is an integer grid coordinate keying one cell of the index.
type CellCoord struct {
	X, Y, Z int
}

// Index is a uniform grid over 3D sample points. Cells exist only while they
// hold at least one point. Index is not safe for concurrent mutation; the
// ingestion path must be externally serialized.
type Index struct {
	cellSize float64
	bounds   r3.Box
	cells    map[CellCoord][]pointsurf.SamplePoint
	count    int
}

// NewIndex returns an index with the given cell size and advisory world
// bounds. Cell sizes at or below zero are clamped to a small minimum.
func NewIndex(cellSize float64, worldBounds r3.Box) *Index {
	idx := &Index{}
	idx.Initialize(cellSize, worldBounds)
	return idx
}

// Initialize resets the index and applies new configuration.
func (idx *Index) Initialize(cellSize float64, worldBounds r3.Box) {
	idx.cellSize = math.Max(minCellSize, cellSize)
	idx.bounds = worldBounds
	idx.cells = make(map[CellCoord][]pointsurf.SamplePoint)
	idx.count = 0
}

// CellSize returns the grid cell side length in use.
func (idx *Index) CellSize() float64 { return idx.cellSize }

// PointCount returns the total number of points held by the index.
func (idx *Index) PointCount() int { return idx.count }

// CellCount returns the number of non-empty cells.
func (idx *Index) CellCount() int { return len(idx.cells) }

// Insert adds a point to the cell containing its position.
func (idx *Index) Insert(p pointsurf.SamplePoint) {
	c := idx.cellOf(p.Position)
	idx.cells[c] = append(idx.cells[c], p)
	idx.count++
}

// InsertBatch adds all points in order.
func (idx *Index) InsertBatch(points []pointsurf.SamplePoint) {
	for _, p := range points {
		c := idx.cellOf(p.Position)
		idx.cells[c] = append(idx.cells[c], p)
	}
	idx.count += len(points)
}

// Remove deletes the first point equal in value to p from its cell and drops
// the cell if it became empty. Returns whether a point was removed.
func (idx *Index) Remove(p pointsurf.SamplePoint) bool {
	c := idx.cellOf(p.Position)
	cell, ok := idx.cells[c]
	if !ok {
		return false
	}
	for i := range cell {
		if cell[i].Equal(p) {
			cell = append(cell[:i], cell[i+1:]...)
			if len(cell) == 0 {
				delete(idx.cells, c)
			} else {
				idx.cells[c] = cell
			}
			idx.count--
			return true
		}
	}
	return false
}

// RemoveWhere deletes every point satisfying pred, compacting cells in place
// and discarding emptied cells. Returns the number of points removed. Used
// for age-based eviction by the ingestion collaborator.
func (idx *Index) RemoveWhere(pred func(pointsurf.SamplePoint) bool) int {
	removed := 0
	for c, cell := range idx.cells {
		kept := cell[:0]
		for _, p := range cell {
			if pred(p) {
				removed++
				continue
			}
			kept = append(kept, p)
		}
		if len(kept) == 0 {
			delete(idx.cells, c)
		} else {
			idx.cells[c] = kept
		}
	}
	idx.count -= removed
	return removed
}

// Clear drops all cells and points.
func (idx *Index) Clear() {
	idx.cells = make(map[CellCoord][]pointsurf.SamplePoint)
	idx.count = 0
}

// Rebuild collects all points, clears the index and re-inserts them. Compacts
// cell storage after heavy insert/remove churn.
func (idx *Index) Rebuild() {
	all := idx.All()
	idx.Clear()
	idx.InsertBatch(all)
}

// All returns a copy of every point in the index in unspecified order.
func (idx *Index) All() []pointsurf.SamplePoint {
	all := make([]pointsurf.SamplePoint, 0, idx.count)
	for _, cell := range idx.cells {
		all = append(all, cell...)
	}
	return all
}

// QueryRadius returns all points with distance to center <= radius, boundary
// included. Visits every cell whose bounds may intersect the query sphere and
// filters by exact squared distance.
func (idx *Index) QueryRadius(center r3.Vec, radius float64) []pointsurf.SamplePoint {
	if radius < 0 {
		return nil
	}
	var result []pointsurf.SamplePoint
	r2 := radius * radius
	idx.visitSphereCells(center, radius, func(cell []pointsurf.SamplePoint) {
		for _, p := range cell {
			if r3.Norm2(r3.Sub(p.Position, center)) <= r2 {
				result = append(result, p)
			}
		}
	})
	return result
}

// NearestPoint returns the single closest point within maxDistance of center.
func (idx *Index) NearestPoint(center r3.Vec, maxDistance float64) (pointsurf.SamplePoint, bool) {
	best := maxDistance * maxDistance
	var nearest pointsurf.SamplePoint
	found := false
	idx.visitSphereCells(center, maxDistance, func(cell []pointsurf.SamplePoint) {
		for _, p := range cell {
			d2 := r3.Norm2(r3.Sub(p.Position, center))
			if d2 < best {
				best = d2
				nearest = p
				found = true
			}
		}
	})
	return nearest, found
}

// QueryKNearest returns up to k points nearest to center within maxDistance,
// sorted ascending by distance. A bounded max-heap keyed on distance keeps
// the current k best; the heap root is the worst candidate and is evicted by
// any closer point.
func (idx *Index) QueryKNearest(center r3.Vec, k int, maxDistance float64) []pointsurf.SamplePoint {
	if k <= 0 {
		return nil
	}
	maxDist2 := maxDistance * maxDistance
	h := make(pointDistHeap, 0, k)
	idx.visitSphereCells(center, maxDistance, func(cell []pointsurf.SamplePoint) {
		for _, p := range cell {
			d2 := r3.Norm2(r3.Sub(p.Position, center))
			if d2 > maxDist2 {
				continue
			}
			if h.Len() < k {
				heap.Push(&h, pointDist{p, d2})
			} else if d2 < h[0].dist2 {
				h[0] = pointDist{p, d2}
				heap.Fix(&h, 0)
			}
		}
	})
	sort.Slice(h, func(i, j int) bool { return h[i].dist2 < h[j].dist2 })
	result := make([]pointsurf.SamplePoint, len(h))
	for i, pd := range h {
		result[i] = pd.point
	}
	return result
}

// QueryBox returns all points inside the axis aligned box [min,max],
// boundaries included. Inverted bounds yield an empty result.
func (idx *Index) QueryBox(boxMin, boxMax r3.Vec) []pointsurf.SamplePoint {
	box := d3.Box{Min: boxMin, Max: boxMax}
	if box.Degenerate() {
		return nil
	}
	var result []pointsurf.SamplePoint
	idx.visitBoxCells(boxMin, boxMax, func(cell []pointsurf.SamplePoint) {
		for _, p := range cell {
			if box.Contains(p.Position) {
				result = append(result, p)
			}
		}
	})
	return result
}

// QueryRay returns points within tolerance of the ray segment starting at
// origin along direction, out to maxDistance. Cell visitation is bounded by a
// conservative box around the segment inflated by tolerance; candidates are
// filtered by forward projection and perpendicular distance.
func (idx *Index) QueryRay(origin, direction r3.Vec, tolerance, maxDistance float64) []pointsurf.SamplePoint {
	if r3.Norm2(direction) == 0 || maxDistance <= 0 {
		return nil
	}
	dir := r3.Unit(direction)
	end := r3.Add(origin, r3.Scale(maxDistance, dir))
	boxMin := r3.Sub(d3.MinElem(origin, end), d3.Elem(tolerance))
	boxMax := r3.Add(d3.MaxElem(origin, end), d3.Elem(tolerance))

	var result []pointsurf.SamplePoint
	idx.visitBoxCells(boxMin, boxMax, func(cell []pointsurf.SamplePoint) {
		for _, p := range cell {
			toPoint := r3.Sub(p.Position, origin)
			proj := r3.Dot(toPoint, dir)
			if proj < 0 || proj > maxDistance {
				continue
			}
			onRay := r3.Add(origin, r3.Scale(proj, dir))
			if r3.Norm(r3.Sub(p.Position, onRay)) <= tolerance {
				result = append(result, p)
			}
		}
	})
	return result
}

// Stats reports the number of active cells, the largest cell population and
// the mean population over active cells.
func (idx *Index) Stats() (activeCells, maxPerCell int, avgPerCell float64) {
	activeCells = len(idx.cells)
	for _, cell := range idx.cells {
		if len(cell) > maxPerCell {
			maxPerCell = len(cell)
		}
	}
	if activeCells > 0 {
		avgPerCell = float64(idx.count) / float64(activeCells)
	}
	return activeCells, maxPerCell, avgPerCell
}

func (idx *Index) cellOf(v r3.Vec) CellCoord {
	return CellCoord{
		X: int(math.Floor(v.X / idx.cellSize)),
		Y: int(math.Floor(v.Y / idx.cellSize)),
		Z: int(math.Floor(v.Z / idx.cellSize)),
	}
}

// visitSphereCells calls visit for every non-empty cell whose bounds may
// intersect the sphere. Overshoots by the cell half diagonal then leaves
// exact filtering to the caller.
func (idx *Index) visitSphereCells(center r3.Vec, radius float64, visit func([]pointsurf.SamplePoint)) {
	if radius < 0 {
		return
	}
	cc := idx.cellOf(center)
	cellRadius := int(math.Ceil(radius / idx.cellSize))
	halfDiag := 0.5 * idx.cellSize * math.Sqrt(3)
	for x := cc.X - cellRadius; x <= cc.X+cellRadius; x++ {
		for y := cc.Y - cellRadius; y <= cc.Y+cellRadius; y++ {
			for z := cc.Z - cellRadius; z <= cc.Z+cellRadius; z++ {
				c := CellCoord{x, y, z}
				cell, ok := idx.cells[c]
				if !ok {
					continue
				}
				cellCenter := r3.Add(idx.cellOrigin(c), d3.Elem(0.5*idx.cellSize))
				if r3.Norm(r3.Sub(center, cellCenter)) <= radius+halfDiag {
					visit(cell)
				}
			}
		}
	}
}

func (idx *Index) visitBoxCells(boxMin, boxMax r3.Vec, visit func([]pointsurf.SamplePoint)) {
	lo := idx.cellOf(boxMin)
	hi := idx.cellOf(boxMax)
	for x := lo.X; x <= hi.X; x++ {
		for y := lo.Y; y <= hi.Y; y++ {
			for z := lo.Z; z <= hi.Z; z++ {
				if cell, ok := idx.cells[CellCoord{x, y, z}]; ok {
					visit(cell)
				}
			}
		}
	}
}

func (idx *Index) cellOrigin(c CellCoord) r3.Vec {
	return r3.Vec{
		X: float64(c.X) * idx.cellSize,
		Y: float64(c.Y) * idx.cellSize,
		Z: float64(c.Z) * idx.cellSize,
	}
}

type pointDist struct {
	point pointsurf.SamplePoint
	dist2 float64
}

// pointDistHeap is a max-heap on squared distance so the root is the worst of
// the current k best candidates.
type pointDistHeap []pointDist

func (h pointDistHeap) Len() int            { return len(h) }
func (h pointDistHeap) Less(i, j int) bool  { return h[i].dist2 > h[j].dist2 }
func (h pointDistHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *pointDistHeap) Push(x interface{}) { *h = append(*h, x.(pointDist)) }
func (h *pointDistHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
