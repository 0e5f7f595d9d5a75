package merging

import (
	"github.com/paulmach/orb"
)

// gridIndex buckets feature indices by centroid into fixed-size lat/lon cells
// so candidate pairing stays near-linear in the feature count. The cell size
// is chosen well above the match thresholds, so checking the 3x3 neighborhood
// of a cell finds every possible match partner.
type gridIndex struct {
	cellSizeDeg float64
	cells       map[[2]int][]int
}

func newGridIndex(cellSizeM float64) *gridIndex {
	return &gridIndex{
		cellSizeDeg: cellSizeM / 111319.49,
		cells:       make(map[[2]int][]int),
	}
}

func (g *gridIndex) cellOf(pt orb.Point) [2]int {
	return [2]int{
		int(floorDiv(pt[0], g.cellSizeDeg)),
		int(floorDiv(pt[1], g.cellSizeDeg)),
	}
}

func (g *gridIndex) insert(idx int, pt orb.Point) {
	cell := g.cellOf(pt)
	g.cells[cell] = append(g.cells[cell], idx)
}

// neighbors returns all indices in the 3x3 cell neighborhood of pt, in
// insertion order per cell.
func (g *gridIndex) neighbors(pt orb.Point) []int {
	center := g.cellOf(pt)
	var out []int
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			cell := [2]int{center[0] + dx, center[1] + dy}
			out = append(out, g.cells[cell]...)
		}
	}
	return out
}

func floorDiv(v, size float64) float64 {
	d := v / size
	f := float64(int(d))
	if d < 0 && d != f {
		f--
	}
	return f
}
