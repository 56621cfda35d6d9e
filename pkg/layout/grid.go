// Package layout computes grid geometry for arranging a set of video
// sources on a fixed canvas.
package layout

import "math"

// Cell is the placement of one source on the canvas.
type Cell struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Grid lays n sources out in a near-square grid over the canvas,
// row-major: columns = ceil(sqrt(n)), rows = ceil(n/columns). A single
// source fills the whole canvas; n <= 0 yields no cells.
func Grid(n int, canvasW, canvasH float64) []Cell {
	if n <= 0 {
		return nil
	}

	cols := int(math.Ceil(math.Sqrt(float64(n))))
	rows := (n + cols - 1) / cols

	cellW := canvasW / float64(cols)
	cellH := canvasH / float64(rows)

	cells := make([]Cell, 0, n)
	for i := 0; i < n; i++ {
		col := i % cols
		row := i / cols
		cells = append(cells, Cell{
			X:      float64(col) * cellW,
			Y:      float64(row) * cellH,
			Width:  cellW,
			Height: cellH,
		})
	}
	return cells
}
