// Package vtk reads VTK legacy polydata files such as the .fib tractograms written by MITK.
//
// Both ASCII and BINARY (big-endian) encodings are supported, in the classic cell layout
// and in the OFFSETS/CONNECTIVITY layout of file version 5.
package vtk

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/r3"
)

// PolyData holds points and cell connectivity. Cells are ordered the way VTK numbers
// them: vertices, then lines, then polygons, then triangle strips.
type PolyData struct {
	Title    string
	Points   []r3.Vec
	Vertices [][]int
	Lines    [][]int
	Polygons [][]int
	Strips   [][]int
}

// NumberOfCells returns the total cell count over all cell kinds.
func (pd *PolyData) NumberOfCells() int {
	return len(pd.Vertices) + len(pd.Lines) + len(pd.Polygons) + len(pd.Strips)
}

// Cell returns the points of cell i as a newly allocated slice. The caller owns the
// result: it never aliases PolyData.Points or any slice returned by an earlier call.
func (pd *PolyData) Cell(i int) ([]r3.Vec, error) {
	ids, err := pd.cellIDs(i)
	if err != nil {
		return nil, err
	}
	pts := make([]r3.Vec, len(ids))
	for j, id := range ids {
		if id < 0 || id >= len(pd.Points) {
			return nil, errors.Errorf("cell %d references point %d of %d", i, id, len(pd.Points))
		}
		pts[j] = pd.Points[id]
	}
	return pts, nil
}

// Cells returns the points of every cell, each as an independent copy.
func (pd *PolyData) Cells() ([][]r3.Vec, error) {
	out := make([][]r3.Vec, pd.NumberOfCells())
	for i := range out {
		pts, err := pd.Cell(i)
		if err != nil {
			return nil, err
		}
		out[i] = pts
	}
	return out, nil
}

func (pd *PolyData) cellIDs(i int) ([]int, error) {
	if i < 0 {
		return nil, errors.Errorf("cell index %d out of range", i)
	}
	for _, group := range [][][]int{pd.Vertices, pd.Lines, pd.Polygons, pd.Strips} {
		if i < len(group) {
			return group[i], nil
		}
		i -= len(group)
	}
	return nil, errors.Errorf("cell index out of range: %d cells", pd.NumberOfCells())
}
