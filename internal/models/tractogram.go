package models

import (
	"github.com/samber/lo"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"

	"connectomeutils/pkg/orientation"
)

// Tractogram is an ordered set of streamlines together with the affine that takes
// their points to RAS millimetre space.
type Tractogram struct {
	// Streamlines holds one ordered point list per fiber
	Streamlines [][]r3.Vec

	// AffineToRASMM maps streamline coordinates to RAS+ world millimetres.
	// It must describe the convention the points were produced in (LAS, LPS, RAS).
	AffineToRASMM *mat.Dense
}

// TractogramStats summarises a tractogram for logging
type TractogramStats struct {
	Count       int
	TotalPoints int
	MeanPoints  float64
	MeanLength  float64
}

// NewTractogram builds a tractogram. A nil affine means the points are already in RAS mm.
func NewTractogram(streamlines [][]r3.Vec, affine *mat.Dense) *Tractogram {
	if affine == nil {
		affine = orientation.Identity()
	}
	return &Tractogram{
		Streamlines:   streamlines,
		AffineToRASMM: affine,
	}
}

// Len returns the number of streamlines.
func (t *Tractogram) Len() int {
	return len(t.Streamlines)
}

// PointCounts returns the number of points of each streamline, in order.
func (t *Tractogram) PointCounts() []int {
	return lo.Map(t.Streamlines, func(s []r3.Vec, _ int) int {
		return len(s)
	})
}

// ToRASMM returns a copy of the tractogram with the affine applied to every point and
// an identity affine attached. The receiver is not modified.
func (t *Tractogram) ToRASMM() *Tractogram {
	out := make([][]r3.Vec, len(t.Streamlines))
	identity := t.AffineToRASMM == nil || orientation.IsIdentity(t.AffineToRASMM)
	for i, s := range t.Streamlines {
		pts := make([]r3.Vec, len(s))
		for j, p := range s {
			if identity {
				pts[j] = p
			} else {
				pts[j] = orientation.Apply(t.AffineToRASMM, p)
			}
		}
		out[i] = pts
	}
	return NewTractogram(out, nil)
}

// Stats computes streamline count, point totals and mean arc length.
func (t *Tractogram) Stats() TractogramStats {
	s := TractogramStats{Count: t.Len()}
	if s.Count == 0 {
		return s
	}

	counts := make([]float64, s.Count)
	lengths := make([]float64, s.Count)
	for i, sl := range t.Streamlines {
		counts[i] = float64(len(sl))
		s.TotalPoints += len(sl)
		for j := 1; j < len(sl); j++ {
			lengths[i] += r3.Norm(r3.Sub(sl[j], sl[j-1]))
		}
	}
	s.MeanPoints = stat.Mean(counts, nil)
	s.MeanLength = stat.Mean(lengths, nil)
	return s
}
