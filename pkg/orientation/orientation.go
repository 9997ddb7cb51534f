// Package orientation handles anatomical axis conventions (LAS, LPI, LPS, RAS) and the
// 4x4 affines that move points between them.
package orientation

import (
	"math"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Well-known voxel orders.
const (
	LAS = "LAS"
	LPI = "LPI"
	LPS = "LPS"
	RAS = "RAS"
)

// ErrInvalidAxisCodes is returned for voxel orders that do not name three distinct axes.
var ErrInvalidAxisCodes = errors.New("invalid axis codes")

// AxisCodes holds one anatomical direction letter per voxel axis, e.g. {'L','P','S'}.
type AxisCodes [3]byte

func (c AxisCodes) String() string {
	return string(c[:])
}

// worldAxis returns the RAS world axis a letter points along and whether it points
// in the positive direction.
func worldAxis(code byte) (axis int, positive bool, ok bool) {
	switch code {
	case 'R':
		return 0, true, true
	case 'L':
		return 0, false, true
	case 'A':
		return 1, true, true
	case 'P':
		return 1, false, true
	case 'S':
		return 2, true, true
	case 'I':
		return 2, false, true
	}
	return 0, false, false
}

// Opposite returns the letter naming the opposite direction along the same axis.
func Opposite(code byte) byte {
	switch code {
	case 'R':
		return 'L'
	case 'L':
		return 'R'
	case 'A':
		return 'P'
	case 'P':
		return 'A'
	case 'S':
		return 'I'
	case 'I':
		return 'S'
	}
	return code
}

// ParseAxisCodes validates a three-letter voxel order such as "LPS" or "las".
func ParseAxisCodes(order string) (AxisCodes, error) {
	var codes AxisCodes
	order = strings.ToUpper(strings.TrimRight(order, "\x00 "))
	if len(order) != 3 {
		return codes, errors.Wrapf(ErrInvalidAxisCodes, "%q", order)
	}
	var seen [3]bool
	for i := 0; i < 3; i++ {
		axis, _, ok := worldAxis(order[i])
		if !ok || seen[axis] {
			return codes, errors.Wrapf(ErrInvalidAxisCodes, "%q", order)
		}
		seen[axis] = true
		codes[i] = order[i]
	}
	return codes, nil
}

// Flips reports, per voxel axis, whether going from codes a to codes b reverses the axis.
// Both code sets must name the same world axis at each position.
func Flips(from, to AxisCodes) ([3]bool, error) {
	var flips [3]bool
	for i := range from {
		fa, fpos, _ := worldAxis(from[i])
		ta, tpos, _ := worldAxis(to[i])
		if fa != ta {
			return flips, errors.Errorf("axis %d: cannot map %s onto %s without permuting axes", i, from, to)
		}
		flips[i] = fpos != tpos
	}
	return flips, nil
}

// FromAffine returns the axis codes a voxel-to-world affine points along, choosing the
// dominant world component of each column.
func FromAffine(affine mat.Matrix) AxisCodes {
	letters := [3][2]byte{{'L', 'R'}, {'P', 'A'}, {'I', 'S'}}
	var codes AxisCodes
	for col := 0; col < 3; col++ {
		best, bestAbs := 0, -1.0
		for row := 0; row < 3; row++ {
			if v := math.Abs(affine.At(row, col)); v > bestAbs {
				best, bestAbs = row, v
			}
		}
		if affine.At(best, col) >= 0 {
			codes[col] = letters[best][1]
		} else {
			codes[col] = letters[best][0]
		}
	}
	return codes
}

// Identity returns a 4x4 identity affine.
func Identity() *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
}

// LPSToRAS returns the affine taking LPS world coordinates (ITK, MITK) to RAS:
// X and Y negated, Z and the homogeneous term unchanged.
func LPSToRAS() *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		-1, 0, 0, 0,
		0, -1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
}

// Apply maps p through a 4x4 affine.
func Apply(affine mat.Matrix, p r3.Vec) r3.Vec {
	return r3.Vec{
		X: affine.At(0, 0)*p.X + affine.At(0, 1)*p.Y + affine.At(0, 2)*p.Z + affine.At(0, 3),
		Y: affine.At(1, 0)*p.X + affine.At(1, 1)*p.Y + affine.At(1, 2)*p.Z + affine.At(1, 3),
		Z: affine.At(2, 0)*p.X + affine.At(2, 1)*p.Y + affine.At(2, 2)*p.Z + affine.At(2, 3),
	}
}

// IsIdentity reports whether the affine is the 4x4 identity.
func IsIdentity(affine mat.Matrix) bool {
	return mat.Equal(affine, Identity())
}
