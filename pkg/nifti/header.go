// Package nifti reads and writes single-file NIfTI-1 images (.nii and .nii.gz).
//
// Based on the official definition of the nifti1 header,
// https://nifti.nimh.nih.gov/pub/dist/src/niftilib/nifti1.h
package nifti

import (
	"bytes"
	"encoding/binary"
	"math"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

const (
	minHeaderSize = 348
	headerSize    = 352 // header plus the 4 byte extension flag
)

var (
	magicSingle = [4]byte{'n', '+', '1', 0}
	magicPair   = [4]byte{'n', 'i', '1', 0}
)

// ErrInvalidHeader is returned for files that are not NIfTI-1.
var ErrInvalidHeader = errors.New("invalid nifti-1 header")

// Datatype codes.
const (
	DTUint8   int16 = 2
	DTInt16   int16 = 4
	DTInt32   int16 = 8
	DTFloat32 int16 = 16
	DTFloat64 int16 = 64
	DTInt8    int16 = 256
	DTUint16  int16 = 512
	DTUint32  int16 = 768
	DTInt64   int16 = 1024
	DTUint64  int16 = 1280
)

// Header defines the structure of the Nifti1 header.
type Header struct {
	SizeofHdr      int32      // Must be 348
	DataTypeUnused [10]byte   // Unused
	DbName         [18]byte   // Unused
	Extents        int32      // Unused
	SessionError   int16      // Unused
	Regular        byte       // Unused
	DimInfo        byte       // MRI slice ordering
	Dim            [8]int16   // Data array dimensions
	IntentP1       float32    // 1st intent parameter
	IntentP2       float32    // 2nd intent parameter
	IntentP3       float32    // 3rd intent parameter
	IntentCode     int16      // NIFTI_INTENT_* code
	Datatype       int16      // Defines data type
	Bitpix         int16      // Number bits/voxel
	SliceStart     int16      // First slice index
	Pixdim         [8]float32 // Grid spacing
	VoxOffset      float32    // Offset into .nii file
	SclSlope       float32    // Data scaling: slope
	SclInter       float32    // Data scaling: offset
	SliceEnd       int16      // Last slice index
	SliceCode      byte       // Slice timing order
	XyztUnits      byte       // Units of pixdim[1..4]
	CalMax         float32    // Max display intensity
	CalMin         float32    // Min display intensity
	SliceDuration  float32    // Time for 1 slice
	Toffset        float32    // Time axis shift
	Glmax          int32      // Unused
	Glmin          int32      // Unused
	Descrip        [80]byte   // Any text you like
	AuxFile        [24]byte   // Auxiliary filename
	QformCode      int16      // NIFTI_XFORM_* code
	SformCode      int16      // NIFTI_XFORM_* code
	QuaternB       float32    // Quaternion b param
	QuaternC       float32    // Quaternion c param
	QuaternD       float32    // Quaternion d param
	QoffsetX       float32    // Quaternion x shift
	QoffsetY       float32    // Quaternion y shift
	QoffsetZ       float32    // Quaternion z shift
	SrowX          [4]float32 // 1st row affine transform
	SrowY          [4]float32 // 2nd row affine transform
	SrowZ          [4]float32 // 3rd row affine transform
	IntentName     [16]byte   // 'name' or meaning of data
	Magic          [4]byte    // Must be "ni1\0" or "n+1\0"
}

// decodeHeader reads a header, trying little then big endian as gauged by sizeof_hdr.
func decodeHeader(raw []byte) (Header, binary.ByteOrder, error) {
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		var h Header
		if err := binary.Read(bytes.NewReader(raw), order, &h); err != nil {
			return Header{}, nil, errors.Wrap(err, "decoding nifti header")
		}
		if h.SizeofHdr != minHeaderSize {
			continue
		}
		if h.Dim[0] < 1 || h.Dim[0] > 7 {
			return Header{}, nil, errors.Wrapf(ErrInvalidHeader, "dim[0] %d is not in range [1, 7]", h.Dim[0])
		}
		if err := checkShape(h.Shape()); err != nil {
			return Header{}, nil, err
		}
		switch h.Magic {
		case magicSingle:
		case magicPair:
			return Header{}, nil, errors.Wrap(ErrInvalidHeader, "hdr/img pairs are not supported")
		default:
			return Header{}, nil, errors.Wrapf(ErrInvalidHeader, "bad magic %q", h.Magic[:])
		}
		return h, order, nil
	}
	return Header{}, nil, errors.Wrap(ErrInvalidHeader, "sizeof_hdr is not 348")
}

// maxVoxels bounds the voxel count of a readable image.
const maxVoxels = math.MaxInt32

func checkShape(shape []int) error {
	n := 1
	for i, d := range shape {
		if d < 0 {
			return errors.Wrapf(ErrInvalidHeader, "dim[%d] is negative: %d", i+1, d)
		}
		if d > 0 && n > maxVoxels/d {
			return errors.Wrapf(ErrInvalidHeader, "shape %v holds more than %d voxels", shape, maxVoxels)
		}
		n *= d
	}
	return nil
}

// NDim returns the number of dimensions.
func (h *Header) NDim() int {
	return int(h.Dim[0])
}

// Shape returns the populated dimensions.
func (h *Header) Shape() []int {
	shape := make([]int, h.NDim())
	for i := range shape {
		shape[i] = int(h.Dim[i+1])
	}
	return shape
}

// NumVoxels returns the product of the shape.
func (h *Header) NumVoxels() int {
	n := 1
	for _, d := range h.Shape() {
		n *= d
	}
	return n
}

// Description returns the descrip field as a string.
func (h *Header) Description() string {
	return strings.TrimRight(string(h.Descrip[:]), "\x00")
}

// Affine returns the voxel to world transform: the sform when sform_code > 0, otherwise
// the qform when qform_code > 0, otherwise the base affine of an LAS volume centred on
// the middle voxel.
func (h *Header) Affine() *mat.Dense {
	switch {
	case h.SformCode > 0:
		return mat.NewDense(4, 4, []float64{
			float64(h.SrowX[0]), float64(h.SrowX[1]), float64(h.SrowX[2]), float64(h.SrowX[3]),
			float64(h.SrowY[0]), float64(h.SrowY[1]), float64(h.SrowY[2]), float64(h.SrowY[3]),
			float64(h.SrowZ[0]), float64(h.SrowZ[1]), float64(h.SrowZ[2]), float64(h.SrowZ[3]),
			0, 0, 0, 1,
		})
	case h.QformCode > 0:
		return h.qformAffine()
	default:
		return h.baseAffine()
	}
}

func (h *Header) baseAffine() *mat.Dense {
	var dim, zoom [3]float64
	for i := range dim {
		dim[i], zoom[i] = 1, 1
		if i < h.NDim() {
			dim[i], zoom[i] = float64(h.Dim[i+1]), float64(h.Pixdim[i+1])
		}
	}
	centre := func(i int) float64 { return (dim[i] - 1) / 2 * zoom[i] }
	return mat.NewDense(4, 4, []float64{
		-zoom[0], 0, 0, centre(0),
		0, zoom[1], 0, -centre(1),
		0, 0, zoom[2], -centre(2),
		0, 0, 0, 1,
	})
}

func (h *Header) qformAffine() *mat.Dense {
	b, c, d := float64(h.QuaternB), float64(h.QuaternC), float64(h.QuaternD)
	a := 1 - (b*b + c*c + d*d)
	if a < 1e-7 {
		// special case: 180 degree rotation, renormalise b, c, d
		n := 1 / math.Sqrt(b*b+c*c+d*d)
		b, c, d = b*n, c*n, d*n
		a = 0
	} else {
		a = math.Sqrt(a)
	}
	qfac := float64(h.Pixdim[0])
	if qfac == 0 {
		qfac = 1
	}
	dx, dy, dz := float64(h.Pixdim[1]), float64(h.Pixdim[2]), qfac*float64(h.Pixdim[3])
	return mat.NewDense(4, 4, []float64{
		(a*a + b*b - c*c - d*d) * dx, 2 * (b*c - a*d) * dy, 2 * (b*d + a*c) * dz, float64(h.QoffsetX),
		2 * (b*c + a*d) * dx, (a*a + c*c - b*b - d*d) * dy, 2 * (c*d - a*b) * dz, float64(h.QoffsetY),
		2 * (b*d - a*c) * dx, 2 * (c*d + a*b) * dy, (a*a + d*d - c*c - b*b) * dz, float64(h.QoffsetZ),
		0, 0, 0, 1,
	})
}

// SetSform stores a 4x4 affine in the srow fields with the given code.
func (h *Header) SetSform(affine mat.Matrix, code int16) {
	for col := 0; col < 4; col++ {
		h.SrowX[col] = float32(affine.At(0, col))
		h.SrowY[col] = float32(affine.At(1, col))
		h.SrowZ[col] = float32(affine.At(2, col))
	}
	h.SformCode = code
}

// bytesPerVoxel returns the storage size of a datatype code.
func bytesPerVoxel(datatype int16) (int, error) {
	switch datatype {
	case DTUint8, DTInt8:
		return 1, nil
	case DTInt16, DTUint16:
		return 2, nil
	case DTInt32, DTUint32, DTFloat32:
		return 4, nil
	case DTInt64, DTUint64, DTFloat64:
		return 8, nil
	}
	return 0, errors.Errorf("unsupported nifti datatype %d", datatype)
}
