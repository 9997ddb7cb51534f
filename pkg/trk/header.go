// Package trk reads and writes TrackVis .trk tractograms.
//
// Based on the TrackVis file format definition,
// http://trackvis.org/docs/?subsect=fileformat
package trk

import (
	"bytes"
	"encoding/binary"
	"strings"

	"github.com/pkg/errors"

	"connectomeutils/pkg/orientation"
)

// HeaderSize is the fixed size of a TRK header in bytes.
const HeaderSize = 1000

// maxNamed is the number of scalar and property name slots in a header.
const maxNamed = 10

var magic = [6]byte{'T', 'R', 'A', 'C', 'K', 0}

// ErrInvalidHeader is returned when a file does not carry a valid TRK header.
var ErrInvalidHeader = errors.New("invalid trk header")

// Header mirrors the on-disk TRK header layout.
type Header struct {
	IDString                [6]byte       // Must be "TRACK\0"
	Dim                     [3]int16      // Volume dimensions
	VoxelSize               [3]float32    // Voxel size in mm
	Origin                  [3]float32    // Unused by TrackVis
	NScalars                int16         // Scalars per point
	ScalarName              [10][20]byte  // Scalar names
	NProperties             int16         // Properties per track
	PropertyName            [10][20]byte  // Property names
	VoxToRAS                [4][4]float32 // Voxel to RAS affine, zero if unset
	Reserved                [444]byte     // Reserved
	VoxelOrder              [4]byte       // e.g. "LPS\0"
	Pad2                    [4]byte       // Paddings
	ImageOrientationPatient [6]float32    // DICOM image orientation
	Pad1                    [2]byte       // Paddings
	InvertX                 uint8         // Display flags
	InvertY                 uint8
	InvertZ                 uint8
	SwapXY                  uint8
	SwapYZ                  uint8
	SwapZX                  uint8
	NCount                  int32 // Number of tracks, 0 if unknown
	Version                 int32 // 2
	HdrSize                 int32 // Must be 1000
}

// NewHeader returns a version 2 header for a volume of the given geometry.
func NewHeader(dim [3]int16, voxelSize [3]float32, voxelOrder string) (Header, error) {
	h := Header{
		IDString:  magic,
		Dim:       dim,
		VoxelSize: voxelSize,
		Version:   2,
		HdrSize:   HeaderSize,
	}
	if err := h.SetVoxelOrder(voxelOrder); err != nil {
		return Header{}, err
	}
	return h, nil
}

// VoxelOrderString returns the voxel order without trailing NULs.
func (h *Header) VoxelOrderString() string {
	return strings.TrimRight(string(h.VoxelOrder[:]), "\x00 ")
}

// SetVoxelOrder replaces the voxel order label. It does not move any point.
func (h *Header) SetVoxelOrder(order string) error {
	codes, err := orientation.ParseAxisCodes(order)
	if err != nil {
		return err
	}
	h.VoxelOrder = [4]byte{}
	copy(h.VoxelOrder[:], codes.String())
	return nil
}

// AxisCodes parses the voxel order. TrackVis treats a blank order as LPS.
func (h *Header) AxisCodes() (orientation.AxisCodes, error) {
	order := h.VoxelOrderString()
	if order == "" {
		order = orientation.LPS
	}
	return orientation.ParseAxisCodes(order)
}

// ScalarNames returns the populated scalar names.
func (h *Header) ScalarNames() []string {
	return names(h.ScalarName[:], int(h.NScalars))
}

// PropertyNames returns the populated property names.
func (h *Header) PropertyNames() []string {
	return names(h.PropertyName[:], int(h.NProperties))
}

func names(raw [][20]byte, n int) []string {
	if n > len(raw) {
		n = len(raw)
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, strings.TrimRight(string(raw[i][:]), "\x00"))
	}
	return out
}

// decodeHeader decodes raw header bytes, detecting the byte order from HdrSize.
func decodeHeader(raw []byte) (Header, binary.ByteOrder, error) {
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		var h Header
		if err := binary.Read(bytes.NewReader(raw), order, &h); err != nil {
			return Header{}, nil, errors.Wrap(err, "decoding trk header")
		}
		if h.HdrSize != HeaderSize {
			continue
		}
		if string(h.IDString[:5]) != "TRACK" {
			return Header{}, nil, errors.Wrapf(ErrInvalidHeader, "bad magic %q", h.IDString[:])
		}
		if h.NScalars < 0 || h.NScalars > maxNamed {
			return Header{}, nil, errors.Wrapf(ErrInvalidHeader, "n_scalars %d outside [0, %d]", h.NScalars, maxNamed)
		}
		if h.NProperties < 0 || h.NProperties > maxNamed {
			return Header{}, nil, errors.Wrapf(ErrInvalidHeader, "n_properties %d outside [0, %d]", h.NProperties, maxNamed)
		}
		return h, order, nil
	}
	return Header{}, nil, errors.Wrap(ErrInvalidHeader, "hdr_size is not 1000 in either byte order")
}
