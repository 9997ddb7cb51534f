package nifti

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"
	"strings"

	"github.com/klauspost/pgzip"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"
)

// ErrIndexOutOfRange is returned when a volume index falls outside the last axis.
var ErrIndexOutOfRange = errors.New("volume index out of range")

// Image is a NIfTI-1 image with its voxels decoded to float64 in file order
// (first axis fastest). Values are raw: scl_slope and scl_inter stay in the header.
type Image struct {
	Header Header
	Order  binary.ByteOrder
	Data   []float64
}

// Shape returns the image dimensions.
func (img *Image) Shape() []int {
	return img.Header.Shape()
}

// Affine returns the voxel to world transform.
func (img *Image) Affine() *mat.Dense {
	return img.Header.Affine()
}

// Volume returns a new image holding the slice at index along the last axis. The
// header, including sform and qform, is copied with the last dimension dropped.
func (img *Image) Volume(index int) (*Image, error) {
	shape := img.Shape()
	ndim := len(shape)
	last := shape[ndim-1]
	if index < 0 || index >= last {
		return nil, errors.Wrapf(ErrIndexOutOfRange, "index %d for axis of length %d", index, last)
	}
	stride := 1
	for _, d := range shape[:ndim-1] {
		stride *= d
	}
	if (index+1)*stride > len(img.Data) {
		return nil, errors.Errorf("image holds %d voxels, expected %d", len(img.Data), stride*last)
	}

	h := img.Header
	if ndim > 1 {
		h.Dim[0] = int16(ndim - 1)
		h.Dim[ndim] = 1
	} else {
		h.Dim[1] = 1
	}
	data := make([]float64, stride)
	copy(data, img.Data[index*stride:(index+1)*stride])
	return &Image{Header: h, Order: img.Order, Data: data}, nil
}

func isGzip(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".gz")
}

// open returns a reader over the decompressed file contents.
func open(path string) (io.Reader, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	if !isGzip(path) {
		return bufio.NewReader(f), f.Close, nil
	}
	zr, err := pgzip.NewReader(f)
	if err != nil {
		return nil, nil, multierr.Combine(errors.Wrapf(err, "opening gzip stream %s", path), f.Close())
	}
	return zr, func() error {
		return multierr.Combine(zr.Close(), f.Close())
	}, nil
}

// LoadHeader reads only the header of the image at path.
func LoadHeader(path string) (_ *Header, err error) {
	r, closer, err := open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, closer())
	}()
	h, _, err := readHeader(r)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return &h, nil
}

// Load reads the header and voxels of the image at path.
func Load(path string) (_ *Image, err error) {
	r, closer, err := open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, closer())
	}()
	img, err := Read(r)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return img, nil
}

func readHeader(r io.Reader) (Header, binary.ByteOrder, error) {
	raw := make([]byte, minHeaderSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return Header{}, nil, errors.Wrap(ErrInvalidHeader, err.Error())
	}
	return decodeHeader(raw)
}

// Read decodes a single-file NIfTI-1 stream.
func Read(r io.Reader) (*Image, error) {
	h, order, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	offset := int64(h.VoxOffset)
	if offset < headerSize {
		offset = headerSize
	}
	// skip the extension flag and any extensions
	if _, err := io.CopyN(io.Discard, r, offset-minHeaderSize); err != nil {
		return nil, errors.Wrap(err, "file has fewer bytes than vox_offset requires")
	}

	size, err := bytesPerVoxel(h.Datatype)
	if err != nil {
		return nil, err
	}
	n := h.NumVoxels()
	want := int64(n) * int64(size)
	// grow with the stream rather than trusting the header for the allocation
	raw, err := io.ReadAll(io.LimitReader(r, want))
	if err != nil {
		return nil, errors.Wrapf(err, "reading %d voxels", n)
	}
	if int64(len(raw)) != want {
		return nil, errors.Wrapf(io.ErrUnexpectedEOF, "reading %d voxels", n)
	}
	return &Image{Header: h, Order: order, Data: decodeVoxels(raw, h.Datatype, order, n)}, nil
}

func decodeVoxels(raw []byte, datatype int16, order binary.ByteOrder, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		switch datatype {
		case DTUint8:
			out[i] = float64(raw[i])
		case DTInt8:
			out[i] = float64(int8(raw[i]))
		case DTInt16:
			out[i] = float64(int16(order.Uint16(raw[2*i:])))
		case DTUint16:
			out[i] = float64(order.Uint16(raw[2*i:]))
		case DTInt32:
			out[i] = float64(int32(order.Uint32(raw[4*i:])))
		case DTUint32:
			out[i] = float64(order.Uint32(raw[4*i:]))
		case DTFloat32:
			out[i] = float64(math.Float32frombits(order.Uint32(raw[4*i:])))
		case DTInt64:
			out[i] = float64(int64(order.Uint64(raw[8*i:])))
		case DTUint64:
			out[i] = float64(order.Uint64(raw[8*i:]))
		case DTFloat64:
			out[i] = math.Float64frombits(order.Uint64(raw[8*i:]))
		}
	}
	return out
}

func encodeVoxels(data []float64, datatype int16, order binary.ByteOrder) ([]byte, error) {
	size, err := bytesPerVoxel(datatype)
	if err != nil {
		return nil, err
	}
	raw := make([]byte, len(data)*size)
	for i, v := range data {
		switch datatype {
		case DTUint8:
			raw[i] = uint8(v)
		case DTInt8:
			raw[i] = byte(int8(v))
		case DTInt16:
			order.PutUint16(raw[2*i:], uint16(int16(v)))
		case DTUint16:
			order.PutUint16(raw[2*i:], uint16(v))
		case DTInt32:
			order.PutUint32(raw[4*i:], uint32(int32(v)))
		case DTUint32:
			order.PutUint32(raw[4*i:], uint32(v))
		case DTFloat32:
			order.PutUint32(raw[4*i:], math.Float32bits(float32(v)))
		case DTInt64:
			order.PutUint64(raw[8*i:], uint64(int64(v)))
		case DTUint64:
			order.PutUint64(raw[8*i:], uint64(v))
		case DTFloat64:
			order.PutUint64(raw[8*i:], math.Float64bits(v))
		}
	}
	return raw, nil
}

// Write encodes the image as a single-file NIfTI-1 stream without extensions.
func (img *Image) Write(w io.Writer) error {
	order := img.Order
	if order == nil {
		order = binary.LittleEndian
	}
	h := img.Header
	h.SizeofHdr = minHeaderSize
	h.VoxOffset = headerSize
	h.Magic = magicSingle
	size, err := bytesPerVoxel(h.Datatype)
	if err != nil {
		return err
	}
	h.Bitpix = int16(8 * size)
	if n := h.NumVoxels(); n != len(img.Data) {
		return errors.Errorf("header describes %d voxels, image holds %d", n, len(img.Data))
	}

	raw, err := encodeVoxels(img.Data, h.Datatype, order)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, order, &h); err != nil {
		return errors.Wrap(err, "writing nifti header")
	}
	if _, err := bw.Write(make([]byte, headerSize-minHeaderSize)); err != nil {
		return err
	}
	if _, err := bw.Write(raw); err != nil {
		return errors.Wrap(err, "writing voxels")
	}
	return bw.Flush()
}

// Save writes the image to path, gzip compressed when path ends in .gz.
func (img *Image) Save(path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	if !isGzip(path) {
		return img.Write(f)
	}
	zw := pgzip.NewWriter(f)
	if err := img.Write(zw); err != nil {
		return multierr.Combine(err, zw.Close())
	}
	return zw.Close()
}
