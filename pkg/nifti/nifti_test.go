package nifti

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func newImage(t *testing.T, datatype int16, shape ...int) *Image {
	t.Helper()
	var h Header
	h.Dim[0] = int16(len(shape))
	n := 1
	for i, d := range shape {
		h.Dim[i+1] = int16(d)
		h.Pixdim[i+1] = 2
		n *= d
	}
	h.Datatype = datatype
	h.SclSlope = 1
	h.QformCode = 1
	h.QuaternB, h.QuaternC, h.QuaternD = 0, 0, 1
	h.QoffsetX, h.QoffsetY, h.QoffsetZ = 90, 126, -72
	h.SetSform(mat.NewDense(4, 4, []float64{
		-2, 0, 0, 90,
		0, 2, 0, -126,
		0, 0, 2, -72,
		0, 0, 0, 1,
	}), 1)
	copy(h.Descrip[:], "unit test")

	data := make([]float64, n)
	for i := range data {
		data[i] = float64(i % 120)
	}
	return &Image{Header: h, Data: data}
}

func TestWriteReadRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		name     string
		datatype int16
		order    binary.ByteOrder
	}{
		{"uint8", DTUint8, binary.LittleEndian},
		{"int16", DTInt16, binary.LittleEndian},
		{"float32 big endian", DTFloat32, binary.BigEndian},
		{"float64", DTFloat64, binary.LittleEndian},
	} {
		t.Run(tc.name, func(t *testing.T) {
			img := newImage(t, tc.datatype, 3, 4, 5)
			img.Order = tc.order

			var buf bytes.Buffer
			test.That(t, img.Write(&buf), test.ShouldBeNil)
			test.That(t, buf.Len(), test.ShouldEqual, headerSize+60*mustSize(t, tc.datatype))

			got, err := Read(&buf)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, got.Order, test.ShouldResemble, tc.order)
			test.That(t, got.Shape(), test.ShouldResemble, []int{3, 4, 5})
			test.That(t, got.Data, test.ShouldResemble, img.Data)
			test.That(t, got.Header.VoxOffset, test.ShouldEqual, float32(headerSize))
			test.That(t, got.Header.Description(), test.ShouldEqual, "unit test")
			test.That(t, mat.Equal(got.Affine(), img.Affine()), test.ShouldBeTrue)
		})
	}
}

func mustSize(t *testing.T, datatype int16) int {
	t.Helper()
	n, err := bytesPerVoxel(datatype)
	test.That(t, err, test.ShouldBeNil)
	return n
}

func TestSaveLoadGzip(t *testing.T) {
	dir := t.TempDir()
	img := newImage(t, DTFloat32, 4, 4, 2)

	for _, name := range []string{"plain.nii", "packed.nii.gz"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			test.That(t, img.Save(path), test.ShouldBeNil)

			got, err := Load(path)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, got.Data, test.ShouldResemble, img.Data)

			h, err := LoadHeader(path)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, h.Shape(), test.ShouldResemble, []int{4, 4, 2})
		})
	}

	raw, err := os.ReadFile(filepath.Join(dir, "packed.nii.gz"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, raw[:2], test.ShouldResemble, []byte{0x1f, 0x8b})
}

func TestAffinePrecedence(t *testing.T) {
	img := newImage(t, DTUint8, 2, 2, 2)
	sform := img.Affine()
	test.That(t, sform.At(0, 0), test.ShouldEqual, -2.0)
	test.That(t, sform.At(1, 3), test.ShouldEqual, -126.0)

	// quaternion (0, 0, 1) is a 180 degree rotation about z
	img.Header.SformCode = 0
	qform := img.Affine()
	test.That(t, qform.At(0, 0), test.ShouldAlmostEqual, -2.0)
	test.That(t, qform.At(1, 1), test.ShouldAlmostEqual, -2.0)
	test.That(t, qform.At(2, 2), test.ShouldAlmostEqual, 2.0)
	test.That(t, qform.At(0, 3), test.ShouldEqual, 90.0)

	// no transform: LAS, centred on the middle voxel
	img.Header.QformCode = 0
	base := mat.NewDense(4, 4, []float64{
		-2, 0, 0, 1,
		0, 2, 0, -1,
		0, 0, 2, -1,
		0, 0, 0, 1,
	})
	test.That(t, mat.Equal(img.Affine(), base), test.ShouldBeTrue)
}

func TestReadInvalidHeader(t *testing.T) {
	_, err := Read(bytes.NewReader(make([]byte, 10)))
	test.That(t, errors.Is(err, ErrInvalidHeader), test.ShouldBeTrue)

	_, err = Read(bytes.NewReader(make([]byte, 400)))
	test.That(t, errors.Is(err, ErrInvalidHeader), test.ShouldBeTrue)

	img := newImage(t, DTUint8, 2, 2, 2)
	var buf bytes.Buffer
	test.That(t, img.Write(&buf), test.ShouldBeNil)
	raw := buf.Bytes()
	copy(raw[344:], "ni1\x00")
	_, err = Read(bytes.NewReader(raw))
	test.That(t, errors.Is(err, ErrInvalidHeader), test.ShouldBeTrue)
}

func TestReadRejectsBadShape(t *testing.T) {
	for _, tc := range []struct {
		name string
		dim  [8]int16
	}{
		{"negative dim", [8]int16{3, -2, 2, 2, 1, 1, 1, 1}},
		{"negative trailing dim", [8]int16{4, 2, 2, 2, -5, 1, 1, 1}},
		{"too many voxels", [8]int16{7, 32767, 32767, 32767, 32767, 32767, 32767, 32767}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			img := newImage(t, DTUint8, 2, 2, 2)
			var buf bytes.Buffer
			test.That(t, img.Write(&buf), test.ShouldBeNil)
			raw := buf.Bytes()
			for i, d := range tc.dim {
				binary.LittleEndian.PutUint16(raw[40+2*i:], uint16(d))
			}
			_, err := Read(bytes.NewReader(raw))
			test.That(t, errors.Is(err, ErrInvalidHeader), test.ShouldBeTrue)
		})
	}

	// a header promising more voxels than the stream holds
	img := newImage(t, DTUint8, 2, 2, 2)
	var buf bytes.Buffer
	test.That(t, img.Write(&buf), test.ShouldBeNil)
	raw := buf.Bytes()
	binary.LittleEndian.PutUint16(raw[42:], 2000)
	_, err := Read(bytes.NewReader(raw))
	test.That(t, errors.Is(err, io.ErrUnexpectedEOF), test.ShouldBeTrue)
}

func TestWriteRejectsShapeMismatch(t *testing.T) {
	img := newImage(t, DTUint8, 2, 2, 2)
	img.Data = img.Data[:5]
	test.That(t, img.Write(&bytes.Buffer{}), test.ShouldNotBeNil)
}

func TestVolume(t *testing.T) {
	img := newImage(t, DTInt16, 3, 2, 2, 4)

	vol, err := img.Volume(2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, vol.Shape(), test.ShouldResemble, []int{3, 2, 2})
	test.That(t, vol.Data, test.ShouldResemble, img.Data[24:36])
	test.That(t, mat.Equal(vol.Affine(), img.Affine()), test.ShouldBeTrue)

	vol.Data[0] = -1
	test.That(t, img.Data[24], test.ShouldNotEqual, -1.0)

	for _, index := range []int{-1, 4, 10} {
		_, err := img.Volume(index)
		test.That(t, errors.Is(err, ErrIndexOutOfRange), test.ShouldBeTrue)
	}
}

func TestDefaultExtractPath(t *testing.T) {
	test.That(t, DefaultExtractPath("/data/sub01/dwi.nii.gz", 0), test.ShouldEqual, "/data/sub01/extract0_dwi.nii.gz")
	test.That(t, DefaultExtractPath("dwi_preproc.nii", 7), test.ShouldEqual, "extract7_dwi_preproc.nii.gz")
}

func TestExtractImage(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "dwi.nii.gz")
	img := newImage(t, DTFloat32, 2, 3, 2, 5)
	test.That(t, img.Save(in), test.ShouldBeNil)

	out, err := ExtractImage(in, 3, "")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldEqual, filepath.Join(dir, "extract3_dwi.nii.gz"))

	got, err := Load(out)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Shape(), test.ShouldResemble, []int{2, 3, 2})
	test.That(t, got.Data, test.ShouldResemble, img.Data[36:48])
	test.That(t, mat.Equal(got.Affine(), img.Affine()), test.ShouldBeTrue)
	test.That(t, got.Header.QformCode, test.ShouldEqual, int16(1))

	explicit := filepath.Join(dir, "b0.nii")
	out, err = ExtractImage(in, 0, explicit)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldEqual, explicit)

	_, err = ExtractImage(in, 5, "")
	test.That(t, errors.Is(err, ErrIndexOutOfRange), test.ShouldBeTrue)
	_, err = os.Stat(filepath.Join(dir, "extract5_dwi.nii.gz"))
	test.That(t, os.IsNotExist(err), test.ShouldBeTrue)

	_, err = ExtractImage(filepath.Join(dir, "missing.nii.gz"), 0, "")
	test.That(t, err, test.ShouldNotBeNil)
}
