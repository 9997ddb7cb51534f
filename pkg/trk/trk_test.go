package trk

import (
	"bytes"
	"encoding/binary"
	"errors"
	"path/filepath"
	"testing"

	"go.viam.com/test"
	"gonum.org/v1/gonum/spatial/r3"
)

func sampleFile(t *testing.T) *File {
	t.Helper()
	h, err := NewHeader([3]int16{10, 12, 8}, [3]float32{2, 2, 2}, "LAS")
	test.That(t, err, test.ShouldBeNil)
	return &File{
		Header: h,
		Streamlines: []Streamline{
			{Points: []r3.Vec{{X: 1, Y: 2, Z: 3}, {X: 4, Y: 5, Z: 6}}},
			{Points: []r3.Vec{{X: 0.5, Y: 0.25, Z: 0.125}}},
		},
	}
}

func TestHeaderSize(t *testing.T) {
	test.That(t, binary.Size(Header{}), test.ShouldEqual, HeaderSize)
}

func TestRoundTrip(t *testing.T) {
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		t.Run(order.String(), func(t *testing.T) {
			f := sampleFile(t)
			f.Order = order

			var buf bytes.Buffer
			test.That(t, f.Write(&buf), test.ShouldBeNil)
			test.That(t, f.Header.NCount, test.ShouldEqual, int32(2))

			got, err := Read(&buf)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, got.Order, test.ShouldResemble, order)
			test.That(t, got.Header.VoxelOrderString(), test.ShouldEqual, "LAS")
			test.That(t, got.Header.Dim, test.ShouldResemble, [3]int16{10, 12, 8})
			test.That(t, got.Streamlines, test.ShouldResemble, f.Streamlines)
		})
	}
}

func TestScalarsAndProperties(t *testing.T) {
	f := sampleFile(t)
	f.Header.NScalars = 2
	copy(f.Header.ScalarName[0][:], "fa")
	copy(f.Header.ScalarName[1][:], "md")
	f.Header.NProperties = 1
	copy(f.Header.PropertyName[0][:], "length")
	f.Streamlines[0].Scalars = [][]float32{{0.1, 0.2}, {0.3, 0.4}}
	f.Streamlines[0].Properties = []float32{7}
	f.Streamlines[1].Scalars = [][]float32{{0.5, 0.6}}
	f.Streamlines[1].Properties = []float32{1}

	var buf bytes.Buffer
	test.That(t, f.Write(&buf), test.ShouldBeNil)
	got, err := Read(&buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Header.ScalarNames(), test.ShouldResemble, []string{"fa", "md"})
	test.That(t, got.Header.PropertyNames(), test.ShouldResemble, []string{"length"})
	test.That(t, got.Streamlines, test.ShouldResemble, f.Streamlines)

	f.Streamlines[1].Properties = nil
	test.That(t, f.Write(&bytes.Buffer{}), test.ShouldNotBeNil)
}

func TestReadUntilEOFWhenCountUnknown(t *testing.T) {
	f := sampleFile(t)
	var buf bytes.Buffer
	test.That(t, f.Write(&buf), test.ShouldBeNil)

	raw := buf.Bytes()
	// zero the n_count field
	binary.LittleEndian.PutUint32(raw[988:], 0)

	got, err := Read(bytes.NewReader(raw))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(got.Streamlines), test.ShouldEqual, 2)
}

func TestReadRejectsGarbage(t *testing.T) {
	_, err := Read(bytes.NewReader(make([]byte, 10)))
	test.That(t, errors.Is(err, ErrInvalidHeader), test.ShouldBeTrue)

	_, err = Read(bytes.NewReader(make([]byte, HeaderSize)))
	test.That(t, errors.Is(err, ErrInvalidHeader), test.ShouldBeTrue)
}

func TestReadRejectsBadCounts(t *testing.T) {
	for _, tc := range []struct {
		name        string
		nScalars    int16
		nProperties int16
	}{
		{"negative scalars", -3, 0},
		{"too many scalars", 11, 0},
		{"negative properties", 0, -1},
		{"too many properties", 0, 200},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := &File{Header: sampleFile(t).Header}
			f.Streamlines = []Streamline{{Points: []r3.Vec{{X: 1, Y: 2, Z: 3}}}}
			var buf bytes.Buffer
			test.That(t, f.Write(&buf), test.ShouldBeNil)

			raw := buf.Bytes()
			binary.LittleEndian.PutUint16(raw[36:], uint16(tc.nScalars))
			binary.LittleEndian.PutUint16(raw[238:], uint16(tc.nProperties))
			_, err := Read(bytes.NewReader(raw))
			test.That(t, errors.Is(err, ErrInvalidHeader), test.ShouldBeTrue)
		})
	}
}

func TestSetVoxelOrder(t *testing.T) {
	f := sampleFile(t)
	test.That(t, f.Header.SetVoxelOrder("LPI"), test.ShouldBeNil)
	test.That(t, f.Header.VoxelOrderString(), test.ShouldEqual, "LPI")
	test.That(t, f.Header.VoxelOrder[3], test.ShouldEqual, byte(0))
	test.That(t, f.Header.SetVoxelOrder("XYZ"), test.ShouldNotBeNil)

	f.Header.VoxelOrder = [4]byte{}
	codes, err := f.Header.AxisCodes()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, codes.String(), test.ShouldEqual, "LPS")
}

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fibers.trk")
	f := sampleFile(t)
	test.That(t, f.WriteFile(path), test.ShouldBeNil)

	got, err := ReadFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(got.Streamlines), test.ShouldEqual, 2)
	test.That(t, got.Header.NCount, test.ShouldEqual, int32(2))
}
