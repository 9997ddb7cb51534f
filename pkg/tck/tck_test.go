package tck

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.viam.com/test"
	"gonum.org/v1/gonum/spatial/r3"

	"connectomeutils/internal/models"
	"connectomeutils/pkg/orientation"
)

func TestWriteLayout(t *testing.T) {
	tg := models.NewTractogram([][]r3.Vec{
		{{X: 1, Y: 2, Z: 3}, {X: 4, Y: 5, Z: 6}},
	}, nil)

	var buf bytes.Buffer
	test.That(t, Write(&buf, tg, map[string]string{"count": "99", "source": "unit"}), test.ShouldBeNil)

	raw := buf.Bytes()
	end := bytes.Index(raw, []byte("END\n")) + len("END\n")
	header := string(raw[:end])
	test.That(t, header, test.ShouldStartWith, "mrtrix tracks\n")
	test.That(t, header, test.ShouldContainSubstring, "source: unit\n")
	test.That(t, header, test.ShouldContainSubstring, "count: 0000000001\n")
	test.That(t, header, test.ShouldContainSubstring, "datatype: Float32LE\n")
	test.That(t, header, test.ShouldContainSubstring, "file: . "+strconv.Itoa(end)+"\n")
	test.That(t, strings.Count(header, "count:"), test.ShouldEqual, 1)

	body := raw[end:]
	// two points, one NaN delimiter, one Inf terminator
	test.That(t, len(body), test.ShouldEqual, 4*12)
	f := func(i int) float64 {
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(body[4*i:])))
	}
	test.That(t, f(0), test.ShouldEqual, 1.0)
	test.That(t, f(5), test.ShouldEqual, 6.0)
	test.That(t, math.IsNaN(f(6)), test.ShouldBeTrue)
	test.That(t, math.IsNaN(f(8)), test.ShouldBeTrue)
	test.That(t, math.IsInf(f(9), 1), test.ShouldBeTrue)
	test.That(t, math.IsInf(f(11), 1), test.ShouldBeTrue)
}

func TestRoundTrip(t *testing.T) {
	streamlines := [][]r3.Vec{
		{{X: 1, Y: 2, Z: 3}, {X: 4, Y: 5, Z: 6}, {X: 7, Y: 8, Z: 9}},
		{{X: -1, Y: -2, Z: -3}},
	}
	var buf bytes.Buffer
	test.That(t, Write(&buf, models.NewTractogram(streamlines, nil), nil), test.ShouldBeNil)

	got, err := Read(&buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Header.Count, test.ShouldEqual, 2)
	test.That(t, got.Header.DataType, test.ShouldEqual, Float32LE)
	if diff := cmp.Diff(streamlines, got.Streamlines); diff != "" {
		t.Errorf("streamlines mismatch (-want +got):\n%s", diff)
	}
	test.That(t, got.Tractogram().PointCounts(), test.ShouldResemble, []int{3, 1})
}

func TestWriteAppliesAffine(t *testing.T) {
	tg := models.NewTractogram([][]r3.Vec{{{X: 1, Y: 2, Z: 3}}}, orientation.LPSToRAS())
	path := filepath.Join(t.TempDir(), "out.tck")
	test.That(t, WriteFile(path, tg, nil), test.ShouldBeNil)

	got, err := ReadFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Streamlines, test.ShouldResemble, [][]r3.Vec{{{X: -1, Y: -2, Z: 3}}})
}

func TestReadFloat64BE(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("mrtrix tracks\ndatatype: Float64BE\ncount: 1\nfile: . 64\nEND\n")
	for buf.Len() < 64 {
		buf.WriteByte(0)
	}
	for _, v := range []float64{1.5, 2.5, 3.5, math.NaN(), math.NaN(), math.NaN(), math.Inf(1), math.Inf(1), math.Inf(1)} {
		test.That(t, binary.Write(&buf, binary.BigEndian, v), test.ShouldBeNil)
	}

	got, err := Read(&buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Streamlines, test.ShouldResemble, [][]r3.Vec{{{X: 1.5, Y: 2.5, Z: 3.5}}})
}

func TestReadInvalid(t *testing.T) {
	for _, tc := range []struct {
		name string
		in   string
	}{
		{"magic", "not tracks\nEND\n"},
		{"unterminated", "mrtrix tracks\ncount: 1\n"},
		{"malformed", "mrtrix tracks\nnonsense\nEND\n"},
		{"external file", "mrtrix tracks\nfile: other.dat 0\nEND\n"},
		{"offset inside header", "mrtrix tracks\nfile: . 3\nEND\n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tc.in))
			test.That(t, errors.Is(err, ErrInvalidHeader), test.ShouldBeTrue)
		})
	}

	_, err := Read(strings.NewReader("mrtrix tracks\ndatatype: Int8\nEND\n"))
	test.That(t, err, test.ShouldNotBeNil)
}
