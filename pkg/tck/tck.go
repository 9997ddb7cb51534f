// Package tck reads and writes MRtrix .tck tractograms.
//
// A TCK file is a text header of "key: value" lines opened by "mrtrix tracks" and closed
// by "END", followed at the offset named by the "file" key by point triplets in RAS mm.
// A NaN triplet ends each streamline and an Inf triplet ends the file.
package tck

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/spatial/r3"

	"connectomeutils/internal/models"
)

const magicLine = "mrtrix tracks"

// Supported point encodings.
const (
	Float32LE = "Float32LE"
	Float32BE = "Float32BE"
	Float64LE = "Float64LE"
	Float64BE = "Float64BE"
)

// ErrInvalidHeader is returned when a stream does not start with a TCK header.
var ErrInvalidHeader = errors.New("invalid tck header")

// reserved keys are computed on write and never copied from Header.Fields.
var reserved = map[string]bool{"datatype": true, "count": true, "file": true}

// Header holds the parsed key/value header.
type Header struct {
	// Fields keeps every key other than datatype, count and file
	Fields   map[string]string
	DataType string
	Count    int
	Offset   int64
}

// File is a decoded TCK file. Streamline points are RAS mm.
type File struct {
	Header      Header
	Streamlines [][]r3.Vec
}

// Tractogram wraps the streamlines with an identity affine.
func (f *File) Tractogram() *models.Tractogram {
	return models.NewTractogram(f.Streamlines, nil)
}

// ReadFile reads the TCK file at path.
func ReadFile(path string) (_ *File, err error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, in.Close())
	}()
	return Read(in)
}

// Read decodes a TCK stream.
func Read(in io.Reader) (*File, error) {
	br := bufio.NewReader(in)
	h, consumed, err := readHeader(br)
	if err != nil {
		return nil, err
	}
	if h.Offset < consumed {
		return nil, errors.Wrapf(ErrInvalidHeader, "data offset %d inside header (%d bytes)", h.Offset, consumed)
	}
	if _, err := br.Discard(int(h.Offset - consumed)); err != nil {
		return nil, errors.Wrap(err, "seeking to tck data")
	}

	order, size, err := decoding(h.DataType)
	if err != nil {
		return nil, err
	}
	f := &File{Header: h}
	buf := make([]byte, 3*size)
	var current []r3.Vec
points:
	for {
		if _, err := io.ReadFull(br, buf); err != nil {
			if err == io.EOF {
				break points
			}
			return nil, errors.Wrap(err, "reading tck points")
		}
		p := decodePoint(buf, order, size)
		switch {
		case math.IsInf(p.X, 0) && math.IsInf(p.Y, 0) && math.IsInf(p.Z, 0):
			// incomplete trailing streamline is dropped
			current = nil
			break points
		case math.IsNaN(p.X) && math.IsNaN(p.Y) && math.IsNaN(p.Z):
			if current == nil {
				current = []r3.Vec{}
			}
			f.Streamlines = append(f.Streamlines, current)
			current = nil
		default:
			current = append(current, p)
		}
	}
	if len(current) > 0 {
		f.Streamlines = append(f.Streamlines, current)
	}
	return f, nil
}

func readHeader(br *bufio.Reader) (Header, int64, error) {
	h := Header{Fields: map[string]string{}, DataType: Float32LE}
	var consumed int64
	first := true
	for {
		line, err := br.ReadString('\n')
		consumed += int64(len(line))
		if err != nil {
			return Header{}, 0, errors.Wrap(ErrInvalidHeader, "header not terminated by END")
		}
		line = strings.TrimSpace(line)
		if first {
			if line != magicLine {
				return Header{}, 0, errors.Wrapf(ErrInvalidHeader, "first line is %q", line)
			}
			first = false
			continue
		}
		if line == "END" {
			break
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return Header{}, 0, errors.Wrapf(ErrInvalidHeader, "malformed line %q", line)
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		switch key {
		case "datatype":
			h.DataType = value
		case "count":
			if h.Count, err = strconv.Atoi(value); err != nil {
				return Header{}, 0, errors.Wrapf(ErrInvalidHeader, "count %q", value)
			}
		case "file":
			fields := strings.Fields(value)
			if len(fields) != 2 || fields[0] != "." {
				return Header{}, 0, errors.Wrapf(ErrInvalidHeader, "unsupported file entry %q", value)
			}
			if h.Offset, err = strconv.ParseInt(fields[1], 10, 64); err != nil {
				return Header{}, 0, errors.Wrapf(ErrInvalidHeader, "file offset %q", fields[1])
			}
		default:
			h.Fields[key] = value
		}
	}
	if h.Offset == 0 {
		h.Offset = consumed
	}
	return h, consumed, nil
}

func decoding(dataType string) (binary.ByteOrder, int, error) {
	switch dataType {
	case Float32LE:
		return binary.LittleEndian, 4, nil
	case Float32BE:
		return binary.BigEndian, 4, nil
	case Float64LE:
		return binary.LittleEndian, 8, nil
	case Float64BE:
		return binary.BigEndian, 8, nil
	}
	return nil, 0, errors.Errorf("unsupported tck datatype %q", dataType)
}

func decodePoint(buf []byte, order binary.ByteOrder, size int) r3.Vec {
	var v [3]float64
	for i := range v {
		if size == 4 {
			v[i] = float64(math.Float32frombits(order.Uint32(buf[4*i:])))
		} else {
			v[i] = math.Float64frombits(order.Uint64(buf[8*i:]))
		}
	}
	return r3.Vec{X: v[0], Y: v[1], Z: v[2]}
}

// WriteFile writes the tractogram to path in RAS mm as Float32LE.
func WriteFile(path string, t *models.Tractogram, fields map[string]string) (err error) {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, out.Close())
	}()
	return Write(out, t, fields)
}

// Write encodes the tractogram. Points are mapped through its affine first, so the file
// always holds RAS mm. Extra header fields are written in key order.
func Write(out io.Writer, t *models.Tractogram, fields map[string]string) error {
	ras := t.ToRASMM()

	bw := bufio.NewWriter(out)
	if _, err := io.WriteString(bw, headerText(fields, ras.Len())); err != nil {
		return errors.Wrap(err, "writing tck header")
	}

	triplet := make([]byte, 12)
	put := func(x, y, z float32) error {
		binary.LittleEndian.PutUint32(triplet[0:], math.Float32bits(x))
		binary.LittleEndian.PutUint32(triplet[4:], math.Float32bits(y))
		binary.LittleEndian.PutUint32(triplet[8:], math.Float32bits(z))
		_, err := bw.Write(triplet)
		return err
	}
	nan := float32(math.NaN())
	inf := float32(math.Inf(1))
	for i, s := range ras.Streamlines {
		for _, p := range s {
			if err := put(float32(p.X), float32(p.Y), float32(p.Z)); err != nil {
				return errors.Wrapf(err, "writing streamline %d", i)
			}
		}
		if err := put(nan, nan, nan); err != nil {
			return errors.Wrapf(err, "writing streamline %d", i)
		}
	}
	if err := put(inf, inf, inf); err != nil {
		return errors.Wrap(err, "writing tck terminator")
	}
	return bw.Flush()
}

// headerText renders the header with a "file" offset pointing just past "END\n".
func headerText(fields map[string]string, count int) string {
	var b strings.Builder
	b.WriteString(magicLine + "\n")
	keys := lo.Filter(lo.Keys(fields), func(k string, _ int) bool {
		return !reserved[k]
	})
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, fields[k])
	}
	fmt.Fprintf(&b, "count: %010d\n", count)
	fmt.Fprintf(&b, "datatype: %s\n", Float32LE)
	base := b.Len() + len("file: . \n") + len("END\n")

	// the offset's own digits count towards the header length
	offset := base
	for {
		next := base + len(strconv.Itoa(offset))
		if next == offset {
			break
		}
		offset = next
	}
	fmt.Fprintf(&b, "file: . %d\n", offset)
	b.WriteString("END\n")
	return b.String()
}
