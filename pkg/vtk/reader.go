package vtk

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrInvalidFile is returned for streams that are not legacy VTK polydata.
var ErrInvalidFile = errors.New("invalid vtk polydata file")

type encoding int

const (
	encASCII encoding = iota
	encBinary
)

// scalar types accepted for point coordinates and cell connectivity
var dataTypeSizes = map[string]int{
	"float":         4,
	"double":        8,
	"char":          1,
	"unsigned_char": 1,
	"short":         2,
	"int":           4,
	"unsigned_int":  4,
	"long":          8,
	"vtktypeint32":  4,
	"vtktypeint64":  8,
}

// ReadPolyDataFile reads the polydata file at path.
func ReadPolyDataFile(path string) (_ *PolyData, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return ReadPolyData(f)
}

// ReadPolyData decodes a legacy polydata stream. Attribute sections (POINT_DATA,
// CELL_DATA, FIELD) end parsing; they carry nothing a tractogram needs.
func ReadPolyData(in io.Reader) (*PolyData, error) {
	r := &reader{br: bufio.NewReader(in)}

	version, err := r.line()
	if err != nil {
		return nil, errors.Wrap(ErrInvalidFile, "empty input")
	}
	if !strings.HasPrefix(strings.ToLower(version), "# vtk datafile version") {
		return nil, errors.Wrapf(ErrInvalidFile, "bad version line %q", version)
	}
	fields := strings.Fields(version)
	if v, err := strconv.ParseFloat(fields[len(fields)-1], 64); err == nil {
		r.version = v
	}

	pd := &PolyData{}
	// the title line may be blank, so it is read raw
	title, err := r.br.ReadString('\n')
	if err != nil {
		return nil, errors.Wrap(ErrInvalidFile, "missing title line")
	}
	pd.Title = strings.TrimSpace(title)

	enc, err := r.line()
	if err != nil {
		return nil, errors.Wrap(ErrInvalidFile, "missing encoding line")
	}
	switch strings.ToUpper(enc) {
	case "ASCII":
		r.enc = encASCII
	case "BINARY":
		r.enc = encBinary
	default:
		return nil, errors.Wrapf(ErrInvalidFile, "unknown encoding %q", enc)
	}

	dataset, err := r.line()
	if err != nil || strings.ToUpper(strings.Join(strings.Fields(dataset), " ")) != "DATASET POLYDATA" {
		return nil, errors.Wrapf(ErrInvalidFile, "expected DATASET POLYDATA, got %q", dataset)
	}

	for {
		line, err := r.line()
		if err == io.EOF {
			return pd, nil
		}
		if err != nil {
			return nil, err
		}
		tokens := strings.Fields(line)
		switch keyword := strings.ToUpper(tokens[0]); keyword {
		case "POINTS":
			if pd.Points, err = r.points(tokens); err != nil {
				return nil, err
			}
		case "VERTICES", "LINES", "POLYGONS", "TRIANGLE_STRIPS":
			cells, err := r.cells(tokens)
			if err != nil {
				return nil, errors.Wrapf(err, "reading %s", keyword)
			}
			switch keyword {
			case "VERTICES":
				pd.Vertices = cells
			case "LINES":
				pd.Lines = cells
			case "POLYGONS":
				pd.Polygons = cells
			default:
				pd.Strips = cells
			}
		case "POINT_DATA", "CELL_DATA", "FIELD", "METADATA":
			return pd, nil
		default:
			return nil, errors.Wrapf(ErrInvalidFile, "unexpected section %q", line)
		}
	}
}

type reader struct {
	br      *bufio.Reader
	enc     encoding
	version float64
}

// line returns the next non-blank line, trimmed.
func (r *reader) line() (string, error) {
	for {
		s, err := r.br.ReadString('\n')
		s = strings.TrimSpace(s)
		if s != "" {
			return s, nil
		}
		if err != nil {
			return "", err
		}
	}
}

func (r *reader) points(tokens []string) ([]r3.Vec, error) {
	if len(tokens) != 3 {
		return nil, errors.Wrapf(ErrInvalidFile, "malformed POINTS line %q", strings.Join(tokens, " "))
	}
	n, err := strconv.Atoi(tokens[1])
	if err != nil || n < 0 {
		return nil, errors.Wrapf(ErrInvalidFile, "bad point count %q", tokens[1])
	}
	vals, err := r.values(3*n, strings.ToLower(tokens[2]))
	if err != nil {
		return nil, errors.Wrap(err, "reading POINTS")
	}
	pts := make([]r3.Vec, n)
	for i := range pts {
		pts[i] = r3.Vec{X: vals[3*i], Y: vals[3*i+1], Z: vals[3*i+2]}
	}
	return pts, nil
}

func (r *reader) cells(tokens []string) ([][]int, error) {
	if len(tokens) != 3 {
		return nil, errors.Wrapf(ErrInvalidFile, "malformed cell line %q", strings.Join(tokens, " "))
	}
	a, err1 := strconv.Atoi(tokens[1])
	b, err2 := strconv.Atoi(tokens[2])
	if err1 != nil || err2 != nil || a < 0 || b < 0 {
		return nil, errors.Wrapf(ErrInvalidFile, "bad cell sizes %q", strings.Join(tokens[1:], " "))
	}
	if r.version >= 5 {
		return r.offsetCells(a, b)
	}

	raw, err := r.values(b, "int")
	if err != nil {
		return nil, err
	}
	cells := make([][]int, 0, a)
	pos := 0
	for i := 0; i < a; i++ {
		if pos >= len(raw) {
			return nil, errors.Wrapf(ErrInvalidFile, "cell %d runs past connectivity", i)
		}
		k := int(raw[pos])
		pos++
		if k < 0 || pos+k > len(raw) {
			return nil, errors.Wrapf(ErrInvalidFile, "cell %d runs past connectivity", i)
		}
		ids := make([]int, k)
		for j := range ids {
			ids[j] = int(raw[pos+j])
		}
		pos += k
		cells = append(cells, ids)
	}
	return cells, nil
}

// offsetCells reads the version 5 layout: OFFSETS then CONNECTIVITY arrays.
func (r *reader) offsetCells(nOffsets, nConn int) ([][]int, error) {
	offsets, err := r.namedArray("OFFSETS", nOffsets)
	if err != nil {
		return nil, err
	}
	conn, err := r.namedArray("CONNECTIVITY", nConn)
	if err != nil {
		return nil, err
	}
	if nOffsets == 0 {
		return nil, nil
	}
	cells := make([][]int, 0, nOffsets-1)
	for i := 0; i+1 < nOffsets; i++ {
		lo, hi := int(offsets[i]), int(offsets[i+1])
		if lo < 0 || hi < lo || hi > len(conn) {
			return nil, errors.Wrapf(ErrInvalidFile, "cell %d offsets [%d,%d) out of range", i, lo, hi)
		}
		ids := make([]int, hi-lo)
		for j := range ids {
			ids[j] = int(conn[lo+j])
		}
		cells = append(cells, ids)
	}
	return cells, nil
}

func (r *reader) namedArray(name string, n int) ([]float64, error) {
	line, err := r.line()
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidFile, "missing %s", name)
	}
	tokens := strings.Fields(line)
	if len(tokens) != 2 || strings.ToUpper(tokens[0]) != name {
		return nil, errors.Wrapf(ErrInvalidFile, "expected %s, got %q", name, line)
	}
	return r.values(n, strings.ToLower(tokens[1]))
}

// values reads n scalars of the given VTK type as float64.
func (r *reader) values(n int, dataType string) ([]float64, error) {
	size, ok := dataTypeSizes[dataType]
	if !ok {
		return nil, errors.Wrapf(ErrInvalidFile, "unsupported data type %q", dataType)
	}
	out := make([]float64, n)
	if r.enc == encASCII {
		for i := range out {
			tok, err := r.token()
			if err != nil {
				return nil, errors.Wrapf(err, "value %d of %d", i, n)
			}
			if out[i], err = strconv.ParseFloat(tok, 64); err != nil {
				return nil, errors.Wrapf(ErrInvalidFile, "bad value %q", tok)
			}
		}
		return out, nil
	}

	raw := make([]byte, n*size)
	if _, err := io.ReadFull(r.br, raw); err != nil {
		return nil, errors.Wrapf(err, "reading %d binary %s values", n, dataType)
	}
	be := binary.BigEndian
	for i := range out {
		b := raw[i*size:]
		switch dataType {
		case "float":
			out[i] = float64(math.Float32frombits(be.Uint32(b)))
		case "double":
			out[i] = math.Float64frombits(be.Uint64(b))
		case "char":
			out[i] = float64(int8(b[0]))
		case "unsigned_char":
			out[i] = float64(b[0])
		case "short":
			out[i] = float64(int16(be.Uint16(b)))
		case "unsigned_int":
			out[i] = float64(be.Uint32(b))
		case "int", "vtktypeint32":
			out[i] = float64(int32(be.Uint32(b)))
		default:
			out[i] = float64(int64(be.Uint64(b)))
		}
	}
	return out, nil
}

// token returns the next whitespace separated ASCII token.
func (r *reader) token() (string, error) {
	var sb strings.Builder
	for {
		c, err := r.br.ReadByte()
		if err != nil {
			if err == io.EOF && sb.Len() > 0 {
				return sb.String(), nil
			}
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return "", err
		}
		if c == ' ' || c == '\n' || c == '\r' || c == '\t' {
			if sb.Len() > 0 {
				return sb.String(), nil
			}
			continue
		}
		sb.WriteByte(c)
	}
}
