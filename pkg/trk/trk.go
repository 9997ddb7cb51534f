package trk

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/spatial/r3"
)

// Streamline is one track. Points are in TrackVis voxmm space.
type Streamline struct {
	Points     []r3.Vec
	Scalars    [][]float32 // one slice of NScalars values per point, nil when NScalars is 0
	Properties []float32   // NProperties values, nil when NProperties is 0
}

// File is a decoded TRK file.
type File struct {
	Header      Header
	Order       binary.ByteOrder
	Streamlines []Streamline
}

// ReadFile reads the TRK file at path.
func ReadFile(path string) (_ *File, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return Read(f)
}

// Read decodes a TRK stream. When the header count is zero tracks are read until EOF.
func Read(in io.Reader) (*File, error) {
	br := bufio.NewReader(in)
	raw := make([]byte, HeaderSize)
	if _, err := io.ReadFull(br, raw); err != nil {
		return nil, errors.Wrap(ErrInvalidHeader, err.Error())
	}
	h, order, err := decodeHeader(raw)
	if err != nil {
		return nil, err
	}

	f := &File{Header: h, Order: order}
	r := &trkReader{r: br, order: order}
	ns, np := int(h.NScalars), int(h.NProperties)
	for i := 0; h.NCount == 0 || i < int(h.NCount); i++ {
		n, err := r.int32()
		if err == io.EOF && h.NCount == 0 {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "reading track %d", i)
		}
		if n < 0 {
			return nil, errors.Errorf("track %d has negative point count %d", i, n)
		}
		s, err := r.streamline(int(n), ns, np)
		if err != nil {
			return nil, errors.Wrapf(err, "reading track %d", i)
		}
		f.Streamlines = append(f.Streamlines, s)
	}
	return f, nil
}

// WriteFile writes f to path, creating or truncating it.
func (f *File) WriteFile(path string) (err error) {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, out.Close())
	}()
	return f.Write(out)
}

// Write encodes f. The header count is updated to the number of streamlines.
func (f *File) Write(out io.Writer) error {
	order := f.Order
	if order == nil {
		order = binary.LittleEndian
	}
	h := f.Header
	h.NCount = int32(len(f.Streamlines))
	h.HdrSize = HeaderSize
	h.IDString = magic

	bw := bufio.NewWriter(out)
	if err := binary.Write(bw, order, &h); err != nil {
		return errors.Wrap(err, "writing trk header")
	}
	ns, np := int(h.NScalars), int(h.NProperties)
	for i, s := range f.Streamlines {
		if err := writeStreamline(bw, order, s, ns, np); err != nil {
			return errors.Wrapf(err, "writing track %d", i)
		}
	}
	f.Header.NCount = h.NCount
	return bw.Flush()
}

func writeStreamline(w io.Writer, order binary.ByteOrder, s Streamline, ns, np int) error {
	if s.Scalars != nil && len(s.Scalars) != len(s.Points) {
		return errors.Errorf("%d scalar rows for %d points", len(s.Scalars), len(s.Points))
	}
	if np > 0 && len(s.Properties) != np {
		return errors.Errorf("expected %d properties, got %d", np, len(s.Properties))
	}
	buf := make([]byte, 4+4*len(s.Points)*(3+ns)+4*np)
	order.PutUint32(buf, uint32(len(s.Points)))
	off := 4
	put := func(v float32) {
		order.PutUint32(buf[off:], math.Float32bits(v))
		off += 4
	}
	for j, p := range s.Points {
		put(float32(p.X))
		put(float32(p.Y))
		put(float32(p.Z))
		for k := 0; k < ns; k++ {
			var v float32
			if s.Scalars != nil && k < len(s.Scalars[j]) {
				v = s.Scalars[j][k]
			}
			put(v)
		}
	}
	for k := 0; k < np; k++ {
		put(s.Properties[k])
	}
	_, err := w.Write(buf)
	return err
}

// trkReader reads fixed size values with a known byte order.
type trkReader struct {
	r     io.Reader
	order binary.ByteOrder
	buf   [4]byte
}

func (tr *trkReader) int32() (int32, error) {
	if _, err := io.ReadFull(tr.r, tr.buf[:]); err != nil {
		return 0, err
	}
	return int32(tr.order.Uint32(tr.buf[:])), nil
}

func (tr *trkReader) float32s(n int) ([]float32, error) {
	raw := make([]byte, 4*n)
	if _, err := io.ReadFull(tr.r, raw); err != nil {
		return nil, err
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(tr.order.Uint32(raw[4*i:]))
	}
	return out, nil
}

func (tr *trkReader) streamline(n, ns, np int) (Streamline, error) {
	vals, err := tr.float32s(n * (3 + ns))
	if err != nil {
		return Streamline{}, err
	}
	s := Streamline{Points: make([]r3.Vec, n)}
	if ns > 0 {
		s.Scalars = make([][]float32, n)
	}
	stride := 3 + ns
	for j := 0; j < n; j++ {
		row := vals[j*stride : (j+1)*stride]
		s.Points[j] = r3.Vec{X: float64(row[0]), Y: float64(row[1]), Z: float64(row[2])}
		if ns > 0 {
			s.Scalars[j] = append([]float32(nil), row[3:]...)
		}
	}
	if np > 0 {
		if s.Properties, err = tr.float32s(np); err != nil {
			return Streamline{}, err
		}
	}
	return s, nil
}
