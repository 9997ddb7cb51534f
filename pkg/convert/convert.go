// Package convert converts TrackVis and VTK polydata tractograms to MRtrix TCK files.
package convert

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"connectomeutils/internal/models"
	"connectomeutils/pkg/orientation"
	"connectomeutils/pkg/paths"
	"connectomeutils/pkg/tck"
	"connectomeutils/pkg/trk"
	"connectomeutils/pkg/vtk"
)

const tckSuffix = ".tck"

// ErrMissingFile is returned when an input file does not exist.
var ErrMissingFile = paths.ErrMissingFile

// A TractConverter writes the TCK equivalent of a TRK file, using an anatomical image
// as the spatial reference.
type TractConverter interface {
	Convert(ctx context.Context, trkPath, anatPath, tckPath string) error
}

type options struct {
	tempDir   string
	converter TractConverter
	logger    *zap.SugaredLogger
}

// Option configures TRKToTCK and VTKToTCK.
type Option func(*options)

// WithTempDir sets the parent of the scratch directory. Empty means the system default.
func WithTempDir(dir string) Option {
	return func(o *options) {
		o.tempDir = dir
	}
}

// WithConverter replaces the built-in TRK to TCK stream converter.
func WithConverter(c TractConverter) Option {
	return func(o *options) {
		o.converter = c
	}
}

// WithLogger sets the logger used to report conversion statistics.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func newOptions(opts []Option) *options {
	o := &options{logger: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(o)
	}
	if o.converter == nil {
		o.converter = &trkTCKConverter{logger: o.logger}
	}
	return o
}

// EnsureSuffix appends the .tck extension unless the path already has it.
func EnsureSuffix(path string) string {
	return paths.EnsureSuffix(path, tckSuffix)
}

// TRKToTCK converts a TrackVis tractogram to TCK. The TRK voxel order is relabelled LPI
// on a scratch copy, then the streamlines are mapped to RAS mm through the affine of
// the diffusion image dwi. It returns the written path, which always ends in .tck.
func TRKToTCK(ctx context.Context, dwi, trkPath, tckPath string, opts ...Option) (_ string, err error) {
	if err := paths.RequireFiles(dwi, trkPath); err != nil {
		return "", err
	}
	o := newOptions(opts)

	scratch, err := os.MkdirTemp(o.tempDir, "tractconverter_")
	if err != nil {
		return "", errors.Wrap(err, "creating scratch directory")
	}
	defer func() {
		err = multierr.Combine(err, os.RemoveAll(scratch))
	}()

	f, err := trk.ReadFile(trkPath)
	if err != nil {
		return "", err
	}
	// LAS -> LPI
	if err := f.Header.SetVoxelOrder(orientation.LPI); err != nil {
		return "", err
	}
	tmpTRK := filepath.Join(scratch, "tmp.trk")
	if err := f.WriteFile(tmpTRK); err != nil {
		return "", errors.Wrapf(err, "writing %s", tmpTRK)
	}

	tckPath = EnsureSuffix(tckPath)
	if err := o.converter.Convert(ctx, tmpTRK, dwi, tckPath); err != nil {
		return "", errors.Wrapf(err, "converting %s", trkPath)
	}
	return tckPath, nil
}

// VTKToTCK converts a VTK polydata tractogram in LPS mm, such as an MITK .fib file,
// to TCK. Every cell becomes one streamline. It returns the written path.
func VTKToTCK(vtkPath, tckPath string, opts ...Option) (string, error) {
	if err := paths.RequireFiles(vtkPath); err != nil {
		return "", err
	}
	o := newOptions(opts)

	pd, err := vtk.ReadPolyDataFile(vtkPath)
	if err != nil {
		return "", errors.Wrapf(err, "reading %s", vtkPath)
	}
	fibers, err := pd.Cells()
	if err != nil {
		return "", errors.Wrapf(err, "reading %s", vtkPath)
	}
	t := models.NewTractogram(fibers, orientation.LPSToRAS())

	tckPath = EnsureSuffix(tckPath)
	if err := tck.WriteFile(tckPath, t, nil); err != nil {
		return "", errors.Wrapf(err, "writing %s", tckPath)
	}
	logStats(o.logger, tckPath, t)
	return tckPath, nil
}

// logStats reports statistics of t in RAS millimetres.
func logStats(logger *zap.SugaredLogger, path string, t *models.Tractogram) {
	s := t.ToRASMM().Stats()
	logger.Infow("wrote tractogram",
		"path", path,
		"streamlines", s.Count,
		"points", s.TotalPoints,
		"meanPoints", s.MeanPoints,
		"meanLengthMM", s.MeanLength,
	)
}
