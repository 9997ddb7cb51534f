package convert

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"connectomeutils/internal/models"
	"connectomeutils/pkg/nifti"
	"connectomeutils/pkg/orientation"
	"connectomeutils/pkg/tck"
	"connectomeutils/pkg/trk"
)

// trkTCKConverter maps TrackVis voxmm points into the world space of the reference image.
type trkTCKConverter struct {
	logger *zap.SugaredLogger
}

func (c *trkTCKConverter) Convert(ctx context.Context, trkPath, anatPath, tckPath string) error {
	f, err := trk.ReadFile(trkPath)
	if err != nil {
		return err
	}
	anat, err := nifti.LoadHeader(anatPath)
	if err != nil {
		return errors.Wrap(err, "loading anatomical reference")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t, err := TRKToTractogram(f, anat.Shape(), anat.Affine())
	if err != nil {
		return err
	}
	fields := map[string]string{
		"converted_from": "trk",
		"voxel_order":    f.Header.VoxelOrderString(),
	}
	if err := tck.WriteFile(tckPath, t, fields); err != nil {
		return errors.Wrapf(err, "writing %s", tckPath)
	}
	logStats(c.logger, tckPath, t)
	return nil
}

// TRKToTractogram converts TRK streamlines to voxel indices of a reference grid with the
// given shape and voxel-to-world affine. Axes whose TRK voxel order runs opposite to the
// reference orientation are flipped. The returned tractogram carries the reference
// affine, so its RAS mm points are one ToRASMM away.
func TRKToTractogram(f *trk.File, shape []int, affine *mat.Dense) (*models.Tractogram, error) {
	if len(shape) < 3 {
		return nil, errors.Errorf("reference image has %d dimensions, need at least 3", len(shape))
	}
	from, err := f.Header.AxisCodes()
	if err != nil {
		return nil, err
	}
	to := orientation.FromAffine(affine)
	flips, err := orientation.Flips(from, to)
	if err != nil {
		return nil, errors.Wrapf(err, "trk voxel order %s against reference %s", from, to)
	}

	var size [3]float64
	for i, v := range f.Header.VoxelSize {
		if v <= 0 {
			return nil, errors.Errorf("trk voxel size %v must be positive", f.Header.VoxelSize)
		}
		size[i] = float64(v)
	}

	streamlines := make([][]r3.Vec, len(f.Streamlines))
	for i, s := range f.Streamlines {
		pts := make([]r3.Vec, len(s.Points))
		for j, p := range s.Points {
			// voxmm is measured from the corner of voxel 0, indices from its centre
			v := [3]float64{p.X/size[0] - 0.5, p.Y/size[1] - 0.5, p.Z/size[2] - 0.5}
			for k := range v {
				if flips[k] {
					v[k] = float64(shape[k]-1) - v[k]
				}
			}
			pts[j] = r3.Vec{X: v[0], Y: v[1], Z: v[2]}
		}
		streamlines[i] = pts
	}
	return models.NewTractogram(streamlines, mat.DenseCopyOf(affine)), nil
}
