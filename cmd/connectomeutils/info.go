package main

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"connectomeutils/internal/models"
	"connectomeutils/pkg/nifti"
	"connectomeutils/pkg/tck"
	"connectomeutils/pkg/trk"
	"connectomeutils/pkg/vtk"
)

func (s *state) info(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("info needs at least one file")
	}
	for _, path := range c.Args().Slice() {
		if err := describe(c.App.Writer, path); err != nil {
			return errors.Wrap(err, path)
		}
	}
	return nil
}

func describe(w io.Writer, path string) error {
	fmt.Fprintf(w, "%s\n", path)
	switch imageExt(path) {
	case ".nii.gz", ".nii":
		h, err := nifti.LoadHeader(path)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  format:   nifti-1\n")
		fmt.Fprintf(w, "  shape:    %v\n", h.Shape())
		fmt.Fprintf(w, "  pixdim:   %v\n", h.Pixdim[1:h.NDim()+1])
		fmt.Fprintf(w, "  datatype: %d\n", h.Datatype)
		fmt.Fprintf(w, "  affine:\n%v\n", mat.Formatted(h.Affine(), mat.Prefix("    "), mat.Squeeze()))
	case ".trk":
		f, err := trk.ReadFile(path)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  format:      trk v%d\n", f.Header.Version)
		fmt.Fprintf(w, "  voxel order: %s\n", f.Header.VoxelOrderString())
		fmt.Fprintf(w, "  dim:         %v\n", f.Header.Dim)
		fmt.Fprintf(w, "  voxel size:  %v\n", f.Header.VoxelSize)
		if names := f.Header.ScalarNames(); len(names) > 0 {
			fmt.Fprintf(w, "  scalars:     %v\n", names)
		}
		if names := f.Header.PropertyNames(); len(names) > 0 {
			fmt.Fprintf(w, "  properties:  %v\n", names)
		}
		points := lo.Map(f.Streamlines, func(s trk.Streamline, _ int) []r3.Vec { return s.Points })
		writeStats(w, models.NewTractogram(points, nil))
	case ".tck":
		f, err := tck.ReadFile(path)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  format:   tck\n")
		fmt.Fprintf(w, "  datatype: %s\n", f.Header.DataType)
		fmt.Fprintf(w, "  count:    %d\n", f.Header.Count)
		writeStats(w, f.Tractogram())
	case ".vtk", ".fib":
		pd, err := vtk.ReadPolyDataFile(path)
		if err != nil {
			return err
		}
		fibers, err := pd.Cells()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  format: vtk polydata\n")
		fmt.Fprintf(w, "  title:  %s\n", pd.Title)
		fmt.Fprintf(w, "  points: %d\n", len(pd.Points))
		fmt.Fprintf(w, "  cells:  %d\n", pd.NumberOfCells())
		writeStats(w, models.NewTractogram(fibers, nil))
	default:
		return errors.New("unrecognised file extension")
	}
	return nil
}

func writeStats(w io.Writer, t *models.Tractogram) {
	st := t.Stats()
	fmt.Fprintf(w, "  streamlines: %d\n", st.Count)
	fmt.Fprintf(w, "  points:      %d (mean %.1f per streamline)\n", st.TotalPoints, st.MeanPoints)
	fmt.Fprintf(w, "  mean length: %.2f\n", st.MeanLength)
}
