package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"connectomeutils/internal/logging"
	"connectomeutils/pkg/config"
	"connectomeutils/pkg/convert"
	"connectomeutils/pkg/fsl"
	"connectomeutils/pkg/mrtrix"
	"connectomeutils/pkg/nifti"
	"connectomeutils/pkg/runner"
	"connectomeutils/pkg/visualization"
)

const (
	// Flags.
	flagConfig    = "config"
	flagVerbose   = "verbose"
	flagDWI       = "dwi"
	flagTRK       = "trk"
	flagVTK       = "vtk"
	flagIn        = "in"
	flagOut       = "out"
	flagOutDir    = "out-dir"
	flagB0s       = "b0s"
	flagMean      = "mean"
	flagThreads   = "threads"
	flagIndex     = "index"
	flagMask      = "mask"
	flagFSLConfig = "fsl-config"
	flagTempDir   = "temp-dir"
	flagAxis      = "axis"
	flagSlice     = "slice"
	flagVolume    = "volume"
)

// state is filled in before any command runs. Tests preset runner.
type state struct {
	cfg    *config.Config
	logger *zap.SugaredLogger
	runner runner.Runner
}

func (s *state) before(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String(flagConfig))
	if err != nil {
		return err
	}
	if c.Bool(flagVerbose) {
		cfg.Output.Verbose = true
	}
	s.cfg = cfg

	if s.logger == nil {
		if s.logger, err = logging.NewLogger("connectomeutils", cfg.Output.Verbose); err != nil {
			return errors.Wrap(err, "creating logger")
		}
	}
	if s.runner == nil {
		s.runner = runner.NewExecRunner(s.logger)
	}
	return nil
}

func (s *state) fslWrapper(c *cli.Context) *fsl.Wrapper {
	script := s.cfg.FSL.ConfigScript
	if c.IsSet(flagFSLConfig) {
		script = c.String(flagFSLConfig)
	}
	w := fsl.NewWrapper(s.runner, script, s.logger)
	w.OutputType = s.cfg.FSL.OutputType
	return w
}

func newApp(s *state) *cli.App {
	return &cli.App{
		Name:  "connectomeutils",
		Usage: "convert tractograms and drive FSL and MRtrix tools",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
				EnvVars: []string{"CONNECTOMEUTILS_CONFIG"},
			},
			&cli.BoolFlag{
				Name:    flagVerbose,
				Aliases: []string{"v"},
				Usage:   "enable debug logging",
			},
		},
		Before: s.before,
		Commands: []*cli.Command{
			{
				Name:  "trk2tck",
				Usage: "convert a TrackVis tractogram to MRtrix TCK",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagDWI, Required: true, Usage: "diffusion image used as spatial reference"},
					&cli.StringFlag{Name: flagTRK, Required: true, Usage: "input .trk tractogram"},
					&cli.StringFlag{Name: flagOut, Required: true, Usage: "output tractogram, .tck is appended if missing"},
					&cli.StringFlag{Name: flagTempDir, Usage: "parent directory for scratch files"},
				},
				Action: s.trk2tck,
			},
			{
				Name:  "vtk2tck",
				Usage: "convert a VTK polydata tractogram in LPS (MITK .fib) to MRtrix TCK",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagVTK, Required: true, Usage: "input polydata tractogram"},
					&cli.StringFlag{Name: flagOut, Required: true, Usage: "output tractogram, .tck is appended if missing"},
				},
				Action: s.vtk2tck,
			},
			{
				Name:  "extract-b0",
				Usage: "extract the b=0 volumes of a diffusion image and their mean",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagDWI, Required: true, Usage: "diffusion image"},
					&cli.StringFlag{Name: flagB0s, Required: true, Usage: "output b=0 volumes"},
					&cli.StringFlag{Name: flagMean, Required: true, Usage: "output mean b=0 volume"},
					&cli.IntFlag{Name: flagThreads, Usage: "MRtrix thread count"},
				},
				Action: s.extractB0,
			},
			{
				Name:  "extract-volume",
				Usage: "write one volume of a 4D image",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagIn, Required: true, Usage: "input image"},
					&cli.IntFlag{Name: flagIndex, Required: true, Usage: "index along the last axis"},
					&cli.StringFlag{Name: flagOut, Usage: "output image, defaults to extract<index>_<name>.nii.gz"},
				},
				Action: s.extractVolume,
			},
			{
				Name:  "reorient",
				Usage: "reorient an image to the MNI152 orientation with fslreorient2std",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagIn, Required: true, Usage: "input image"},
					&cli.StringFlag{Name: flagOut, Required: true, Usage: "output image"},
					&cli.StringFlag{Name: flagFSLConfig, Usage: "FSL configuration script"},
				},
				Action: s.reorient,
			},
			{
				Name:  "mask",
				Usage: "apply a binary mask with fslmaths",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagIn, Required: true, Usage: "input image"},
					&cli.StringFlag{Name: flagMask, Required: true, Usage: "mask image"},
					&cli.StringFlag{Name: flagOut, Required: true, Usage: "output image root"},
					&cli.StringFlag{Name: flagFSLConfig, Usage: "FSL configuration script"},
				},
				Action: s.mask,
			},
			{
				Name:      "info",
				Usage:     "summarise NIfTI, TRK, TCK or VTK files",
				ArgsUsage: "FILE...",
				Action:    s.info,
			},
			{
				Name:  "snapshot",
				Usage: "save JPEG slices of a NIfTI image for quality control",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagIn, Required: true, Usage: "input image"},
					&cli.StringFlag{Name: flagAxis, Value: "axial", Usage: "sagittal, coronal or axial"},
					&cli.IntFlag{Name: flagSlice, Value: -1, Usage: "slice position, -1 for the middle slice"},
					&cli.IntFlag{Name: flagVolume, Usage: "volume of a 4D image"},
					&cli.StringFlag{Name: flagOut, Usage: "output JPEG for a single slice"},
					&cli.StringFlag{Name: flagOutDir, Usage: "write every slice along the axis to this directory"},
				},
				Action: s.snapshot,
			},
			{
				Name:      "init-config",
				Usage:     "write the default configuration",
				ArgsUsage: "FILE",
				Action: func(c *cli.Context) error {
					path := c.Args().First()
					if path == "" {
						return errors.New("init-config needs a file path")
					}
					if err := config.CreateDefaultConfigFile(path); err != nil {
						return err
					}
					fmt.Fprintln(c.App.Writer, path)
					return nil
				},
			},
		},
	}
}

func (s *state) trk2tck(c *cli.Context) error {
	tempDir := s.cfg.Paths.TempDir
	if c.IsSet(flagTempDir) {
		tempDir = c.String(flagTempDir)
	}
	out, err := convert.TRKToTCK(c.Context, c.String(flagDWI), c.String(flagTRK), c.String(flagOut),
		convert.WithTempDir(tempDir), convert.WithLogger(s.logger))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, out)
	return nil
}

func (s *state) vtk2tck(c *cli.Context) error {
	out, err := convert.VTKToTCK(c.String(flagVTK), c.String(flagOut), convert.WithLogger(s.logger))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, out)
	return nil
}

func (s *state) extractB0(c *cli.Context) error {
	threads := s.cfg.MRtrix.Threads
	if c.IsSet(flagThreads) {
		threads = c.Int(flagThreads)
	}
	b0s, mean := c.String(flagB0s), c.String(flagMean)
	if err := mrtrix.ExtractB0sAndMeanB0(c.Context, s.runner, c.String(flagDWI), b0s, mean, threads); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, b0s)
	fmt.Fprintln(c.App.Writer, mean)
	return nil
}

func (s *state) extractVolume(c *cli.Context) error {
	out, err := nifti.ExtractImage(c.String(flagIn), c.Int(flagIndex), c.String(flagOut))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, out)
	return nil
}

func (s *state) reorient(c *cli.Context) error {
	out, err := fsl.Reorient2Std(c.Context, s.fslWrapper(c), c.String(flagIn), c.String(flagOut))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, out)
	return nil
}

func (s *state) mask(c *cli.Context) error {
	out, err := fsl.ApplyMask(c.Context, s.fslWrapper(c), c.String(flagIn), c.String(flagOut), c.String(flagMask))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, out)
	return nil
}

func (s *state) snapshot(c *cli.Context) error {
	img, err := nifti.Load(c.String(flagIn))
	if err != nil {
		return err
	}
	viewer, err := visualization.NewViewerFromImage(img, c.Int(flagVolume))
	if err != nil {
		return err
	}
	axis := c.String(flagAxis)
	n := viewer.Size(axis)
	if n < 0 {
		return errors.Errorf("unknown axis %q", axis)
	}

	if dir := c.String(flagOutDir); dir != "" {
		if err := viewer.SaveSliceSequence(axis, dir); err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, dir)
		return nil
	}

	pos := c.Int(flagSlice)
	if pos < 0 {
		pos = n / 2
	}
	slice, err := viewer.ExtractSlice(axis, pos)
	if err != nil {
		return err
	}
	out := c.String(flagOut)
	if out == "" {
		name := filepath.Base(c.String(flagIn))
		name = name[:len(name)-len(imageExt(name))]
		out = filepath.Join(filepath.Dir(c.String(flagIn)), fmt.Sprintf("%s_%s%03d.jpg", name, strings.ToLower(axis), pos))
	}
	if err := viewer.SaveSlice(slice, out); err != nil {
		return err
	}
	s.logger.Debugw("saved snapshot", "path", out, "axis", axis, "slice", pos)
	fmt.Fprintln(c.App.Writer, out)
	return nil
}

// imageExt returns the longest known image or tractogram extension of name.
func imageExt(name string) string {
	lower := strings.ToLower(name)
	ext, _ := lo.Find([]string{".nii.gz", ".nii", ".trk", ".tck", ".vtk", ".fib"}, func(ext string) bool {
		return strings.HasSuffix(lower, ext)
	})
	return ext
}
