// Package fsl runs FSL command line tools inside an environment prepared by the FSL
// configuration script.
package fsl

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"connectomeutils/pkg/paths"
	"connectomeutils/pkg/runner"
)

var (
	// ErrMissingFile is returned when an input image or the configuration script is absent.
	ErrMissingFile = paths.ErrMissingFile
	// ErrOutputNotFound is returned when a tool exits cleanly without producing its output.
	ErrOutputNotFound = errors.New("fsl output not found")
)

// Output types accepted in FSLOUTPUTTYPE.
const (
	OutputNiftiGz     = "NIFTI_GZ"
	OutputNifti       = "NIFTI"
	OutputNiftiPair   = "NIFTI_PAIR"
	OutputNiftiPairGz = "NIFTI_PAIR_GZ"
)

var outputExtensions = map[string]string{
	OutputNiftiGz:     ".nii.gz",
	OutputNifti:       ".nii",
	OutputNiftiPair:   ".hdr",
	OutputNiftiPairGz: ".hdr.gz",
}

// image extensions FSL recognises on an output name
var knownExtensions = []string{".nii.gz", ".nii", ".hdr.gz", ".hdr", ".img.gz", ".img"}

// DefaultConfigScript returns $FSLDIR/etc/fslconf/fsl.sh when FSLDIR is set, and the
// Debian/NeuroDebian location otherwise.
func DefaultConfigScript() string {
	if dir := os.Getenv("FSLDIR"); dir != "" {
		return filepath.Join(dir, "etc", "fslconf", "fsl.sh")
	}
	return "/etc/fsl/fsl.sh"
}

// ValidOutputType reports whether t is a supported FSLOUTPUTTYPE.
func ValidOutputType(t string) bool {
	_, ok := outputExtensions[t]
	return ok
}

// Wrapper runs FSL tools. When ConfigScript is set, each tool runs in a bash shell that
// sources the script first; otherwise the tool is executed directly from PATH.
type Wrapper struct {
	Runner       runner.Runner
	ConfigScript string
	OutputType   string
	Logger       *zap.SugaredLogger
}

// NewWrapper returns a Wrapper producing NIFTI_GZ output.
func NewWrapper(r runner.Runner, configScript string, logger *zap.SugaredLogger) *Wrapper {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Wrapper{Runner: r, ConfigScript: configScript, OutputType: OutputNiftiGz, Logger: logger}
}

func (w *Wrapper) outputType() string {
	if w.OutputType == "" {
		return OutputNiftiGz
	}
	return w.OutputType
}

func (w *Wrapper) logger() *zap.SugaredLogger {
	if w.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return w.Logger
}

// sourceScript sources $0, then exports the output type passed as $1 so that the
// configuration script cannot override it, and finally execs the tool.
const sourceScript = `output_type="$1"; shift; . "$0" && export FSLOUTPUTTYPE="$output_type" && exec "$@"`

// Command builds the invocation of tool with args.
func (w *Wrapper) Command(tool string, args ...string) runner.Command {
	env := []string{"FSLOUTPUTTYPE=" + w.outputType()}
	if w.ConfigScript == "" {
		return runner.Command{Name: tool, Args: args, Env: env}
	}
	shellArgs := append([]string{"-c", sourceScript, w.ConfigScript, w.outputType(), tool}, args...)
	return runner.Command{Name: "bash", Args: shellArgs, Env: env}
}

// Run executes tool after checking that the configuration script exists.
func (w *Wrapper) Run(ctx context.Context, tool string, args ...string) error {
	if w.ConfigScript != "" {
		if err := paths.RequireFiles(w.ConfigScript); err != nil {
			return errors.Wrap(err, "fsl configuration script")
		}
	}
	if w.Runner == nil {
		return errors.New("fsl wrapper has no runner")
	}
	if err := w.Runner.Run(ctx, w.Command(tool, args...)); err != nil {
		return errors.Wrap(err, tool)
	}
	return nil
}

// OutputPath returns the file FSL writes for the output name given on the command line:
// the name itself when it carries an image extension, otherwise the name plus the
// extension of the configured output type.
func (w *Wrapper) OutputPath(output string) string {
	lower := strings.ToLower(output)
	for _, ext := range knownExtensions {
		if strings.HasSuffix(lower, ext) {
			return output
		}
	}
	return output + outputExtensions[w.outputType()]
}

// resolveOutput checks that the tool produced its output.
func (w *Wrapper) resolveOutput(tool, output string) (string, error) {
	path := w.OutputPath(output)
	if !paths.Exists(path) {
		return "", errors.Wrapf(ErrOutputNotFound, "%s did not write %s", tool, path)
	}
	w.logger().Debugw("fsl output", "tool", tool, "path", path)
	return path, nil
}
