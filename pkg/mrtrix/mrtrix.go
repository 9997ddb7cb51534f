// Package mrtrix drives MRtrix3 command line tools.
package mrtrix

import (
	"context"
	"strconv"

	"github.com/pkg/errors"

	"connectomeutils/pkg/paths"
	"connectomeutils/pkg/runner"
)

// ErrMissingFile is returned when the diffusion image does not exist.
var ErrMissingFile = paths.ErrMissingFile

// ExtractB0sAndMeanB0 writes the b=0 volumes of dwi to b0s with dwiextract, then their
// mean along the volume axis to meanB0 with mrmath. nbThreads below 1 means one thread.
func ExtractB0sAndMeanB0(ctx context.Context, r runner.Runner, dwi, b0s, meanB0 string, nbThreads int) error {
	if err := paths.RequireFiles(dwi); err != nil {
		return err
	}
	if nbThreads < 1 {
		nbThreads = 1
	}
	threads := strconv.Itoa(nbThreads)

	extract := runner.Command{
		Name: "dwiextract",
		Args: []string{"-bzero", dwi, b0s, "-nthreads", threads, "-failonwarn"},
	}
	if err := r.Run(ctx, extract); err != nil {
		return errors.Wrap(err, "extracting b0 volumes")
	}

	mean := runner.Command{
		Name: "mrmath",
		Args: []string{b0s, "mean", meanB0, "-axis", "3", "-nthreads", threads, "-failonwarn"},
	}
	if err := r.Run(ctx, mean); err != nil {
		return errors.Wrap(err, "averaging b0 volumes")
	}
	return nil
}
