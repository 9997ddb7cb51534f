package fsl

import (
	"context"

	"connectomeutils/pkg/paths"
)

// Reorient2Std runs fslreorient2std on input and returns the path of the reoriented image.
func Reorient2Std(ctx context.Context, w *Wrapper, input, output string) (string, error) {
	if err := paths.RequireFiles(input); err != nil {
		return "", err
	}
	if err := w.Run(ctx, "fslreorient2std", input, output); err != nil {
		return "", err
	}
	return w.resolveOutput("fslreorient2std", output)
}

// ApplyMask runs fslmaths input -mas mask outputRoot and returns the path of the masked image.
func ApplyMask(ctx context.Context, w *Wrapper, input, outputRoot, mask string) (string, error) {
	if err := paths.RequireFiles(input, mask); err != nil {
		return "", err
	}
	if err := w.Run(ctx, "fslmaths", input, "-mas", mask, outputRoot); err != nil {
		return "", err
	}
	return w.resolveOutput("fslmaths", outputRoot)
}
