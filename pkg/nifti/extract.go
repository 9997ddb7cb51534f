package nifti

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// DefaultExtractPath returns where ExtractImage writes when no output is given:
// extract{index}_{name}.nii.gz next to inFile, name being the file name up to its first dot.
func DefaultExtractPath(inFile string, index int) string {
	base := filepath.Base(inFile)
	if i := strings.Index(base, "."); i >= 0 {
		base = base[:i]
	}
	return filepath.Join(filepath.Dir(inFile), fmt.Sprintf("extract%d_%s.nii.gz", index, base))
}

// ExtractImage writes volume index of the last axis of inFile to outFile and returns
// the written path. The affine of the input is kept unchanged.
func ExtractImage(inFile string, index int, outFile string) (string, error) {
	if outFile == "" {
		outFile = DefaultExtractPath(inFile, index)
	}
	img, err := Load(inFile)
	if err != nil {
		return "", err
	}
	vol, err := img.Volume(index)
	if err != nil {
		return "", errors.Wrapf(err, "extracting from %s", inFile)
	}
	if err := vol.Save(outFile); err != nil {
		return "", errors.Wrapf(err, "saving %s", outFile)
	}
	return outFile, nil
}
