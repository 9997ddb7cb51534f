// Package visualization renders slices of NIfTI volumes as JPEG images for quality control.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"
	"gonum.org/v1/gonum/floats"

	"connectomeutils/pkg/nifti"
)

// Viewer extracts 2D slices from a 3D volume stored x fastest, then y, then z.
type Viewer struct {
	// volumeData holds intensities scaled to [0, 1]
	volumeData []float64

	width  int
	height int
	depth  int
}

// NewViewer creates a viewer over intensities already scaled to [0, 1].
func NewViewer(volumeData []float64, width, height, depth int) *Viewer {
	return &Viewer{
		volumeData: volumeData,
		width:      width,
		height:     height,
		depth:      depth,
	}
}

// NewViewerFromImage creates a viewer over a 3D image, or over volume index of a 4D one.
// Intensities are windowed linearly from the volume minimum to its maximum.
func NewViewerFromImage(img *nifti.Image, volume int) (*Viewer, error) {
	shape := img.Shape()
	switch {
	case len(shape) == 4:
		vol, err := img.Volume(volume)
		if err != nil {
			return nil, err
		}
		img, shape = vol, vol.Shape()
	case len(shape) != 3:
		return nil, fmt.Errorf("cannot display a %d dimensional image", len(shape))
	}
	if len(img.Data) != shape[0]*shape[1]*shape[2] || len(img.Data) == 0 {
		return nil, fmt.Errorf("image holds %d voxels for shape %v", len(img.Data), shape)
	}
	return NewViewer(Window(img.Data), shape[0], shape[1], shape[2]), nil
}

// Window maps data linearly onto [0, 1]. A constant input maps to zeros.
func Window(data []float64) []float64 {
	out := make([]float64, len(data))
	if len(data) == 0 {
		return out
	}
	lo, hi := floats.Min(data), floats.Max(data)
	if hi <= lo {
		return out
	}
	copy(out, data)
	floats.AddConst(-lo, out)
	floats.Scale(1/(hi-lo), out)
	return out
}

// at returns 0 past the end of short volume data.
func (v *Viewer) at(idx int) float64 {
	if idx < len(v.volumeData) {
		return v.volumeData[idx]
	}
	return 0
}

func gray(v float64) color.Gray16 {
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, v*65535)))}
}

// ExtractSlice extracts a 2D slice along the given axis: x (sagittal), y (coronal) or
// z (axial). The second in-plane axis runs bottom to top so that superior and anterior
// appear up in RAS-like images.
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	var img *image.Gray16

	switch normalizeAxis(axis) {
	case "x":
		// YZ plane
		if position >= v.width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, v.width)
		}
		img = image.NewGray16(image.Rect(0, 0, v.height, v.depth))
		for z := 0; z < v.depth; z++ {
			for y := 0; y < v.height; y++ {
				idx := z*v.width*v.height + y*v.width + position
				img.SetGray16(y, v.depth-1-z, gray(v.at(idx)))
			}
		}

	case "y":
		// XZ plane
		if position >= v.height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, v.height)
		}
		img = image.NewGray16(image.Rect(0, 0, v.width, v.depth))
		for z := 0; z < v.depth; z++ {
			for x := 0; x < v.width; x++ {
				idx := z*v.width*v.height + position*v.width + x
				img.SetGray16(x, v.depth-1-z, gray(v.at(idx)))
			}
		}

	case "z":
		// XY plane
		if position >= v.depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, v.depth)
		}
		img = image.NewGray16(image.Rect(0, 0, v.width, v.height))
		for y := 0; y < v.height; y++ {
			for x := 0; x < v.width; x++ {
				idx := position*v.width*v.height + y*v.width + x
				img.SetGray16(x, v.height-1-y, gray(v.at(idx)))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, z, sagittal, coronal or axial)", axis)
	}

	return img, nil
}

func normalizeAxis(axis string) string {
	switch strings.ToLower(axis) {
	case "x", "sagittal":
		return "x"
	case "y", "coronal":
		return "y"
	case "z", "axial":
		return "z"
	}
	return ""
}

// Size returns the number of slices along axis, or -1 for an unknown axis.
func (v *Viewer) Size(axis string) int {
	switch normalizeAxis(axis) {
	case "x":
		return v.width
	case "y":
		return v.height
	case "z":
		return v.depth
	}
	return -1
}

// SaveSlice saves an extracted slice as a JPEG image
func (v *Viewer) SaveSlice(img image.Image, filename string) (err error) {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, file.Close())
	}()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveSliceSequence extracts and saves every slice along the specified axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	maxPos := v.Size(axis)
	if maxPos < 0 {
		return fmt.Errorf("invalid axis: %s (must be x, y, z, sagittal, coronal or axial)", axis)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return err
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", normalizeAxis(axis), pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}
