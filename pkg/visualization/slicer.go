// Package visualization extracts axis aligned 2D slices from a loaded volume
// for display next to the 3D rendering.
package visualization

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"volview/internal/models"
)

// Axis names the axis a slice is perpendicular to.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "x"
	case AxisY:
		return "y"
	case AxisZ:
		return "z"
	}
	return fmt.Sprintf("Axis(%d)", int(a))
}

// ParseAxis parses "x", "y" or "z" in either case.
func ParseAxis(name string) (Axis, error) {
	switch strings.ToLower(name) {
	case "x":
		return AxisX, nil
	case "y":
		return AxisY, nil
	case "z":
		return AxisZ, nil
	}
	return 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", name)
}

// Slicer cuts slices out of a normalized volume.
type Slicer struct {
	buf *models.SampleBuffer
}

// NewSlicer creates a slicer over buf. The buffer is only read.
func NewSlicer(buf *models.SampleBuffer) *Slicer {
	return &Slicer{buf: buf}
}

// Len returns the number of slices along axis.
func (s *Slicer) Len(axis Axis) int {
	switch axis {
	case AxisX:
		return s.buf.Dims.X
	case AxisY:
		return s.buf.Dims.Y
	case AxisZ:
		return s.buf.Dims.Z
	}
	return 0
}

// ExtractSlice extracts the slice at position along axis as a 16 bit
// grayscale image. X slices span (z, y), Y slices (x, z) and Z slices (x, y).
func (s *Slicer) ExtractSlice(axis Axis, position int) (*image.Gray16, error) {
	n := s.Len(axis)
	if n == 0 {
		return nil, fmt.Errorf("invalid axis: %s", axis)
	}
	if position < 0 || position >= n {
		return nil, fmt.Errorf("position %d outside [0,%d) along %s", position, n, axis)
	}

	dims := s.buf.Dims
	var img *image.Gray16

	switch axis {
	case AxisX:
		// YZ plane
		img = image.NewGray16(image.Rect(0, 0, dims.Z, dims.Y))
		for y := 0; y < dims.Y; y++ {
			for z := 0; z < dims.Z; z++ {
				img.SetGray16(z, y, gray(s.buf.At(position, y, z)))
			}
		}

	case AxisY:
		// XZ plane
		img = image.NewGray16(image.Rect(0, 0, dims.X, dims.Z))
		for z := 0; z < dims.Z; z++ {
			for x := 0; x < dims.X; x++ {
				img.SetGray16(x, z, gray(s.buf.At(x, position, z)))
			}
		}

	case AxisZ:
		// XY plane
		img = image.NewGray16(image.Rect(0, 0, dims.X, dims.Y))
		for y := 0; y < dims.Y; y++ {
			for x := 0; x < dims.X; x++ {
				img.SetGray16(x, y, gray(s.buf.At(x, y, position)))
			}
		}
	}

	return img, nil
}

func gray(v float32) color.Gray16 {
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, float64(v)*65535)))}
}

// EncodePNG encodes img as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var b bytes.Buffer
	if err := png.Encode(&b, img); err != nil {
		return nil, fmt.Errorf("error encoding png: %w", err)
	}
	return b.Bytes(), nil
}

// SaveSliceSequence writes every slice along axis to outputDir as
// slice_<axis>_<nnn>.png.
func (s *Slicer) SaveSliceSequence(axis Axis, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for pos := 0; pos < s.Len(axis); pos++ {
		img, err := s.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		data, err := EncodePNG(img)
		if err != nil {
			return err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", axis, pos))
		if err := os.WriteFile(filename, data, 0644); err != nil {
			return err
		}
	}

	return nil
}
