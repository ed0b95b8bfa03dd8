package visualization

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"volview/internal/models"
)

func testBuffer(width, height, depth int, fill func(x, y, z int) float32) *models.SampleBuffer {
	buf := &models.SampleBuffer{
		Samples: make([]float32, width*height*depth),
		Dims:    models.Extent{X: width, Y: height, Z: depth},
		Max:     1,
	}
	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				buf.Samples[buf.Index(x, y, z)] = fill(x, y, z)
			}
		}
	}
	return buf
}

// TestExtractSlice verifies that slices are correctly extracted from the volume
func TestExtractSlice(t *testing.T) {
	width, height, depth := 10, 8, 5

	// Each slice along Z has a unique value
	buf := testBuffer(width, height, depth, func(x, y, z int) float32 {
		return float32(z) / float32(depth)
	})
	slicer := NewSlicer(buf)

	for z := 0; z < depth; z++ {
		img, err := slicer.ExtractSlice(AxisZ, z)
		if err != nil {
			t.Fatalf("Failed to extract Z slice at position %d: %v", z, err)
		}

		bounds := img.Bounds()
		if bounds.Dx() != width || bounds.Dy() != height {
			t.Errorf("Expected Z slice dimensions %dx%d, got %dx%d",
				width, height, bounds.Dx(), bounds.Dy())
		}

		expected := float64(z) / float64(depth) * 65535
		got := float64(img.Gray16At(width/2, height/2).Y)
		if math.Abs(got-expected) > 1.0 {
			t.Errorf("Expected Z slice value ~%.0f at center, got %.0f", expected, got)
		}
	}

	imgX, err := slicer.ExtractSlice(AxisX, width/2)
	if err != nil {
		t.Fatalf("Failed to extract X slice: %v", err)
	}
	if b := imgX.Bounds(); b.Dx() != depth || b.Dy() != height {
		t.Errorf("Expected X slice dimensions %dx%d, got %dx%d", depth, height, b.Dx(), b.Dy())
	}

	imgY, err := slicer.ExtractSlice(AxisY, height/2)
	if err != nil {
		t.Fatalf("Failed to extract Y slice: %v", err)
	}
	if b := imgY.Bounds(); b.Dx() != width || b.Dy() != depth {
		t.Errorf("Expected Y slice dimensions %dx%d, got %dx%d", width, depth, b.Dx(), b.Dy())
	}

	// Out of bounds positions
	if _, err := slicer.ExtractSlice(AxisZ, depth); err == nil {
		t.Error("Expected error for out of bounds position, got nil")
	}
	if _, err := slicer.ExtractSlice(AxisZ, -1); err == nil {
		t.Error("Expected error for negative position, got nil")
	}
	if _, err := slicer.ExtractSlice(Axis(7), 0); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
}

// TestSliceOrientation checks which voxel lands on which pixel
func TestSliceOrientation(t *testing.T) {
	buf := testBuffer(3, 4, 5, func(x, y, z int) float32 { return 0 })
	buf.Samples[buf.Index(1, 2, 3)] = 1
	slicer := NewSlicer(buf)

	cases := []struct {
		axis Axis
		pos  int
		px   image.Point
	}{
		{AxisX, 1, image.Pt(3, 2)},
		{AxisY, 2, image.Pt(1, 3)},
		{AxisZ, 3, image.Pt(1, 2)},
	}
	for _, tc := range cases {
		img, err := slicer.ExtractSlice(tc.axis, tc.pos)
		if err != nil {
			t.Fatalf("%s: %v", tc.axis, err)
		}
		if got := img.Gray16At(tc.px.X, tc.px.Y).Y; got != 65535 {
			t.Errorf("%s slice: expected bright pixel at %v, got %d", tc.axis, tc.px, got)
		}
	}
}

func TestParseAxis(t *testing.T) {
	for name, want := range map[string]Axis{"x": AxisX, "Y": AxisY, "z": AxisZ} {
		got, err := ParseAxis(name)
		if err != nil || got != want {
			t.Errorf("ParseAxis(%q) = %v, %v; want %v", name, got, err, want)
		}
	}
	if _, err := ParseAxis("w"); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
}

func TestEncodePNG(t *testing.T) {
	buf := testBuffer(4, 4, 4, func(x, y, z int) float32 { return 0.5 })
	img, err := NewSlicer(buf).ExtractSlice(AxisZ, 0)
	if err != nil {
		t.Fatal(err)
	}
	data, err := EncodePNG(img)
	if err != nil {
		t.Fatalf("Failed to encode slice: %v", err)
	}
	decoded, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Encoded slice is not a PNG: %v", err)
	}
	if decoded.Bounds() != img.Bounds() {
		t.Errorf("Expected bounds %v, got %v", img.Bounds(), decoded.Bounds())
	}
}

// TestSaveSliceSequence verifies that a sequence of slices can be saved
func TestSaveSliceSequence(t *testing.T) {
	// Skip this test in short mode
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}

	depth := 3
	buf := testBuffer(5, 5, depth, func(x, y, z int) float32 { return 0.5 })
	outputDir := filepath.Join(t.TempDir(), "slices")

	if err := NewSlicer(buf).SaveSliceSequence(AxisZ, outputDir); err != nil {
		t.Fatalf("Failed to save slice sequence: %v", err)
	}

	for z := 0; z < depth; z++ {
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_z_%03d.png", z))
		if _, err := os.Stat(filename); os.IsNotExist(err) {
			t.Errorf("Expected slice file does not exist: %s", filename)
		}
	}
}
