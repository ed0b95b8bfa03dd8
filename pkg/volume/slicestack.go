package volume

import (
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"volview/internal/logging"
	"volview/internal/models"
)

// LoadSliceStack builds a volume from a directory of 2D slice images.
// Slices are ordered by the number embedded in their file names and stacked
// along Z. All slices must share the dimensions of the first one.
func LoadSliceStack(ctx context.Context, dir string) (*models.RawVolume, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var imageFiles []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".jpg", ".jpeg", ".png":
			imageFiles = append(imageFiles, entry.Name())
		}
	}

	if len(imageFiles) == 0 {
		return nil, fmt.Errorf("no slice images found in %s", dir)
	}

	sort.SliceStable(imageFiles, func(i, j int) bool {
		return extractNumber(imageFiles[i]) < extractNumber(imageFiles[j])
	})

	var (
		vol   *models.RawVolume
		plane int
	)
	for z, filename := range imageFiles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		img, err := loadImage(filepath.Join(dir, filename))
		if err != nil {
			return nil, fmt.Errorf("failed to load image %s: %w", filename, err)
		}

		bounds := img.Bounds()
		if vol == nil {
			dims := models.Extent{X: bounds.Dx(), Y: bounds.Dy(), Z: len(imageFiles)}
			vol = &models.RawVolume{Data: make([]float64, dims.Voxels()), Dims: dims}
			vol.Spacing.X, vol.Spacing.Y, vol.Spacing.Z = 1, 1, 1
			plane = dims.X * dims.Y
		} else if bounds.Dx() != vol.Dims.X || bounds.Dy() != vol.Dims.Y {
			return nil, &UnsupportedFormatError{
				Dims:   vol.Dims,
				Reason: fmt.Sprintf("slice %s is %dx%d", filename, bounds.Dx(), bounds.Dy()),
			}
		}

		imageToFloat(img, vol.Data[z*plane:(z+1)*plane])
	}

	logging.Component("volume").Info("loaded slice stack",
		"dir", dir, "slices", vol.Dims.Z, "width", vol.Dims.X, "height", vol.Dims.Y)
	return vol, nil
}

// extractNumber returns the digits of a file name as an integer, or 0
func extractNumber(filename string) int {
	base := filepath.Base(filename)
	var digits strings.Builder
	for _, c := range base {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}

	if digits.Len() > 0 {
		if num, err := strconv.Atoi(digits.String()); err == nil {
			return num
		}
	}
	return 0
}

func loadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	return img, err
}

// imageToFloat writes the 16-bit luminance of img into dst in row-major order
func imageToFloat(img image.Image, dst []float64) {
	bounds := img.Bounds()
	width := bounds.Dx()
	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < width; x++ {
			g := color.Gray16Model.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray16)
			dst[y*width+x] = float64(g.Y) / 65535.0
		}
	}
}
