package models

import "fmt"

// Extent holds the number of voxels along each axis of a volume
type Extent struct {
	X, Y, Z int
}

// Voxels returns the total number of voxels covered by the extent
func (e Extent) Voxels() int {
	return e.X * e.Y * e.Z
}

// Valid reports whether every axis length is positive
func (e Extent) Valid() bool {
	return e.X > 0 && e.Y > 0 && e.Z > 0
}

// Max returns the largest single-axis length
func (e Extent) Max() int {
	return max(e.X, e.Y, e.Z)
}

func (e Extent) String() string {
	return fmt.Sprintf("%dx%dx%d", e.X, e.Y, e.Z)
}

// RawVolume is a scalar volume as produced by a loader, before normalization
type RawVolume struct {
	// Data is the 3D volume data as a 1D array in x-fastest order
	// (index = z*X*Y + y*X + x). Values may have any range.
	Data []float64

	// Dims is the number of voxels along each axis
	Dims Extent

	// Spacing is the physical size of each voxel in mm.
	// Loaders that do not know the spacing leave it at 1.
	Spacing struct {
		X, Y, Z float64
	}
}

// SampleBuffer is a normalized scalar volume ready for upload to the GPU.
// Every sample lies in [0,1] and len(Samples) == Dims.Voxels().
// A SampleBuffer is never modified after creation; a reload replaces it.
type SampleBuffer struct {
	// Samples uses the same x-fastest layout as RawVolume.Data
	Samples []float32

	// Dims is the number of voxels along each axis
	Dims Extent

	// Min and Max are the raw values that were mapped to 0 and 1
	Min, Max float64
}

// Index returns the flat sample index of voxel (x, y, z)
func (b *SampleBuffer) Index(x, y, z int) int {
	return z*b.Dims.X*b.Dims.Y + y*b.Dims.X + x
}

// At returns the sample at voxel (x, y, z)
func (b *SampleBuffer) At(x, y, z int) float32 {
	return b.Samples[b.Index(x, y, z)]
}
