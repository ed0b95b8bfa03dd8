package volume

import (
	"fmt"

	"volview/internal/models"
)

// DegenerateVolumeError is returned when a volume has zero dynamic range.
// A constant volume carries no signal for either render style.
type DegenerateVolumeError struct {
	// Value is the single value every sample holds
	Value float64

	// Dims is the extent of the rejected volume
	Dims models.Extent
}

func (e *DegenerateVolumeError) Error() string {
	return fmt.Sprintf("degenerate volume %s: every sample equals %g", e.Dims, e.Value)
}

// UnsupportedFormatError is returned when a sample buffer does not match
// its declared axis lengths or holds values that cannot be normalized.
type UnsupportedFormatError struct {
	Dims    models.Extent
	Samples int
	Reason  string
}

func (e *UnsupportedFormatError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("unsupported volume format %s (%d samples): %s", e.Dims, e.Samples, e.Reason)
	}
	return fmt.Sprintf("unsupported volume format: %d samples do not fill %s (%d voxels)",
		e.Samples, e.Dims, e.Dims.Voxels())
}

// ResourceLoadError is returned when a dataset locator cannot be resolved
// or its content cannot be read.
type ResourceLoadError struct {
	URI string
	Err error
}

func (e *ResourceLoadError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.URI, e.Err)
}

func (e *ResourceLoadError) Unwrap() error { return e.Err }
