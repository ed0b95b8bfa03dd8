// Package volume turns raw scalar volumes into normalized sample buffers and
// resolves dataset locators into raw volumes.
package volume

import (
	"fmt"
	"math"

	"volview/internal/models"
)

// Normalize linearly rescales raw so that its minimum maps to 0 and its
// maximum to 1. It makes one pass to find the range and one pass to rescale;
// no resampling happens. A constant volume yields *DegenerateVolumeError and
// a buffer whose length disagrees with its extent yields *UnsupportedFormatError.
func Normalize(raw *models.RawVolume) (*models.SampleBuffer, error) {
	if raw == nil {
		return nil, &UnsupportedFormatError{Reason: "no volume"}
	}
	if !raw.Dims.Valid() {
		return nil, &UnsupportedFormatError{Dims: raw.Dims, Samples: len(raw.Data), Reason: "axis lengths must be positive"}
	}
	if len(raw.Data) != raw.Dims.Voxels() {
		return nil, &UnsupportedFormatError{Dims: raw.Dims, Samples: len(raw.Data)}
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for i, v := range raw.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, &UnsupportedFormatError{
				Dims:    raw.Dims,
				Samples: len(raw.Data),
				Reason:  fmt.Sprintf("sample %d is not finite", i),
			}
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}

	if hi == lo {
		return nil, &DegenerateVolumeError{Value: lo, Dims: raw.Dims}
	}

	// a finite range can still overflow when subtracted; halve the operands
	scale := 1.0
	if math.IsInf(hi-lo, 0) {
		scale = 0.5
	}
	span := hi*scale - lo*scale
	samples := make([]float32, len(raw.Data))
	for i, v := range raw.Data {
		samples[i] = float32((v*scale - lo*scale) / span)
	}

	return &models.SampleBuffer{
		Samples: samples,
		Dims:    raw.Dims,
		Min:     lo,
		Max:     hi,
	}, nil
}
