package volume

import (
	"gonum.org/v1/gonum/stat"

	"volview/internal/models"
)

// Summary describes the value distribution of a normalized volume.
type Summary struct {
	Voxels int     `json:"voxels"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stdDev"`

	// RawMin and RawMax are the source values mapped to 0 and 1
	RawMin float64 `json:"rawMin"`
	RawMax float64 `json:"rawMax"`
}

// Summarize computes the mean and standard deviation of buf's samples.
func Summarize(buf *models.SampleBuffer) Summary {
	data := make([]float64, len(buf.Samples))
	for i, v := range buf.Samples {
		data[i] = float64(v)
	}
	mean, std := stat.MeanStdDev(data, nil)
	return Summary{
		Voxels: len(data),
		Mean:   mean,
		StdDev: std,
		RawMin: buf.Min,
		RawMax: buf.Max,
	}
}
