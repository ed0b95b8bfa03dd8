package main

import (
	"math"

	"volview/internal/models"
)

// phantom builds an n³ demo volume: a bright spherical shell around a
// softer core, over a faint background gradient.
func phantom(n int) *models.RawVolume {
	vol := &models.RawVolume{
		Data: make([]float64, n*n*n),
		Dims: models.Extent{X: n, Y: n, Z: n},
	}
	vol.Spacing.X, vol.Spacing.Y, vol.Spacing.Z = 1, 1, 1

	c := float64(n-1) / 2
	for z := 0; z < n; z++ {
		for y := 0; y < n; y++ {
			for x := 0; x < n; x++ {
				dx, dy, dz := float64(x)-c, float64(y)-c, float64(z)-c
				r := math.Sqrt(dx*dx+dy*dy+dz*dz) / c

				v := 0.05 * float64(z) / float64(n)
				switch {
				case r < 0.45:
					v += 0.4 * (1 - r/0.45)
				case r > 0.7 && r < 0.8:
					v += 1
				}
				vol.Data[z*n*n+y*n+x] = v
			}
		}
	}
	return vol
}
