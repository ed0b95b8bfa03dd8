// Package geometry provides the bounding box helpers used to frame a volume.
// All functions are pure.
package geometry

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"volview/internal/models"
)

// ExtentBox returns the box spanned by a volume of the given extent,
// from the origin to (X, Y, Z).
func ExtentBox(e models.Extent) r3.Box {
	return r3.Box{
		Min: r3.Vec{},
		Max: r3.Vec{X: float64(e.X), Y: float64(e.Y), Z: float64(e.Z)},
	}
}

// Center returns the midpoint of box.
func Center(box r3.Box) r3.Vec {
	return r3.Scale(0.5, r3.Add(box.Min, box.Max))
}

// HalfExtents returns half the size of box along each axis.
func HalfExtents(box r3.Box) r3.Vec {
	return r3.Scale(0.5, r3.Sub(box.Max, box.Min))
}

// MaxDimension returns the largest single-axis size of box.
func MaxDimension(box r3.Box) float64 {
	size := r3.Sub(box.Max, box.Min)
	return math.Max(size.X, math.Max(size.Y, size.Z))
}

// AutoFramePosition returns a camera position from which the whole box is
// visible. The offset from the center is the same along every axis, twice
// the largest half extent, so the fit does not depend on orientation. The
// sign along each axis follows that axis's half extent, with zero counted as
// positive.
func AutoFramePosition(box r3.Box) r3.Vec {
	half := HalfExtents(box)
	d := 2 * math.Max(half.X, math.Max(half.Y, half.Z))
	offset := r3.Vec{X: d * sign(half.X), Y: d * sign(half.Y), Z: d * sign(half.Z)}
	return r3.Add(Center(box), offset)
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
