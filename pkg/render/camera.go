package render

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"volview/internal/models"
	"volview/pkg/geometry"
	"volview/pkg/gpu"
)

// frameMargin enlarges the autoframed view so the volume's projected
// bounding sphere does not touch the viewport edge.
const frameMargin = 1.05

// CameraRig is an orthographic camera. It is framed from the volume extent
// once and afterwards moved only by its controller.
type CameraRig struct {
	Position mgl32.Vec3
	Target   mgl32.Vec3
	Up       mgl32.Vec3

	// HalfHeight is half the view height in world units at zoom 1;
	// the half width follows from the viewport aspect.
	HalfHeight float32
	Zoom       float32
	Near, Far  float32

	aspect float32
	framed bool
}

// NewCameraRig returns an unframed camera for a viewport of the given size.
func NewCameraRig(width, height int) *CameraRig {
	c := &CameraRig{
		Position:   mgl32.Vec3{0, 0, 1},
		Up:         mgl32.Vec3{0, 0, -1},
		HalfHeight: 1,
		Zoom:       1,
		Near:       1,
		Far:        5000,
	}
	c.Resize(width, height)
	return c
}

// Resize updates the viewport aspect ratio.
func (c *CameraRig) Resize(width, height int) {
	if width <= 0 || height <= 0 {
		c.aspect = 1
		return
	}
	c.aspect = float32(width) / float32(height)
}

// Framed reports whether AutoFrame has positioned the camera.
func (c *CameraRig) Framed() bool { return c.framed }

// AutoFrame points the camera at the center of a volume of the given
// extent from geometry.AutoFramePosition and sizes the view to fit it.
func (c *CameraRig) AutoFrame(extent models.Extent) {
	box := geometry.ExtentBox(extent)
	center := geometry.Center(box)
	pos := geometry.AutoFramePosition(box)

	c.Target = mgl32.Vec3{float32(center.X), float32(center.Y), float32(center.Z)}
	c.Position = mgl32.Vec3{float32(pos.X), float32(pos.Y), float32(pos.Z)}
	c.Up = mgl32.Vec3{0, 0, -1}
	if isParallel(c.Position.Sub(c.Target), c.Up) {
		c.Up = mgl32.Vec3{0, 1, 0}
	}

	radius := float32(math.Sqrt(3) / 2 * geometry.MaxDimension(box))
	c.HalfHeight = max(radius*frameMargin, 0.5)
	c.Zoom = 1

	dist := c.Position.Sub(c.Target).Len()
	c.Near = max(dist*0.1, 1e-3)
	c.Far = max(5000, dist*3)
	c.framed = true
}

// Distance returns the distance from the camera to its target.
func (c *CameraRig) Distance() float32 {
	return c.Position.Sub(c.Target).Len()
}

// View returns the camera as the device sees it.
func (c *CameraRig) View() gpu.View {
	hh := c.HalfHeight / max(c.Zoom, 1e-3)
	hw := hh * c.aspect
	return gpu.View{
		Eye:    c.Position,
		Target: c.Target,
		Up:     c.Up,
		Left:   -hw,
		Right:  hw,
		Bottom: -hh,
		Top:    hh,
		Near:   c.Near,
		Far:    c.Far,
	}
}

func isParallel(a, b mgl32.Vec3) bool {
	if a.Len() == 0 || b.Len() == 0 {
		return true
	}
	return a.Normalize().Cross(b.Normalize()).Len() < 1e-4
}
