package gpu

import "github.com/go-gl/mathgl/mgl32"

// View is an orthographic camera as seen by the device.
type View struct {
	Eye, Target, Up mgl32.Vec3

	// Frustum bounds in view space
	Left, Right, Bottom, Top float32
	Near, Far                float32
}

// ViewMatrix returns the world to view transform.
func (v View) ViewMatrix() mgl32.Mat4 {
	return mgl32.LookAtV(v.Eye, v.Target, v.Up)
}

// Projection returns the orthographic projection matrix.
func (v View) Projection() mgl32.Mat4 {
	return mgl32.Ortho(v.Left, v.Right, v.Bottom, v.Top, v.Near, v.Far)
}

// Basis returns the orthonormal forward, right and up vectors of the view.
func (v View) Basis() (forward, right, up mgl32.Vec3) {
	forward = v.Target.Sub(v.Eye).Normalize()
	right = forward.Cross(v.Up).Normalize()
	up = right.Cross(forward)
	return forward, right, up
}
