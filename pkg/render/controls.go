package render

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Controller moves a camera in response to user input. Update is called
// once per frame and reports whether the camera changed.
type Controller interface {
	Update(rig *CameraRig) bool
}

// Trackball accumulates pointer input between frames and applies it to the
// camera on Update: rotation orbits the eye around the target, panning moves
// both, and zooming scales the orthographic view.
type Trackball struct {
	RotateSpeed float32
	PanSpeed    float32
	ZoomSpeed   float32

	rotate mgl32.Vec2
	pan    mgl32.Vec2
	zoom   float32
}

// NewTrackball returns a trackball with default speeds.
func NewTrackball() *Trackball {
	return &Trackball{RotateSpeed: 1, PanSpeed: 0.3, ZoomSpeed: 1.2}
}

// Rotate queues a rotation; dx and dy are fractions of the viewport size.
func (t *Trackball) Rotate(dx, dy float32) {
	t.rotate = t.rotate.Add(mgl32.Vec2{dx, dy})
}

// Pan queues a pan; dx and dy are fractions of the viewport size.
func (t *Trackball) Pan(dx, dy float32) {
	t.pan = t.pan.Add(mgl32.Vec2{dx, dy})
}

// ZoomBy queues a zoom step; positive values zoom in.
func (t *Trackball) ZoomBy(delta float32) {
	t.zoom += delta
}

// Update implements Controller.
func (t *Trackball) Update(rig *CameraRig) bool {
	changed := false

	if t.rotate != (mgl32.Vec2{}) {
		eye := rig.Position.Sub(rig.Target)
		forward := eye.Mul(-1).Normalize()
		right := forward.Cross(rig.Up).Normalize()
		up := right.Cross(forward)

		// the rotation axis is perpendicular to the drag direction
		move := right.Mul(t.rotate[0]).Add(up.Mul(t.rotate[1]))
		if angle := t.rotate.Len() * t.RotateSpeed; angle > 0 && move.Len() > 0 {
			axis := move.Cross(forward).Normalize()
			q := mgl32.QuatRotate(angle, axis)
			rig.Position = rig.Target.Add(q.Rotate(eye))
			rig.Up = q.Rotate(rig.Up).Normalize()
			changed = true
		}
		t.rotate = mgl32.Vec2{}
	}

	if t.pan != (mgl32.Vec2{}) {
		forward := rig.Target.Sub(rig.Position).Normalize()
		right := forward.Cross(rig.Up).Normalize()
		up := right.Cross(forward)
		scale := 2 * rig.HalfHeight / max(rig.Zoom, 1e-3) * t.PanSpeed
		shift := right.Mul(-t.pan[0] * scale).Add(up.Mul(t.pan[1] * scale))
		rig.Position = rig.Position.Add(shift)
		rig.Target = rig.Target.Add(shift)
		t.pan = mgl32.Vec2{}
		changed = true
	}

	if t.zoom != 0 {
		var factor float32
		if t.zoom > 0 {
			factor = 1 + t.zoom*(t.ZoomSpeed-1)
		} else {
			factor = 1 / (1 - t.zoom*(t.ZoomSpeed-1))
		}
		rig.Zoom = max(rig.Zoom*factor, 1e-3)
		t.zoom = 0
		changed = true
	}

	return changed
}
