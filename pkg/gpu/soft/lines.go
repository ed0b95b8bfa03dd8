package soft

import (
	"image/color"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"

	"volview/pkg/gpu"
)

// drawLines rasterizes a line mesh with a depth test against the target.
func drawLines(f *frame, item gpu.DrawItem) {
	desc := item.Mesh.Desc()
	opacity := float32(1)
	if v, ok := item.Material.Get("u_opacity"); ok {
		opacity = v.(float32)
	}

	for i := 0; i+1 < len(desc.Positions); i += 2 {
		a := desc.Positions[i].Add(desc.Translation)
		b := desc.Positions[i+1].Add(desc.Translation)
		ca, cb := mgl32.Vec3{1, 1, 1}, mgl32.Vec3{1, 1, 1}
		if len(desc.Colors) == len(desc.Positions) {
			ca, cb = desc.Colors[i], desc.Colors[i+1]
		}
		f.segment(a, b, ca, cb, opacity)
	}
}

// project maps a world position to pixel coordinates and view depth.
func (f *frame) project(p mgl32.Vec3) (x, y, depth float32) {
	rel := p.Sub(f.eye)
	x = (rel.Dot(f.right)-f.left)/f.pixelW - 0.5
	y = (f.top-rel.Dot(f.up))/f.pixelH - 0.5
	return x, y, rel.Dot(f.forward)
}

func (f *frame) segment(a, b, ca, cb mgl32.Vec3, opacity float32) {
	ax, ay, ad := f.project(a)
	bx, by, bd := f.project(b)

	n := int(math32.Ceil(math32.Max(math32.Abs(bx-ax), math32.Abs(by-ay))))
	if n == 0 {
		n = 1
	}
	for i := 0; i <= n; i++ {
		t := float32(i) / float32(n)
		x := int(math32.Round(lerp(ax, bx, t)))
		y := int(math32.Round(lerp(ay, by, t)))
		depth := lerp(ad, bd, t)
		if x < 0 || y < 0 || x >= f.width || y >= f.height {
			continue
		}
		if depth < f.near || depth > f.far {
			continue
		}
		idx := y*f.width + x
		if depth >= f.target.Depth[idx] {
			continue
		}
		c := ca.Mul(1 - t).Add(cb.Mul(t))
		frag := color.RGBA{
			R: uint8(clampf(c[0], 0, 1) * 255),
			G: uint8(clampf(c[1], 0, 1) * 255),
			B: uint8(clampf(c[2], 0, 1) * 255),
			A: 255,
		}
		frag = f.fog(frag, depth)
		if opacity < 1 {
			frag = mix(f.target.Color.RGBAAt(x, y), frag, opacity)
		}
		f.target.Depth[idx] = depth
		f.target.Color.SetRGBA(x, y, frag)
	}
}
