package soft

import (
	"fmt"
	"image/color"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/sync/errgroup"

	"volview/pkg/gpu"
)

// frame holds per-draw values shared by every pixel.
type frame struct {
	target             *gpu.Target
	width, height      int
	eye                mgl32.Vec3
	forward, right, up mgl32.Vec3
	left, top          float32
	pixelW, pixelH     float32
	near, far          float32
	env                gpu.Environment
}

func newFrame(target *gpu.Target, view gpu.View, env gpu.Environment) *frame {
	w, h := target.Size()
	f := &frame{
		target: target,
		width:  w,
		height: h,
		eye:    view.Eye,
		left:   view.Left,
		top:    view.Top,
		pixelW: (view.Right - view.Left) / float32(w),
		pixelH: (view.Top - view.Bottom) / float32(h),
		near:   view.Near,
		far:    view.Far,
		env:    env,
	}
	f.forward, f.right, f.up = view.Basis()
	return f
}

func (f *frame) clear() {
	bg := f.env.Background
	pix := f.target.Color.Pix
	for i := 0; i < len(pix); i += 4 {
		pix[i], pix[i+1], pix[i+2], pix[i+3] = bg.R, bg.G, bg.B, bg.A
	}
	inf := math32.Inf(1)
	for i := range f.target.Depth {
		f.target.Depth[i] = inf
	}
}

// Draw implements gpu.Device. Volume items are raymarched first, then line
// items are rasterized against the resulting depth.
func (d *Device) Draw(target *gpu.Target, items []gpu.DrawItem, view gpu.View, env gpu.Environment) error {
	if target == nil || target.Color == nil {
		return fmt.Errorf("draw without a render target")
	}
	f := newFrame(target, view, env)
	if f.width == 0 || f.height == 0 {
		return nil
	}
	f.clear()

	var lines []gpu.DrawItem
	for _, item := range items {
		switch item.Material.Program().Name {
		case gpu.VolumeShader.Name:
			vs, err := bindVolume(item, d.opts.Steps)
			if err != nil {
				return err
			}
			d.raymarch(f, vs)
		case gpu.LineShader.Name:
			lines = append(lines, item)
		default:
			return fmt.Errorf("cannot draw program %q", item.Material.Program().Name)
		}
	}

	for _, item := range lines {
		drawLines(f, item)
	}
	return nil
}

// raymarch renders one volume item, splitting the target into rows.
func (d *Device) raymarch(f *frame, vs *volumeState) {
	var g errgroup.Group
	g.SetLimit(d.opts.Workers)
	for y := 0; y < f.height; y++ {
		y := y
		g.Go(func() error {
			for x := 0; x < f.width; x++ {
				f.shadePixel(vs, x, y)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (f *frame) shadePixel(vs *volumeState, x, y int) {
	u := f.left + (float32(x)+0.5)*f.pixelW
	v := f.top - (float32(y)+0.5)*f.pixelH
	origin := f.eye.Add(f.right.Mul(u)).Add(f.up.Mul(v)).Add(f.forward.Mul(f.near))

	tEnter, tExit, ok := intersectBox(origin, f.forward, vs.lo, vs.hi)
	if !ok {
		return
	}
	tEnter = math32.Max(tEnter, 0)
	tExit = math32.Min(tExit, f.far-f.near)
	if tExit <= tEnter {
		return
	}

	c, depth, hit := vs.march(origin, f.forward, tEnter, tExit)
	if !hit {
		return
	}

	idx := y*f.width + x
	if depth+f.near >= f.target.Depth[idx] {
		return
	}
	f.target.Depth[idx] = depth + f.near
	f.target.Color.SetRGBA(x, y, c)
}

// intersectBox returns the ray parameters where the ray enters and leaves
// the axis aligned box [lo, hi].
func intersectBox(origin, dir, lo, hi mgl32.Vec3) (float32, float32, bool) {
	tmin, tmax := math32.Inf(-1), math32.Inf(1)
	for i := 0; i < 3; i++ {
		if math32.Abs(dir[i]) < 1e-8 {
			if origin[i] < lo[i] || origin[i] > hi[i] {
				return 0, 0, false
			}
			continue
		}
		inv := 1 / dir[i]
		t0 := (lo[i] - origin[i]) * inv
		t1 := (hi[i] - origin[i]) * inv
		if t0 > t1 {
			t0, t1 = t1, t0
		}
		tmin = math32.Max(tmin, t0)
		tmax = math32.Min(tmax, t1)
	}
	return tmin, tmax, tmax > tmin
}

// fog mixes c towards the background for a fragment at the given depth.
func (f *frame) fog(c color.RGBA, depth float32) color.RGBA {
	if f.env.FogDensity <= 0 {
		return c
	}
	fd := f.env.FogDensity * depth
	k := 1 - math32.Exp(-fd*fd)
	return mix(c, f.env.Background, k)
}

func mix(a, b color.RGBA, t float32) color.RGBA {
	t = math32.Max(0, math32.Min(1, t))
	lerp := func(x, y uint8) uint8 {
		return uint8(math32.Round(float32(x)*(1-t) + float32(y)*t))
	}
	return color.RGBA{R: lerp(a.R, b.R), G: lerp(a.G, b.G), B: lerp(a.B, b.B), A: lerp(a.A, b.A)}
}
