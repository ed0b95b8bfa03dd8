package soft

import (
	"fmt"
	"image/color"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"

	"volview/pkg/gpu"
)

const (
	renderStyleMIP = 0
	renderStyleISO = 1

	// isoRefineSteps is the number of bisection steps used to locate the
	// iso surface between two samples.
	isoRefineSteps = 4

	ambient = 0.25
)

// volumeState is the volume shader's view of its uniforms for one draw.
type volumeState struct {
	data      *texture
	cmap      *texture
	size      mgl32.Vec3
	climLo    float32
	climHi    float32
	style     int32
	threshold float32
	lo, hi    mgl32.Vec3
	step      float32
}

func bindVolume(item gpu.DrawItem, steps int) (*volumeState, error) {
	m := item.Material
	get := func(name string) (any, error) {
		v, ok := m.Get(name)
		if !ok {
			return nil, fmt.Errorf("uniform %s is not set", name)
		}
		return v, nil
	}

	vs := &volumeState{}
	for _, name := range []string{"u_data", "u_size", "u_clim", "u_renderstyle", "u_renderthreshold", "u_cmdata"} {
		v, err := get(name)
		if err != nil {
			return nil, err
		}
		switch name {
		case "u_data":
			tex, ok := v.(*texture)
			if !ok {
				return nil, fmt.Errorf("u_data is not a software texture")
			}
			vs.data = tex
		case "u_cmdata":
			tex, ok := v.(*texture)
			if !ok {
				return nil, fmt.Errorf("u_cmdata is not a software texture")
			}
			vs.cmap = tex
		case "u_size":
			vs.size = v.(mgl32.Vec3)
		case "u_clim":
			clim := v.(mgl32.Vec2)
			vs.climLo, vs.climHi = clim[0], clim[1]
		case "u_renderstyle":
			vs.style = v.(int32)
		case "u_renderthreshold":
			vs.threshold = v.(float32)
		}
	}

	vs.lo, vs.hi = item.Mesh.Desc().Bounds()
	diag := vs.hi.Sub(vs.lo).Len()
	vs.step = diag / float32(steps)
	if vs.step <= 0 {
		return nil, fmt.Errorf("volume mesh has empty bounds")
	}
	return vs, nil
}

// march walks the ray from t0 to t1 and returns the fragment color and the
// ray parameter of the fragment.
func (vs *volumeState) march(origin, dir mgl32.Vec3, t0, t1 float32) (color.RGBA, float32, bool) {
	if vs.style == renderStyleMIP {
		return vs.marchMIP(origin, dir, t0, t1)
	}
	return vs.marchISO(origin, dir, t0, t1)
}

func (vs *volumeState) marchMIP(origin, dir mgl32.Vec3, t0, t1 float32) (color.RGBA, float32, bool) {
	maxVal := float32(-1)
	for t := t0; t <= t1; t += vs.step {
		if v := vs.sample(origin.Add(dir.Mul(t))); v > maxVal {
			maxVal = v
		}
	}
	return vs.colormap(vs.window(maxVal)), t0, true
}

func (vs *volumeState) marchISO(origin, dir mgl32.Vec3, t0, t1 float32) (color.RGBA, float32, bool) {
	prevT := t0
	prev := vs.sample(origin.Add(dir.Mul(t0)))
	for t := t0 + vs.step; t <= t1; t += vs.step {
		v := vs.sample(origin.Add(dir.Mul(t)))
		if v > vs.threshold {
			lo, hi := prevT, t
			if prev > vs.threshold {
				hi = lo
			}
			for i := 0; i < isoRefineSteps && hi > lo; i++ {
				mid := (lo + hi) / 2
				if vs.sample(origin.Add(dir.Mul(mid))) > vs.threshold {
					hi = mid
				} else {
					lo = mid
				}
			}
			p := origin.Add(dir.Mul(hi))
			val := vs.sample(p)
			base := vs.colormap(vs.window(val))
			return shade(base, vs.gradient(p), dir), hi, true
		}
		prev, prevT = v, t
	}
	return color.RGBA{}, 0, false
}

// window applies the intensity window to a sample.
func (vs *volumeState) window(v float32) float32 {
	span := vs.climHi - vs.climLo
	if span <= 0 {
		if v >= vs.climLo {
			return 1
		}
		return 0
	}
	return math32.Max(0, math32.Min(1, (v-vs.climLo)/span))
}

// sample reads the volume with trilinear filtering at a world position.
// World position p maps to texture coordinate (p + 0.5) / size.
func (vs *volumeState) sample(p mgl32.Vec3) float32 {
	desc := vs.data.desc
	fx := clampf((p[0]+0.5)/vs.size[0]*float32(desc.Width)-0.5, 0, float32(desc.Width-1))
	fy := clampf((p[1]+0.5)/vs.size[1]*float32(desc.Height)-0.5, 0, float32(desc.Height-1))
	fz := clampf((p[2]+0.5)/vs.size[2]*float32(desc.Depth)-0.5, 0, float32(desc.Depth-1))

	if desc.MagFilter == gpu.FilterNearest {
		return vs.voxel(int(math32.Round(fx)), int(math32.Round(fy)), int(math32.Round(fz)))
	}

	x0, y0, z0 := int(math32.Floor(fx)), int(math32.Floor(fy)), int(math32.Floor(fz))
	x1, y1, z1 := min(x0+1, desc.Width-1), min(y0+1, desc.Height-1), min(z0+1, desc.Depth-1)
	dx, dy, dz := fx-float32(x0), fy-float32(y0), fz-float32(z0)

	c00 := lerp(vs.voxel(x0, y0, z0), vs.voxel(x1, y0, z0), dx)
	c10 := lerp(vs.voxel(x0, y1, z0), vs.voxel(x1, y1, z0), dx)
	c01 := lerp(vs.voxel(x0, y0, z1), vs.voxel(x1, y0, z1), dx)
	c11 := lerp(vs.voxel(x0, y1, z1), vs.voxel(x1, y1, z1), dx)
	return lerp(lerp(c00, c10, dy), lerp(c01, c11, dy), dz)
}

func (vs *volumeState) voxel(x, y, z int) float32 {
	desc := vs.data.desc
	return vs.data.r32[z*desc.Width*desc.Height+y*desc.Width+x]
}

// gradient estimates the surface normal at p by central differences.
func (vs *volumeState) gradient(p mgl32.Vec3) mgl32.Vec3 {
	const h = 0.5
	g := mgl32.Vec3{
		vs.sample(p.Add(mgl32.Vec3{h, 0, 0})) - vs.sample(p.Sub(mgl32.Vec3{h, 0, 0})),
		vs.sample(p.Add(mgl32.Vec3{0, h, 0})) - vs.sample(p.Sub(mgl32.Vec3{0, h, 0})),
		vs.sample(p.Add(mgl32.Vec3{0, 0, h})) - vs.sample(p.Sub(mgl32.Vec3{0, 0, h})),
	}
	if g.Len() < 1e-6 {
		return mgl32.Vec3{}
	}
	return g.Normalize().Mul(-1)
}

// colormap looks up v in the 1D colormap texture with linear filtering.
func (vs *volumeState) colormap(v float32) color.RGBA {
	w := vs.cmap.desc.Width
	fx := clampf(v*float32(w)-0.5, 0, float32(w-1))
	i0 := int(math32.Floor(fx))
	i1 := min(i0+1, w-1)
	t := fx - float32(i0)
	px := func(i int) [4]float32 {
		o := i * 4
		return [4]float32{float32(vs.cmap.rgba[o]), float32(vs.cmap.rgba[o+1]), float32(vs.cmap.rgba[o+2]), float32(vs.cmap.rgba[o+3])}
	}
	a, b := px(i0), px(i1)
	return color.RGBA{
		R: uint8(math32.Round(lerp(a[0], b[0], t))),
		G: uint8(math32.Round(lerp(a[1], b[1], t))),
		B: uint8(math32.Round(lerp(a[2], b[2], t))),
		A: 255,
	}
}

// shade applies ambient plus two sided diffuse lighting from the viewer.
func shade(c color.RGBA, normal, viewDir mgl32.Vec3) color.RGBA {
	if normal == (mgl32.Vec3{}) {
		return c
	}
	diffuse := math32.Abs(normal.Dot(viewDir))
	k := math32.Min(1, ambient+(1-ambient)*diffuse)
	return color.RGBA{
		R: uint8(float32(c.R) * k),
		G: uint8(float32(c.G) * k),
		B: uint8(float32(c.B) * k),
		A: 255,
	}
}

func lerp(a, b, t float32) float32 { return a + (b-a)*t }

func clampf(v, lo, hi float32) float32 {
	return math32.Max(lo, math32.Min(hi, v))
}
