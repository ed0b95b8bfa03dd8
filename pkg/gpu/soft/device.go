// Package soft is a CPU implementation of gpu.Device. It runs the volume
// shader as a raymarcher and rasterizes line overlays, which makes every
// part of the render pipeline usable without a graphics adapter.
package soft

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"volview/internal/logging"
	"volview/pkg/gpu"
)

// Options configures a software device.
type Options struct {
	// Workers bounds the number of rows rendered concurrently.
	// Zero uses runtime.NumCPU.
	Workers int

	// Steps is the number of raymarch samples across the volume diagonal.
	Steps int
}

// Device implements gpu.Device on the CPU.
type Device struct {
	opts Options

	textures  atomic.Int64
	meshes    atomic.Int64
	materials atomic.Int64
}

// NewDevice returns a software device.
func NewDevice(opts Options) *Device {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Steps <= 0 {
		opts.Steps = 256
	}
	logging.Component("gpu").Debug("software device created", "workers", opts.Workers, "steps", opts.Steps)
	return &Device{opts: opts}
}

// Live implements gpu.Device.
func (d *Device) Live() gpu.Counts {
	return gpu.Counts{
		Textures:  int(d.textures.Load()),
		Meshes:    int(d.meshes.Load()),
		Materials: int(d.materials.Load()),
	}
}

// releaser decrements a live counter exactly once.
type releaser struct {
	once    sync.Once
	counter *atomic.Int64
}

func (r *releaser) release() {
	r.once.Do(func() { r.counter.Add(-1) })
}

type texture struct {
	releaser
	kind gpu.TextureKind
	desc gpu.TextureDesc
	r32  []float32
	rgba []uint8
}

func (t *texture) Kind() gpu.TextureKind { return t.kind }
func (t *texture) Desc() gpu.TextureDesc { return t.desc }
func (t *texture) Release()              { t.release() }

// CreateTexture implements gpu.Device. R32F textures take []float32 and
// RGBA8 textures take []uint8 with four bytes per texel. The data is copied.
func (d *Device) CreateTexture(desc gpu.TextureDesc, kind gpu.TextureKind, data any) (gpu.Texture, error) {
	if kind == gpu.Texture2D && desc.Depth == 0 {
		desc.Depth = 1
	}
	tex := &texture{kind: kind, desc: desc}

	switch desc.Format {
	case gpu.FormatR32F:
		src, ok := data.([]float32)
		if !ok {
			return nil, fmt.Errorf("R32F texture needs []float32, got %T", data)
		}
		if err := desc.Validate(len(src)); err != nil {
			return nil, err
		}
		tex.r32 = append([]float32(nil), src...)
	case gpu.FormatRGBA8:
		src, ok := data.([]uint8)
		if !ok {
			return nil, fmt.Errorf("RGBA8 texture needs []uint8, got %T", data)
		}
		if len(src)%4 != 0 {
			return nil, errors.New("RGBA8 data length is not a multiple of 4")
		}
		if err := desc.Validate(len(src) / 4); err != nil {
			return nil, err
		}
		tex.rgba = append([]uint8(nil), src...)
	default:
		return nil, fmt.Errorf("unsupported texture format %d", desc.Format)
	}

	tex.counter = &d.textures
	d.textures.Add(1)
	return tex, nil
}

type mesh struct {
	releaser
	desc gpu.MeshDesc
}

func (m *mesh) Desc() gpu.MeshDesc { return m.desc }
func (m *mesh) Release()           { m.release() }

// CreateMesh implements gpu.Device.
func (d *Device) CreateMesh(desc gpu.MeshDesc) (gpu.Mesh, error) {
	if len(desc.Positions) == 0 {
		return nil, errors.New("mesh has no vertices")
	}
	if desc.Primitive == gpu.Lines && len(desc.Positions)%2 != 0 {
		return nil, fmt.Errorf("line mesh has odd vertex count %d", len(desc.Positions))
	}
	if len(desc.Colors) != 0 && len(desc.Colors) != len(desc.Positions) {
		return nil, fmt.Errorf("mesh has %d colors for %d vertices", len(desc.Colors), len(desc.Positions))
	}
	m := &mesh{desc: desc}
	m.counter = &d.meshes
	d.meshes.Add(1)
	return m, nil
}

type material struct {
	releaser
	*gpu.UniformSet
}

func (m *material) Release() { m.release() }

// CreateMaterial implements gpu.Device.
func (d *Device) CreateMaterial(program gpu.Program) (gpu.Material, error) {
	switch program.Name {
	case gpu.VolumeShader.Name, gpu.LineShader.Name:
	default:
		return nil, fmt.Errorf("unknown shader program %q", program.Name)
	}
	m := &material{UniformSet: gpu.NewUniformSet(program)}
	m.counter = &d.materials
	d.materials.Add(1)
	return m, nil
}
