package render

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"volview/internal/models"
	"volview/pkg/gpu"
)

// Resources are the GPU objects that draw one loaded volume.
type Resources struct {
	Texture  gpu.Texture
	Mesh     gpu.Mesh
	Material gpu.Material
	Dims     models.Extent
}

// Release frees every resource. It is safe on nil and safe to repeat.
func (r *Resources) Release() {
	if r == nil {
		return
	}
	if r.Material != nil {
		r.Material.Release()
		r.Material = nil
	}
	if r.Mesh != nil {
		r.Mesh.Release()
		r.Mesh = nil
	}
	if r.Texture != nil {
		r.Texture.Release()
		r.Texture = nil
	}
}

// Builder turns sample buffers into Resources on a device.
type Builder struct {
	device    gpu.Device
	colormaps *ColormapTextures
}

// NewBuilder returns a builder allocating on device and binding colormaps.
func NewBuilder(device gpu.Device, colormaps *ColormapTextures) *Builder {
	return &Builder{device: device, colormaps: colormaps}
}

// VolumeTextureDesc returns the texture layout used for a volume: one
// float32 channel, linear filtering and byte alignment, since every voxel
// is exactly four bytes.
func VolumeTextureDesc(dims models.Extent) gpu.TextureDesc {
	return gpu.TextureDesc{
		Width:           dims.X,
		Height:          dims.Y,
		Depth:           dims.Z,
		Format:          gpu.FormatR32F,
		MinFilter:       gpu.FilterLinear,
		MagFilter:       gpu.FilterLinear,
		UnpackAlignment: 1,
	}
}

// BoxMesh returns a box of the volume's size whose corner voxel center sits
// at the origin: the box spans [-0.5, n-0.5] along each axis.
func BoxMesh(dims models.Extent) gpu.MeshDesc {
	hx, hy, hz := float32(dims.X)/2, float32(dims.Y)/2, float32(dims.Z)/2
	positions := []mgl32.Vec3{
		{-hx, -hy, -hz}, {hx, -hy, -hz}, {hx, hy, -hz}, {-hx, hy, -hz},
		{-hx, -hy, hz}, {hx, -hy, hz}, {hx, hy, hz}, {-hx, hy, hz},
	}
	indices := []uint32{
		0, 2, 1, 0, 3, 2, // -z
		4, 5, 6, 4, 6, 7, // +z
		0, 1, 5, 0, 5, 4, // -y
		3, 7, 6, 3, 6, 2, // +y
		0, 4, 7, 0, 7, 3, // -x
		1, 2, 6, 1, 6, 5, // +x
	}
	return gpu.MeshDesc{
		Primitive:   gpu.Triangles,
		Positions:   positions,
		Indices:     indices,
		Translation: mgl32.Vec3{hx - 0.5, hy - 0.5, hz - 0.5},
	}
}

// Build allocates the texture, bounding mesh and material for buf. On
// failure everything allocated so far is released.
func (b *Builder) Build(buf *models.SampleBuffer, cfg Config) (*Resources, error) {
	if buf == nil || len(buf.Samples) != buf.Dims.Voxels() {
		return nil, fmt.Errorf("sample buffer does not match its extent")
	}

	res := &Resources{Dims: buf.Dims}
	built := false
	defer func() {
		if !built {
			res.Release()
		}
	}()

	var err error
	res.Texture, err = b.device.CreateTexture(VolumeTextureDesc(buf.Dims), gpu.Texture3D, buf.Samples)
	if err != nil {
		return nil, fmt.Errorf("failed to create volume texture: %w", err)
	}

	res.Mesh, err = b.device.CreateMesh(BoxMesh(buf.Dims))
	if err != nil {
		return nil, fmt.Errorf("failed to create bounding mesh: %w", err)
	}

	res.Material, err = b.device.CreateMaterial(gpu.VolumeShader)
	if err != nil {
		return nil, fmt.Errorf("failed to create volume material: %w", err)
	}
	if err = bindVolumeData(res.Material, res.Texture, buf.Dims); err != nil {
		return nil, err
	}
	if err = BindUniforms(res.Material, cfg, b.colormaps); err != nil {
		return nil, err
	}
	built = true
	return res, nil
}

// Rebuild releases prev before building resources for buf, so that two
// volumes are never resident at once.
func (b *Builder) Rebuild(prev *Resources, buf *models.SampleBuffer, cfg Config) (*Resources, error) {
	prev.Release()
	return b.Build(buf, cfg)
}
