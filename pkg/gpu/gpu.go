// Package gpu defines the device interface the renderer allocates textures,
// meshes and materials through, together with the descriptors of the shader
// programs it binds. Shader programs are opaque: only their names and typed
// uniform slots are known here.
package gpu

import (
	"fmt"
	"image"
	"image/color"

	"github.com/go-gl/mathgl/mgl32"
)

// TextureFormat is the texel layout of a texture.
type TextureFormat int

const (
	// FormatR32F is a single float32 channel
	FormatR32F TextureFormat = iota
	// FormatRGBA8 is four 8-bit channels
	FormatRGBA8
)

// BytesPerTexel returns the unpacked size of one texel.
func (f TextureFormat) BytesPerTexel() int {
	switch f {
	case FormatR32F, FormatRGBA8:
		return 4
	}
	return 0
}

// Filter selects how a texture is sampled between texel centers.
type Filter int

const (
	FilterNearest Filter = iota
	FilterLinear
)

// TextureKind distinguishes 2D and 3D textures.
type TextureKind int

const (
	Texture2D TextureKind = iota + 2
	Texture3D
)

// TextureDesc describes a texture allocation. Depth is 1 for 2D textures.
type TextureDesc struct {
	Width, Height, Depth int
	Format               TextureFormat
	MinFilter, MagFilter Filter

	// UnpackAlignment is the row alignment in bytes of the uploaded data.
	UnpackAlignment int
}

// Validate checks the descriptor against the length of the upload.
func (d TextureDesc) Validate(texels int) error {
	if d.Width <= 0 || d.Height <= 0 || d.Depth <= 0 {
		return fmt.Errorf("texture size %dx%dx%d must be positive", d.Width, d.Height, d.Depth)
	}
	if texels != d.Width*d.Height*d.Depth {
		return fmt.Errorf("texture %dx%dx%d needs %d texels, got %d",
			d.Width, d.Height, d.Depth, d.Width*d.Height*d.Depth, texels)
	}
	switch d.UnpackAlignment {
	case 1, 2, 4, 8:
	default:
		return fmt.Errorf("invalid unpack alignment %d", d.UnpackAlignment)
	}
	return nil
}

// Texture is a GPU texture handle.
type Texture interface {
	Kind() TextureKind
	Desc() TextureDesc
	Release()
}

// Primitive is the topology of a mesh.
type Primitive int

const (
	Triangles Primitive = iota
	Lines
)

// MeshDesc describes mesh geometry. Lines meshes use consecutive vertex pairs
// as segments and may carry one color per vertex.
type MeshDesc struct {
	Primitive Primitive
	Positions []mgl32.Vec3
	Colors    []mgl32.Vec3
	Indices   []uint32

	// Translation is applied to every position when the mesh is drawn.
	Translation mgl32.Vec3
}

// Bounds returns the translated axis aligned bounds of the positions.
func (d MeshDesc) Bounds() (lo, hi mgl32.Vec3) {
	if len(d.Positions) == 0 {
		return d.Translation, d.Translation
	}
	lo, hi = d.Positions[0], d.Positions[0]
	for _, p := range d.Positions[1:] {
		for i := 0; i < 3; i++ {
			lo[i] = min(lo[i], p[i])
			hi[i] = max(hi[i], p[i])
		}
	}
	return lo.Add(d.Translation), hi.Add(d.Translation)
}

// Mesh is a GPU geometry handle.
type Mesh interface {
	Desc() MeshDesc
	Release()
}

// Material binds a shader program to its uniform values.
type Material interface {
	Program() Program
	Set(name string, value any) error
	Get(name string) (any, bool)
	Release()
}

// DrawItem is one mesh drawn with one material.
type DrawItem struct {
	Mesh     Mesh
	Material Material
}

// Environment holds per-frame scene settings.
type Environment struct {
	Background color.RGBA

	// FogDensity is the exponential squared fog density applied to
	// overlay geometry, 0 disables fog.
	FogDensity float32
}

// Counts reports live allocations on a device.
type Counts struct {
	Textures, Meshes, Materials int
}

// Device allocates GPU resources and executes draw calls.
type Device interface {
	CreateTexture(desc TextureDesc, kind TextureKind, data any) (Texture, error)
	CreateMesh(desc MeshDesc) (Mesh, error)
	CreateMaterial(program Program) (Material, error)

	// Draw renders items into target as seen from view. It is one draw
	// submission per frame.
	Draw(target *Target, items []DrawItem, view View, env Environment) error

	Live() Counts
}

// Target is a color plus depth render target.
type Target struct {
	Color *image.RGBA
	Depth []float32
}

// NewTarget allocates a target of the given pixel size.
func NewTarget(width, height int) *Target {
	return &Target{
		Color: image.NewRGBA(image.Rect(0, 0, width, height)),
		Depth: make([]float32, width*height),
	}
}

// Size returns the target's pixel dimensions.
func (t *Target) Size() (int, int) {
	b := t.Color.Bounds()
	return b.Dx(), b.Dy()
}
