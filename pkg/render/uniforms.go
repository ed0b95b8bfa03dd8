package render

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"volview/internal/models"
	"volview/pkg/gpu"
)

// bindVolumeData sets the uniforms that depend only on the loaded volume.
func bindVolumeData(m gpu.Material, tex gpu.Texture, dims models.Extent) error {
	if err := m.Set("u_data", tex); err != nil {
		return err
	}
	return m.Set("u_size", mgl32.Vec3{float32(dims.X), float32(dims.Y), float32(dims.Z)})
}

// BindUniforms pushes cfg into the volume material. It is the only place
// that knows the shader's uniform names for render settings.
func BindUniforms(m gpu.Material, cfg Config, colormaps *ColormapTextures) error {
	lo, hi := cfg.Window()
	if err := m.Set("u_clim", mgl32.Vec2{lo, hi}); err != nil {
		return err
	}

	style := int32(StyleISO)
	if cfg.Style == StyleMIP {
		style = int32(StyleMIP)
	}
	if err := m.Set("u_renderstyle", style); err != nil {
		return err
	}

	if err := m.Set("u_renderthreshold", clamp01(cfg.IsoThreshold)); err != nil {
		return err
	}

	if colormaps == nil {
		return fmt.Errorf("no colormap textures to bind")
	}
	return m.Set("u_cmdata", colormaps.Lookup(cfg.Colormap))
}
