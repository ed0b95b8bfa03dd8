package render

import (
	"fmt"

	"github.com/lucasb-eyer/go-colorful"

	"volview/pkg/gpu"
)

// colormapWidth is the number of texels in each colormap lookup table.
const colormapWidth = 256

// colormapStops are the control colors of each lookup table, spaced evenly.
var colormapStops = map[Colormap][]string{
	ColormapViridis: {"#440154", "#482878", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"},
	ColormapGray:    {"#000000", "#ffffff"},
}

// ColormapLUT returns the RGBA8 texels of a colormap. Stops are blended in
// CIE L*a*b* space.
func ColormapLUT(c Colormap) ([]uint8, error) {
	hexes, ok := colormapStops[c]
	if !ok {
		return nil, fmt.Errorf("no stops for colormap %s", c)
	}
	stops := make([]colorful.Color, len(hexes))
	for i, h := range hexes {
		col, err := colorful.Hex(h)
		if err != nil {
			return nil, fmt.Errorf("colormap %s: %w", c, err)
		}
		stops[i] = col
	}

	lut := make([]uint8, colormapWidth*4)
	segments := float64(len(stops) - 1)
	for i := 0; i < colormapWidth; i++ {
		pos := float64(i) / float64(colormapWidth-1) * segments
		seg := min(int(pos), len(stops)-2)
		col := stops[seg].BlendLab(stops[seg+1], pos-float64(seg)).Clamped()
		r, g, b := col.RGB255()
		lut[i*4], lut[i*4+1], lut[i*4+2], lut[i*4+3] = r, g, b, 255
	}
	return lut, nil
}

// ColormapTextures holds one lookup texture per colormap on a device.
type ColormapTextures struct {
	textures map[Colormap]gpu.Texture
}

// NewColormapTextures uploads every colormap to device.
func NewColormapTextures(device gpu.Device) (*ColormapTextures, error) {
	ct := &ColormapTextures{textures: make(map[Colormap]gpu.Texture, len(Colormaps))}
	for _, c := range Colormaps {
		lut, err := ColormapLUT(c)
		if err != nil {
			ct.Release()
			return nil, err
		}
		tex, err := device.CreateTexture(gpu.TextureDesc{
			Width:           colormapWidth,
			Height:          1,
			Depth:           1,
			Format:          gpu.FormatRGBA8,
			MinFilter:       gpu.FilterLinear,
			MagFilter:       gpu.FilterLinear,
			UnpackAlignment: 4,
		}, gpu.Texture2D, lut)
		if err != nil {
			ct.Release()
			return nil, fmt.Errorf("failed to upload colormap %s: %w", c, err)
		}
		ct.textures[c] = tex
	}
	return ct, nil
}

// Lookup returns the texture for c, falling back to viridis.
func (ct *ColormapTextures) Lookup(c Colormap) gpu.Texture {
	if tex, ok := ct.textures[c]; ok {
		return tex
	}
	return ct.textures[ColormapViridis]
}

// Release frees every colormap texture.
func (ct *ColormapTextures) Release() {
	for c, tex := range ct.textures {
		tex.Release()
		delete(ct.textures, c)
	}
}
