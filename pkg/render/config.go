// Package render builds GPU resources for a normalized volume and draws it
// every frame with the current render configuration, camera and overlays.
package render

import (
	"fmt"
	"strings"
)

// RenderStyle selects how the volume shader composites samples along a ray.
type RenderStyle int32

const (
	// StyleMIP shows the brightest sample along each ray
	StyleMIP RenderStyle = 0
	// StyleISO shows the surface where intensity crosses the threshold
	StyleISO RenderStyle = 1
)

func (s RenderStyle) String() string {
	switch s {
	case StyleMIP:
		return "mip"
	case StyleISO:
		return "iso"
	}
	return fmt.Sprintf("RenderStyle(%d)", int32(s))
}

// ParseRenderStyle parses "mip" or "iso", ignoring case.
func ParseRenderStyle(name string) (RenderStyle, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mip":
		return StyleMIP, nil
	case "iso":
		return StyleISO, nil
	}
	return 0, fmt.Errorf("unknown render style %q", name)
}

func (s RenderStyle) MarshalText() ([]byte, error) {
	if s != StyleMIP && s != StyleISO {
		return nil, fmt.Errorf("invalid render style %d", int32(s))
	}
	return []byte(s.String()), nil
}

func (s *RenderStyle) UnmarshalText(text []byte) error {
	v, err := ParseRenderStyle(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Colormap names one of the fixed colormap lookup tables.
type Colormap int

const (
	ColormapViridis Colormap = iota
	ColormapGray
)

// Colormaps lists every colormap in lookup table order.
var Colormaps = []Colormap{ColormapViridis, ColormapGray}

func (c Colormap) String() string {
	switch c {
	case ColormapViridis:
		return "viridis"
	case ColormapGray:
		return "gray"
	}
	return fmt.Sprintf("Colormap(%d)", int(c))
}

// ParseColormap parses a colormap name, ignoring case.
func ParseColormap(name string) (Colormap, error) {
	for _, c := range Colormaps {
		if strings.EqualFold(strings.TrimSpace(name), c.String()) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown colormap %q", name)
}

func (c Colormap) MarshalText() ([]byte, error) {
	if c < 0 || int(c) >= len(Colormaps) {
		return nil, fmt.Errorf("invalid colormap %d", int(c))
	}
	return []byte(c.String()), nil
}

func (c *Colormap) UnmarshalText(text []byte) error {
	v, err := ParseColormap(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Config is the user editable render configuration. It is read every frame
// and written only in response to user input.
type Config struct {
	// IntensityLow and IntensityHigh bound the displayed intensity window.
	// An inverted window is swapped when it reaches the shader.
	IntensityLow  float32 `json:"intensityLow" yaml:"intensityLow"`
	IntensityHigh float32 `json:"intensityHigh" yaml:"intensityHigh"`

	Style        RenderStyle `json:"renderStyle" yaml:"renderStyle"`
	IsoThreshold float32     `json:"isoThreshold" yaml:"isoThreshold"`
	Colormap     Colormap    `json:"colormap" yaml:"colormap"`

	ShowGrid bool `json:"showGrid" yaml:"showGrid"`
	ShowAxes bool `json:"showAxes" yaml:"showAxes"`

	// GridSize is the side length of the grid and the length of the axes.
	// Zero sizes them to the largest volume axis.
	GridSize float32 `json:"gridSize" yaml:"gridSize"`

	// GridUnit is the spacing between grid lines.
	GridUnit float32 `json:"gridUnit" yaml:"gridUnit"`
}

// DefaultConfig returns the configuration a view starts with.
func DefaultConfig() Config {
	return Config{
		IntensityLow:  0,
		IntensityHigh: 1,
		Style:         StyleISO,
		IsoThreshold:  0.15,
		Colormap:      ColormapViridis,
		GridUnit:      10,
	}
}

// Window returns the intensity window in ascending order.
func (c Config) Window() (lo, hi float32) {
	lo, hi = clamp01(c.IntensityLow), clamp01(c.IntensityHigh)
	if lo > hi {
		lo, hi = hi, lo
	}
	return lo, hi
}

// Validate reports values outside their documented ranges.
func (c Config) Validate() error {
	for _, f := range []struct {
		name string
		v    float32
	}{
		{"intensityLow", c.IntensityLow},
		{"intensityHigh", c.IntensityHigh},
		{"isoThreshold", c.IsoThreshold},
	} {
		if f.v < 0 || f.v > 1 {
			return fmt.Errorf("%s %g outside [0,1]", f.name, f.v)
		}
	}
	if c.Style != StyleMIP && c.Style != StyleISO {
		return fmt.Errorf("invalid render style %d", int32(c.Style))
	}
	if c.Colormap < 0 || int(c.Colormap) >= len(Colormaps) {
		return fmt.Errorf("invalid colormap %d", int(c.Colormap))
	}
	if c.GridSize < 0 {
		return fmt.Errorf("gridSize %g must not be negative", c.GridSize)
	}
	if c.GridUnit <= 0 {
		return fmt.Errorf("gridUnit %g must be positive", c.GridUnit)
	}
	return nil
}

func clamp01(v float32) float32 {
	return max(0, min(1, v))
}
