package gpu

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// UniformType is the declared type of a shader uniform.
type UniformType int

const (
	UniformFloat UniformType = iota
	UniformInt
	UniformVec2
	UniformVec3
	UniformSampler2D
	UniformSampler3D
)

func (t UniformType) String() string {
	switch t {
	case UniformFloat:
		return "float"
	case UniformInt:
		return "int"
	case UniformVec2:
		return "vec2"
	case UniformVec3:
		return "vec3"
	case UniformSampler2D:
		return "sampler2D"
	case UniformSampler3D:
		return "sampler3D"
	}
	return fmt.Sprintf("UniformType(%d)", int(t))
}

// Program describes a compiled shader program by its uniform slots.
type Program struct {
	Name     string
	Uniforms map[string]UniformType
}

// VolumeShader is the raymarching volume program. Its uniforms:
//
//	u_data             sampler3D  normalized scalar volume
//	u_size             vec3       volume extent in voxels
//	u_clim             vec2       intensity window
//	u_renderstyle      int        0 MIP, 1 ISO
//	u_renderthreshold  float      ISO threshold
//	u_cmdata           sampler2D  colormap lookup
var VolumeShader = Program{
	Name: "VolumeRenderShader1",
	Uniforms: map[string]UniformType{
		"u_data":            UniformSampler3D,
		"u_size":            UniformVec3,
		"u_clim":            UniformVec2,
		"u_renderstyle":     UniformInt,
		"u_renderthreshold": UniformFloat,
		"u_cmdata":          UniformSampler2D,
	},
}

// LineShader draws vertex colored line segments.
var LineShader = Program{
	Name: "LineBasic",
	Uniforms: map[string]UniformType{
		"u_opacity": UniformFloat,
	},
}

// UniformSet stores uniform values checked against a program's declaration.
// Device implementations embed it in their materials.
type UniformSet struct {
	program Program
	values  map[string]any
}

// NewUniformSet returns an empty set for p.
func NewUniformSet(p Program) *UniformSet {
	return &UniformSet{program: p, values: make(map[string]any, len(p.Uniforms))}
}

// Program returns the program the set was created for.
func (u *UniformSet) Program() Program { return u.program }

// Set assigns value to the named uniform.
func (u *UniformSet) Set(name string, value any) error {
	want, ok := u.program.Uniforms[name]
	if !ok {
		return fmt.Errorf("program %s has no uniform %q", u.program.Name, name)
	}
	if !matches(want, value) {
		return fmt.Errorf("uniform %s.%s is %s, got %T", u.program.Name, name, want, value)
	}
	u.values[name] = value
	return nil
}

// Get returns the current value of the named uniform.
func (u *UniformSet) Get(name string) (any, bool) {
	v, ok := u.values[name]
	return v, ok
}

func matches(t UniformType, v any) bool {
	switch t {
	case UniformFloat:
		_, ok := v.(float32)
		return ok
	case UniformInt:
		_, ok := v.(int32)
		return ok
	case UniformVec2:
		_, ok := v.(mgl32.Vec2)
		return ok
	case UniformVec3:
		_, ok := v.(mgl32.Vec3)
		return ok
	case UniformSampler2D:
		tex, ok := v.(Texture)
		return ok && tex.Kind() == Texture2D
	case UniformSampler3D:
		tex, ok := v.(Texture)
		return ok && tex.Kind() == Texture3D
	}
	return false
}
