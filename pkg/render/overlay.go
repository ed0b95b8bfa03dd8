package render

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"volview/internal/models"
	"volview/pkg/gpu"
)

// OverlayKind identifies a helper overlay.
type OverlayKind int

const (
	OverlayGrid OverlayKind = iota
	OverlayAxes
	numOverlays
)

func (k OverlayKind) String() string {
	switch k {
	case OverlayGrid:
		return "grid"
	case OverlayAxes:
		return "axes"
	}
	return fmt.Sprintf("OverlayKind(%d)", int(k))
}

// maxGridDivisions caps the line count of a grid with a tiny unit.
const maxGridDivisions = 1000

// overlayTag records the parameters an overlay was built from.
type overlayTag struct {
	size, unit float32
	extent     models.Extent
}

type overlay struct {
	present  bool
	tag      overlayTag
	node     NodeID
	mesh     gpu.Mesh
	material gpu.Material
	builds   int
}

// OverlayManager keeps the grid and axes helpers in a scene in step with
// the render config. Each overlay is absent or present; a present overlay
// is rebuilt only when its size, unit or the volume extent changes.
type OverlayManager struct {
	device   gpu.Device
	scene    *Scene
	overlays [numOverlays]overlay
}

// NewOverlayManager returns a manager attaching helpers to scene.
func NewOverlayManager(device gpu.Device, scene *Scene) *OverlayManager {
	return &OverlayManager{device: device, scene: scene}
}

// Sync applies cfg's overlay toggles and parameters for a volume of the
// given extent.
func (m *OverlayManager) Sync(cfg Config, extent models.Extent) error {
	size := cfg.GridSize
	if size <= 0 {
		size = float32(extent.Max())
	}

	if cfg.ShowGrid {
		if err := m.EnableGrid(size, cfg.GridUnit, extent); err != nil {
			return err
		}
	} else {
		m.Disable(OverlayGrid)
	}

	if cfg.ShowAxes {
		if err := m.EnableAxes(size, extent); err != nil {
			return err
		}
	} else {
		m.Disable(OverlayAxes)
	}
	return nil
}

// EnableGrid shows a grid of the given size and line spacing centered on
// the volume. Repeating the call with the same parameters does nothing.
func (m *OverlayManager) EnableGrid(size, unit float32, extent models.Extent) error {
	if size <= 0 || unit <= 0 {
		return fmt.Errorf("grid size %g and unit %g must be positive", size, unit)
	}
	tag := overlayTag{size: size, unit: unit, extent: extent}
	return m.enable(OverlayGrid, tag, func() gpu.MeshDesc { return gridMesh(size, unit, extent) })
}

// EnableAxes shows axis lines of the given length from the volume center.
func (m *OverlayManager) EnableAxes(size float32, extent models.Extent) error {
	if size <= 0 {
		return fmt.Errorf("axes size %g must be positive", size)
	}
	tag := overlayTag{size: size, extent: extent}
	return m.enable(OverlayAxes, tag, func() gpu.MeshDesc { return axesMesh(size, extent) })
}

func (m *OverlayManager) enable(kind OverlayKind, tag overlayTag, geometry func() gpu.MeshDesc) error {
	o := &m.overlays[kind]
	if o.present && o.tag == tag {
		return nil
	}

	// build the replacement before touching the scene so a failure leaves
	// the current overlay attached
	mesh, err := m.device.CreateMesh(geometry())
	if err != nil {
		return fmt.Errorf("failed to build %s overlay: %w", kind, err)
	}
	material, err := m.device.CreateMaterial(gpu.LineShader)
	if err != nil {
		mesh.Release()
		return fmt.Errorf("failed to build %s overlay: %w", kind, err)
	}
	if err := material.Set("u_opacity", float32(1)); err != nil {
		mesh.Release()
		material.Release()
		return err
	}

	item := gpu.DrawItem{Mesh: mesh, Material: material}
	if o.present {
		m.scene.Replace(o.node, item)
		o.mesh.Release()
		o.material.Release()
	} else {
		o.node = m.scene.Add(item)
	}

	o.present = true
	o.tag = tag
	o.mesh = mesh
	o.material = material
	o.builds++
	return nil
}

// Disable removes an overlay if present.
func (m *OverlayManager) Disable(kind OverlayKind) {
	o := &m.overlays[kind]
	if !o.present {
		return
	}
	m.scene.Remove(o.node)
	o.mesh.Release()
	o.material.Release()
	builds := o.builds
	*o = overlay{builds: builds}
}

// Present reports whether an overlay is attached.
func (m *OverlayManager) Present(kind OverlayKind) bool {
	return m.overlays[kind].present
}

// Builds returns how many times an overlay's geometry has been built.
func (m *OverlayManager) Builds(kind OverlayKind) int {
	return m.overlays[kind].builds
}

// Release removes every overlay.
func (m *OverlayManager) Release() {
	for k := OverlayKind(0); k < numOverlays; k++ {
		m.Disable(k)
	}
}

// offset centers overlays on a volume of the given extent.
func offset(extent models.Extent) mgl32.Vec3 {
	return mgl32.Vec3{float32(extent.X) / 2, float32(extent.Y) / 2, float32(extent.Z) / 2}
}

// gridMesh returns square grid lines in the XZ plane.
func gridMesh(size, unit float32, extent models.Extent) gpu.MeshDesc {
	divisions := int(math.Round(float64(size / unit)))
	divisions = max(1, min(divisions, maxGridDivisions))
	step := size / float32(divisions)
	half := size / 2

	center := mgl32.Vec3{0.27, 0.27, 0.27}
	line := mgl32.Vec3{0.53, 0.53, 0.53}

	var positions, colors []mgl32.Vec3
	for i := 0; i <= divisions; i++ {
		k := -half + float32(i)*step
		c := line
		if i*2 == divisions {
			c = center
		}
		positions = append(positions,
			mgl32.Vec3{-half, 0, k}, mgl32.Vec3{half, 0, k},
			mgl32.Vec3{k, 0, -half}, mgl32.Vec3{k, 0, half},
		)
		colors = append(colors, c, c, c, c)
	}
	return gpu.MeshDesc{Primitive: gpu.Lines, Positions: positions, Colors: colors, Translation: offset(extent)}
}

// axesMesh returns red, green and blue segments along +X, +Y and +Z.
func axesMesh(size float32, extent models.Extent) gpu.MeshDesc {
	red, green, blue := mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 1, 0}, mgl32.Vec3{0, 0, 1}
	return gpu.MeshDesc{
		Primitive: gpu.Lines,
		Positions: []mgl32.Vec3{
			{}, {size, 0, 0},
			{}, {0, size, 0},
			{}, {0, 0, size},
		},
		Colors:      []mgl32.Vec3{red, red, green, green, blue, blue},
		Translation: offset(extent),
	}
}
