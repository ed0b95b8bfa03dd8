package render

import (
	"context"
	"fmt"
	"time"

	"volview/pkg/gpu"
)

// Loop draws one view frame by frame. It owns the render target and the
// scene; the volume resources are supplied by the caller and swapped on
// reload. All methods must be called from a single goroutine.
type Loop struct {
	device     gpu.Device
	target     *gpu.Target
	scene      *Scene
	camera     *CameraRig
	controller Controller
	config     *Config
	colormaps  *ColormapTextures
	stats      *Stats
	env        gpu.Environment

	resources  *Resources
	volumeNode NodeID
	showStats  bool
}

// LoopOptions configures a Loop.
type LoopOptions struct {
	Device     gpu.Device
	Width      int
	Height     int
	Scene      *Scene
	Camera     *CameraRig
	Controller Controller
	Config     *Config
	Colormaps  *ColormapTextures
	Env        gpu.Environment

	// ShowStats draws the frame timing panel on every frame.
	ShowStats bool
}

// NewLoop returns a loop drawing into a new target of the given size.
func NewLoop(opts LoopOptions) *Loop {
	if opts.Scene == nil {
		opts.Scene = &Scene{}
	}
	return &Loop{
		device:     opts.Device,
		target:     gpu.NewTarget(opts.Width, opts.Height),
		scene:      opts.Scene,
		camera:     opts.Camera,
		controller: opts.Controller,
		config:     opts.Config,
		colormaps:  opts.Colormaps,
		stats:      NewStats(),
		env:        opts.Env,
		showStats:  opts.ShowStats,
	}
}

// SetResources attaches res as the drawn volume, detaching the previous
// one. The caller keeps ownership of both; nil detaches the volume.
func (l *Loop) SetResources(res *Resources) {
	item := func() gpu.DrawItem { return gpu.DrawItem{Mesh: res.Mesh, Material: res.Material} }
	switch {
	case l.resources != nil && res != nil:
		l.scene.Replace(l.volumeNode, item())
	case l.resources != nil:
		l.scene.Remove(l.volumeNode)
		l.volumeNode = 0
	case res != nil:
		// the volume is drawn first so overlays depth test against it
		l.volumeNode = l.scene.Add(item())
		l.moveToFront(l.volumeNode)
	}
	l.resources = res
}

func (l *Loop) moveToFront(id NodeID) {
	for i, n := range l.scene.nodes {
		if n.id == id {
			copy(l.scene.nodes[1:i+1], l.scene.nodes[:i])
			l.scene.nodes[0] = n
			return
		}
	}
}

// Resources returns the attached volume resources.
func (l *Loop) Resources() *Resources { return l.resources }

// Frame advances the controller, pushes the render config into the volume
// material, issues the draw and updates the timing panel. Uniforms are
// always pushed before the draw of the same frame.
func (l *Loop) Frame() error {
	l.stats.Begin()

	if l.controller != nil {
		l.controller.Update(l.camera)
	}

	if l.resources != nil {
		if err := BindUniforms(l.resources.Material, *l.config, l.colormaps); err != nil {
			return fmt.Errorf("failed to bind uniforms: %w", err)
		}
	}

	if err := l.device.Draw(l.target, l.scene.Items(), l.camera.View(), l.env); err != nil {
		return fmt.Errorf("draw failed: %w", err)
	}

	l.stats.End()
	if l.showStats {
		l.stats.Draw(l.target.Color)
	}
	return nil
}

// Run draws a frame for every tick until ctx is done or ticks is closed.
func (l *Loop) Run(ctx context.Context, ticks <-chan time.Time) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-ticks:
			if !ok {
				return nil
			}
			if err := l.Frame(); err != nil {
				return err
			}
		}
	}
}

// Target returns the render target holding the last frame.
func (l *Loop) Target() *gpu.Target { return l.target }

// Stats returns the frame timing tracker.
func (l *Loop) Stats() *Stats { return l.stats }

// Camera returns the camera the loop draws from.
func (l *Loop) Camera() *CameraRig { return l.camera }

// Scene returns the scene the loop draws.
func (l *Loop) Scene() *Scene { return l.scene }

// SetEnvironment replaces the background and fog settings.
func (l *Loop) SetEnvironment(env gpu.Environment) { l.env = env }
