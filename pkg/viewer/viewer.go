// Package viewer is the presentation side of a view session. A Viewer
// talks to its host over a protocol.Channel, loads the dataset it is told
// to load and renders it frame by frame. Every piece of viewer state is
// owned by the goroutine running Run.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"volview/internal/logging"
	"volview/internal/models"
	"volview/pkg/gpu"
	"volview/pkg/protocol"
	"volview/pkg/render"
	"volview/pkg/volume"
)

// ErrStopped is returned by Edit once the viewer has stopped.
var ErrStopped = errors.New("viewer stopped")

// Options configures a Viewer.
type Options struct {
	// Device allocates this viewer's GPU resources. It is not shared with
	// other viewers.
	Device gpu.Device

	// Loader resolves the dataset locator received with init.
	Loader volume.Loader

	// Width and Height size the render target.
	Width  int
	Height int

	Logger *slog.Logger
}

// Controls is the state an edit may change.
type Controls struct {
	Config    *render.Config
	Trackball *render.Trackball
	Camera    *render.CameraRig
}

// Status is a snapshot of the viewer state safe to read from any goroutine.
type Status struct {
	Initialized bool
	Loaded      bool
	Loads       int
	URI         string
	Dims        models.Extent
	Summary     volume.Summary
	Failure     error
}

type edit struct {
	fn   func(*Controls)
	done chan error
}

// Viewer renders one dataset for one host session.
type Viewer struct {
	ch     protocol.Channel
	device gpu.Device
	loader volume.Loader
	width  int
	height int
	logger *slog.Logger

	edits chan edit
	done  chan struct{}

	mu     sync.Mutex
	status Status

	// owned by Run
	initialized bool
	uri         string
	cfg         render.Config
	colormaps   *render.ColormapTextures
	builder     *render.Builder
	camera      *render.CameraRig
	trackball   *render.Trackball
	scene       *render.Scene
	overlays    *render.OverlayManager
	loop        *render.Loop
	buf         *models.SampleBuffer
}

// New returns a viewer speaking over ch. Run starts it.
func New(ch protocol.Channel, opts Options) (*Viewer, error) {
	if opts.Device == nil {
		return nil, errors.New("viewer needs a device")
	}
	if opts.Loader == nil {
		opts.Loader = volume.NewResolver()
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = 640, 480
	}
	if opts.Logger == nil {
		opts.Logger = logging.Component("viewer")
	}

	colormaps, err := render.NewColormapTextures(opts.Device)
	if err != nil {
		return nil, fmt.Errorf("failed to create colormaps: %w", err)
	}

	scene := &render.Scene{}
	return &Viewer{
		ch:        ch,
		device:    opts.Device,
		loader:    opts.Loader,
		width:     opts.Width,
		height:    opts.Height,
		logger:    opts.Logger,
		edits:     make(chan edit),
		done:      make(chan struct{}),
		cfg:       render.DefaultConfig(),
		colormaps: colormaps,
		builder:   render.NewBuilder(opts.Device, colormaps),
		camera:    render.NewCameraRig(opts.Width, opts.Height),
		trackball: render.NewTrackball(),
		scene:     scene,
		overlays:  render.NewOverlayManager(opts.Device, scene),
	}, nil
}

// Run announces the viewer with ready and processes host messages, frame
// ticks and edits until ctx is done or the host closes the channel. A nil
// ticks channel renders only on demand. Closing the viewer closes the
// channel, which the host treats as disposal.
func (v *Viewer) Run(ctx context.Context, ticks <-chan time.Time) error {
	defer v.release()

	if err := v.ch.Send(ctx, protocol.MustNew(protocol.TypeReady, nil)); err != nil {
		if errors.Is(err, protocol.ErrChannelClosed) {
			return nil
		}
		return err
	}

	for {
		select {
		case <-ctx.Done():
			_ = v.ch.Close()
			return ctx.Err()

		case msg, ok := <-v.ch.Receive():
			if !ok {
				v.logger.Debug("host closed channel")
				return nil
			}
			v.handle(ctx, msg)

		case _, ok := <-ticks:
			if !ok {
				ticks = nil
				continue
			}
			v.frame()

		case e := <-v.edits:
			e.done <- v.apply(e.fn)
		}
	}
}

func (v *Viewer) handle(ctx context.Context, msg protocol.Message) {
	if msg.RequestID != nil {
		v.answer(ctx, msg)
		return
	}

	switch msg.Type {
	case protocol.TypeInit:
		if v.initialized {
			v.logger.Debug("duplicate init ignored")
			return
		}
		var body protocol.InitBody
		if err := msg.Decode(&body); err != nil {
			v.logger.Warn("bad init message", "error", err)
			return
		}
		if err := v.initialize(body); err != nil {
			v.fail(ctx, err)
			return
		}
		v.load(ctx)

	case protocol.TypeModelRefresh, protocol.TypeUpdate:
		if !v.initialized {
			v.logger.Debug("refresh before init ignored", "type", msg.Type)
			return
		}
		v.load(ctx)

	default:
		v.logger.Debug("ignoring message", "type", msg.Type)
	}
}

func (v *Viewer) initialize(body protocol.InitBody) error {
	cfg, env, err := configFromInit(body)
	if err != nil {
		return err
	}
	v.initialized = true
	v.uri = body.FileToLoad
	v.cfg = cfg
	v.loop = render.NewLoop(render.LoopOptions{
		Device:     v.device,
		Width:      v.width,
		Height:     v.height,
		Scene:      v.scene,
		Camera:     v.camera,
		Controller: v.trackball,
		Config:     &v.cfg,
		Colormaps:  v.colormaps,
		Env:        env,
		ShowStats:  body.ShowStats,
	})

	v.setStatus(func(s *Status) {
		s.Initialized = true
		s.URI = body.FileToLoad
	})
	v.logger.Info("viewer initialized", "uri", v.uri, "style", v.cfg.Style, "colormap", v.cfg.Colormap)
	return nil
}

// load runs the whole pipeline for the current locator. The previous
// volume is released first; the camera is framed on the first successful
// load only.
func (v *Viewer) load(ctx context.Context) {
	start := time.Now()

	raw, err := v.loader.Load(ctx, v.uri)
	if err != nil {
		v.fail(ctx, err)
		return
	}
	buf, err := volume.Normalize(raw)
	if err != nil {
		v.fail(ctx, err)
		return
	}

	res, err := v.builder.Rebuild(v.loop.Resources(), buf, v.cfg)
	if err != nil {
		v.loop.SetResources(nil)
		v.fail(ctx, err)
		return
	}
	v.loop.SetResources(res)
	v.buf = buf

	if !v.camera.Framed() {
		v.camera.AutoFrame(buf.Dims)
	}
	if err := v.overlays.Sync(v.cfg, buf.Dims); err != nil {
		v.logger.Warn("failed to sync overlays", "error", err)
	}

	summary := volume.Summarize(buf)
	v.setStatus(func(s *Status) {
		s.Loaded = true
		s.Loads++
		s.Dims = buf.Dims
		s.Summary = summary
		s.Failure = nil
	})
	v.logger.Info("volume loaded", "uri", v.uri, "dims", buf.Dims.String(),
		"mean", summary.Mean, "elapsed", time.Since(start))

	v.send(ctx, protocol.MustNew(protocol.TypeLoaded, protocol.LoadedBody{
		URI:    v.uri,
		Dims:   [3]int{buf.Dims.X, buf.Dims.Y, buf.Dims.Z},
		Mean:   summary.Mean,
		StdDev: summary.StdDev,
		RawMin: summary.RawMin,
		RawMax: summary.RawMax,
	}))
}

// fail drops the loaded volume, records err as the visible failure and
// reports it to the host.
func (v *Viewer) fail(ctx context.Context, err error) {
	if v.loop != nil && v.loop.Resources() != nil {
		res := v.loop.Resources()
		v.loop.SetResources(nil)
		res.Release()
	}
	v.buf = nil

	v.setStatus(func(s *Status) {
		s.Loaded = false
		s.Failure = err
	})
	v.logger.Warn("load failed", "uri", v.uri, "error", err)

	v.send(ctx, protocol.MustNew(protocol.TypeLoadError, protocol.LoadErrorBody{
		URI:     v.uri,
		Kind:    ErrorKind(err),
		Message: err.Error(),
	}))
}

// ErrorKind names the class of a load failure as reported to the host.
func ErrorKind(err error) string {
	var (
		degenerate  *volume.DegenerateVolumeError
		unsupported *volume.UnsupportedFormatError
		loadErr     *volume.ResourceLoadError
	)
	switch {
	case errors.As(err, &degenerate):
		return "DegenerateVolumeError"
	case errors.As(err, &unsupported):
		return "UnsupportedFormatError"
	case errors.As(err, &loadErr):
		return "ResourceLoadError"
	}
	return "RenderError"
}

func (v *Viewer) frame() {
	if v.loop == nil {
		return
	}
	if err := v.loop.Frame(); err != nil {
		v.logger.Warn("frame failed", "error", err)
	}
}

func (v *Viewer) apply(fn func(*Controls)) error {
	prev := v.cfg
	fn(&Controls{Config: &v.cfg, Trackball: v.trackball, Camera: v.camera})
	if err := v.cfg.Validate(); err != nil {
		v.cfg = prev
		return err
	}
	if v.buf != nil {
		if err := v.overlays.Sync(v.cfg, v.buf.Dims); err != nil {
			return err
		}
	}
	return nil
}

// Edit runs fn on the viewer goroutine and waits for it. An edit leaving
// the render config invalid is rolled back and its error returned.
func (v *Viewer) Edit(ctx context.Context, fn func(*Controls)) error {
	e := edit{fn: fn, done: make(chan error, 1)}
	select {
	case v.edits <- e:
	case <-v.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-e.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the current viewer status.
func (v *Viewer) Status() Status {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.status
}

// Failure returns the error of the last failed load, or nil.
func (v *Viewer) Failure() error {
	return v.Status().Failure
}

// Done is closed once Run has returned and resources are released.
func (v *Viewer) Done() <-chan struct{} { return v.done }

func (v *Viewer) setStatus(fn func(*Status)) {
	v.mu.Lock()
	fn(&v.status)
	v.mu.Unlock()
}

// send delivers msg to the host. A closed channel means the host is gone
// and is not an error.
func (v *Viewer) send(ctx context.Context, msg protocol.Message) {
	if err := v.ch.Send(ctx, msg); err != nil && !errors.Is(err, protocol.ErrChannelClosed) {
		v.logger.Warn("send failed", "type", msg.Type, "error", err)
	}
}

func (v *Viewer) release() {
	if v.loop != nil {
		res := v.loop.Resources()
		v.loop.SetResources(nil)
		res.Release()
	}
	v.overlays.Release()
	v.colormaps.Release()
	close(v.done)
	v.logger.Debug("viewer released", "live", v.device.Live())
}
