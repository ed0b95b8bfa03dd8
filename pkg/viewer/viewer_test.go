package viewer

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volview/internal/models"
	"volview/pkg/config"
	"volview/pkg/gpu"
	"volview/pkg/gpu/soft"
	"volview/pkg/protocol"
	"volview/pkg/render"
	"volview/pkg/session"
	"volview/pkg/volume"
)

const waitTimeout = 5 * time.Second

func ramp(n int) *models.RawVolume {
	vol := &models.RawVolume{
		Data: make([]float64, n*n*n),
		Dims: models.Extent{X: n, Y: n, Z: n},
	}
	for i := range vol.Data {
		vol.Data[i] = float64(i)
	}
	return vol
}

func constant(n int, v float64) *models.RawVolume {
	vol := ramp(n)
	for i := range vol.Data {
		vol.Data[i] = v
	}
	return vol
}

type harness struct {
	store   *volume.MemoryStore
	device  *soft.Device
	doc     *session.Document
	session *session.ViewSession
	viewer  *Viewer
	cancel  context.CancelFunc
	runErr  chan error
}

func newHarness(t *testing.T, vol *models.RawVolume) *harness {
	t.Helper()
	store := volume.NewMemoryStore()
	uri := store.Put("phantom", vol)
	resolver := volume.NewResolver()
	resolver.Register(volume.MemoryScheme, store)

	cfg := config.DefaultConfig()
	cfg.Host.HotReload = false
	provider := session.NewProvider(cfg, nil)
	doc := provider.OpenDocument(uri)

	host, view := protocol.Pipe()
	s, err := provider.ResolveSession(doc, host)
	require.NoError(t, err)

	device := soft.NewDevice(soft.Options{Workers: 2, Steps: 64})
	v, err := New(view, Options{Device: device, Loader: resolver, Width: 32, Height: 24})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{store: store, device: device, doc: doc, session: s, viewer: v, cancel: cancel, runErr: make(chan error, 1)}
	go func() { h.runErr <- v.Run(ctx, nil) }()
	t.Cleanup(h.stop)
	return h
}

func (h *harness) stop() {
	h.cancel()
	<-h.viewer.Done()
	h.session.Dispose()
	h.doc.Dispose()
}

func (h *harness) waitActive(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, h.session.WaitState(ctx, session.StateActive))
}

func (h *harness) request(t *testing.T, kind protocol.Type, body any) protocol.Message {
	t.Helper()
	got := make(chan protocol.Message, 1)
	_, err := h.session.Request(context.Background(), kind, body, func(msg protocol.Message) { got <- msg })
	require.NoError(t, err)
	select {
	case msg := <-got:
		return msg
	case <-time.After(waitTimeout):
		t.Fatalf("no response to %s", kind)
	}
	return protocol.Message{}
}

func TestEndToEndLoad(t *testing.T) {
	h := newHarness(t, ramp(4))
	h.waitActive(t)

	loaded, ok := h.session.Loaded()
	require.True(t, ok)
	assert.Equal(t, [3]int{4, 4, 4}, loaded.Dims)
	assert.Equal(t, 0.0, loaded.RawMin)
	assert.Equal(t, 63.0, loaded.RawMax)
	assert.InDelta(t, 0.5, loaded.Mean, 1e-6)

	status := h.viewer.Status()
	assert.True(t, status.Loaded)
	assert.Equal(t, 1, status.Loads)
	assert.NoError(t, h.viewer.Failure())

	var (
		buf              *models.SampleBuffer
		target, position mgl32.Vec3
		grid, axes       bool
	)
	require.NoError(t, h.viewer.Edit(context.Background(), func(c *Controls) {
		buf = h.viewer.buf
		target, position = c.Camera.Target, c.Camera.Position
		grid = h.viewer.overlays.Present(render.OverlayGrid)
		axes = h.viewer.overlays.Present(render.OverlayAxes)
	}))

	require.NotNil(t, buf)
	assert.Equal(t, float32(0), buf.At(0, 0, 0))
	assert.Equal(t, float32(1), buf.At(3, 3, 3))
	for i := 1; i < len(buf.Samples); i++ {
		assert.Greater(t, buf.Samples[i], buf.Samples[i-1])
	}

	assert.Equal(t, mgl32.Vec3{2, 2, 2}, target)
	assert.Equal(t, mgl32.Vec3{6, 6, 6}, position)
	assert.Equal(t, mgl32.Vec3{4, 4, 4}, position.Sub(target))
	assert.True(t, grid)
	assert.True(t, axes)
}

func TestReloadKeepsCamera(t *testing.T) {
	h := newHarness(t, ramp(4))
	h.waitActive(t)

	moved := mgl32.Vec3{10, -3, 7}
	require.NoError(t, h.viewer.Edit(context.Background(), func(c *Controls) {
		c.Camera.Position = moved
	}))

	// A document change sends update and modelRefresh, each a full reload.
	h.doc.Change()
	require.Eventually(t, func() bool { return h.viewer.Status().Loads == 3 }, waitTimeout, 5*time.Millisecond)

	var position mgl32.Vec3
	require.NoError(t, h.viewer.Edit(context.Background(), func(c *Controls) {
		position = c.Camera.Position
	}))
	assert.Equal(t, moved, position)

	// Every reload released its predecessor: two colormaps, one volume and
	// the grid and axes overlays.
	assert.Equal(t, gpu.Counts{Textures: 3, Meshes: 3, Materials: 3}, h.device.Live())
}

func TestDegenerateVolumeReported(t *testing.T) {
	h := newHarness(t, constant(4, 7))

	require.Eventually(t, func() bool { return h.session.LastError() != nil }, waitTimeout, 5*time.Millisecond)
	var failure *session.LoadFailure
	require.ErrorAs(t, h.session.LastError(), &failure)
	assert.Equal(t, "DegenerateVolumeError", failure.Kind)
	assert.Equal(t, session.StateAttached, h.session.State())

	var degenerate *volume.DegenerateVolumeError
	assert.ErrorAs(t, h.viewer.Failure(), &degenerate)
	assert.False(t, h.viewer.Status().Loaded)

	// The session stays usable: fixing the data and refreshing recovers.
	h.store.Put("phantom", ramp(4))
	require.NoError(t, h.session.Refresh(context.Background()))
	h.waitActive(t)
	assert.NoError(t, h.session.LastError())
	assert.NoError(t, h.viewer.Failure())
}

func TestMissingResourceReported(t *testing.T) {
	h := newHarness(t, ramp(4))
	h.waitActive(t)

	h.store.Delete("phantom")
	require.NoError(t, h.session.Refresh(context.Background()))

	require.Eventually(t, func() bool { return h.session.LastError() != nil }, waitTimeout, 5*time.Millisecond)
	var failure *session.LoadFailure
	require.ErrorAs(t, h.session.LastError(), &failure)
	assert.Equal(t, "ResourceLoadError", failure.Kind)
	assert.Equal(t, session.StateAttached, h.session.State())

	// The volume is released, colormaps and overlays stay.
	require.Eventually(t, func() bool { return h.viewer.Failure() != nil }, waitTimeout, 5*time.Millisecond)
	assert.Equal(t, gpu.Counts{Textures: 2, Meshes: 2, Materials: 2}, h.device.Live())
}

func TestRequests(t *testing.T) {
	h := newHarness(t, ramp(4))
	h.waitActive(t)

	resp := h.request(t, protocol.TypeGetConfig, nil)
	var cfg render.Config
	require.NoError(t, json.Unmarshal(resp.Body, &cfg))
	assert.Equal(t, render.StyleISO, cfg.Style)
	assert.Equal(t, render.ColormapViridis, cfg.Colormap)

	resp = h.request(t, protocol.TypeSnapshot, nil)
	var snap protocol.ImageBody
	require.NoError(t, resp.Decode(&snap))
	assert.Equal(t, 32, snap.Width)
	assert.Equal(t, 24, snap.Height)
	img, err := png.Decode(bytes.NewReader(snap.PNG))
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())

	resp = h.request(t, protocol.TypeSlice, protocol.SliceRequest{Axis: "z", Position: 1})
	var slice protocol.ImageBody
	require.NoError(t, resp.Decode(&slice))
	assert.Equal(t, 4, slice.Width)
	assert.Equal(t, 4, slice.Height)

	resp = h.request(t, protocol.TypeSlice, protocol.SliceRequest{Axis: "q"})
	var failed protocol.ErrorBody
	require.NoError(t, resp.Decode(&failed))
	assert.Contains(t, failed.Error, "invalid axis")
}

func TestEditValidatesConfig(t *testing.T) {
	h := newHarness(t, ramp(4))
	h.waitActive(t)
	ctx := context.Background()

	require.NoError(t, h.viewer.Edit(ctx, func(c *Controls) {
		c.Config.Style = render.StyleMIP
		c.Config.ShowGrid = false
	}))
	assert.Error(t, h.viewer.Edit(ctx, func(c *Controls) {
		c.Config.IsoThreshold = 3
	}))

	resp := h.request(t, protocol.TypeGetConfig, nil)
	var cfg render.Config
	require.NoError(t, json.Unmarshal(resp.Body, &cfg))
	assert.Equal(t, render.StyleMIP, cfg.Style)
	assert.False(t, cfg.ShowGrid)
	assert.InDelta(t, 0.15, cfg.IsoThreshold, 1e-6)

	grid := true
	require.NoError(t, h.viewer.Edit(ctx, func(*Controls) {
		grid = h.viewer.overlays.Present(render.OverlayGrid)
	}))
	assert.False(t, grid)
}

func TestNoLoadBeforeInit(t *testing.T) {
	store := volume.NewMemoryStore()
	uri := store.Put("phantom", ramp(4))
	resolver := volume.NewResolver()
	resolver.Register(volume.MemoryScheme, store)

	host, view := protocol.Pipe()
	device := soft.NewDevice(soft.Options{Workers: 1, Steps: 32})
	v, err := New(view, Options{Device: device, Loader: resolver, Width: 16, Height: 16})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ticks := make(chan time.Time)
	go v.Run(ctx, ticks)
	defer func() {
		cancel()
		<-v.Done()
		assert.Equal(t, gpu.Counts{}, device.Live())
	}()

	next := func() protocol.Message {
		select {
		case msg := <-host.Receive():
			return msg
		case <-time.After(waitTimeout):
			t.Fatal("timed out")
		}
		return protocol.Message{}
	}

	require.Equal(t, protocol.TypeReady, next().Type)
	require.NoError(t, host.Send(ctx, protocol.MustNew(protocol.TypeModelRefresh, nil)))
	ticks <- time.Now()
	assert.Equal(t, 0, v.Status().Loads)
	assert.False(t, v.Status().Initialized)

	require.NoError(t, host.Send(ctx, protocol.MustNew(protocol.TypeInit, protocol.InitBody{FileToLoad: uri})))
	msg := next()
	require.Equal(t, protocol.TypeLoaded, msg.Type)
	assert.Equal(t, 1, v.Status().Loads)

	ticks <- time.Now()
	ticks <- time.Now()
	frames := 0
	require.NoError(t, v.Edit(ctx, func(*Controls) {
		frames = v.loop.Stats().Frames()
	}))
	assert.Equal(t, 2, frames)
}

func TestConfigFromInit(t *testing.T) {
	cfg, env, err := configFromInit(protocol.InitBody{})
	require.NoError(t, err)
	assert.Equal(t, render.DefaultConfig(), cfg)
	assert.Equal(t, uint8(0x0b), env.Background.R)
	assert.Equal(t, uint8(0x47), env.Background.B)

	cfg, env, err = configFromInit(protocol.InitBody{
		RenderStyle: "mip", Colormap: "gray", BackgroundColor: "#ff0000",
		FogDensity: 0.5, GridSize: 20, GridUnit: 2, ShowGrid: true,
	})
	require.NoError(t, err)
	assert.Equal(t, render.StyleMIP, cfg.Style)
	assert.Equal(t, render.ColormapGray, cfg.Colormap)
	assert.Equal(t, float32(20), cfg.GridSize)
	assert.Equal(t, float32(2), cfg.GridUnit)
	assert.True(t, cfg.ShowGrid)
	assert.Equal(t, uint8(255), env.Background.R)
	assert.Equal(t, float32(0.5), env.FogDensity)

	zero := 0.0
	cfg, _, err = configFromInit(protocol.InitBody{IsoThreshold: &zero})
	require.NoError(t, err)
	assert.Equal(t, float32(0), cfg.IsoThreshold)

	outside := 1.5
	_, _, err = configFromInit(protocol.InitBody{IsoThreshold: &outside})
	assert.Error(t, err)

	_, _, err = configFromInit(protocol.InitBody{RenderStyle: "dvr"})
	assert.Error(t, err)
	_, _, err = configFromInit(protocol.InitBody{BackgroundColor: "blue"})
	assert.Error(t, err)
}
