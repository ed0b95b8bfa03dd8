package session

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volview/pkg/config"
	"volview/pkg/protocol"
)

const waitTimeout = 2 * time.Second

func recv(t *testing.T, ch protocol.Channel) protocol.Message {
	t.Helper()
	select {
	case msg, ok := <-ch.Receive():
		require.True(t, ok, "channel closed")
		return msg
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for message")
	}
	return protocol.Message{}
}

func expectSilence(t *testing.T, ch protocol.Channel) {
	t.Helper()
	select {
	case msg, ok := <-ch.Receive():
		if ok {
			t.Fatalf("unexpected message %q", msg.Type)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func send(t *testing.T, ch protocol.Channel, msg protocol.Message) {
	t.Helper()
	require.NoError(t, ch.Send(context.Background(), msg))
}

func attached(t *testing.T, init protocol.InitBody) (*ViewSession, protocol.Channel) {
	t.Helper()
	host, view := protocol.Pipe()
	s := NewViewSession(init.FileToLoad, init)
	require.NoError(t, s.Attach(host))
	t.Cleanup(s.Dispose)
	return s, view
}

func TestReadySendsInitOnce(t *testing.T) {
	init := InitBody(config.DefaultConfig(), "file:///data/head.vol")
	s, view := attached(t, init)
	assert.Equal(t, StateAttached, s.State())

	send(t, view, protocol.MustNew(protocol.TypeReady, nil))
	msg := recv(t, view)
	require.Equal(t, protocol.TypeInit, msg.Type)

	var body protocol.InitBody
	require.NoError(t, msg.Decode(&body))
	assert.Equal(t, "file:///data/head.vol", body.FileToLoad)
	assert.Equal(t, "#0b1447", body.BackgroundColor)
	assert.Equal(t, 0.01, body.FogDensity)
	assert.Equal(t, "iso", body.RenderStyle)
	assert.Equal(t, "viridis", body.Colormap)
	require.NotNil(t, body.IsoThreshold)
	assert.Equal(t, 0.15, *body.IsoThreshold)

	send(t, view, protocol.MustNew(protocol.TypeReady, nil))
	expectSilence(t, view)
}

func TestInitBodyKeepsZeroThreshold(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Viewer.IsoThreshold = 0
	body := InitBody(cfg, "mem://a")
	require.NotNil(t, body.IsoThreshold)
	assert.Equal(t, 0.0, *body.IsoThreshold)

	data, err := json.Marshal(body)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"isoThreshold":0`)
}

func TestAttachTwice(t *testing.T) {
	s, _ := attached(t, protocol.InitBody{FileToLoad: "mem://a"})
	other, _ := protocol.Pipe()
	assert.Error(t, s.Attach(other))
}

func TestLoadedAndLoadError(t *testing.T) {
	s, view := attached(t, protocol.InitBody{FileToLoad: "mem://a"})
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	send(t, view, protocol.MustNew(protocol.TypeLoadError, protocol.LoadErrorBody{
		Kind: "DegenerateVolumeError", Message: "constant volume",
	}))
	require.Eventually(t, func() bool { return s.LastError() != nil }, waitTimeout, 5*time.Millisecond)
	assert.Equal(t, StateAttached, s.State())
	var failure *LoadFailure
	require.ErrorAs(t, s.LastError(), &failure)
	assert.Equal(t, "mem://a", failure.URI)
	assert.Equal(t, "DegenerateVolumeError", failure.Kind)

	send(t, view, protocol.MustNew(protocol.TypeLoaded, protocol.LoadedBody{URI: "mem://a", Dims: [3]int{4, 4, 4}}))
	require.NoError(t, s.WaitState(ctx, StateActive))
	assert.NoError(t, s.LastError())
	loaded, ok := s.Loaded()
	require.True(t, ok)
	assert.Equal(t, [3]int{4, 4, 4}, loaded.Dims)
}

func TestRequestResponse(t *testing.T) {
	s, view := attached(t, protocol.InitBody{FileToLoad: "mem://a"})
	ctx := context.Background()

	var calls atomic.Int32
	got := make(chan protocol.Message, 2)
	id, err := s.Request(ctx, protocol.TypeGetConfig, nil, func(msg protocol.Message) {
		calls.Add(1)
		got <- msg
	})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Pending())

	req := recv(t, view)
	assert.Equal(t, protocol.TypeGetConfig, req.Type)
	require.NotNil(t, req.RequestID)
	assert.Equal(t, id, *req.RequestID)

	// An unknown id is dropped, the matching one answered once.
	send(t, view, protocol.MustNew(protocol.TypeResponse, nil).WithRequestID(id+100))
	resp := protocol.MustNew(protocol.TypeResponse, map[string]string{"colormap": "gray"}).WithRequestID(id)
	send(t, view, resp)
	send(t, view, resp)

	select {
	case msg := <-got:
		var body map[string]string
		require.NoError(t, msg.Decode(&body))
		assert.Equal(t, "gray", body["colormap"])
	case <-time.After(waitTimeout):
		t.Fatal("callback not invoked")
	}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 0, s.Pending())
}

func TestDisposeDropsPendingCallbacks(t *testing.T) {
	s, view := attached(t, protocol.InitBody{FileToLoad: "mem://a"})
	ctx := context.Background()

	var called atomic.Bool
	id, err := s.Request(ctx, protocol.TypeSnapshot, nil, func(protocol.Message) { called.Store(true) })
	require.NoError(t, err)

	var disposed atomic.Int32
	s.OnDispose(func() { disposed.Add(1) })
	s.Dispose()
	s.Dispose()

	assert.Equal(t, StateDisposed, s.State())
	assert.Equal(t, int32(1), disposed.Load())
	assert.Equal(t, 0, s.Pending())
	assert.ErrorIs(t, view.Send(ctx, protocol.MustNew(protocol.TypeResponse, nil).WithRequestID(id)), protocol.ErrChannelClosed)
	assert.False(t, called.Load())

	// Sends after dispose are swallowed.
	assert.NoError(t, s.Refresh(ctx))
	assert.NoError(t, s.NotifyUpdate(ctx))
	_, err = s.Request(ctx, protocol.TypeSnapshot, nil, nil)
	assert.ErrorIs(t, err, protocol.ErrChannelClosed)
}

func TestPresentationCloseDisposesSession(t *testing.T) {
	s, view := attached(t, protocol.InitBody{FileToLoad: "mem://a"})
	require.NoError(t, view.Close())
	select {
	case <-s.Done():
	case <-time.After(waitTimeout):
		t.Fatal("session not disposed after presentation closed")
	}
	assert.Equal(t, StateDisposed, s.State())
}

func TestDocumentDisposeTwice(t *testing.T) {
	doc := NewDocument("mem://a")

	var fired, cleaned, changed int
	doc.OnDispose(func() { fired++ })
	doc.OnChange(func() { changed++ })
	doc.Register(func() { cleaned++ })

	doc.Change()
	doc.Dispose()
	doc.Dispose()
	doc.Change()

	assert.True(t, doc.Disposed())
	assert.Equal(t, 1, fired)
	assert.Equal(t, 1, cleaned)
	assert.Equal(t, 1, doc.cleanups)
	assert.Equal(t, 1, changed)

	// Late registrations run immediately.
	late := false
	doc.Register(func() { late = true })
	assert.True(t, late)
}

func TestDocumentDisposeFiresBeforeCleanup(t *testing.T) {
	doc := NewDocument("mem://a")
	var order []string
	doc.Register(func() { order = append(order, "cleanup") })
	doc.OnDispose(func() { order = append(order, "dispose") })
	doc.Dispose()
	assert.Equal(t, []string{"dispose", "cleanup"}, order)
}

func TestDocumentUnsubscribe(t *testing.T) {
	doc := NewDocument("mem://a")
	var a, b int
	unsubA := doc.OnChange(func() { a++ })
	doc.OnChange(func() { b++ })
	doc.Change()
	unsubA()
	doc.Change()
	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
}

func TestRegistryRemovesDisposedSessions(t *testing.T) {
	r := NewRegistry()
	s1 := NewViewSession("mem://a", protocol.InitBody{})
	s2 := NewViewSession("mem://a", protocol.InitBody{})
	s3 := NewViewSession("mem://b", protocol.InitBody{})
	r.Add("mem://a", s1)
	r.Add("mem://a", s2)
	r.Add("mem://b", s3)

	assert.Equal(t, []*ViewSession{s1, s2}, r.Sessions("mem://a"))
	s1.Dispose()
	assert.Equal(t, []*ViewSession{s2}, r.Sessions("mem://a"))
	s2.Dispose()
	assert.Equal(t, 0, r.Len("mem://a"))
	assert.Equal(t, 1, r.Len("mem://b"))
}

func TestProviderFansOutChanges(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Host.HotReload = false
	p := NewProvider(cfg, nil)
	doc := p.OpenDocument("mem://phantom")

	var views []protocol.Channel
	for i := 0; i < 3; i++ {
		host, view := protocol.Pipe()
		s, err := p.ResolveSession(doc, host)
		require.NoError(t, err)
		t.Cleanup(s.Dispose)
		views = append(views, view)
	}
	assert.Equal(t, 3, p.Registry().Len("mem://phantom"))

	doc.Change()
	for _, view := range views {
		assert.Equal(t, protocol.TypeUpdate, recv(t, view).Type)
		assert.Equal(t, protocol.TypeModelRefresh, recv(t, view).Type)
	}

	// A closed view leaves the registry and the others keep receiving.
	require.NoError(t, views[0].Close())
	require.Eventually(t, func() bool { return p.Registry().Len("mem://phantom") == 2 },
		waitTimeout, 5*time.Millisecond)
	doc.Change()
	for _, view := range views[1:] {
		assert.Equal(t, protocol.TypeUpdate, recv(t, view).Type)
		assert.Equal(t, protocol.TypeModelRefresh, recv(t, view).Type)
	}

	// A disposed document stops forwarding.
	doc.Dispose()
	doc.Change()
	expectSilence(t, views[1])
}

func TestProviderHotReload(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping file watch test in short mode")
	}

	path := filepath.Join(t.TempDir(), "head.vol")
	require.NoError(t, os.WriteFile(path, []byte("VOL1"), 0644))

	p := NewProvider(config.DefaultConfig(), nil)
	doc := p.OpenDocument(path)
	host, view := protocol.Pipe()
	s, err := p.ResolveSession(doc, host)
	require.NoError(t, err)
	defer s.Dispose()

	require.NoError(t, os.WriteFile(path, []byte("VOL1 changed"), 0644))
	assert.Equal(t, protocol.TypeModelRefresh, recv(t, view).Type)
}

func TestWatcherIgnoresSiblings(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping file watch test in short mode")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "head.vol")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	w, err := NewWatcher(path)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.vol"), []byte("x"), 0644))
	select {
	case <-w.Changes():
		t.Fatal("sibling change reported")
	case <-time.After(200 * time.Millisecond):
	}

	require.NoError(t, os.Remove(path))
	select {
	case <-w.Changes():
	case <-time.After(waitTimeout):
		t.Fatal("removal not reported")
	}
}
