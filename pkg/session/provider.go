package session

import (
	"context"
	"log/slog"
	"os"

	"volview/internal/logging"
	"volview/pkg/config"
	"volview/pkg/protocol"
	"volview/pkg/volume"
)

// Provider opens documents and resolves the sessions that view them.
type Provider struct {
	cfg      *config.Config
	registry *Registry
	logger   *slog.Logger
}

// NewProvider returns a provider using cfg for every session it creates.
func NewProvider(cfg *config.Config, logger *slog.Logger) *Provider {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = logging.Component("provider")
	}
	return &Provider{cfg: cfg, registry: NewRegistry(), logger: logger}
}

// Registry returns the registry of live sessions.
func (p *Provider) Registry() *Registry { return p.registry }

// InitBody returns the init payload for a view of uri.
func InitBody(cfg *config.Config, uri string) protocol.InitBody {
	iso := cfg.Viewer.IsoThreshold
	return protocol.InitBody{
		FileToLoad:      uri,
		BackgroundColor: cfg.Viewer.BackgroundColor,
		FogDensity:      cfg.Viewer.FogDensity,
		RenderStyle:     cfg.Viewer.RenderStyle,
		Colormap:        cfg.Viewer.Colormap,
		IsoThreshold:    &iso,
		ShowGrid:        cfg.Viewer.ShowGrid,
		ShowAxes:        cfg.Viewer.ShowAxes,
		GridSize:        cfg.Viewer.GridSize,
		GridUnit:        cfg.Viewer.GridUnit,
		ShowStats:       cfg.Viewer.ShowStats,
	}
}

// OpenDocument creates the document for uri. Every change to it is
// forwarded to the sessions registered for uri as update followed by
// modelRefresh.
func (p *Provider) OpenDocument(uri string) *Document {
	doc := NewDocument(uri)
	unsubscribe := doc.OnChange(func() {
		p.registry.Broadcast(uri, func(s *ViewSession) {
			ctx := context.Background()
			if err := s.NotifyUpdate(ctx); err != nil {
				return
			}
			_ = s.Refresh(ctx)
		})
	})
	doc.Register(unsubscribe)
	p.logger.Info("document opened", "uri", uri)
	return doc
}

// ResolveSession creates a session for doc, registers it and attaches it to
// ch. When hot reload is enabled and doc is a local file, the session is
// refreshed whenever the file changes.
func (p *Provider) ResolveSession(doc *Document, ch protocol.Channel) (*ViewSession, error) {
	s := NewViewSession(doc.URI(), InitBody(p.cfg, doc.URI()))
	p.registry.Add(doc.URI(), s)

	if p.cfg.Host.HotReload {
		if path, ok := volume.LocalPath(doc.URI()); ok {
			if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
				p.watch(s, path)
			}
		}
	}

	if err := s.Attach(ch); err != nil {
		s.Dispose()
		return nil, err
	}
	p.logger.Info("session attached", "uri", doc.URI(), "session", s.ID(),
		"sessions", p.registry.Len(doc.URI()))
	return s, nil
}

func (p *Provider) watch(s *ViewSession, path string) {
	w, err := NewWatcher(path)
	if err != nil {
		p.logger.Warn("hot reload disabled", "path", path, "error", err)
		return
	}
	s.OnDispose(func() { _ = w.Close() })

	go func() {
		for {
			select {
			case <-s.Done():
				return
			case <-w.Changes():
				p.logger.Debug("file changed, refreshing view", "path", path, "session", s.ID())
				_ = s.Refresh(context.Background())
			}
		}
	}()
}
