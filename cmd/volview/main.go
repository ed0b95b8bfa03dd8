package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"time"

	"volview/internal/logging"
	"volview/pkg/config"
	"volview/pkg/gpu/soft"
	"volview/pkg/protocol"
	"volview/pkg/session"
	"volview/pkg/viewer"
	"volview/pkg/visualization"
	"volview/pkg/volume"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "volview.yaml", "YAML configuration file")
	writeConfig := flag.Bool("write-config", false, "Write the default configuration to -config and exit")
	listen := flag.String("listen", "", "Address to accept websocket views on, e.g. :8080")
	views := flag.Int("views", 1, "Number of headless views to run in process")
	frames := flag.Int("frames", 0, "Stop after rendering this many frames per view (0 runs until interrupted)")
	outDir := flag.String("out", "", "Directory to save view snapshots to")
	extractSlices := flag.Bool("extract-slices", false, "Save the loaded volume's slices along all axes to -out")
	logLevel := flag.String("log", "", "Log level override: debug, info, warn or error")
	flag.Parse()

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *listen != "" {
		cfg.Host.Listen = *listen
	}
	if *outDir != "" {
		cfg.Output.SnapshotDir = *outDir
	}
	if *logLevel != "" {
		cfg.Output.LogLevel = *logLevel
	}

	logging.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logging.ParseLevel(cfg.Output.LogLevel),
	})))

	store := volume.NewMemoryStore()
	resolver := volume.NewResolver()
	resolver.Register(volume.MemoryScheme, store)

	uri := flag.Arg(0)
	if uri == "" {
		uri = store.Put("phantom", phantom(64))
	}

	fmt.Println("================================")
	fmt.Println("VOLVIEW - interactive volume viewer")
	fmt.Println("================================")
	fmt.Printf("Dataset: %s\n", uri)
	fmt.Printf("Render style: %s, colormap: %s\n", cfg.Viewer.RenderStyle, cfg.Viewer.Colormap)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := describe(ctx, resolver, uri, cfg.Output.SnapshotDir, *extractSlices); err != nil {
		// views report the failure themselves and wait for a reload
		fmt.Printf("Warning: %v\n", err)
	}

	provider := session.NewProvider(cfg, nil)
	doc := provider.OpenDocument(uri)
	defer doc.Dispose()

	if cfg.Host.Listen != "" {
		srv := serve(ctx, cfg.Host.Listen, provider, doc)
		defer srv.Close()
		fmt.Printf("Accepting websocket views on ws://%s/view\n", cfg.Host.Listen)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	sessions := make([]*session.ViewSession, 0, *views)
	for i := 0; i < *views; i++ {
		s, err := startHeadless(runCtx, &wg, cfg, resolver, provider, doc)
		if err != nil {
			log.Fatalf("Failed to start view: %v", err)
		}
		sessions = append(sessions, s)
	}
	if *views > 0 {
		fmt.Printf("Started %d headless view(s) at %d fps\n", *views, cfg.Host.FramesPerSecond)
	}

	if *frames > 0 && *views > 0 {
		runFor := time.Duration(*frames) * time.Second / time.Duration(cfg.Host.FramesPerSecond)
		select {
		case <-time.After(runFor):
		case <-ctx.Done():
		}
		for _, s := range sessions {
			report(ctx, s, cfg.Output.SnapshotDir)
		}
		cancel()
		wg.Wait()
		return
	}

	<-ctx.Done()
	fmt.Println("\nShutting down...")
	cancel()
	wg.Wait()
}

// describe loads the dataset once on the host to print its statistics and
// optionally dump its slices.
func describe(ctx context.Context, loader volume.Loader, uri, outDir string, slices bool) error {
	start := time.Now()
	raw, err := loader.Load(ctx, uri)
	if err != nil {
		return err
	}
	buf, err := volume.Normalize(raw)
	if err != nil {
		return err
	}
	summary := volume.Summarize(buf)

	fmt.Printf("\nVolume %s loaded in %.2f seconds\n", buf.Dims, time.Since(start).Seconds())
	fmt.Printf("- Voxels: %d\n", summary.Voxels)
	fmt.Printf("- Raw range: [%g, %g]\n", summary.RawMin, summary.RawMax)
	fmt.Printf("- Normalized mean: %.3f, std dev: %.3f\n\n", summary.Mean, summary.StdDev)

	if !slices {
		return nil
	}
	if outDir == "" {
		return errors.New("-extract-slices needs -out")
	}
	slicer := visualization.NewSlicer(buf)
	for _, axis := range []visualization.Axis{visualization.AxisX, visualization.AxisY, visualization.AxisZ} {
		axisDir := filepath.Join(outDir, "slices", axis.String())
		fmt.Printf("Saving %s-axis slices to: %s\n", axis, axisDir)
		if err := slicer.SaveSliceSequence(axis, axisDir); err != nil {
			log.Printf("Warning: Failed to save %s-axis slices: %v", axis, err)
		}
	}
	return nil
}

func serve(ctx context.Context, addr string, provider *session.Provider, doc *session.Document) *http.Server {
	logger := logging.Component("http")
	mux := http.NewServeMux()
	mux.HandleFunc("/view", func(w http.ResponseWriter, r *http.Request) {
		ws, err := protocol.Upgrade(w, r)
		if err != nil {
			logger.Warn("websocket upgrade failed", "error", err)
			return
		}
		if _, err := provider.ResolveSession(doc, ws); err != nil {
			logger.Warn("failed to resolve session", "error", err)
			_ = ws.Close()
		}
	})
	mux.HandleFunc("/refresh", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		doc.Change()
		w.WriteHeader(http.StatusNoContent)
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err)
		}
	}()
	return srv
}

func startHeadless(ctx context.Context, wg *sync.WaitGroup, cfg *config.Config, loader volume.Loader,
	provider *session.Provider, doc *session.Document) (*session.ViewSession, error) {
	host, view := protocol.Pipe()
	s, err := provider.ResolveSession(doc, host)
	if err != nil {
		return nil, err
	}

	device := soft.NewDevice(soft.Options{Workers: cfg.Render.Workers, Steps: cfg.Render.Steps})
	v, err := viewer.New(view, viewer.Options{
		Device: device,
		Loader: loader,
		Width:  cfg.Host.Width,
		Height: cfg.Host.Height,
	})
	if err != nil {
		s.Dispose()
		return nil, err
	}

	ticker := time.NewTicker(time.Second / time.Duration(cfg.Host.FramesPerSecond))
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer ticker.Stop()
		if err := v.Run(ctx, ticker.C); err != nil && !errors.Is(err, context.Canceled) {
			logging.Component("viewer").Error("view stopped", "session", s.ID(), "error", err)
		}
	}()
	return s, nil
}

// report prints the state of a headless view and saves its last frame.
func report(ctx context.Context, s *session.ViewSession, outDir string) {
	if err := s.LastError(); err != nil {
		fmt.Printf("View %d failed: %v\n", s.ID(), err)
		return
	}
	if s.State() != session.StateActive {
		fmt.Printf("View %d did not finish loading\n", s.ID())
		return
	}
	if outDir == "" {
		fmt.Printf("View %d active\n", s.ID())
		return
	}

	got := make(chan protocol.Message, 1)
	if _, err := s.Request(ctx, protocol.TypeSnapshot, nil, func(msg protocol.Message) { got <- msg }); err != nil {
		fmt.Printf("View %d snapshot failed: %v\n", s.ID(), err)
		return
	}

	var msg protocol.Message
	select {
	case msg = <-got:
	case <-time.After(10 * time.Second):
		fmt.Printf("View %d snapshot timed out\n", s.ID())
		return
	}

	var img protocol.ImageBody
	if err := msg.Decode(&img); err != nil || len(img.PNG) == 0 {
		var failed protocol.ErrorBody
		_ = msg.Decode(&failed)
		fmt.Printf("View %d snapshot failed: %s\n", s.ID(), failed.Error)
		return
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		log.Printf("Warning: %v", err)
		return
	}
	path := filepath.Join(outDir, fmt.Sprintf("view_%03d.png", s.ID()))
	if err := os.WriteFile(path, img.PNG, 0644); err != nil {
		log.Printf("Warning: Failed to save snapshot: %v", err)
		return
	}
	fmt.Printf("View %d snapshot saved to: %s\n", s.ID(), path)
}
