package volume

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"volview/internal/models"
)

// Loader resolves a dataset locator into a raw volume.
type Loader interface {
	Load(ctx context.Context, uri string) (*models.RawVolume, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, uri string) (*models.RawVolume, error)

func (f LoaderFunc) Load(ctx context.Context, uri string) (*models.RawVolume, error) {
	return f(ctx, uri)
}

// Resolver dispatches a locator to the loader registered for its scheme.
// A locator without a scheme is treated as a local file path.
type Resolver struct {
	mu      sync.RWMutex
	schemes map[string]Loader
}

// NewResolver returns a resolver with the file scheme registered.
func NewResolver() *Resolver {
	r := &Resolver{schemes: make(map[string]Loader)}
	r.Register("file", FileLoader{})
	return r
}

// Register installs l for the given scheme, replacing any previous loader.
func (r *Resolver) Register(scheme string, l Loader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemes[strings.ToLower(scheme)] = l
}

// Load implements Loader. Every failure to resolve or read the locator is
// returned as a *ResourceLoadError; format errors from the loader pass through.
func (r *Resolver) Load(ctx context.Context, uri string) (*models.RawVolume, error) {
	scheme := "file"
	if u, err := url.Parse(uri); err == nil && len(u.Scheme) > 1 {
		// single letter schemes are windows drive letters
		scheme = strings.ToLower(u.Scheme)
	}

	r.mu.RLock()
	l, ok := r.schemes[scheme]
	r.mu.RUnlock()
	if !ok {
		return nil, &ResourceLoadError{URI: uri, Err: fmt.Errorf("no loader for scheme %q", scheme)}
	}
	return l.Load(ctx, uri)
}

// LocalPath returns the file system path for a file locator or a bare path,
// and false for any other scheme.
func LocalPath(uri string) (string, bool) {
	u, err := url.Parse(uri)
	if err != nil || len(u.Scheme) <= 1 {
		return uri, uri != ""
	}
	if !strings.EqualFold(u.Scheme, "file") {
		return "", false
	}
	return filepath.FromSlash(u.Path), u.Path != ""
}

// FileLoader loads raw .vol files and directories of slice images.
type FileLoader struct{}

func (FileLoader) Load(ctx context.Context, uri string) (*models.RawVolume, error) {
	path, ok := LocalPath(uri)
	if !ok {
		return nil, &ResourceLoadError{URI: uri, Err: fmt.Errorf("not a local file locator")}
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, &ResourceLoadError{URI: uri, Err: err}
	}

	if info.IsDir() {
		vol, err := LoadSliceStack(ctx, path)
		if err != nil {
			return nil, wrapLoad(uri, err)
		}
		return vol, nil
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case RawExt:
		vol, err := ReadRawFile(path)
		if err != nil {
			return nil, wrapLoad(uri, err)
		}
		return vol, nil
	default:
		return nil, &ResourceLoadError{URI: uri, Err: fmt.Errorf("unrecognized volume file extension %q", filepath.Ext(path))}
	}
}

// wrapLoad wraps err as a ResourceLoadError unless it already describes a
// format problem.
func wrapLoad(uri string, err error) error {
	switch err.(type) {
	case *UnsupportedFormatError, *ResourceLoadError:
		return err
	}
	return &ResourceLoadError{URI: uri, Err: err}
}

// MemoryStore serves volumes registered in memory under mem://<name>.
type MemoryStore struct {
	mu      sync.RWMutex
	volumes map[string]*models.RawVolume
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{volumes: make(map[string]*models.RawVolume)}
}

// MemoryScheme is the locator scheme served by MemoryStore.
const MemoryScheme = "mem"

// Put stores vol under name and returns its locator.
func (s *MemoryStore) Put(name string, vol *models.RawVolume) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volumes[name] = vol
	return MemoryScheme + "://" + name
}

// Load implements Loader.
func (s *MemoryStore) Load(ctx context.Context, uri string) (*models.RawVolume, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ResourceLoadError{URI: uri, Err: err}
	}
	name := strings.TrimPrefix(uri, MemoryScheme+"://")
	s.mu.RLock()
	vol, ok := s.volumes[name]
	s.mu.RUnlock()
	if !ok {
		return nil, &ResourceLoadError{URI: uri, Err: fmt.Errorf("no volume named %q", name)}
	}
	return vol, nil
}

// Delete removes the volume stored under name.
func (s *MemoryStore) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.volumes, name)
}
