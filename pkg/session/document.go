// Package session implements the host side of the view lifecycle: documents,
// the sessions attached to them, and the registry that fans document changes
// out to every attached view.
package session

import (
	"slices"
	"sync"
)

// Document is the single authoritative handle for one opened dataset. It
// carries a change stream and a dispose stream, both with any number of
// listeners.
type Document struct {
	uri string

	mu          sync.Mutex
	nextID      int
	onDispose   map[int]func()
	onChange    map[int]func()
	disposables []func()
	disposed    bool
	cleanups    int
}

// NewDocument opens a document for uri.
func NewDocument(uri string) *Document {
	return &Document{
		uri:       uri,
		onDispose: make(map[int]func()),
		onChange:  make(map[int]func()),
	}
}

// URI returns the resource locator the document was opened with.
func (d *Document) URI() string { return d.uri }

// OnDispose registers fn to run when the document is disposed. The returned
// func removes the listener.
func (d *Document) OnDispose(fn func()) func() {
	return d.subscribe(d.onDispose, fn)
}

// OnChange registers fn to run on every document change.
func (d *Document) OnChange(fn func()) func() {
	return d.subscribe(d.onChange, fn)
}

func (d *Document) subscribe(set map[int]func(), fn func()) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.disposed {
		return func() {}
	}
	id := d.nextID
	d.nextID++
	set[id] = fn
	return func() {
		d.mu.Lock()
		delete(set, id)
		d.mu.Unlock()
	}
}

// Register ties fn to the document lifetime: it runs once during cleanup,
// or immediately when the document is already disposed.
func (d *Document) Register(fn func()) {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		fn()
		return
	}
	d.disposables = append(d.disposables, fn)
	d.mu.Unlock()
}

// Change fires the change stream. It does nothing after dispose.
func (d *Document) Change() {
	for _, fn := range d.snapshot(d.onChange) {
		fn()
	}
}

// Dispose fires the dispose stream and then cleans the document up:
// listeners are dropped and registered disposables run in reverse order.
// Calling it again is safe and has no effect.
func (d *Document) Dispose() {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return
	}
	listeners := d.ordered(d.onDispose)
	d.disposed = true
	d.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
	d.cleanup()
}

func (d *Document) cleanup() {
	d.mu.Lock()
	d.cleanups++
	disposables := d.disposables
	d.disposables = nil
	clear(d.onDispose)
	clear(d.onChange)
	d.mu.Unlock()

	for i := len(disposables) - 1; i >= 0; i-- {
		disposables[i]()
	}
}

// Disposed reports whether Dispose has run.
func (d *Document) Disposed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disposed
}

// snapshot copies the live listeners of set so they can run without the
// lock held.
func (d *Document) snapshot(set map[int]func()) []func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.disposed {
		return nil
	}
	return d.ordered(set)
}

// ordered returns the listeners of set in registration order. d.mu must be
// held.
func (d *Document) ordered(set map[int]func()) []func() {
	ids := make([]int, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(), len(ids))
	for i, id := range ids {
		fns[i] = set[id]
	}
	return fns
}
