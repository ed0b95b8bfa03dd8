package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"volview/internal/logging"
	"volview/pkg/protocol"
)

// State is the lifecycle position of a ViewSession.
type State int32

const (
	// StateCreated has no channel yet.
	StateCreated State = iota
	// StateAttached has a channel and waits for the presentation to load.
	StateAttached
	// StateActive has delivered init and the presentation reported a load.
	StateActive
	// StateDisposed is terminal.
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAttached:
		return "attached"
	case StateActive:
		return "active"
	case StateDisposed:
		return "disposed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// LoadFailure is the last load error a presentation reported.
type LoadFailure struct {
	URI     string
	Kind    string
	Message string
}

func (e *LoadFailure) Error() string {
	return fmt.Sprintf("%s loading %s: %s", e.Kind, e.URI, e.Message)
}

// ResponseFunc receives the response to a request.
type ResponseFunc func(protocol.Message)

var sessionIDs atomic.Uint64

// ViewSession is the host side of one live view. It owns the message
// channel to its presentation and processes inbound messages in order on a
// single goroutine.
type ViewSession struct {
	id     uint64
	uri    string
	init   protocol.InitBody
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	ch          protocol.Channel
	initSent    bool
	failure     *LoadFailure
	loaded      *protocol.LoadedBody
	nextRequest int64
	pending     map[int64]ResponseFunc
	listeners   map[int]func()
	nextID      int
	changed     chan struct{}
	done        chan struct{}
}

// Option configures a ViewSession.
type Option func(*ViewSession)

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *ViewSession) { s.logger = l }
}

// NewViewSession creates a session for uri that will send init as its
// initial configuration.
func NewViewSession(uri string, init protocol.InitBody, opts ...Option) *ViewSession {
	s := &ViewSession{
		id:        sessionIDs.Add(1),
		uri:       uri,
		init:      init,
		pending:   make(map[int64]ResponseFunc),
		listeners: make(map[int]func()),
		changed:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Component("session")
	}
	s.logger = s.logger.With("session", s.id, "uri", uri)
	return s
}

// ID returns the process unique session id.
func (s *ViewSession) ID() uint64 { return s.id }

// URI returns the document the session views.
func (s *ViewSession) URI() string { return s.uri }

// State returns the current lifecycle state.
func (s *ViewSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the last load failure, or nil once a load succeeded.
func (s *ViewSession) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure == nil {
		return nil
	}
	return s.failure
}

// Loaded returns the description of the last successful load.
func (s *ViewSession) Loaded() (protocol.LoadedBody, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded == nil {
		return protocol.LoadedBody{}, false
	}
	return *s.loaded, true
}

// Done is closed when the session is disposed.
func (s *ViewSession) Done() <-chan struct{} { return s.done }

// Attach connects the session to its presentation and starts processing
// inbound messages.
func (s *ViewSession) Attach(ch protocol.Channel) error {
	s.mu.Lock()
	if s.state != StateCreated {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("cannot attach session in state %s", state)
	}
	s.ch = ch
	s.setState(StateAttached)
	s.mu.Unlock()

	go s.run(ch)
	return nil
}

func (s *ViewSession) run(ch protocol.Channel) {
	for {
		select {
		case msg, ok := <-ch.Receive():
			if !ok {
				s.logger.Debug("presentation closed")
				s.Dispose()
				return
			}
			s.handle(msg)
		case <-s.done:
			return
		}
	}
}

func (s *ViewSession) handle(msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeReady:
		s.mu.Lock()
		first := !s.initSent
		s.initSent = true
		s.mu.Unlock()
		if !first {
			s.logger.Debug("duplicate ready ignored")
			return
		}
		s.send(context.Background(), protocol.MustNew(protocol.TypeInit, s.init))

	case protocol.TypeLoaded:
		var body protocol.LoadedBody
		if err := msg.Decode(&body); err != nil {
			s.logger.Warn("bad loaded message", "error", err)
			return
		}
		s.mu.Lock()
		if s.state != StateDisposed {
			s.loaded = &body
			s.failure = nil
			s.setState(StateActive)
		}
		s.mu.Unlock()
		s.logger.Info("view loaded", "dims", body.Dims)

	case protocol.TypeLoadError:
		var body protocol.LoadErrorBody
		if err := msg.Decode(&body); err != nil {
			s.logger.Warn("bad loadError message", "error", err)
			return
		}
		if body.URI == "" {
			body.URI = s.uri
		}
		s.mu.Lock()
		if s.state != StateDisposed {
			s.failure = &LoadFailure{URI: body.URI, Kind: body.Kind, Message: body.Message}
			s.setState(StateAttached)
		}
		s.mu.Unlock()
		s.logger.Warn("view failed to load", "kind", body.Kind, "message", body.Message)

	case protocol.TypeResponse:
		if msg.RequestID == nil {
			return
		}
		s.mu.Lock()
		cb, ok := s.pending[*msg.RequestID]
		delete(s.pending, *msg.RequestID)
		s.mu.Unlock()
		if !ok {
			s.logger.Debug("dropping stale response", "requestId", *msg.RequestID)
			return
		}
		cb(msg)

	default:
		s.logger.Debug("ignoring message", "type", msg.Type)
	}
}

// Request sends a request of kind t and arranges for cb to run once with
// the matching response. Callbacks still pending at dispose are dropped.
func (s *ViewSession) Request(ctx context.Context, t protocol.Type, body any, cb ResponseFunc) (int64, error) {
	msg, err := protocol.New(t, body)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	if s.state == StateCreated || s.state == StateDisposed {
		s.mu.Unlock()
		return 0, protocol.ErrChannelClosed
	}
	s.nextRequest++
	id := s.nextRequest
	if cb != nil {
		s.pending[id] = cb
	}
	s.mu.Unlock()

	if err := s.ch.Send(ctx, msg.WithRequestID(id)); err != nil {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return 0, err
	}
	return id, nil
}

// Pending returns the number of requests awaiting a response.
func (s *ViewSession) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Refresh tells the presentation to reload the dataset.
func (s *ViewSession) Refresh(ctx context.Context) error {
	return s.send(ctx, protocol.MustNew(protocol.TypeModelRefresh, nil))
}

// NotifyUpdate forwards a document level change.
func (s *ViewSession) NotifyUpdate(ctx context.Context) error {
	return s.send(ctx, protocol.MustNew(protocol.TypeUpdate, nil))
}

// send delivers msg when a channel is attached. Sends racing with disposal
// are dropped silently.
func (s *ViewSession) send(ctx context.Context, msg protocol.Message) error {
	s.mu.Lock()
	ch := s.ch
	state := s.state
	s.mu.Unlock()
	if ch == nil || state == StateDisposed {
		return nil
	}
	if err := ch.Send(ctx, msg); err != nil {
		if errors.Is(err, protocol.ErrChannelClosed) {
			s.logger.Debug("send after close dropped", "type", msg.Type)
			return nil
		}
		s.logger.Warn("send failed", "type", msg.Type, "error", err)
		return err
	}
	return nil
}

// OnDispose registers fn to run once when the session is disposed. If the
// session is already disposed fn runs immediately.
func (s *ViewSession) OnDispose(fn func()) func() {
	s.mu.Lock()
	if s.state == StateDisposed {
		s.mu.Unlock()
		fn()
		return func() {}
	}
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Dispose closes the channel, drops pending callbacks and notifies dispose
// listeners. It is idempotent.
func (s *ViewSession) Dispose() {
	s.mu.Lock()
	if s.state == StateDisposed {
		s.mu.Unlock()
		return
	}
	s.setState(StateDisposed)
	ch := s.ch
	s.pending = make(map[int64]ResponseFunc)
	listeners := make([]func(), 0, len(s.listeners))
	for id := 0; id < s.nextID; id++ {
		if fn, ok := s.listeners[id]; ok {
			listeners = append(listeners, fn)
		}
	}
	clear(s.listeners)
	close(s.done)
	s.mu.Unlock()

	if ch != nil {
		if err := ch.Close(); err != nil {
			s.logger.Debug("error closing channel", "error", err)
		}
	}
	for _, fn := range listeners {
		fn()
	}
	s.logger.Debug("session disposed")
}

// WaitState blocks until the session reaches want or is disposed.
func (s *ViewSession) WaitState(ctx context.Context, want State) error {
	for {
		s.mu.Lock()
		state := s.state
		changed := s.changed
		s.mu.Unlock()
		if state == want {
			return nil
		}
		if state == StateDisposed {
			return protocol.ErrChannelClosed
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// setState records a transition and wakes waiters. s.mu must be held.
func (s *ViewSession) setState(state State) {
	s.state = state
	close(s.changed)
	s.changed = make(chan struct{})
}
