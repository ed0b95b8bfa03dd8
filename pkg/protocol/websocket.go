package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"volview/internal/logging"
)

// writeTimeout bounds a single websocket write.
const writeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// WebSocket is a Channel over a websocket connection carrying one JSON
// message per text frame.
type WebSocket struct {
	conn *websocket.Conn
	out  chan Message

	writeMu sync.Mutex
	once    sync.Once
	done    chan struct{}
}

// NewWebSocket wraps an established connection and starts reading from it.
func NewWebSocket(conn *websocket.Conn) *WebSocket {
	ws := &WebSocket{
		conn: conn,
		out:  make(chan Message, 16),
		done: make(chan struct{}),
	}
	go ws.readLoop()
	return ws
}

// Upgrade accepts a websocket connection on an HTTP request.
func Upgrade(w http.ResponseWriter, r *http.Request) (*WebSocket, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewWebSocket(conn), nil
}

// Dial connects to a websocket endpoint.
func Dial(ctx context.Context, url string) (*WebSocket, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return NewWebSocket(conn), nil
}

func (ws *WebSocket) readLoop() {
	logger := logging.Component("protocol")
	defer close(ws.out)
	defer ws.shutdown()

	for {
		_, data, err := ws.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				select {
				case <-ws.done:
				default:
					logger.Debug("websocket read ended", "error", err)
				}
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil || !msg.Valid() {
			logger.Debug("ignoring malformed message", "error", err, "size", len(data))
			continue
		}

		select {
		case ws.out <- msg:
		case <-ws.done:
			return
		}
	}
}

// Send implements Channel.
func (ws *WebSocket) Send(ctx context.Context, msg Message) error {
	select {
	case <-ws.done:
		return ErrChannelClosed
	default:
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = ws.conn.SetWriteDeadline(deadline)
	if err := ws.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) {
			return ErrChannelClosed
		}
		select {
		case <-ws.done:
			return ErrChannelClosed
		default:
		}
		return err
	}
	return nil
}

// Receive implements Channel.
func (ws *WebSocket) Receive() <-chan Message { return ws.out }

// Done implements Channel.
func (ws *WebSocket) Done() <-chan struct{} { return ws.done }

// Close sends a close frame and closes the connection.
func (ws *WebSocket) Close() error {
	var err error
	ws.once.Do(func() {
		ws.writeMu.Lock()
		_ = ws.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		ws.writeMu.Unlock()
		close(ws.done)
		err = ws.conn.Close()
	})
	return err
}

// shutdown closes the connection after the peer went away.
func (ws *WebSocket) shutdown() {
	ws.once.Do(func() {
		close(ws.done)
		_ = ws.conn.Close()
	})
}
