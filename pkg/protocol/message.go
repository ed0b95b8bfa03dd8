// Package protocol defines the messages exchanged between a host session and
// its presentation surface, and the channels that carry them.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Type names a message kind.
type Type string

const (
	// TypeReady is sent once by the presentation when it starts.
	TypeReady Type = "ready"
	// TypeInit carries the initial configuration to the presentation.
	TypeInit Type = "init"
	// TypeModelRefresh tells the presentation to reload the dataset.
	TypeModelRefresh Type = "modelRefresh"
	// TypeUpdate is a generic document level change notification.
	TypeUpdate Type = "update"
	// TypeResponse answers a request and carries its requestId.
	TypeResponse Type = "response"
	// TypeLoaded reports a successful load to the host.
	TypeLoaded Type = "loaded"
	// TypeLoadError reports a failed load to the host.
	TypeLoadError Type = "loadError"
)

// Request kinds the host may send with a requestId.
const (
	TypeGetConfig Type = "getConfig"
	TypeSnapshot  Type = "snapshot"
	TypeSlice     Type = "slice"
)

// ErrChannelClosed is returned when sending on a closed channel.
var ErrChannelClosed = errors.New("message channel closed")

// Message is the envelope of every exchange. Body is an arbitrary JSON
// object; RequestID is set on requests and on their responses.
type Message struct {
	Type      Type            `json:"type"`
	Body      json.RawMessage `json:"body,omitempty"`
	RequestID *int64          `json:"requestId,omitempty"`
}

// New builds a message with body encoded as JSON. A nil body is omitted.
func New(t Type, body any) (Message, error) {
	msg := Message{Type: t}
	if body == nil {
		return msg, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return Message{}, fmt.Errorf("error encoding %s body: %w", t, err)
	}
	msg.Body = data
	return msg, nil
}

// MustNew is New for bodies that always encode.
func MustNew(t Type, body any) Message {
	msg, err := New(t, body)
	if err != nil {
		panic(err)
	}
	return msg
}

// WithRequestID returns a copy of m carrying id.
func (m Message) WithRequestID(id int64) Message {
	m.RequestID = &id
	return m
}

// Decode unmarshals the body into v. An empty body leaves v untouched.
func (m Message) Decode(v any) error {
	if len(m.Body) == 0 || bytes.Equal(m.Body, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(m.Body, v); err != nil {
		return fmt.Errorf("error decoding %s body: %w", m.Type, err)
	}
	return nil
}

// Valid reports whether the message names a type. Messages without one are
// ignored by every receiver.
func (m Message) Valid() bool {
	return m.Type != ""
}

// UnmarshalJSON accepts both the envelope object and a bare string, which
// is read as a message of that type without a body.
func (m *Message) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var t string
		if err := json.Unmarshal(trimmed, &t); err != nil {
			return err
		}
		*m = Message{Type: Type(t)}
		return nil
	}

	type envelope Message
	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return err
	}
	*m = Message(env)
	return nil
}

// InitBody is the configuration sent with init. The presentation does not
// start loading before it has received it.
type InitBody struct {
	FileToLoad      string   `json:"fileToLoad"`
	BackgroundColor string   `json:"backgroundColor"`
	FogDensity      float64  `json:"fogDensity"`
	RenderStyle     string   `json:"renderStyle"`
	Colormap        string   `json:"colormap"`
	IsoThreshold    *float64 `json:"isoThreshold,omitempty"`
	ShowGrid        bool     `json:"showGrid"`
	ShowAxes        bool     `json:"showAxes"`
	GridSize        float64  `json:"gridSize"`
	GridUnit        float64  `json:"gridUnit"`
	ShowStats       bool     `json:"showStats"`
}

// LoadedBody describes a successfully loaded volume.
type LoadedBody struct {
	URI    string  `json:"uri"`
	Dims   [3]int  `json:"dims"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stdDev"`
	RawMin float64 `json:"rawMin"`
	RawMax float64 `json:"rawMax"`
}

// LoadErrorBody describes a failed load.
type LoadErrorBody struct {
	URI     string `json:"uri"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// SliceRequest asks for one axis aligned slice image.
type SliceRequest struct {
	Axis     string `json:"axis"`
	Position int    `json:"position"`
}

// ImageBody carries a PNG image, base64 encoded by encoding/json.
type ImageBody struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	PNG    []byte `json:"png"`
}

// ErrorBody is the response body of a request that failed.
type ErrorBody struct {
	Error string `json:"error"`
}
