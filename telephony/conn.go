// Package telephony implements the Twilio Media Streams leg of a call:
// a WebSocket connection carrying start/media/stop events inbound and
// media frames outbound.
package telephony

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// ErrClosed is returned by writes after the connection has closed.
var ErrClosed = errors.New("telephony: connection closed")

// EventType identifies a Media Streams event.
type EventType string

// Event types emitted on Conn.Events.
const (
	// EventConnected arrives first, before the stream is described.
	EventConnected EventType = "connected"

	// EventStart carries the stream and call identifiers and the
	// caller number from the stream's custom parameters.
	EventStart EventType = "start"

	// EventMedia carries one base64 audio frame.
	EventMedia EventType = "media"

	// EventStop signals that the carrier ended the stream.
	EventStop EventType = "stop"

	// EventClosed is emitted once when the socket closes, normally or
	// not; Err is set for abnormal closure. No events follow it.
	EventClosed EventType = "closed"
)

// Event is one inbound telephony event.
type Event struct {
	Type         EventType
	StreamID     string
	CallID       string
	CallerNumber string
	Payload      string // base64 audio frame for EventMedia
	Err          error
}

// Conn is one Media Streams WebSocket connection. Inbound events are
// delivered in arrival order on Events; outbound media is
// fire-and-forget with a bounded buffer that drops the oldest frame
// under pressure, never blocking the caller.
type Conn struct {
	ws     *websocket.Conn
	events chan Event
	out    chan outMessage
	done   chan struct{}

	closeOnce sync.Once

	mu       sync.RWMutex
	streamID string
	closed   bool
}

// Upgrader configures WebSocket upgrades for Media Streams endpoints.
// Twilio does not send a browser Origin header, so origin checking is
// disabled.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Accept upgrades an incoming HTTP request from the carrier to a
// Media Streams connection and starts its read and write loops.
func Accept(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	ws, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	c := &Conn{
		ws:     ws,
		events: make(chan Event, 64),
		out:    make(chan outMessage, 64),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	go c.writeLoop()
	return c, nil
}

// Events returns the inbound event channel. It is closed after
// EventClosed is delivered.
func (c *Conn) Events() <-chan Event {
	return c.events
}

// StreamID returns the stream identifier, empty until the start event
// has been processed.
func (c *Conn) StreamID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.streamID
}

// SendMedia queues one base64 audio frame for the caller. Frames are
// sent in order; under pressure the oldest queued frame is dropped.
func (c *Conn) SendMedia(payload string) error {
	return c.send(outMessage{kind: outMedia, payload: payload})
}

// Clear asks the carrier to discard any audio it has buffered but not
// yet played, for barge-in.
func (c *Conn) Clear() error {
	return c.send(outMessage{kind: outClear})
}

func (c *Conn) send(msg outMessage) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	select {
	case c.out <- msg:
	default:
		// Buffer full: drop the oldest frame to keep latency bounded.
		select {
		case <-c.out:
		default:
		}
		select {
		case c.out <- msg:
		case <-c.done:
			return ErrClosed
		}
	}
	return nil
}

// Close tears down the socket. Safe to call multiple times and
// concurrently with the read and write loops.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		close(c.done)
		_ = c.ws.Close()
	})
	return nil
}

// Media Streams wire types.
type mediaMessage struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid,omitempty"`
	Start     *startMessage `json:"start,omitempty"`
	Media     *mediaPayload `json:"media,omitempty"`
	Stop      *stopMessage  `json:"stop,omitempty"`
}

type startMessage struct {
	StreamSID    string            `json:"streamSid"`
	AccountSID   string            `json:"accountSid"`
	CallSID      string            `json:"callSid"`
	CustomParams map[string]string `json:"customParameters"`
}

type mediaPayload struct {
	Track     string `json:"track"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"` // base64 encoded audio
}

type stopMessage struct {
	AccountSID string `json:"accountSid"`
	CallSID    string `json:"callSid"`
}

// readLoop reads carrier messages and turns them into Events. It is
// the sole sender on c.events and closes the channel on exit.
func (c *Conn) readLoop() {
	defer close(c.events)
	defer func() { _ = c.Close() }()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = nil
			}
			select {
			case <-c.done:
				err = nil
			default:
			}
			c.emit(Event{Type: EventClosed, Err: err})
			return
		}

		var msg mediaMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Event {
		case "connected":
			c.emit(Event{Type: EventConnected})

		case "start":
			if msg.Start == nil {
				continue
			}
			c.mu.Lock()
			c.streamID = msg.Start.StreamSID
			c.mu.Unlock()

			c.emit(Event{
				Type:         EventStart,
				StreamID:     msg.Start.StreamSID,
				CallID:       msg.Start.CallSID,
				CallerNumber: msg.Start.CustomParams["callerNumber"],
			})

		case "media":
			if msg.Media == nil || msg.Media.Payload == "" {
				continue
			}
			c.emit(Event{Type: EventMedia, Payload: msg.Media.Payload})

		case "stop":
			c.emit(Event{Type: EventStop})
		}
	}
}

// emit delivers an event unless the connection is shutting down.
func (c *Conn) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

type outKind int

const (
	outMedia outKind = iota
	outClear
)

type outMessage struct {
	kind    outKind
	payload string
}

// writeLoop drains queued outbound messages to the socket.
func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.out:
			var body any
			switch msg.kind {
			case outMedia:
				body = map[string]any{
					"event":     "media",
					"streamSid": c.StreamID(),
					"media":     map[string]string{"payload": msg.payload},
				}
			case outClear:
				body = map[string]any{
					"event":     "clear",
					"streamSid": c.StreamID(),
				}
			}
			if err := c.ws.WriteJSON(body); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}
