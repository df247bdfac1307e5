// Package realtime implements the conversational AI leg of a call: a
// WebSocket client speaking an OpenAI Realtime style protocol. The
// orchestrator sends session configuration once at connect, then
// streams audio frames; the server answers with audio deltas,
// transcripts, and tool invocations.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Default connection parameters.
const (
	DefaultURL   = "wss://api.openai.com/v1/realtime"
	DefaultModel = "gpt-4o-realtime-preview"
)

// Client is one AI-channel connection.
type Client struct {
	ws     *websocket.Conn
	events chan Event
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Option configures Dial.
type Option func(*options)

type options struct {
	url    string
	model  string
	apiKey string
	dialer *websocket.Dialer
}

// WithURL overrides the API endpoint.
func WithURL(url string) Option {
	return func(o *options) {
		o.url = url
	}
}

// WithModel selects the model.
func WithModel(model string) Option {
	return func(o *options) {
		o.model = model
	}
}

// WithAPIKey sets the bearer token.
func WithAPIKey(key string) Option {
	return func(o *options) {
		o.apiKey = key
	}
}

// WithDialer overrides the WebSocket dialer, for tests.
func WithDialer(dialer *websocket.Dialer) Option {
	return func(o *options) {
		o.dialer = dialer
	}
}

// Dial opens an AI-channel connection and starts its read loop. The
// caller should send session configuration with Configure before
// streaming audio.
func Dial(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := &options{
		url:    DefaultURL,
		model:  DefaultModel,
		dialer: websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	header := http.Header{}
	if cfg.apiKey != "" {
		header.Set("Authorization", "Bearer "+cfg.apiKey)
	}
	header.Set("OpenAI-Beta", "realtime=v1")

	url := cfg.url
	if cfg.model != "" {
		url += "?model=" + cfg.model
	}

	ws, _, err := cfg.dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("realtime dial: %w", err)
	}

	c := &Client{
		ws:     ws,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Events returns the inbound event channel. It is closed after the
// terminal EventClosed is delivered.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Configure sends the session configuration: system instructions, tool
// schema, voice, and audio formats. Sent once, immediately after Dial.
func (c *Client) Configure(cfg SessionConfig) error {
	return c.writeJSON(clientEvent{
		Type: "session.update",
		Session: &sessionBody{
			Modalities:        []string{"text", "audio"},
			Instructions:      cfg.Instructions,
			Voice:             cfg.Voice,
			InputAudioFormat:  cfg.InputAudioFormat,
			OutputAudioFormat: cfg.OutputAudioFormat,
			Tools:             toolBodies(cfg.Tools),
		},
	})
}

// SendAudio appends one base64 audio frame to the input buffer.
func (c *Client) SendAudio(payload string) error {
	return c.writeJSON(clientEvent{Type: "input_audio_buffer.append", Audio: payload})
}

// SendToolResult answers a tool invocation. Every invocation must be
// answered, keyed by the invocation's call id, before the conversation
// can continue.
func (c *Client) SendToolResult(callID, output string) error {
	return c.writeJSON(clientEvent{
		Type: "conversation.item.create",
		Item: &itemBody{
			Type:   "function_call_output",
			CallID: callID,
			Output: output,
		},
	})
}

// CreateResponse asks the model to continue generating. Sent after
// every tool result so the conversation is never left waiting.
func (c *Client) CreateResponse() error {
	return c.writeJSON(clientEvent{Type: "response.create"})
}

// Close tears down the connection. Safe to call multiple times.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
	return nil
}

func (c *Client) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

// readLoop parses server events in arrival order. It is the sole
// sender on c.events and closes the channel on exit.
func (c *Client) readLoop() {
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

		var msg serverEvent
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "session.updated":
			// session.created precedes our session.update and does not
			// mean the configuration took; only the update ack does.
			c.emit(Event{Type: EventReady})

		case "input_audio_buffer.speech_started":
			c.emit(Event{Type: EventSpeechStarted})

		case "response.audio.delta":
			if msg.Delta != "" {
				c.emit(Event{Type: EventAudioDelta, Delta: msg.Delta})
			}

		case "response.audio_transcript.done":
			c.emit(Event{Type: EventTranscript, Role: "assistant", Transcript: msg.Transcript})

		case "conversation.item.input_audio_transcription.completed":
			c.emit(Event{Type: EventTranscript, Role: "caller", Transcript: msg.Transcript})

		case "response.function_call_arguments.done":
			c.emit(Event{Type: EventToolCall, Call: ToolCall{
				CallID:    msg.CallID,
				Name:      msg.Name,
				Arguments: json.RawMessage(msg.Arguments),
			}})

		case "error":
			var message string
			if msg.Error != nil {
				message = msg.Error.Message
			}
			c.emit(Event{Type: EventError, Err: fmt.Errorf("realtime: %s", message)})
		}
	}
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}
