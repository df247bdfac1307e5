package realtime

import "encoding/json"

// EventType identifies an AI-channel event.
type EventType string

// Event types emitted on Client.Events.
const (
	// EventReady signals that the session configuration was accepted
	// and the channel will take audio.
	EventReady EventType = "ready"

	// EventAudioDelta carries one base64 chunk of synthesized speech.
	EventAudioDelta EventType = "audio_delta"

	// EventTranscript carries a completed transcript line for either
	// side of the conversation.
	EventTranscript EventType = "transcript"

	// EventToolCall carries a structured tool invocation.
	EventToolCall EventType = "tool_call"

	// EventSpeechStarted signals that the caller began talking over
	// the assistant; the orchestrator uses it for barge-in.
	EventSpeechStarted EventType = "speech_started"

	// EventError carries a non-fatal server-reported error.
	EventError EventType = "error"

	// EventClosed is emitted once when the socket closes; Err is set
	// for abnormal closure. No events follow it.
	EventClosed EventType = "closed"
)

// Event is one inbound AI-channel event.
type Event struct {
	Type       EventType
	Delta      string // base64 audio for EventAudioDelta
	Role       string // "assistant" or "caller" for EventTranscript
	Transcript string
	Call       ToolCall
	Err        error
}

// ToolCall is a structured, named request from the model asking the
// orchestrator to perform an order mutation.
type ToolCall struct {
	CallID    string
	Name      string
	Arguments json.RawMessage
}

// SessionConfig is sent once at connect.
type SessionConfig struct {
	Instructions      string
	Voice             string
	InputAudioFormat  string
	OutputAudioFormat string
	Tools             []ToolDef
}

// ToolDef declares one tool the model may invoke. Parameters is a
// JSON Schema object.
type ToolDef struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// clientEvent is the wire shape for everything the orchestrator sends.
type clientEvent struct {
	Type    string       `json:"type"`
	Audio   string       `json:"audio,omitempty"`
	Session *sessionBody `json:"session,omitempty"`
	Item    *itemBody    `json:"item,omitempty"`
}

type sessionBody struct {
	Modalities        []string   `json:"modalities"`
	Instructions      string     `json:"instructions"`
	Voice             string     `json:"voice,omitempty"`
	InputAudioFormat  string     `json:"input_audio_format,omitempty"`
	OutputAudioFormat string     `json:"output_audio_format,omitempty"`
	Tools             []toolBody `json:"tools,omitempty"`
}

type toolBody struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

func toolBodies(defs []ToolDef) []toolBody {
	bodies := make([]toolBody, 0, len(defs))
	for _, def := range defs {
		bodies = append(bodies, toolBody{
			Type:        "function",
			Name:        def.Name,
			Description: def.Description,
			Parameters:  def.Parameters,
		})
	}
	return bodies
}

type itemBody struct {
	Type   string `json:"type"`
	CallID string `json:"call_id,omitempty"`
	Output string `json:"output,omitempty"`
}

// serverEvent is the union of the server event fields the relay reads.
// Tool arguments arrive as a JSON-encoded string per the wire protocol
// and are re-exposed as raw JSON on ToolCall.
type serverEvent struct {
	Type       string `json:"type"`
	Delta      string `json:"delta,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	CallID     string `json:"call_id,omitempty"`
	Name       string `json:"name,omitempty"`
	Arguments  string `json:"arguments,omitempty"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}
