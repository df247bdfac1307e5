package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// dialTestClient stands up a fake realtime server and returns the
// connected Client plus the server side of its socket.
func dialTestClient(t *testing.T) (*Client, *websocket.Conn) {
	t.Helper()

	serverSide := make(chan *websocket.Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header = %q", got)
		}
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Error(err)
			return
		}
		serverSide <- ws
	}))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	client, err := Dial(context.Background(), WithURL(wsURL), WithAPIKey("test-key"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = client.Close() })

	select {
	case ws := <-serverSide:
		t.Cleanup(func() { _ = ws.Close() })
		return client, ws
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for server side")
		return nil, nil
	}
}

func recvEvent(t *testing.T, client *Client) Event {
	t.Helper()
	select {
	case ev, ok := <-client.Events():
		if !ok {
			t.Fatal("event channel closed")
		}
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestConfigureSendsSessionUpdate(t *testing.T) {
	client, server := dialTestClient(t)

	err := client.Configure(SessionConfig{
		Instructions:      "You take donut orders.",
		Voice:             "alloy",
		InputAudioFormat:  "g711_ulaw",
		OutputAudioFormat: "g711_ulaw",
		Tools: []ToolDef{{
			Name:        "confirm_order",
			Description: "Confirm the order",
			Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
		}},
	})
	if err != nil {
		t.Fatal(err)
	}

	_ = server.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := server.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var msg struct {
		Type    string `json:"type"`
		Session struct {
			Instructions string `json:"instructions"`
			Voice        string `json:"voice"`
			Tools        []struct {
				Type string `json:"type"`
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"session"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != "session.update" || msg.Session.Voice != "alloy" {
		t.Fatalf("got %+v", msg)
	}
	if len(msg.Session.Tools) != 1 || msg.Session.Tools[0].Type != "function" ||
		msg.Session.Tools[0].Name != "confirm_order" {
		t.Fatalf("tools = %+v", msg.Session.Tools)
	}
}

func TestServerEventParsing(t *testing.T) {
	client, server := dialTestClient(t)

	write := func(raw string) {
		t.Helper()
		if err := server.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
			t.Fatal(err)
		}
	}

	// session.created arrives before configuration and must not signal
	// readiness; only the session.update ack does. Anything else would
	// start a second overlapping response per call.
	write(`{"type":"session.created"}`)
	write(`{"type":"session.updated"}`)
	if ev := recvEvent(t, client); ev.Type != EventReady {
		t.Fatalf("got %v, want single ready after session.updated", ev.Type)
	}

	write(`{"type":"input_audio_buffer.speech_started"}`)
	if ev := recvEvent(t, client); ev.Type != EventSpeechStarted {
		t.Fatalf("got %v", ev.Type)
	}

	write(`{"type":"response.audio.delta","delta":"AAAA"}`)
	ev := recvEvent(t, client)
	if ev.Type != EventAudioDelta || ev.Delta != "AAAA" {
		t.Fatalf("got %+v", ev)
	}

	write(`{"type":"response.function_call_arguments.done","call_id":"call_1","name":"add_item_to_order","arguments":"{\"item_name\":\"glazed donut\"}"}`)
	ev = recvEvent(t, client)
	if ev.Type != EventToolCall || ev.Call.CallID != "call_1" || ev.Call.Name != "add_item_to_order" {
		t.Fatalf("got %+v", ev)
	}
	var args struct {
		ItemName string `json:"item_name"`
	}
	if err := json.Unmarshal(ev.Call.Arguments, &args); err != nil || args.ItemName != "glazed donut" {
		t.Fatalf("arguments = %s (%v)", ev.Call.Arguments, err)
	}

	write(`{"type":"response.audio_transcript.done","transcript":"Anything else?"}`)
	ev = recvEvent(t, client)
	if ev.Type != EventTranscript || ev.Role != "assistant" || ev.Transcript != "Anything else?" {
		t.Fatalf("got %+v", ev)
	}

	write(`{"type":"error","error":{"type":"invalid_request_error","message":"bad frame"}}`)
	ev = recvEvent(t, client)
	if ev.Type != EventError || ev.Err == nil {
		t.Fatalf("got %+v", ev)
	}
}

func TestToolResultRoundTrip(t *testing.T) {
	client, server := dialTestClient(t)

	if err := client.SendToolResult("call_1", `{"success":true}`); err != nil {
		t.Fatal(err)
	}
	if err := client.CreateResponse(); err != nil {
		t.Fatal(err)
	}

	_ = server.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := server.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var item struct {
		Type string `json:"type"`
		Item struct {
			Type   string `json:"type"`
			CallID string `json:"call_id"`
			Output string `json:"output"`
		} `json:"item"`
	}
	if err := json.Unmarshal(data, &item); err != nil {
		t.Fatal(err)
	}
	if item.Type != "conversation.item.create" || item.Item.Type != "function_call_output" ||
		item.Item.CallID != "call_1" || item.Item.Output != `{"success":true}` {
		t.Fatalf("got %+v", item)
	}

	_, data, err = server.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var follow struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &follow); err != nil {
		t.Fatal(err)
	}
	if follow.Type != "response.create" {
		t.Fatalf("got %q", follow.Type)
	}
}
