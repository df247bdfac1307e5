package telephony

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// dialTestConn stands up an HTTP server that accepts one Media Streams
// connection, and returns the carrier-side websocket plus the accepted
// Conn.
func dialTestConn(t *testing.T) (*websocket.Conn, *Conn) {
	t.Helper()

	accepted := make(chan *Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Accept(w, r)
		if err != nil {
			t.Error(err)
			return
		}
		accepted <- conn
	}))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	carrier, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = carrier.Close() })

	select {
	case conn := <-accepted:
		t.Cleanup(func() { _ = conn.Close() })
		return carrier, conn
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for accept")
		return nil, nil
	}
}

func recvEvent(t *testing.T, conn *Conn) Event {
	t.Helper()
	select {
	case ev, ok := <-conn.Events():
		if !ok {
			t.Fatal("event channel closed")
		}
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestConnInboundEvents(t *testing.T) {
	carrier, conn := dialTestConn(t)

	writeJSON := func(v any) {
		t.Helper()
		if err := carrier.WriteJSON(v); err != nil {
			t.Fatal(err)
		}
	}

	writeJSON(map[string]any{"event": "connected"})
	if ev := recvEvent(t, conn); ev.Type != EventConnected {
		t.Fatalf("got %v", ev.Type)
	}

	writeJSON(map[string]any{
		"event": "start",
		"start": map[string]any{
			"streamSid": "MZ123",
			"callSid":   "CA456",
			"customParameters": map[string]string{
				"callerNumber": "+11234567890",
			},
		},
	})
	ev := recvEvent(t, conn)
	if ev.Type != EventStart || ev.StreamID != "MZ123" || ev.CallID != "CA456" ||
		ev.CallerNumber != "+11234567890" {
		t.Fatalf("start event = %+v", ev)
	}
	if conn.StreamID() != "MZ123" {
		t.Errorf("StreamID() = %q", conn.StreamID())
	}

	writeJSON(map[string]any{"event": "media", "media": map[string]any{"payload": "AAAA"}})
	if ev := recvEvent(t, conn); ev.Type != EventMedia || ev.Payload != "AAAA" {
		t.Fatalf("media event = %+v", ev)
	}

	writeJSON(map[string]any{"event": "stop", "stop": map[string]any{"callSid": "CA456"}})
	if ev := recvEvent(t, conn); ev.Type != EventStop {
		t.Fatalf("got %v", ev.Type)
	}
}

func TestConnOutboundMedia(t *testing.T) {
	carrier, conn := dialTestConn(t)

	if err := carrier.WriteJSON(map[string]any{
		"event": "start",
		"start": map[string]any{"streamSid": "MZ123", "callSid": "CA456"},
	}); err != nil {
		t.Fatal(err)
	}
	recvEvent(t, conn) // start

	if err := conn.SendMedia("BBBB"); err != nil {
		t.Fatal(err)
	}

	_ = carrier.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := carrier.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var msg struct {
		Event     string `json:"event"`
		StreamSID string `json:"streamSid"`
		Media     struct {
			Payload string `json:"payload"`
		} `json:"media"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Event != "media" || msg.StreamSID != "MZ123" || msg.Media.Payload != "BBBB" {
		t.Fatalf("outbound frame = %+v", msg)
	}

	// Barge-in: Clear tells the carrier to drop buffered audio.
	if err := conn.Clear(); err != nil {
		t.Fatal(err)
	}
	_, data, err = carrier.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Event != "clear" || msg.StreamSID != "MZ123" {
		t.Fatalf("clear frame = %+v", msg)
	}
}

func TestConnCloseDeliversClosedEvent(t *testing.T) {
	carrier, conn := dialTestConn(t)

	_ = carrier.Close()

	for {
		ev, ok := <-conn.Events()
		if !ok {
			return // channel closed after EventClosed: acceptable terminal state
		}
		if ev.Type == EventClosed {
			return
		}
	}
}

func TestConnSendAfterClose(t *testing.T) {
	_, conn := dialTestConn(t)
	_ = conn.Close()
	_ = conn.Close() // idempotent
	if err := conn.SendMedia("CCCC"); err != ErrClosed {
		t.Errorf("got %v, want ErrClosed", err)
	}
}

func TestStreamTwiML(t *testing.T) {
	twiml := StreamTwiML("wss://shop.example.com/media-stream", "+11234567890")
	if !strings.Contains(twiml, `<Stream url="wss://shop.example.com/media-stream">`) {
		t.Errorf("missing stream url:\n%s", twiml)
	}
	if !strings.Contains(twiml, `name="callerNumber" value="+11234567890"`) {
		t.Errorf("missing caller parameter:\n%s", twiml)
	}

	escaped := StreamTwiML("wss://x?a=1&b=2", "")
	if !strings.Contains(escaped, "a=1&amp;b=2") {
		t.Errorf("url not escaped:\n%s", escaped)
	}
}
