package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testConfig(url string) ClientConfig {
	cfg := DefaultClientConfig()
	cfg.URL = url
	cfg.PingInterval = 50 * time.Millisecond
	cfg.BufferSize = 16
	return cfg
}

func TestClient_ConnectClose(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	client := NewClient(testConfig(wsURL(server)), nil)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !client.IsConnected() {
		t.Error("expected IsConnected to return true")
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if client.IsConnected() {
		t.Error("expected IsConnected to return false after Close")
	}

	// Double close is tolerated.
	if err := client.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}

	// Connect after close is terminal.
	if err := client.Connect(context.Background()); err != ErrAlreadyClosed {
		t.Errorf("Connect after Close = %v, want ErrAlreadyClosed", err)
	}
}

func TestClient_Emit(t *testing.T) {
	var mu sync.Mutex
	var frames [][]byte

	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			mu.Lock()
			frames = append(frames, msg)
			mu.Unlock()
		}
	})
	defer server.Close()

	client := NewClient(testConfig(wsURL(server)), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	if err := client.Emit(EventTypingStart, TypingPayload{RoomKey: "job-42"}); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(frames)
		mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("server never received frame")
		case <-time.After(10 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()

	var env struct {
		Event string `json:"event"`
		Data  struct {
			RoomKey string `json:"roomKey"`
		} `json:"data"`
	}
	if err := json.Unmarshal(frames[0], &env); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if env.Event != "typing:start" || env.Data.RoomKey != "job-42" {
		t.Errorf("frame = %s", frames[0])
	}
}

func TestClient_EmitNotConnected(t *testing.T) {
	client := NewClient(testConfig("ws://127.0.0.1:1/never"), nil)
	if err := client.Emit(EventUserOnline, nil); err != ErrNotConnected {
		t.Errorf("Emit = %v, want ErrNotConnected", err)
	}
}

func TestClient_ReceivesEvents(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		frame := `{"event":"notification:new","data":{"id":"n1","title":"New offer"}}`
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			return
		}
		// Malformed frame must be skipped, not break the loop.
		conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"user:status","data":{"peerId":"u2","status":"away"}}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	client := NewClient(testConfig(wsURL(server)), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	waitEvent := func() Event {
		t.Helper()
		select {
		case evt := <-client.Events():
			return evt
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for event")
			return Event{}
		}
	}

	first := waitEvent()
	if first.Name != EventNotificationNew {
		t.Errorf("first event = %q, want notification:new", first.Name)
	}
	if first.ReceivedAt.IsZero() {
		t.Error("expected ReceivedAt to be set")
	}

	second := waitEvent()
	if second.Name != EventUserStatus {
		t.Errorf("second event = %q, want user:status (malformed frame skipped)", second.Name)
	}

	var status StatusPayload
	if err := json.Unmarshal(second.Data, &status); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if status.PeerID != "u2" || status.Status != "away" {
		t.Errorf("status payload = %+v", status)
	}
}

func TestClient_PongUpdatesLatency(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env struct {
				Event string          `json:"event"`
				Data  json.RawMessage `json:"data"`
			}
			if json.Unmarshal(msg, &env) == nil && env.Event == "ping" {
				pong, _ := json.Marshal(map[string]any{
					"event": "pong",
					"data":  json.RawMessage(env.Data),
				})
				if err := conn.WriteMessage(websocket.TextMessage, pong); err != nil {
					return
				}
			}
		}
	})
	defer server.Close()

	cfg := testConfig(wsURL(server))
	cfg.PingInterval = 20 * time.Millisecond

	client := NewClient(cfg, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	deadline := time.After(2 * time.Second)
	for client.Latency() == 0 {
		select {
		case <-deadline:
			t.Fatal("latency never measured")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestClient_ServerCloseSurfacesError(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		// Close immediately from the server side.
	})
	defer server.Close()

	client := NewClient(testConfig(wsURL(server)), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	select {
	case err := <-client.Errors():
		if err == nil {
			t.Error("expected non-nil connection error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no error surfaced after server close")
	}
}

func TestClient_EventsChannelClosesOnDisconnect(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"event":"notification:new","data":{"id":"n1"}}`))
		// Drop the connection from the server side.
	})
	defer server.Close()

	client := NewClient(testConfig(wsURL(server)), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	// Buffered events are still delivered, then the channel closes so
	// consumers do not park on a dead connection forever.
	deadline := time.After(2 * time.Second)
	sawEvent := false
	for {
		select {
		case evt, ok := <-client.Events():
			if !ok {
				if !sawEvent {
					t.Error("channel closed before delivering the buffered event")
				}
				return
			}
			if evt.Name != EventNotificationNew {
				t.Errorf("event = %q, want notification:new", evt.Name)
			}
			sawEvent = true
		case <-deadline:
			t.Fatal("events channel never closed after disconnect")
		}
	}
}

func TestClient_EventsChannelClosesOnClose(t *testing.T) {
	block := make(chan struct{})
	server := mockWSServer(t, func(conn *websocket.Conn) {
		<-block
	})
	defer server.Close()
	defer close(block)

	client := NewClient(testConfig(wsURL(server)), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	client.Close()

	select {
	case _, ok := <-client.Events():
		if ok {
			t.Error("expected closed events channel after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("events channel never closed after Close")
	}
}

func TestClient_StaleConnection(t *testing.T) {
	block := make(chan struct{})
	server := mockWSServer(t, func(conn *websocket.Conn) {
		// Swallow pings, never answer; hold the connection open.
		<-block
	})
	defer server.Close()
	defer close(block)

	cfg := testConfig(wsURL(server))
	cfg.PingInterval = 20 * time.Millisecond
	cfg.StaleTimeout = 60 * time.Millisecond

	client := NewClient(cfg, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	select {
	case err := <-client.Errors():
		if err != ErrStaleConnection {
			t.Errorf("error = %v, want ErrStaleConnection", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stale connection never detected")
	}
}
