package sse

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gigtree/realtime/internal/backoff"
	"github.com/gigtree/realtime/internal/transport"
)

func fastPolicy() backoff.Policy {
	return backoff.Policy{
		Base:   time.Millisecond,
		Max:    time.Millisecond,
		Jitter: func() float64 { return 1 },
	}
}

// sseHandler writes the given frames and then holds the connection
// until the request context is cancelled.
func sseHandler(t *testing.T, frames []string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fl, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("response writer is not a flusher")
		}
		for _, frame := range frames {
			fmt.Fprintf(w, "data: %s\n\n", frame)
		}
		fl.Flush()
		<-r.Context().Done()
	}
}

func TestStreamRoutesFrames(t *testing.T) {
	frames := []string{
		`{"type":"connected"}`,
		`{"type":"notification","data":{"id":"n1","title":"hello"}}`,
		`{"type":"message","data":{"id":"m1","body":"hi"}}`,
		`not json at all`,
		`{"type":"mystery","data":{}}`,
	}

	var gotMu sync.Mutex
	var got []transport.Event
	ingest := func(ev transport.Event) {
		gotMu.Lock()
		got = append(got, ev)
		gotMu.Unlock()
	}

	var sawHeaders atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") == "text/event-stream" &&
			r.Header.Get("Authorization") == "Bearer tok-1" &&
			r.URL.Path == "/events/u1:tab1" {
			sawHeaders.Store(true)
		}
		sseHandler(t, frames)(w, r)
	}))
	defer srv.Close()

	s := NewStream(Config{
		BaseURL:    srv.URL,
		Token:      "tok-1",
		SessionKey: "u1:tab1",
		Policy:     fastPolicy(),
	}, ingest, nil, nil)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		gotMu.Lock()
		n := len(got)
		gotMu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for events, got %d", n)
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done

	if !sawHeaders.Load() {
		t.Error("request missing expected headers or path")
	}

	gotMu.Lock()
	defer gotMu.Unlock()
	if got[0].Name != transport.EventNotificationNew {
		t.Errorf("first event = %s, want %s", got[0].Name, transport.EventNotificationNew)
	}
	if got[1].Name != transport.EventMessageNew {
		t.Errorf("second event = %s, want %s", got[1].Name, transport.EventMessageNew)
	}
	// Connected, malformed, and unknown frames never reach ingest.
	for _, ev := range got {
		if ev.Name != transport.EventNotificationNew && ev.Name != transport.EventMessageNew {
			t.Errorf("unexpected routed event %s", ev.Name)
		}
	}
}

func TestStreamOnOpenFiresOnce(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "data: {\"type\":\"connected\"}\n\n")
		// End the stream immediately to force a reconnect.
	}))
	defer srv.Close()

	var opens atomic.Int32
	s := NewStream(Config{
		BaseURL:    srv.URL,
		SessionKey: "u1:tab1",
		Policy:     fastPolicy(),
	}, func(transport.Event) {}, func() { opens.Add(1) }, nil)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	deadline := time.After(2 * time.Second)
	for requests.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for reconnects, requests = %d", requests.Load())
		case <-time.After(2 * time.Millisecond):
		}
	}
	cancel()

	if opens.Load() != 1 {
		t.Errorf("onOpen fired %d times across reconnects, want exactly 1", opens.Load())
	}
}

func TestStreamRetriesAfterBadStatus(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		sseHandler(t, []string{`{"type":"connected"}`})(w, r)
	}))
	defer srv.Close()

	var opens atomic.Int32
	s := NewStream(Config{
		BaseURL:    srv.URL,
		SessionKey: "u1:tab1",
		Policy:     fastPolicy(),
	}, func(transport.Event) {}, func() { opens.Add(1) }, nil)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	deadline := time.After(2 * time.Second)
	for opens.Load() == 0 {
		select {
		case <-deadline:
			t.Fatalf("stream never recovered, requests = %d", requests.Load())
		case <-time.After(2 * time.Millisecond):
		}
	}
	if requests.Load() < 2 {
		t.Errorf("requests = %d, want at least 2", requests.Load())
	}
}

func TestStreamCloseStopsRun(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, []string{`{"type":"connected"}`}))
	defer srv.Close()

	s := NewStream(Config{
		BaseURL:    srv.URL,
		SessionKey: "u1:tab1",
		Policy:     fastPolicy(),
	}, func(transport.Event) {}, nil, nil)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	s.Close()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after Close")
	}

	if err := s.Run(context.Background()); err != ErrStreamClosed {
		t.Errorf("Run after Close returned %v, want ErrStreamClosed", err)
	}
}
