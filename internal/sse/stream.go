package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gigtree/realtime/internal/backoff"
	"github.com/gigtree/realtime/internal/transport"
)

// Envelope type names on the event-stream wire.
const (
	typeConnected    = "connected"
	typeNotification = "notification"
	typeMessage      = "message"
)

// ErrStreamClosed is returned when Run is called on a closed stream.
var ErrStreamClosed = errors.New("sse stream closed")

// IngestFunc receives decoded fallback events. It is the same sink the
// WebSocket transport feeds, so downstream consumers cannot tell the
// channels apart.
type IngestFunc func(transport.Event)

// Config configures a Stream.
type Config struct {
	BaseURL    string // REST base, e.g. https://api.gigtree.example
	Token      string // bearer token for the Authorization header
	SessionKey string // path segment identifying this session
	Policy     backoff.Policy
	Client     *http.Client // nil uses a default with no overall timeout
}

// Stream is a reconnecting server-sent-events consumer.
type Stream struct {
	cfg    Config
	ingest IngestFunc
	logger *slog.Logger

	// onOpen fires once, on the first successful open, regardless of
	// how many reconnects follow. Used for the push-permission prompt.
	onOpen     func()
	onOpenOnce sync.Once

	mu     sync.Mutex
	closed bool
	cancel context.CancelFunc
}

// NewStream creates a fallback stream delivering into ingest.
// onOpen may be nil.
func NewStream(cfg Config, ingest IngestFunc, onOpen func(), logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Client == nil {
		// Long-lived response bodies rule out http.Client.Timeout.
		cfg.Client = &http.Client{}
	}
	if onOpen == nil {
		onOpen = func() {}
	}

	return &Stream{
		cfg:    cfg,
		ingest: ingest,
		logger: logger.With("component", "sse"),
		onOpen: onOpen,
	}
}

// Run consumes the stream until ctx is done or Close is called,
// reconnecting with backoff after every broken attempt. Blocking;
// callers run it on its own goroutine.
func (s *Stream) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStreamClosed
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	attempt := 0
	for {
		err := s.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := s.cfg.Policy.Delay(attempt)
		attempt++
		s.logger.Warn("stream interrupted, reconnecting",
			"error", err,
			"attempt", attempt,
			"delay", delay,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops the stream. Idempotent.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
}

// consume opens the endpoint and reads frames until the body breaks.
// A nil return means the server ended the stream cleanly; the caller
// reconnects either way.
func (s *Stream) consume(ctx context.Context) error {
	url := fmt.Sprintf("%s/events/%s", strings.TrimRight(s.cfg.BaseURL, "/"), s.cfg.SessionKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	resp, err := s.cfg.Client.Do(req)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("open stream: unexpected status %d", resp.StatusCode)
	}

	s.logger.Info("stream open", "url", url)
	s.onOpenOnce.Do(s.onOpen)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 4096), 512*1024)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			// Comments, event: and id: lines, blank separators.
			continue
		}
		s.dispatch(strings.TrimSpace(data))
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

// dispatch decodes one data payload and routes it. Malformed payloads
// are logged and skipped so one bad frame cannot kill the stream.
func (s *Stream) dispatch(data string) {
	var env struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		s.logger.Warn("dropping malformed frame", "error", err)
		return
	}

	switch env.Type {
	case typeConnected:
		s.logger.Debug("stream handshake acknowledged")
	case typeNotification:
		s.ingest(transport.Event{
			Name:       transport.EventNotificationNew,
			Data:       env.Data,
			ReceivedAt: time.Now(),
		})
	case typeMessage:
		s.ingest(transport.Event{
			Name:       transport.EventMessageNew,
			Data:       env.Data,
			ReceivedAt: time.Now(),
		})
	default:
		s.logger.Debug("ignoring unknown frame type", "type", env.Type)
	}
}
