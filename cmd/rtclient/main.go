// rtclient connects to the gigtree real-time layer and streams presence
// changes and notifications to the console.
// Usage: go run ./cmd/rtclient --config configs/rtclient.example.yaml --user u1
//
// Required environment variables (or a .env file):
//
//	GIGTREE_TOKEN - bearer token for the transport and notification service
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/gigtree/realtime/internal/api"
	"github.com/gigtree/realtime/internal/backoff"
	"github.com/gigtree/realtime/internal/config"
	"github.com/gigtree/realtime/internal/model"
	"github.com/gigtree/realtime/internal/notify"
	"github.com/gigtree/realtime/internal/pool"
	"github.com/gigtree/realtime/internal/presence"
	"github.com/gigtree/realtime/internal/room"
	"github.com/gigtree/realtime/internal/sse"
	"github.com/gigtree/realtime/internal/store"
	"github.com/gigtree/realtime/internal/transport"
	"github.com/gigtree/realtime/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/rtclient.example.yaml", "path to config file")
	userID := flag.String("user", "", "user id for the session key")
	tabID := flag.String("tab", "main", "tab id for the session key")
	rooms := flag.String("rooms", "", "comma-separated room keys to join")
	verbose := flag.Bool("verbose", false, "print full event JSON")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	// .env is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintln(os.Stderr, "failed to load .env:", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *userID == "" {
		logger.Error("--user is required")
		os.Exit(1)
	}

	if err := run(cfg, *userID, *tabID, splitRooms(*rooms), logger); err != nil &&
		!errors.Is(err, context.Canceled) {
		logger.Error("rtclient failed", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(cfg *config.Config, userID, tabID string, roomKeys []string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	apiClient := api.NewClient(cfg.Endpoints.RestURL, cfg.Endpoints.Token,
		api.WithTimeout(cfg.Endpoints.Timeout),
		api.WithLogger(logger),
	)

	var cache notify.Cache
	if cfg.Cache.Enabled {
		c, err := store.Open(cfg.Cache.Path)
		if err != nil {
			return fmt.Errorf("open notification cache: %w", err)
		}
		defer c.Close()
		cache = c
	}

	manager := notify.NewManager(notify.Config{
		Capacity:        cfg.Notify.Capacity,
		SyncMinInterval: cfg.Notify.SyncMinInterval,
		Throttle:        cfg.Notify.Throttle,
	}, apiClient, cache, logger)
	defer manager.Close()
	manager.LoadCache()

	tracker := presence.NewTracker(cfg.Presence.Retention, logger)
	defer tracker.Close()

	registry := room.NewRegistry(logger)
	for _, key := range roomKeys {
		registry.Join(key)
	}

	policy := backoff.Policy{Base: cfg.Backoff.Base, Max: cfg.Backoff.Max}
	connPool := pool.New(pool.Config{
		Capacity:    cfg.Pool.Capacity,
		MaxAttempts: cfg.Pool.MaxAttempts,
		Policy:      policy,
		Client: transport.ClientConfig{
			URL:          cfg.Endpoints.WSURL,
			DialTimeout:  cfg.Pool.DialTimeout,
			PingInterval: cfg.Pool.PingInterval,
			StaleTimeout: cfg.Pool.StaleTimeout,
			WriteTimeout: cfg.Pool.WriteTimeout,
			BufferSize:   cfg.Pool.BufferSize,
		},
	}, logger)
	defer connPool.Close()

	lifecycle := connPool.Lifecycle().Subscribe()
	defer lifecycle.Unsubscribe()

	notifyChanges := manager.Changes()
	defer notifyChanges.Unsubscribe()
	presenceChanges := tracker.Changes()
	defer presenceChanges.Unsubscribe()

	sessionKey := model.SessionKey(userID, tabID)
	g, ctx := errgroup.WithContext(ctx)

	// Lifecycle consumer: rooms replay and presence assertion hang off
	// every open, including reconnect opens. A terminal failure degrades
	// to the one-way fallback channel instead of exiting.
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev, ok := <-lifecycle.C():
				if !ok {
					return nil
				}
				switch {
				case ev.State == pool.StateOpen && ev.Conn != nil:
					logger.Info("connection open", "session", ev.SessionKey)
					registry.HandleConnOpen(ev.Conn.Emit)
					tracker.HandleConnOpen(ev.Conn.Emit)
					events := ev.Conn.Events()
					g.Go(func() error {
						consume(ctx, events, manager, tracker, logger)
						return nil
					})
				case ev.Terminal:
					logger.Warn("connection terminally failed, falling back to sse",
						"session", ev.SessionKey,
						"error", ev.Err,
					)
					registry.HandleConnLost()
					tracker.HandleConnLost()
					startFallback(ctx, g, cfg, sessionKey, manager, policy, logger)
				case ev.State == pool.StateFailed:
					registry.HandleConnLost()
					tracker.HandleConnLost()
				}
			}
		}
	})

	// Console printers.
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case change, ok := <-notifyChanges.C():
				if !ok {
					return nil
				}
				fmt.Printf("[NOTIFY] unread=%d total=%d\n", change.Unread, len(change.Records))
			}
		}
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case change, ok := <-presenceChanges.C():
				if !ok {
					return nil
				}
				fmt.Printf("[PRESENCE] peer=%s %s -> %s\n", change.PeerID, change.OldStatus, change.NewStatus)
			}
		}
	})

	// Periodic sync. The manager's own gate bounds the real request rate.
	g.Go(func() error {
		ticker := time.NewTicker(cfg.Notify.SyncMinInterval)
		defer ticker.Stop()
		manager.Sync(ctx)
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				manager.Sync(ctx)
			}
		}
	})

	logger.Info("acquiring connection", "session", sessionKey)
	if _, err := connPool.Acquire(ctx, sessionKey, cfg.Endpoints.Token); err != nil {
		logger.Warn("initial acquire failed", "error", err)
	}

	logger.Info("streaming started - press Ctrl+C to stop")
	return g.Wait()
}

// consume routes one transport's inbound events until its channel
// closes. The channel is captured once: when the connection drops it
// closes and this consumer exits, and the reconnect's open event
// starts a fresh consumer on the fresh channel.
func consume(ctx context.Context, events <-chan transport.Event, manager *notify.Manager, tracker *presence.Tracker, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			route(ev, manager, tracker, logger)
		}
	}
}

func route(ev transport.Event, manager *notify.Manager, tracker *presence.Tracker, logger *slog.Logger) {
	switch ev.Name {
	case transport.EventNotificationNew:
		var rec model.NotificationRecord
		if err := json.Unmarshal(ev.Data, &rec); err != nil {
			logger.Warn("bad notification payload", "error", err)
			return
		}
		manager.IngestPush(rec)

	case transport.EventMessageNew:
		var msg model.ChatMessage
		if err := json.Unmarshal(ev.Data, &msg); err != nil {
			logger.Warn("bad message payload", "error", err)
			return
		}
		fmt.Printf("[MESSAGE] room=%s from=%s body=%s\n", msg.RoomKey, msg.From, msg.Body)

	case transport.EventUserStatus:
		if tracker == nil {
			return
		}
		var sp transport.StatusPayload
		if err := json.Unmarshal(ev.Data, &sp); err != nil {
			logger.Warn("bad status payload", "error", err)
			return
		}
		tracker.HandleStatus(sp.PeerID, model.PresenceStatus(sp.Status), time.UnixMilli(sp.Timestamp))

	case transport.EventJobUpdated, transport.EventApplicationUpdated:
		var upd model.JobUpdate
		if err := json.Unmarshal(ev.Data, &upd); err != nil {
			logger.Warn("bad job update payload", "error", err)
			return
		}
		fmt.Printf("[JOB] id=%s status=%s\n", upd.JobID, upd.Status)

	case transport.EventInactivityWarning:
		var warn transport.InactivityWarning
		if err := json.Unmarshal(ev.Data, &warn); err != nil {
			return
		}
		logger.Warn("inactivity warning from server",
			"message", warn.Message,
			"timeout_ms", warn.TimeoutMs,
		)

	default:
		logger.Debug("unrouted event", "event", ev.Name)
	}
}

// startFallback brings up the one-way sse channel, feeding the same
// routing the bidirectional transport uses.
func startFallback(ctx context.Context, g *errgroup.Group, cfg *config.Config, sessionKey string, manager *notify.Manager, policy backoff.Policy, logger *slog.Logger) {
	if cfg.Endpoints.SSEURL == "" {
		logger.Warn("no sse endpoint configured, real-time delivery is down")
		return
	}

	stream := sse.NewStream(sse.Config{
		BaseURL:    cfg.Endpoints.SSEURL,
		Token:      cfg.Endpoints.Token,
		SessionKey: sessionKey,
		Policy:     policy,
	}, func(ev transport.Event) {
		route(ev, manager, nil, logger)
	}, func() {
		logger.Info("fallback channel up, one-way delivery restored")
	}, logger)

	g.Go(func() error {
		defer stream.Close()
		err := stream.Run(ctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, sse.ErrStreamClosed) {
			return nil
		}
		return err
	})
}

func splitRooms(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			keys = append(keys, p)
		}
	}
	return keys
}
