package config

import "time"

// Config is the root configuration for the real-time client.
type Config struct {
	Endpoints EndpointsConfig `yaml:"endpoints"`
	Pool      PoolConfig      `yaml:"pool"`
	Backoff   BackoffConfig   `yaml:"backoff"`
	Presence  PresenceConfig  `yaml:"presence"`
	Notify    NotifyConfig    `yaml:"notify"`
	Cache     CacheConfig     `yaml:"cache"`
}

// EndpointsConfig holds the transport and service endpoints.
type EndpointsConfig struct {
	WSURL   string        `yaml:"ws_url"`   // bidirectional transport (wss://...)
	RestURL string        `yaml:"rest_url"` // notification service base URL
	SSEURL  string        `yaml:"sse_url"`  // fallback event-stream base URL
	Token   string        `yaml:"token"`    // bearer token, usually ${GIGTREE_TOKEN}
	Timeout time.Duration `yaml:"timeout"`  // REST request timeout
}

// PoolConfig holds connection pool settings.
type PoolConfig struct {
	Capacity     int           `yaml:"capacity"`      // max live connections
	MaxAttempts  int           `yaml:"max_attempts"`  // dial ceiling before terminal failure
	DialTimeout  time.Duration `yaml:"dial_timeout"`  // per-attempt open window
	PingInterval time.Duration `yaml:"ping_interval"` // heartbeat cadence
	StaleTimeout time.Duration `yaml:"stale_timeout"` // silence before a connection is failed
	WriteTimeout time.Duration `yaml:"write_timeout"`
	BufferSize   int           `yaml:"buffer_size"` // inbound event channel size
}

// BackoffConfig holds reconnection delay settings.
type BackoffConfig struct {
	Base time.Duration `yaml:"base"`
	Max  time.Duration `yaml:"max"`
}

// PresenceConfig holds presence tracker settings.
type PresenceConfig struct {
	Retention time.Duration `yaml:"retention"` // stale offline entries older than this are evicted
}

// NotifyConfig holds notification manager settings.
type NotifyConfig struct {
	Capacity        int           `yaml:"capacity"`          // bounded collection size
	SyncMinInterval time.Duration `yaml:"sync_min_interval"` // full-sync gate
	Throttle        time.Duration `yaml:"throttle"`          // observer emission coalescing window
}

// CacheConfig holds the optional local notification cache.
type CacheConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}
