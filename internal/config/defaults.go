package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultRestTimeout     = 15 * time.Second
	DefaultPoolCapacity    = 3
	DefaultMaxAttempts     = 5
	DefaultDialTimeout     = 20 * time.Second
	DefaultPingInterval    = 25 * time.Second
	DefaultStaleTimeout    = 60 * time.Second
	DefaultWriteTimeout    = 5 * time.Second
	DefaultBufferSize      = 256
	DefaultBackoffBase     = 1 * time.Second
	DefaultBackoffMax      = 60 * time.Second
	DefaultRetention       = 10 * time.Minute
	DefaultNotifyCapacity  = 50
	DefaultSyncMinInterval = 30 * time.Second
	DefaultThrottle        = 16 * time.Millisecond
	DefaultCachePath       = "realtime-cache.db"
)

func (c *Config) applyDefaults() {
	if c.Endpoints.Timeout == 0 {
		c.Endpoints.Timeout = DefaultRestTimeout
	}

	if c.Pool.Capacity == 0 {
		c.Pool.Capacity = DefaultPoolCapacity
	}
	if c.Pool.MaxAttempts == 0 {
		c.Pool.MaxAttempts = DefaultMaxAttempts
	}
	if c.Pool.DialTimeout == 0 {
		c.Pool.DialTimeout = DefaultDialTimeout
	}
	if c.Pool.PingInterval == 0 {
		c.Pool.PingInterval = DefaultPingInterval
	}
	if c.Pool.StaleTimeout == 0 {
		c.Pool.StaleTimeout = DefaultStaleTimeout
	}
	if c.Pool.WriteTimeout == 0 {
		c.Pool.WriteTimeout = DefaultWriteTimeout
	}
	if c.Pool.BufferSize == 0 {
		c.Pool.BufferSize = DefaultBufferSize
	}

	if c.Backoff.Base == 0 {
		c.Backoff.Base = DefaultBackoffBase
	}
	if c.Backoff.Max == 0 {
		c.Backoff.Max = DefaultBackoffMax
	}

	if c.Presence.Retention == 0 {
		c.Presence.Retention = DefaultRetention
	}

	if c.Notify.Capacity == 0 {
		c.Notify.Capacity = DefaultNotifyCapacity
	}
	if c.Notify.SyncMinInterval == 0 {
		c.Notify.SyncMinInterval = DefaultSyncMinInterval
	}
	if c.Notify.Throttle == 0 {
		c.Notify.Throttle = DefaultThrottle
	}

	if c.Cache.Path == "" {
		c.Cache.Path = DefaultCachePath
	}
}
