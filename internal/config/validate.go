package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Endpoints.WSURL == "" {
		return errors.New("endpoints.ws_url is required")
	}
	if !strings.HasPrefix(c.Endpoints.WSURL, "ws://") && !strings.HasPrefix(c.Endpoints.WSURL, "wss://") {
		return fmt.Errorf("endpoints.ws_url must be a ws:// or wss:// URL, got %q", c.Endpoints.WSURL)
	}
	if c.Endpoints.RestURL == "" {
		return errors.New("endpoints.rest_url is required")
	}

	if c.Pool.Capacity < 1 {
		return errors.New("pool.capacity must be >= 1")
	}
	if c.Pool.MaxAttempts < 1 {
		return errors.New("pool.max_attempts must be >= 1")
	}
	if c.Pool.BufferSize < 1 {
		return errors.New("pool.buffer_size must be >= 1")
	}

	if c.Backoff.Base <= 0 {
		return errors.New("backoff.base must be positive")
	}
	if c.Backoff.Max < c.Backoff.Base {
		return fmt.Errorf("backoff.max (%v) cannot be below backoff.base (%v)", c.Backoff.Max, c.Backoff.Base)
	}

	if c.Notify.Capacity < 1 {
		return errors.New("notify.capacity must be >= 1")
	}
	if c.Notify.SyncMinInterval <= 0 {
		return errors.New("notify.sync_min_interval must be positive")
	}
	if c.Notify.Throttle <= 0 {
		return errors.New("notify.throttle must be positive")
	}

	if c.Cache.Enabled && c.Cache.Path == "" {
		return errors.New("cache.path is required when cache.enabled is set")
	}

	return nil
}
