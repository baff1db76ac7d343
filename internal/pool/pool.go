package pool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gigtree/realtime/internal/events"
	"github.com/gigtree/realtime/internal/transport"
)

// Conn is a pooled connection bound to one session key.
// Owned exclusively by the pool; callers interact through Emit and
// Events and return it via Release or Destroy.
type Conn struct {
	key   string
	token string

	mu        sync.Mutex
	client    transport.Client
	state     State
	idle      bool
	lastUsed  time.Time
	attempts  int
	destroyed bool
	terminal  bool

	// dead is closed when the connection is destroyed, releasing its
	// watch goroutine and aborting any in-flight redial.
	dead chan struct{}

	terminalOnce sync.Once
}

// SessionKey returns the session key this connection is bound to.
func (c *Conn) SessionKey() string { return c.key }

// State returns the connection's lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Emit sends an event over the connection.
func (c *Conn) Emit(event string, data any) error {
	c.mu.Lock()
	client := c.client
	state := c.state
	c.mu.Unlock()

	if client == nil || state != StateOpen {
		return transport.ErrNotConnected
	}
	return client.Emit(event, data)
}

// Events returns the inbound event channel of the current transport.
// The channel closes when that transport dies; after a reconnect
// consumers re-fetch the fresh channel from the StateOpen lifecycle
// event.
func (c *Conn) Events() <-chan transport.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	return c.client.Events()
}

// Latency returns the transport's last measured round-trip time.
func (c *Conn) Latency() time.Duration {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return 0
	}
	return client.Latency()
}

func (c *Conn) healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateOpen && c.client != nil && c.client.IsConnected()
}

// Pool owns all live connections, keyed by session.
type Pool struct {
	cfg    Config
	dial   DialFunc
	logger *slog.Logger

	lifecycle *events.Emitter[LifecycleEvent]

	mu     sync.Mutex
	conns  map[string]*Conn
	closed bool

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a connection pool.
func New(cfg Config, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Capacity < 1 {
		cfg.Capacity = DefaultConfig().Capacity
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	dial := cfg.Dial
	if dial == nil {
		dial = func(c transport.ClientConfig) transport.Client {
			return transport.NewClient(c, logger)
		}
	}

	return &Pool{
		cfg:       cfg,
		dial:      dial,
		logger:    logger,
		lifecycle: events.NewEmitter[LifecycleEvent](64),
		conns:     make(map[string]*Conn),
		done:      make(chan struct{}),
	}
}

// Lifecycle returns the emitter publishing connection state transitions.
func (p *Pool) Lifecycle() *events.Emitter[LifecycleEvent] {
	return p.lifecycle
}

// Acquire returns the open connection for sessionKey, creating one when
// necessary. Reuse does not re-handshake. Creation dials with
// backoff-governed retries up to the attempt ceiling; past the ceiling a
// terminal failure is reported once and ErrTerminal returned.
func (p *Pool) Acquire(ctx context.Context, sessionKey, token string) (*Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}

	if c, ok := p.conns[sessionKey]; ok {
		if c.healthy() {
			c.mu.Lock()
			c.idle = false
			c.lastUsed = time.Now()
			c.mu.Unlock()
			p.mu.Unlock()
			return c, nil
		}
		// Mid-dial or mid-redial: hand back the in-flight connection
		// so the session never races a second transport. The open
		// surfaces on the lifecycle stream when the dial lands.
		if !c.isDead() {
			c.mu.Lock()
			c.idle = false
			c.lastUsed = time.Now()
			c.mu.Unlock()
			p.mu.Unlock()
			return c, nil
		}
		// Destroyed or terminally failed: never resurrected, and the
		// removal is made terminal so a straggling redial cannot
		// reopen an entry the map no longer tracks.
		c.markDestroyed()
		delete(p.conns, sessionKey)
	}

	// Eviction drops p.mu to close the victim, so re-check capacity
	// until it genuinely holds.
	for len(p.conns) >= p.cfg.Capacity {
		victim := p.lruIdleLocked()
		if victim == nil {
			p.mu.Unlock()
			return nil, ErrPoolExhausted
		}
		delete(p.conns, victim.key)
		p.mu.Unlock()
		p.closeConn(victim, nil)
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
	}

	c := &Conn{
		key:      sessionKey,
		token:    token,
		state:    StateConnecting,
		lastUsed: time.Now(),
		dead:     make(chan struct{}),
	}
	p.conns[sessionKey] = c
	p.mu.Unlock()

	if err := p.connect(ctx, c); err != nil {
		c.markDestroyed()
		p.mu.Lock()
		if p.conns[sessionKey] == c {
			delete(p.conns, sessionKey)
		}
		p.mu.Unlock()
		return nil, err
	}

	return c, nil
}

// Release marks the session's connection idle and reusable. The
// transport stays open so a remounting component does not re-handshake.
func (p *Pool) Release(sessionKey string) {
	p.mu.Lock()
	c, ok := p.conns[sessionKey]
	p.mu.Unlock()
	if !ok {
		return
	}

	c.mu.Lock()
	c.idle = true
	c.lastUsed = time.Now()
	c.mu.Unlock()
}

// Destroy force-closes the session's connection and removes it from the
// pool. A destroyed connection is terminal: it is not retried.
func (p *Pool) Destroy(sessionKey string) error {
	p.mu.Lock()
	c, ok := p.conns[sessionKey]
	if ok {
		delete(p.conns, sessionKey)
	}
	p.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	p.closeConn(c, nil)
	return nil
}

// Stats returns the pool's current shape.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	var s Stats
	s.Held = len(p.conns)
	for _, c := range p.conns {
		c.mu.Lock()
		if c.state == StateOpen {
			s.Live++
			if c.idle {
				s.Idle++
			}
		}
		c.mu.Unlock()
	}
	return s
}

// Close tears down every connection and the lifecycle emitter.
// Idempotent.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	conns := make([]*Conn, 0, len(p.conns))
	for key, c := range p.conns {
		delete(p.conns, key)
		conns = append(conns, c)
	}
	p.mu.Unlock()

	close(p.done)
	for _, c := range conns {
		p.closeConn(c, nil)
	}

	p.wg.Wait()
	p.lifecycle.Close()
}

// lruIdleLocked returns the least-recently-used idle connection, or nil
// when every connection is actively held. Caller must hold p.mu.
func (p *Pool) lruIdleLocked() *Conn {
	var victim *Conn
	var oldest time.Time

	for _, c := range p.conns {
		c.mu.Lock()
		idle, lastUsed := c.idle, c.lastUsed
		c.mu.Unlock()

		if !idle {
			continue
		}
		if victim == nil || lastUsed.Before(oldest) {
			victim = c
			oldest = lastUsed
		}
	}
	return victim
}

// closeConn performs a client-initiated close and publishes the closed
// transition.
func (p *Pool) closeConn(c *Conn, err error) {
	c.markDestroyed()

	c.mu.Lock()
	c.state = StateClosed
	client := c.client
	c.mu.Unlock()

	if client != nil {
		client.Close()
	}

	p.lifecycle.Publish(LifecycleEvent{
		SessionKey: c.key,
		State:      StateClosed,
		Err:        err,
	})
}

// connect dials with backoff until open or the attempt ceiling.
func (p *Pool) connect(ctx context.Context, c *Conn) error {
	for attempt := 0; attempt < p.cfg.MaxAttempts; attempt++ {
		if c.isDestroyed() {
			return ErrPoolClosed
		}

		clientCfg := p.cfg.Client
		clientCfg.Token = c.token
		client := p.dial(clientCfg)

		err := client.Connect(ctx)
		if err == nil {
			c.mu.Lock()
			c.client = client
			c.state = StateOpen
			c.idle = false
			c.attempts = 0
			c.lastUsed = time.Now()
			c.mu.Unlock()

			p.lifecycle.Publish(LifecycleEvent{
				SessionKey: c.key,
				State:      StateOpen,
				Conn:       c,
			})

			p.wg.Add(1)
			go p.watch(c, client)
			return nil
		}

		client.Close()

		p.logger.Warn("connection attempt failed",
			"session", c.key,
			"attempt", attempt+1,
			"error", err,
		)
		p.lifecycle.Publish(LifecycleEvent{
			SessionKey: c.key,
			State:      StateFailed,
			Err:        err,
		})

		if attempt+1 >= p.cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.done:
			return ErrPoolClosed
		case <-time.After(p.cfg.Policy.Delay(attempt)):
		}
	}

	p.reportTerminal(c)
	c.mu.Lock()
	c.state = StateFailed
	c.mu.Unlock()
	return ErrTerminal
}

// watch monitors a transport for failure and drives reconnection.
// A server-initiated close or transport error is retryable; destruction
// by the caller is not.
func (p *Pool) watch(c *Conn, client transport.Client) {
	defer p.wg.Done()

	select {
	case <-p.done:
		return

	case <-c.dead:
		return

	case err, ok := <-client.Errors():
		if !ok || c.isDestroyed() {
			return
		}

		p.logger.Warn("connection lost",
			"session", c.key,
			"error", err,
		)

		c.mu.Lock()
		c.state = StateFailed
		c.client = nil
		c.mu.Unlock()
		client.Close()

		p.lifecycle.Publish(LifecycleEvent{
			SessionKey: c.key,
			State:      StateFailed,
			Err:        err,
		})

		p.redial(c)
	}
}

// redial re-establishes a dropped connection in the background.
func (p *Pool) redial(c *Conn) {
	for attempt := 0; attempt < p.cfg.MaxAttempts; attempt++ {
		select {
		case <-p.done:
			return
		case <-time.After(p.cfg.Policy.Delay(attempt)):
		}

		if c.isDestroyed() {
			return
		}

		p.logger.Info("attempting reconnection",
			"session", c.key,
			"attempt", attempt+1,
		)

		clientCfg := p.cfg.Client
		clientCfg.Token = c.token
		client := p.dial(clientCfg)

		dialTimeout := p.cfg.Client.DialTimeout
		if dialTimeout <= 0 {
			dialTimeout = transport.DefaultClientConfig().DialTimeout
		}
		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		err := client.Connect(ctx)
		cancel()

		if err != nil {
			client.Close()
			p.logger.Warn("reconnection failed",
				"session", c.key,
				"attempt", attempt+1,
				"error", err,
			)
			p.lifecycle.Publish(LifecycleEvent{
				SessionKey: c.key,
				State:      StateFailed,
				Err:        err,
			})
			continue
		}

		// Destroyed while the dial was in flight: drop the transport
		// instead of reopening an entry the pool no longer tracks.
		if c.isDestroyed() {
			client.Close()
			return
		}

		c.mu.Lock()
		c.client = client
		c.state = StateOpen
		c.attempts = 0
		c.mu.Unlock()

		p.logger.Info("reconnected", "session", c.key)

		// Room replay and presence assertion hang off this event.
		p.lifecycle.Publish(LifecycleEvent{
			SessionKey: c.key,
			State:      StateOpen,
			Conn:       c,
		})

		p.wg.Add(1)
		go p.watch(c, client)
		return
	}

	p.reportTerminal(c)
	c.mu.Lock()
	c.state = StateFailed
	c.mu.Unlock()
}

// reportTerminal publishes the terminal failure exactly once per
// connection, regardless of how many attempts preceded it.
func (p *Pool) reportTerminal(c *Conn) {
	c.terminalOnce.Do(func() {
		c.mu.Lock()
		c.terminal = true
		c.mu.Unlock()

		p.logger.Error("connection attempts exhausted",
			"session", c.key,
			"max_attempts", p.cfg.MaxAttempts,
		)
		p.lifecycle.Publish(LifecycleEvent{
			SessionKey: c.key,
			State:      StateFailed,
			Terminal:   true,
			Err:        ErrTerminal,
		})
	})
}

func (c *Conn) isDestroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

// isDead reports whether the connection can never open again: it was
// destroyed, hit the attempt ceiling, or was closed. A failed-but-
// redialing connection is not dead.
func (c *Conn) isDead() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed || c.terminal || c.state == StateClosed
}

// markDestroyed flags the connection for its background goroutines.
// Idempotent.
func (c *Conn) markDestroyed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return
	}
	c.destroyed = true
	close(c.dead)
}
