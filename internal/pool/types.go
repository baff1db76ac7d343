package pool

import (
	"errors"

	"github.com/gigtree/realtime/internal/backoff"
	"github.com/gigtree/realtime/internal/transport"
)

// Errors
var (
	ErrPoolClosed    = errors.New("pool closed")
	ErrPoolExhausted = errors.New("pool at capacity with no idle connection")
	ErrTerminal      = errors.New("connection failed terminally, not retrying")
	ErrNotFound      = errors.New("no connection for session key")
)

// State is a connection's lifecycle state.
type State string

const (
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosed     State = "closed"
	StateFailed     State = "failed"
)

// LifecycleEvent is published on every connection state transition.
// Terminal is set exactly once per connection, when the attempt ceiling
// is exceeded; dependent components should degrade rather than crash.
type LifecycleEvent struct {
	SessionKey string
	State      State
	Terminal   bool
	Err        error
	Conn       *Conn // set when State is StateOpen
}

// DialFunc creates a transport client. Injectable for tests.
type DialFunc func(cfg transport.ClientConfig) transport.Client

// Config configures a Pool.
type Config struct {
	Capacity    int                    // max live connections (default 3)
	MaxAttempts int                    // dial ceiling before terminal failure (default 5)
	Policy      backoff.Policy         // reconnect delay policy
	Client      transport.ClientConfig // template for new connections
	Dial        DialFunc               // nil means transport.NewClient
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Capacity:    3,
		MaxAttempts: 5,
		Policy:      backoff.DefaultPolicy(),
		Client:      transport.DefaultClientConfig(),
	}
}

// Stats reports the pool's current shape.
type Stats struct {
	Live int // connections currently open
	Idle int // open connections released for reuse
	Held int // connections tracked in the pool, any state
}
