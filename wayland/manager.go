package wayland

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shelepuginivan/appmenu/internal/logging"
)

// Manager opens and closes compositor connections. At most one connection
// is open per [Strategy] at a time.
type Manager struct {
	mu      sync.Mutex
	nextID  uint64
	dialers map[Strategy]Dialer
	conns   map[Strategy]*Connection
}

// ManagerOption configures a [Manager].
type ManagerOption func(*Manager)

// WithDialer sets the dialer used to open connections of the strategy.
func WithDialer(strategy Strategy, dialer Dialer) ManagerOption {
	return func(m *Manager) {
		m.dialers[strategy] = dialer
	}
}

// NewManager returns a new [Manager]. Unless overridden with [WithDialer],
// native connections are dialed with [DialEnv] and toolkit-managed
// connections cannot be opened.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		dialers: map[Strategy]Dialer{
			Native: DialEnv,
		},
		conns: make(map[Strategy]*Connection),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Open opens a connection for the strategy and reads the compositor's
// advertised globals.
//
// If a connection for the strategy is already open, [ErrStrategyInUse] is
// returned.
func (m *Manager) Open(ctx context.Context, strategy Strategy) (*Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conn, ok := m.conns[strategy]; ok && !conn.Closed() {
		return nil, fmt.Errorf("open %s: %w", strategy, ErrStrategyInUse)
	}

	dial, ok := m.dialers[strategy]
	if !ok || dial == nil {
		return nil, fmt.Errorf("open %s: no dialer configured", strategy)
	}

	session, err := dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", strategy, err)
	}

	m.nextID++
	conn := newConnection(m.nextID, strategy, session)

	if err := conn.sync(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open %s: %w", strategy, err)
	}

	m.conns[strategy] = conn
	logging.Debugf(logging.CatWayland, "connection %d (%s) open, %d globals", conn.id, strategy, len(conn.Globals()))

	return conn, nil
}

// Connection returns the open connection of the strategy.
func (m *Manager) Connection(strategy Strategy) (*Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[strategy]
	if !ok || conn.Closed() {
		return nil, false
	}

	return conn, true
}

// Close closes the connection of the strategy, if any.
func (m *Manager) Close(strategy Strategy) error {
	m.mu.Lock()
	conn, ok := m.conns[strategy]
	delete(m.conns, strategy)
	m.mu.Unlock()

	if !ok {
		return nil
	}

	return conn.Close()
}

// CloseAll closes every open connection.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[Strategy]*Connection)
	m.mu.Unlock()

	var errs []error

	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
