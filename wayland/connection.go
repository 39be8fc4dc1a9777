package wayland

import (
	"context"
	"fmt"
	"sync"

	"github.com/shelepuginivan/appmenu/internal/logging"
)

// Connection is one protocol session with the compositor. It owns every
// surface and extension binding created through it.
//
// All protocol traffic of a connection runs on its own event loop goroutine.
// Two connections never share a loop.
type Connection struct {
	id       uint64
	strategy Strategy
	session  Session

	calls chan func()
	quit  chan struct{}
	done  chan struct{}

	closeOnce sync.Once
	closeErr  error

	mu       sync.RWMutex
	closed   bool
	globals  []Global
	bindings map[ExtensionKind]*ExtensionBinding
	surfaces map[uint32]*Surface
	onClose  []func()
}

func newConnection(id uint64, strategy Strategy, session Session) *Connection {
	c := &Connection{
		id:       id,
		strategy: strategy,
		session:  session,
		calls:    make(chan func()),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		bindings: make(map[ExtensionKind]*ExtensionBinding),
		surfaces: make(map[uint32]*Surface),
	}

	go c.loop()

	return c
}

// ID returns the identifier of the connection, unique within its [Manager].
func (c *Connection) ID() uint64 {
	return c.id
}

// Strategy returns the strategy the connection was opened with.
func (c *Connection) Strategy() Strategy {
	return c.strategy
}

// Closed reports whether the connection was closed.
func (c *Connection) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.closed
}

// Globals returns the globals advertised by the compositor when the
// connection was opened.
func (c *Connection) Globals() []Global {
	c.mu.RLock()
	defer c.mu.RUnlock()

	globals := make([]Global, len(c.globals))
	copy(globals, c.globals)

	return globals
}

// Advertises reports whether the compositor advertises the extension.
func (c *Connection) Advertises(kind ExtensionKind) bool {
	_, ok := c.global(kind)
	return ok
}

// Do runs fn on the connection's event loop and waits for it to return.
//
// If ctx is done before fn starts, fn is never run. If ctx is done while fn
// is running, Do returns ctx.Err() and fn keeps running to completion on the
// loop.
func (c *Connection) Do(ctx context.Context, fn func(Session) error) error {
	if c.Closed() {
		return ErrConnectionClosed
	}

	result := make(chan error, 1)
	job := func() {
		if err := ctx.Err(); err != nil {
			result <- err
			return
		}
		result <- fn(c.session)
	}

	select {
	case c.calls <- job:
	case <-c.quit:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-c.quit:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BindExtension binds the extension on this connection. Binding an
// extension twice returns the existing binding.
//
// If the compositor does not advertise the extension,
// [ErrProtocolUnsupported] is returned.
func (c *Connection) BindExtension(ctx context.Context, kind ExtensionKind) (*ExtensionBinding, error) {
	c.mu.RLock()
	existing, ok := c.bindings[kind]
	c.mu.RUnlock()

	if ok {
		return existing, nil
	}

	global, ok := c.global(kind)
	if !ok {
		return nil, fmt.Errorf("bind %s: %w", kind, ErrProtocolUnsupported)
	}

	version := global.Version
	if kind == AppMenuManager && version > appMenuManagerVersion {
		version = appMenuManagerVersion
	}

	var object Object

	err := c.Do(ctx, func(s Session) error {
		var err error
		object, err = s.Bind(global, version)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", kind, err)
	}

	binding := &ExtensionBinding{
		owner:   c,
		kind:    kind,
		version: version,
		object:  object,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.bindings[kind]; ok {
		return existing, nil
	}

	c.bindings[kind] = binding
	logging.Debugf(logging.CatWayland, "connection %d: bound %s v%d", c.id, kind, version)

	return binding, nil
}

// CreateSurface creates a new surface owned by this connection.
func (c *Connection) CreateSurface(ctx context.Context) (*Surface, error) {
	var object Object

	err := c.Do(ctx, func(s Session) error {
		var err error
		object, err = s.CreateSurface()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create surface: %w", err)
	}

	return c.track(object), nil
}

// AdoptSurface wraps a surface that was created on this connection's
// session by someone else, typically the toolkit owning the session.
func (c *Connection) AdoptSurface(ctx context.Context, protocolID uint32) (*Surface, error) {
	c.mu.RLock()
	existing, ok := c.surfaces[protocolID]
	c.mu.RUnlock()

	if ok {
		return existing, nil
	}

	var object Object

	err := c.Do(ctx, func(s Session) error {
		var err error
		object, err = s.Surface(protocolID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("adopt surface %d: %w", protocolID, err)
	}

	return c.track(object), nil
}

// OnClose registers a callback that runs after the connection is closed.
func (c *Connection) OnClose(callback func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onClose = append(c.onClose, callback)
}

// Close stops the event loop and disconnects the session. Surfaces and
// bindings of the connection become unusable.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		callbacks := c.onClose
		c.onClose = nil
		c.mu.Unlock()

		close(c.quit)
		<-c.done

		if err := c.session.Close(); err != nil {
			c.closeErr = fmt.Errorf("close connection %d: %w", c.id, err)
		}

		for _, callback := range callbacks {
			callback()
		}

		logging.Debugf(logging.CatWayland, "connection %d (%s) closed", c.id, c.strategy)
	})

	return c.closeErr
}

func (c *Connection) loop() {
	defer close(c.done)

	for {
		select {
		case job := <-c.calls:
			job()
		case <-c.quit:
			return
		}
	}
}

// sync reads the advertised globals on the loop.
func (c *Connection) sync(ctx context.Context) error {
	var globals []Global

	err := c.Do(ctx, func(s Session) error {
		if err := s.Roundtrip(); err != nil {
			return err
		}
		globals = s.Globals()
		return nil
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.globals = globals
	c.mu.Unlock()

	return nil
}

func (c *Connection) global(kind ExtensionKind) (Global, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, g := range c.globals {
		if g.Interface == string(kind) {
			return g, true
		}
	}

	return Global{}, false
}

func (c *Connection) track(object Object) *Surface {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.surfaces[object.ProtocolID()]; ok {
		return existing
	}

	surface := &Surface{owner: c, object: object}
	c.surfaces[object.ProtocolID()] = surface

	return surface
}
