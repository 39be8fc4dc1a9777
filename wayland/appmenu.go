package wayland

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shelepuginivan/appmenu/internal/logging"
)

// DefaultAckTimeout bounds how long [AppMenuBinder.Bind] waits for the
// compositor to acknowledge the appmenu address.
const DefaultAckTimeout = 2 * time.Second

// Address is the bus address of a menu set on a surface.
type Address struct {
	Service string
	Path    string
}

type appMenu struct {
	object  Object
	address Address

	// pending is set while a bind job uses the object. A release during
	// that time sets dropped and leaves destroying the object to the job.
	pending bool
	dropped bool
}

// AppMenuBinder binds surfaces to menus through the KDE appmenu protocol.
//
// Each surface gets at most one org_kde_kwin_appmenu object. Binding an
// already bound surface again updates its address.
type AppMenuBinder struct {
	timeout time.Duration

	mu    sync.Mutex
	menus map[*Surface]*appMenu
}

// BinderOption configures an [AppMenuBinder].
type BinderOption func(*AppMenuBinder)

// WithAckTimeout sets the acknowledgement timeout.
func WithAckTimeout(d time.Duration) BinderOption {
	return func(b *AppMenuBinder) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// NewAppMenuBinder returns a new [AppMenuBinder].
func NewAppMenuBinder(opts ...BinderOption) *AppMenuBinder {
	b := &AppMenuBinder{
		timeout: DefaultAckTimeout,
		menus:   make(map[*Surface]*appMenu),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Bind associates surface with the menu published at service and path.
//
// The ownership of surface and binding is checked before anything else: on
// [ErrSurfaceConnectionMismatch] no request is sent and no state changes.
// If the compositor does not acknowledge the request within the timeout,
// an error wrapping [ErrAckTimeout] is returned.
//
// A bind that fails after the appmenu object exists destroys the object,
// so the compositor never keeps an address the caller considers unbound.
// A late acknowledgement is a failure too.
func (b *AppMenuBinder) Bind(ctx context.Context, surface *Surface, binding *ExtensionBinding, service, path string) error {
	if err := CheckOwnership(surface, binding); err != nil {
		return fmt.Errorf("bind appmenu: %w", err)
	}

	if binding.kind != AppMenuManager {
		return fmt.Errorf("bind appmenu: %s: %w", binding.kind, ErrProtocolUnsupported)
	}

	conn := surface.owner
	if conn.Closed() {
		return fmt.Errorf("bind appmenu: %w", ErrConnectionClosed)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	err := conn.Do(ctx, func(s Session) error {
		menu, err := b.acquire(s, surface, binding)
		if err != nil {
			return err
		}

		err = s.SetAddress(menu.object, service, path)
		if err == nil {
			err = s.Roundtrip()
		}
		if err == nil {
			err = ctx.Err()
		}

		b.mu.Lock()
		menu.pending = false
		if err == nil && menu.dropped {
			err = errReleased
		}
		if err == nil {
			menu.address = Address{Service: service, Path: path}
			b.mu.Unlock()
			return nil
		}
		if b.menus[surface] == menu {
			delete(b.menus, surface)
		}
		b.mu.Unlock()

		if rerr := s.ReleaseAppMenu(menu.object); rerr != nil {
			logging.Warnf(logging.CatWayland, "surface %d: release after failed bind: %v", surface.ProtocolID(), rerr)
		}

		return err
	})

	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("bind appmenu: surface %d: %w", surface.ProtocolID(), ErrAckTimeout)
	default:
		return fmt.Errorf("bind appmenu: surface %d: %w", surface.ProtocolID(), err)
	}

	logging.Debugf(logging.CatWayland, "surface %d on connection %d bound to %s %s",
		surface.ProtocolID(), conn.id, service, path)

	return nil
}

var errReleased = errors.New("released while binding")

// acquire returns the appmenu object of the surface, creating it on first
// use, and marks it pending. It runs on the connection's loop.
func (b *AppMenuBinder) acquire(s Session, surface *Surface, binding *ExtensionBinding) (*appMenu, error) {
	b.mu.Lock()
	menu, ok := b.menus[surface]
	if ok {
		menu.pending = true
	}
	b.mu.Unlock()

	if ok {
		return menu, nil
	}

	object, err := s.CreateAppMenu(binding.object, surface.object)
	if err != nil {
		return nil, err
	}

	menu = &appMenu{object: object, pending: true}

	b.mu.Lock()
	b.menus[surface] = menu
	b.mu.Unlock()

	return menu, nil
}

// Bound returns the address currently set on the surface.
func (b *AppMenuBinder) Bound(surface *Surface) (Address, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	menu, ok := b.menus[surface]
	if !ok || menu.address == (Address{}) {
		return Address{}, false
	}

	return menu.address, true
}

// Release destroys the appmenu object of the surface. Releasing a surface
// of a closed connection only forgets it, since its objects died with the
// connection.
func (b *AppMenuBinder) Release(ctx context.Context, surface *Surface) error {
	if surface == nil {
		return nil
	}

	b.mu.Lock()
	menu, ok := b.menus[surface]
	delete(b.menus, surface)
	pending := ok && menu.pending
	if pending {
		menu.dropped = true
	}
	b.mu.Unlock()

	// A pending bind job destroys the object when it completes.
	if !ok || pending || surface.owner.Closed() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	err := surface.owner.Do(ctx, func(s Session) error {
		return s.ReleaseAppMenu(menu.object)
	})
	if err != nil && !errors.Is(err, ErrConnectionClosed) {
		return fmt.Errorf("release appmenu: surface %d: %w", surface.ProtocolID(), err)
	}

	return nil
}
