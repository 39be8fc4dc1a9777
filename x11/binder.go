// Package x11 publishes menu addresses on X11 windows through the
// properties read by KDE Plasma.
package x11

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shelepuginivan/appmenu/internal/logging"
)

// Window properties holding the menu address.
const (
	ServiceNameProperty = "_KDE_NET_WM_APPMENU_SERVICE_NAME"
	ObjectPathProperty  = "_KDE_NET_WM_APPMENU_OBJECT_PATH"
)

// ErrUnavailable is returned when no X11 display connection is available.
var ErrUnavailable = errors.New("x11 display unavailable")

// PropertyStore reads and writes string properties of X11 windows.
type PropertyStore interface {
	SetString(window uint32, name, value string) error
	String(window uint32, name string) (string, error)
	Delete(window uint32, name string) error
	Close() error
}

// Address is the bus address stored on a window.
type Address struct {
	Service string
	Path    string
}

// Binder sets the menu properties on windows.
//
// Properties are global per window, so no ownership constraint applies.
type Binder struct {
	store PropertyStore

	mu    sync.Mutex
	bound map[uint32]Address
}

// NewBinder returns a [Binder] writing through store. A nil store yields a
// binder that is not [Binder.Available].
func NewBinder(store PropertyStore) *Binder {
	return &Binder{
		store: store,
		bound: make(map[uint32]Address),
	}
}

// Available reports whether a legacy session exists.
func (b *Binder) Available() bool {
	return b != nil && b.store != nil
}

// BindLegacy stores service and path on the window.
func (b *Binder) BindLegacy(ctx context.Context, window uint32, service, path string) error {
	if !b.Available() {
		return fmt.Errorf("bind legacy: window %d: %w", window, ErrUnavailable)
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("bind legacy: window %d: %w", window, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.store.SetString(window, ServiceNameProperty, service); err != nil {
		return fmt.Errorf("bind legacy: window %d: %s: %w", window, ServiceNameProperty, err)
	}

	if err := b.store.SetString(window, ObjectPathProperty, path); err != nil {
		if derr := b.store.Delete(window, ServiceNameProperty); derr != nil {
			logging.Warnf(logging.CatX11, "window %d: removing %s: %v", window, ServiceNameProperty, derr)
		}
		return fmt.Errorf("bind legacy: window %d: %s: %w", window, ObjectPathProperty, err)
	}

	b.bound[window] = Address{Service: service, Path: path}
	logging.Debugf(logging.CatX11, "window %d bound to %s %s", window, service, path)

	return nil
}

// Clear removes the menu properties from the window. Clearing a window that
// was never bound is a no-op.
func (b *Binder) Clear(ctx context.Context, window uint32) error {
	if !b.Available() {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.bound[window]; !ok {
		return nil
	}

	delete(b.bound, window)

	err := errors.Join(
		b.store.Delete(window, ServiceNameProperty),
		b.store.Delete(window, ObjectPathProperty),
	)
	if err != nil {
		return fmt.Errorf("clear: window %d: %w", window, err)
	}

	return nil
}

// Bound returns the address set on the window by this binder.
func (b *Binder) Bound(window uint32) (Address, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	addr, ok := b.bound[window]
	return addr, ok
}

// Read returns the address currently stored on the window, whoever set it.
func (b *Binder) Read(window uint32) (Address, error) {
	if !b.Available() {
		return Address{}, ErrUnavailable
	}

	service, err := b.store.String(window, ServiceNameProperty)
	if err != nil {
		return Address{}, fmt.Errorf("read: window %d: %w", window, err)
	}

	path, err := b.store.String(window, ObjectPathProperty)
	if err != nil {
		return Address{}, fmt.Errorf("read: window %d: %w", window, err)
	}

	return Address{Service: service, Path: path}, nil
}

// Close closes the underlying store.
func (b *Binder) Close() error {
	if !b.Available() {
		return nil
	}
	return b.store.Close()
}
