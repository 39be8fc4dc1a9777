package appmenu

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/godbus/dbus/v5"
	gocache "github.com/patrickmn/go-cache"

	"github.com/shelepuginivan/appmenu/internal/logging"
)

const (
	RegistrarName      = "com.canonical.AppMenu.Registrar"
	RegistrarInterface = "com.canonical.AppMenu.Registrar"
	RegistrarPath      = "/com/canonical/AppMenu/Registrar"
)

const (
	DefaultRegistrarTimeout = 2 * time.Second
	DefaultRegistrarRetries = 1
	DefaultProbeTTL         = 5 * time.Second
	DefaultRetryInterval    = 100 * time.Millisecond
)

// WindowID identifies a window towards the registrar.
type WindowID uint32

// ObjectHandle is a menu published on the bus.
type ObjectHandle struct {
	Service string
	Path    dbus.ObjectPath
	Object  *MenuObject

	mu        sync.Mutex
	withdrawn bool
}

// Withdrawn reports whether the object was removed from the bus.
func (h *ObjectHandle) Withdrawn() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.withdrawn
}

// RegistrarClient publishes menus and registers them with the desktop
// registrar.
type RegistrarClient struct {
	bus           Bus
	name          string
	path          dbus.ObjectPath
	timeout       time.Duration
	retries       int
	retryInterval time.Duration
	probes        *gocache.Cache

	// nameLock serializes requesting and releasing service names.
	nameLock chan struct{}

	mu            sync.Mutex
	names         map[string]int
	registrations map[WindowID]*ObjectHandle
}

// RegistrarOption configures a [RegistrarClient].
type RegistrarOption func(*RegistrarClient)

// WithRegistrarTimeout bounds every registrar call.
func WithRegistrarTimeout(d time.Duration) RegistrarOption {
	return func(c *RegistrarClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRegistrarRetries sets how many times a timed out call is retried.
func WithRegistrarRetries(n int) RegistrarOption {
	return func(c *RegistrarClient) {
		if n >= 0 {
			c.retries = n
		}
	}
}

// WithRetryInterval sets the initial backoff between retries.
func WithRetryInterval(d time.Duration) RegistrarOption {
	return func(c *RegistrarClient) {
		if d > 0 {
			c.retryInterval = d
		}
	}
}

// WithProbeTTL sets how long the presence of the registrar is cached.
func WithProbeTTL(d time.Duration) RegistrarOption {
	return func(c *RegistrarClient) {
		if d > 0 {
			c.probes = gocache.New(d, 2*d)
		}
	}
}

// WithRegistrar sets the bus name and object path of the registrar.
func WithRegistrar(name string, path dbus.ObjectPath) RegistrarOption {
	return func(c *RegistrarClient) {
		c.name = name
		c.path = path
	}
}

// NewRegistrarClient returns a new [RegistrarClient].
func NewRegistrarClient(bus Bus, opts ...RegistrarOption) *RegistrarClient {
	c := &RegistrarClient{
		bus:           bus,
		name:          RegistrarName,
		path:          RegistrarPath,
		timeout:       DefaultRegistrarTimeout,
		retries:       DefaultRegistrarRetries,
		retryInterval: DefaultRetryInterval,
		probes:        gocache.New(DefaultProbeTTL, 2*DefaultProbeTTL),
		nameLock:      make(chan struct{}, 1),
		names:         make(map[string]int),
		registrations: make(map[WindowID]*ObjectHandle),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Publish exports a snapshot of menu at path under the service name.
func (c *RegistrarClient) Publish(ctx context.Context, menu *Menu, service string, path dbus.ObjectPath) (*ObjectHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("publish: %w", err)
	}

	obj, err := NewMenuObject(menu)
	if err != nil {
		return nil, fmt.Errorf("publish: %w", err)
	}

	select {
	case c.nameLock <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("publish: %w", ctx.Err())
	}
	defer func() { <-c.nameLock }()

	c.mu.Lock()
	requested := c.names[service] == 0
	c.mu.Unlock()

	if requested {
		if err := c.requestName(ctx, service); err != nil {
			return nil, fmt.Errorf("publish: %w", err)
		}
	}

	if err := c.bus.Export(path, obj); err != nil {
		if requested {
			c.releaseName(service)
		}
		return nil, fmt.Errorf("publish: %s %s: %w", service, path, err)
	}

	c.mu.Lock()
	c.names[service]++
	c.mu.Unlock()

	obj.attach(func(signal string, values ...any) error {
		return c.bus.Emit(path, MenuInterface+"."+signal, values...)
	})

	logging.Debugf(logging.CatRegistrar, "published %s %s", service, path)

	return &ObjectHandle{
		Service: service,
		Path:    path,
		Object:  obj,
	}, nil
}

// Register associates the window with the published object.
//
// Registering the same window and object again is a no-op. If the
// registrar is absent, an error wrapping [ErrRegistrarUnavailable] is
// returned. If every try times out, an error wrapping
// [ErrRegistrationTimeout] is returned.
func (c *RegistrarClient) Register(ctx context.Context, id WindowID, h *ObjectHandle) error {
	if h == nil || h.Withdrawn() {
		return fmt.Errorf("register: window %d: %w", id, ErrWithdrawn)
	}

	c.mu.Lock()
	current, ok := c.registrations[id]
	c.mu.Unlock()

	if ok && current == h {
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval

	tries := 0

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		tries++

		err := c.probe(ctx)
		if err == nil {
			err = c.call(ctx, "RegisterWindow", uint32(id), h.Path)
		}

		switch {
		case err == nil:
			return struct{}{}, nil
		case errors.Is(err, ErrRegistrationTimeout):
			logging.Warnf(logging.CatRegistrar, "window %d: try %d timed out", id, tries)
			return struct{}{}, err
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(c.retries+1)))
	if err != nil {
		return fmt.Errorf("register: window %d: %w", id, err)
	}

	c.mu.Lock()
	c.registrations[id] = h
	c.mu.Unlock()

	logging.Debugf(logging.CatRegistrar, "window %d registered as %s %s", id, h.Service, h.Path)

	return nil
}

// RegisterAsync runs [RegistrarClient.Register] in the background.
func (c *RegistrarClient) RegisterAsync(ctx context.Context, id WindowID, h *ObjectHandle) *Completion {
	completion := newCompletion()

	go func() {
		completion.complete(c.Register(ctx, id, h))
	}()

	return completion
}

// Unregister removes the window from the registrar. An absent registrar is
// not an error.
func (c *RegistrarClient) Unregister(ctx context.Context, id WindowID) error {
	c.mu.Lock()
	_, ok := c.registrations[id]
	delete(c.registrations, id)
	c.mu.Unlock()

	if !ok {
		return nil
	}

	err := c.call(ctx, "UnregisterWindow", uint32(id))
	if err != nil && !errors.Is(err, ErrRegistrarUnavailable) {
		return fmt.Errorf("unregister: window %d: %w", id, err)
	}

	logging.Debugf(logging.CatRegistrar, "window %d unregistered", id)

	return nil
}

// Withdraw removes the object from the bus and releases its service name
// once no other object uses it. Withdrawing twice is a no-op.
func (c *RegistrarClient) Withdraw(h *ObjectHandle) error {
	if h == nil {
		return nil
	}

	h.mu.Lock()
	if h.withdrawn {
		h.mu.Unlock()
		return nil
	}
	h.withdrawn = true
	h.mu.Unlock()

	h.Object.attach(nil)

	c.nameLock <- struct{}{}
	defer func() { <-c.nameLock }()

	c.mu.Lock()
	for id, registered := range c.registrations {
		if registered == h {
			delete(c.registrations, id)
		}
	}

	c.names[h.Service]--
	released := c.names[h.Service] <= 0
	if released {
		delete(c.names, h.Service)
	}
	c.mu.Unlock()

	errs := []error{c.bus.Unexport(h.Path, MenuInterface)}

	if released {
		errs = append(errs, c.releaseName(h.Service))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("withdraw: %s %s: %w", h.Service, h.Path, err)
	}

	logging.Debugf(logging.CatRegistrar, "withdrew %s %s", h.Service, h.Path)

	return nil
}

// Registered returns the object registered for the window.
func (c *RegistrarClient) Registered(id WindowID) (*ObjectHandle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.registrations[id]
	return h, ok
}

// Len returns the number of registered windows.
func (c *RegistrarClient) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.registrations)
}

// requestName requests the service name, bounded by the timeout.
func (c *RegistrarClient) requestName(ctx context.Context, service string) error {
	requestCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.bus.RequestName(requestCtx, service)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("name %s: %w", service, ErrRegistrationTimeout)
	}

	return err
}

// releaseName releases the service name, bounded by the timeout.
func (c *RegistrarClient) releaseName(service string) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	return c.bus.ReleaseName(ctx, service)
}

// probe reports whether the registrar is on the bus. Results are cached.
func (c *RegistrarClient) probe(ctx context.Context) error {
	if present, ok := c.probes.Get(c.name); ok {
		if !present.(bool) {
			return ErrRegistrarUnavailable
		}
		return nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	present, err := c.bus.NameHasOwner(probeCtx, c.name)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return ErrRegistrationTimeout
	default:
		return fmt.Errorf("%w: %w", ErrRegistrarUnavailable, err)
	}

	c.probes.SetDefault(c.name, present)

	if !present {
		return ErrRegistrarUnavailable
	}

	return nil
}

// call calls a registrar method bounded by the timeout.
func (c *RegistrarClient) call(ctx context.Context, method string, args ...any) error {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.bus.Call(callCtx, c.name, c.path, RegistrarInterface+"."+method, args)

	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, context.DeadlineExceeded),
		dbusErrorName(err) == "org.freedesktop.DBus.Error.NoReply",
		dbusErrorName(err) == "org.freedesktop.DBus.Error.Timeout":
		return ErrRegistrationTimeout
	case isUnavailable(err):
		c.probes.Delete(c.name)
		return fmt.Errorf("%w: %w", ErrRegistrarUnavailable, err)
	default:
		return err
	}
}
